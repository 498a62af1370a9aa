package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	overlayerrors "github.com/adverant/nexus/overlay-editor/internal/errors"
	"github.com/adverant/nexus/overlay-editor/internal/logging"
	"github.com/adverant/nexus/overlay-editor/internal/overlay"
	"github.com/adverant/nexus/overlay-editor/internal/queue"
)

// writeJSON writes data as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error body. Structured errors carry their code.
func writeError(w http.ResponseWriter, status int, err error) {
	body := map[string]interface{}{"error": err.Error()}
	var oe *overlayerrors.OverlayError
	if errors.As(err, &oe) {
		body["code"] = oe.Code
	}
	writeJSON(w, status, body)
}

// readJSONBody decodes a JSON body of at most 1MB into v.
func readJSONBody(r *http.Request, v interface{}) error {
	ct := r.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(ct, "application/json") {
		return fmt.Errorf("expected Content-Type application/json")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := decoder.Decode(v); err != nil {
		return err
	}
	if decoder.More() {
		return fmt.Errorf("unexpected trailing data in request body")
	}
	return nil
}

// statusFor maps a domain error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, overlay.ErrNoDocument), errors.Is(err, overlay.ErrNotEditing):
		return http.StatusConflict
	case errors.Is(err, overlay.ErrUnknownBlock), errors.Is(err, queue.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled),
		overlayerrors.HasCode(err, overlayerrors.ErrorRenderCancelled):
		return 499
	case overlayerrors.HasCode(err, overlayerrors.ErrorExtractionFailed):
		return http.StatusUnprocessableEntity
	case overlayerrors.HasCode(err, overlayerrors.ErrorSaveNetwork),
		overlayerrors.HasCode(err, overlayerrors.ErrorSaveServer),
		overlayerrors.HasCode(err, overlayerrors.ErrorSaveValidation):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withRequestID tags every request with an X-Request-ID and logs it.
func withRequestID(logger *logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		logger.Debug("Request handled",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
