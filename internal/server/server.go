/**
 * Overlay HTTP host
 *
 * Drives one overlay editing session over HTTP:
 * - POST   /documents                 upload a PDF and open page 1
 * - GET    /page, POST /page          current page / change page or scale
 * - GET    /blocks/{id}               one block
 * - POST   /blocks/{id}/focus|input|commit|escape
 * - POST   /flush
 * - GET    /export                    recompose synchronously
 * - POST   /exports, GET /exports/{id}, GET /exports/{id}/result
 * - POST   /analyze
 * - DELETE /edits
 * - GET    /score, GET /health
 */

package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	overlayerrors "github.com/adverant/nexus/overlay-editor/internal/errors"
	"github.com/adverant/nexus/overlay-editor/internal/logging"
	"github.com/adverant/nexus/overlay-editor/internal/model"
	"github.com/adverant/nexus/overlay-editor/internal/overlay"
	"github.com/adverant/nexus/overlay-editor/internal/queue"
)

// Jobs is the asynchronous export queue. *queue.Producer satisfies it.
type Jobs interface {
	Enqueue(ctx context.Context, payload *queue.ExportPayload) (string, error)
	Status(ctx context.Context, jobID string) (*queue.JobStatus, error)
	Result(ctx context.Context, jobID string) ([]byte, error)
}

// Config holds server configuration
type Config struct {
	Controller  *overlay.Controller
	Jobs        Jobs // optional
	MaxFileSize int64
	RenderScale float64
}

// Server is the HTTP front of an overlay controller.
type Server struct {
	ctrl        *overlay.Controller
	jobs        Jobs
	maxFileSize int64
	renderScale float64
	logger      *logging.Logger
	mux         *http.ServeMux
}

// PageView is the open page with its overlay blocks.
type PageView struct {
	Document   string                       `json:"document"`
	PageNumber int                          `json:"page_number"`
	PageWidth  float64                      `json:"page_width"`
	PageHeight float64                      `json:"page_height"`
	Scale      float64                      `json:"scale"`
	Blocks     []overlay.EditableBlockState `json:"blocks"`
}

// New builds the server and its routes.
func New(cfg Config) *Server {
	scale := cfg.RenderScale
	if scale <= 0 {
		scale = 1.5
	}
	maxSize := cfg.MaxFileSize
	if maxSize <= 0 {
		maxSize = 20 << 20
	}

	s := &Server{
		ctrl:        cfg.Controller,
		jobs:        cfg.Jobs,
		maxFileSize: maxSize,
		renderScale: scale,
		logger:      logging.NewLogger("OverlayServer"),
		mux:         http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /documents", s.handleUpload)
	s.mux.HandleFunc("GET /page", s.handleGetPage)
	s.mux.HandleFunc("POST /page", s.handleSetPage)
	s.mux.HandleFunc("GET /blocks/{id}", s.handleGetBlock)
	s.mux.HandleFunc("POST /blocks/{id}/focus", s.handleFocus)
	s.mux.HandleFunc("POST /blocks/{id}/input", s.handleInput)
	s.mux.HandleFunc("POST /blocks/{id}/commit", s.handleCommit)
	s.mux.HandleFunc("POST /blocks/{id}/escape", s.handleEscape)
	s.mux.HandleFunc("POST /flush", s.handleFlush)
	s.mux.HandleFunc("GET /export", s.handleExport)
	s.mux.HandleFunc("POST /exports", s.handleEnqueueExport)
	s.mux.HandleFunc("GET /exports/{id}", s.handleExportStatus)
	s.mux.HandleFunc("GET /exports/{id}/result", s.handleExportResult)
	s.mux.HandleFunc("POST /analyze", s.handleAnalyze)
	s.mux.HandleFunc("DELETE /edits", s.handleClearEdits)
	s.mux.HandleFunc("GET /score", s.handleScore)

	return s
}

// Handler returns the routed handler with request ids and logging.
func (s *Server) Handler() http.Handler {
	return withRequestID(s.logger, s.mux)
}

func (s *Server) pageView() PageView {
	v := PageView{Blocks: s.ctrl.Blocks()}
	if doc := s.ctrl.Document(); doc != nil {
		v.Document = doc.ID
	}
	if p := s.ctrl.Page(); p != nil {
		v.PageNumber = p.PageNumber
		v.PageWidth = p.PageWidth
		v.PageHeight = p.PageHeight
		v.Scale = p.Scale
	}
	return v
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"document_open": s.ctrl.Document() != nil,
		"pending_saves": s.ctrl.HasPendingChanges(),
		"async_exports": s.jobs != nil,
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxFileSize+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart upload: %w", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("missing file field: %w", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.maxFileSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	name := filepath.Base(header.Filename)
	switch {
	case int64(len(data)) > s.maxFileSize:
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("file exceeds %d bytes", s.maxFileSize))
		return
	case len(data) == 0:
		writeError(w, http.StatusBadRequest, overlayerrors.NewExtractionFailedError(name, 0, errors.New("empty file")))
		return
	case !bytes.HasPrefix(data, []byte("%PDF")):
		writeError(w, http.StatusBadRequest, overlayerrors.NewExtractionFailedError(name, 0, errors.New("not a PDF file")))
		return
	}

	doc := model.NewDocument(name, data)
	if err := s.ctrl.Open(r.Context(), doc, 1, s.renderScale); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	s.logger.Info("Document opened", "document_id", name, "size", len(data))
	writeJSON(w, http.StatusCreated, s.pageView())
}

func (s *Server) handleGetPage(w http.ResponseWriter, r *http.Request) {
	if s.ctrl.Document() == nil {
		writeError(w, http.StatusConflict, overlay.ErrNoDocument)
		return
	}
	writeJSON(w, http.StatusOK, s.pageView())
}

type setPageRequest struct {
	Page  int     `json:"page"`
	Scale float64 `json:"scale"`
}

func (s *Server) handleSetPage(w http.ResponseWriter, r *http.Request) {
	doc := s.ctrl.Document()
	if doc == nil {
		writeError(w, http.StatusConflict, overlay.ErrNoDocument)
		return
	}

	var req setPageRequest
	if err := readJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Page < 1 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("page must be at least 1"))
		return
	}
	if req.Scale <= 0 {
		req.Scale = s.renderScale
	}

	if err := s.ctrl.Open(r.Context(), doc, req.Page, req.Scale); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.pageView())
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	b, ok := s.ctrl.Block(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, overlay.ErrUnknownBlock)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// blockAction runs op on the block in the path and answers with its state.
func (s *Server) blockAction(w http.ResponseWriter, r *http.Request, op func(id string) error) {
	id := r.PathValue("id")
	if err := op(id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	b, _ := s.ctrl.Block(id)
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	s.blockAction(w, r, s.ctrl.Focus)
}

type inputRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if err := readJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.blockAction(w, r, func(id string) error { return s.ctrl.Input(id, req.Text) })
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	s.blockAction(w, r, func(id string) error { return s.ctrl.Commit(r.Context(), id) })
}

func (s *Server) handleEscape(w http.ResponseWriter, r *http.Request) {
	s.blockAction(w, r, s.ctrl.Escape)
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	complete, err := s.ctrl.Flush(r.Context())
	body := map[string]interface{}{"complete": complete}
	if err != nil {
		body["error"] = err.Error()
		writeJSON(w, statusFor(err), body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	out, err := s.ctrl.Export(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writePDF(w, s.ctrl.Document(), out)
}

func (s *Server) handleEnqueueExport(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("asynchronous export is not configured"))
		return
	}

	plan, err := s.ctrl.PrepareExport(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	jobID, err := s.jobs.Enqueue(r.Context(), &queue.ExportPayload{
		DocumentID: plan.Document.ID,
		Filename:   plan.Document.Name,
		FileBuffer: plan.Document.Data,
		Blocks:     plan.Blocks,
		States:     plan.States,
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":       jobID,
		"dirty_blocks": plan.Dirty(),
	})
}

func (s *Server) handleExportStatus(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("asynchronous export is not configured"))
		return
	}
	status, err := s.jobs.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleExportResult(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("asynchronous export is not configured"))
		return
	}
	id := r.PathValue("id")
	status, err := s.jobs.Status(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if status.Status != queue.StatusCompleted {
		writeJSON(w, http.StatusConflict, status)
		return
	}

	out, err := s.jobs.Result(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writePDF(w, &model.Document{Name: status.Filename}, out)
}

type analyzeRequest struct {
	JobDescription string `json:"job_description"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if r.ContentLength != 0 {
		if err := readJSONBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	resp, err := s.ctrl.Analyze(r.Context(), req.JobDescription)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClearEdits(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.ClearEdits(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.pageView())
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	score, ok := s.ctrl.LastScore()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func writePDF(w http.ResponseWriter, doc *model.Document, data []byte) {
	name := "document.pdf"
	if doc != nil && doc.Name != "" {
		name = doc.Name
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "edited-"+name))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
