/**
 * Editor API Client
 *
 * Talks to the resume editing service that owns block extraction, the
 * persisted edit set and ATS scoring:
 * - POST   /extract-blocks           (multipart "file")
 * - GET    /get-edits/{documentId}
 * - POST   /update-resume
 * - POST   /analyze-blocks
 * - DELETE /clear-edits
 *
 * Transport failures and timeouts are retried once after a fixed backoff,
 * except for extraction. HTTP error statuses are never retried.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	overlayerrors "github.com/adverant/nexus/overlay-editor/internal/errors"
	"github.com/adverant/nexus/overlay-editor/internal/logging"
	"github.com/adverant/nexus/overlay-editor/internal/model"
)

const maxAttempts = 2

// EditorClient handles communication with the editor API
type EditorClient struct {
	baseURL      string
	httpClient   *http.Client
	retryBackoff time.Duration
	logger       *logging.Logger
}

// ExtractBlocksResponse is the /extract-blocks envelope
type ExtractBlocksResponse struct {
	Success bool              `json:"success"`
	Data    *model.Extraction `json:"data"`
	Message string            `json:"message,omitempty"`
}

// GetEditsResponse is the remote edit set for one document
type GetEditsResponse struct {
	Edits map[string]string `json:"edits"`
}

// BlockUpdate is one edited block sent to /update-resume
type BlockUpdate struct {
	BlockID string  `json:"blockId"`
	OldText string  `json:"oldText"`
	NewText string  `json:"newText"`
	Section *string `json:"section,omitempty"`
}

// UpdateResumeRequest is the /update-resume body
type UpdateResumeRequest struct {
	Blocks []BlockUpdate `json:"blocks"`
}

// ATSBreakdownItem is one scored category
type ATSBreakdownItem struct {
	Label      string `json:"label"`
	Score      int    `json:"score"`
	MaxScore   int    `json:"max_score"`
	Percentage int    `json:"percentage"`
}

// ATSScoreDetails is the scoring breakdown returned with saves and analyses
type ATSScoreDetails struct {
	TotalScore int                `json:"total_score"`
	Grade      string             `json:"grade"`
	Breakdown  []ATSBreakdownItem `json:"breakdown"`
}

// UpdateResumeResponse is the /update-resume response
type UpdateResumeResponse struct {
	Success         bool             `json:"success"`
	Message         string           `json:"message"`
	ATSScore        *int             `json:"atsScore,omitempty"`
	ATSScoreDetails *ATSScoreDetails `json:"atsScoreDetails,omitempty"`
	UpdatedBlocks   []string         `json:"updatedBlocks,omitempty"`
}

// AnalyzeBlock is one block submitted for analysis
type AnalyzeBlock struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	BlockType string `json:"block_type,omitempty"`
	Section   string `json:"section,omitempty"`
}

// AnalyzeBlocksRequest is the /analyze-blocks body
type AnalyzeBlocksRequest struct {
	Blocks         []AnalyzeBlock `json:"blocks"`
	JobDescription string         `json:"job_description,omitempty"`
}

// WeakBlock is a block the analyzer flagged
type WeakBlock struct {
	ID           string `json:"id"`
	Section      string `json:"section,omitempty"`
	Issue        string `json:"issue"`
	Suggestion   string `json:"suggestion"`
	Severity     string `json:"severity"`
	ImprovedText string `json:"improved_text,omitempty"`
}

// AnalyzeBlocksResponse is the /analyze-blocks response
type AnalyzeBlocksResponse struct {
	Success         bool             `json:"success"`
	WeakBlocks      []WeakBlock      `json:"weak_blocks"`
	ATSScore        *int             `json:"ats_score,omitempty"`
	ATSScoreDetails *ATSScoreDetails `json:"ats_score_details,omitempty"`
}

// NewEditorClient creates a new editor API client. timeout bounds each
// attempt; retryBackoff is the pause before the single retry.
func NewEditorClient(baseURL string, timeout, retryBackoff time.Duration) *EditorClient {
	return &EditorClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		retryBackoff: retryBackoff,
		logger:       logging.NewLogger("EditorClient"),
	}
}

// HealthCheck verifies the editor API is available
func (c *EditorClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("editor API health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("editor API health check returned status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// ExtractBlocks uploads a document and returns the service's extraction
func (c *EditorClient) ExtractBlocks(ctx context.Context, filename string, data []byte) (*model.Extraction, error) {
	if len(data) == 0 {
		return nil, overlayerrors.NewExtractionFailedError(filename, 0, fmt.Errorf("file buffer is required: received empty buffer"))
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write file data to form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	// Extraction is not retried.
	var resp ExtractBlocksResponse
	err = c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/extract-blocks",
		contentType: writer.FormDataContentType(),
		payload:     body.Bytes(),
	}, &resp)
	if err != nil {
		return nil, overlayerrors.NewExtractionFailedError(filename, 0, err)
	}
	if !resp.Success || resp.Data == nil {
		return nil, overlayerrors.NewExtractionFailedError(filename, 0, fmt.Errorf("extraction unsuccessful: %s", resp.Message))
	}

	c.logger.Info("Blocks extracted remotely",
		"filename", filename,
		"pages", resp.Data.Metadata.TotalPages,
		"blocks", len(resp.Data.Blocks))

	return resp.Data, nil
}

// GetEdits fetches the persisted edit set for a document
func (c *EditorClient) GetEdits(ctx context.Context, documentID string) (model.RemoteEditSet, error) {
	var resp GetEditsResponse
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/get-edits/" + url.PathEscape(documentID),
		retry:  true,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch edits for %s: %w", documentID, err)
	}
	if resp.Edits == nil {
		return model.RemoteEditSet{}, nil
	}
	return model.RemoteEditSet(resp.Edits), nil
}

// UpdateResume persists edited blocks
func (c *EditorClient) UpdateResume(ctx context.Context, blocks []BlockUpdate) (*UpdateResumeResponse, error) {
	blockID := ""
	if len(blocks) == 1 {
		blockID = blocks[0].BlockID
	}

	payload, err := json.Marshal(UpdateResumeRequest{Blocks: blocks})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal update request: %w", err)
	}

	var resp UpdateResumeResponse
	err = c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/update-resume",
		contentType: "application/json",
		payload:     payload,
		retry:       true,
	}, &resp)
	if err != nil {
		return nil, saveError(blockID, err)
	}
	if !resp.Success {
		return nil, overlayerrors.NewSaveServerError(blockID, http.StatusOK, resp.Message)
	}
	return &resp, nil
}

// AnalyzeBlocks asks the service to flag weak blocks
func (c *EditorClient) AnalyzeBlocks(ctx context.Context, req *AnalyzeBlocksRequest) (*AnalyzeBlocksResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analyze request: %w", err)
	}

	var resp AnalyzeBlocksResponse
	err = c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/analyze-blocks",
		contentType: "application/json",
		payload:     payload,
		retry:       true,
	}, &resp)
	if err != nil {
		return nil, saveError("", err)
	}
	return &resp, nil
}

// ClearEdits drops the remote edit state of the active document
func (c *EditorClient) ClearEdits(ctx context.Context) error {
	err := c.do(ctx, request{method: http.MethodDelete, path: "/clear-edits", retry: true}, nil)
	if err != nil {
		return saveError("", err)
	}
	return nil
}

// request is one editor API call. Only calls marked retry repeat a failed
// transport attempt.
type request struct {
	method      string
	path        string
	contentType string
	payload     []byte
	retry       bool
}

// StatusError is a non-2xx (or undecodable) response from the editor API.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// NetworkError is a transport failure or timeout that outlived its attempts.
type NetworkError struct {
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("request failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// do sends one request and decodes a 2xx JSON body into out when out is
// non-nil. Failures come back as *StatusError or *NetworkError; callers
// translate them into their own error codes.
func (c *EditorClient) do(ctx context.Context, r request, out interface{}) error {
	requestID := uuid.NewString()
	attempts := 1
	if r.retry {
		attempts = maxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			c.logger.Warn("Retrying request after network failure",
				"method", r.method,
				"path", r.path,
				"request_id", requestID,
				"error", lastErr)

			select {
			case <-ctx.Done():
				return &NetworkError{Attempts: attempt - 1, Err: ctx.Err()}
			case <-time.After(c.retryBackoff):
			}
		}

		var body io.Reader
		if r.payload != nil {
			body = bytes.NewReader(r.payload)
		}
		req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
		if err != nil {
			return fmt.Errorf("failed to create HTTP request: %w", err)
		}
		if r.contentType != "" {
			req.Header.Set("Content-Type", r.contentType)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Request-ID", requestID)

		startTime := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%s %s failed after %v: %w", r.method, r.path, time.Since(startTime), err)
			if ctx.Err() != nil {
				return &NetworkError{Attempts: attempt, Err: lastErr}
			}
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response body: %w", err)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &StatusError{Method: r.method, Path: r.path, StatusCode: resp.StatusCode, Body: truncate(string(respBody), 512)}
		}

		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return &StatusError{Method: r.method, Path: r.path, StatusCode: resp.StatusCode,
					Body: fmt.Sprintf("failed to parse response: %v", err)}
			}
		}
		return nil
	}

	return &NetworkError{Attempts: attempts, Err: lastErr}
}

// saveError maps a failed call against the remote edit store onto the save
// error codes.
func saveError(blockID string, err error) error {
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusNotFound || se.StatusCode >= 500:
			return overlayerrors.NewSaveServerError(blockID, se.StatusCode, se.Body)
		case se.StatusCode >= 400:
			return overlayerrors.NewSaveValidationError(blockID, se.StatusCode, se.Body)
		default:
			return overlayerrors.NewSaveServerError(blockID, se.StatusCode, se.Body)
		}
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return overlayerrors.NewSaveNetworkError(blockID, ne.Attempts, ne.Err)
	}
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
