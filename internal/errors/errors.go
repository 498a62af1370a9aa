package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Error taxonomy for the overlay editor.
 *
 * Extraction and export failures are fatal to their own operation only.
 * Save failures leave the live block state untouched; only network
 * failures are retried, and only once.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Document errors
	ErrorExtractionFailed ErrorCode = "EXTRACTION_FAILED"
	ErrorRenderCancelled  ErrorCode = "RENDER_CANCELLED"
	ErrorExportFailed     ErrorCode = "EXPORT_FAILED"

	// Save errors
	ErrorSaveNetwork    ErrorCode = "SAVE_NETWORK_ERROR"
	ErrorSaveValidation ErrorCode = "SAVE_VALIDATION_ERROR"
	ErrorSaveServer     ErrorCode = "SAVE_SERVER_ERROR"

	// Local cache errors
	ErrorStoreFailed ErrorCode = "STORE_FAILED"
)

// OverlayError represents a structured editor error
type OverlayError struct {
	Code       ErrorCode
	Message    string
	DocumentID string
	BlockID    string
	StatusCode int
	Timestamp  time.Time
	Details    map[string]interface{}
	Cause      error
}

func (e *OverlayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *OverlayError) Unwrap() error {
	return e.Cause
}

// Factory functions for common errors

func NewExtractionFailedError(documentID string, pageNumber int, cause error) *OverlayError {
	return &OverlayError{
		Code:       ErrorExtractionFailed,
		Message:    fmt.Sprintf("Failed to extract text blocks from page %d", pageNumber),
		DocumentID: documentID,
		Timestamp:  time.Now(),
		Details: map[string]interface{}{
			"page_number": pageNumber,
		},
		Cause: cause,
	}
}

func NewRenderCancelledError(documentID string, generation uint64) *OverlayError {
	return &OverlayError{
		Code:       ErrorRenderCancelled,
		Message:    "Extraction superseded by a newer request",
		DocumentID: documentID,
		Timestamp:  time.Now(),
		Details: map[string]interface{}{
			"generation": generation,
		},
	}
}

func NewSaveNetworkError(blockID string, attempts int, cause error) *OverlayError {
	return &OverlayError{
		Code:      ErrorSaveNetwork,
		Message:   fmt.Sprintf("Remote save failed after %d attempt(s)", attempts),
		BlockID:   blockID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"attempts": attempts,
		},
		Cause: cause,
	}
}

func NewSaveValidationError(blockID string, statusCode int, body string) *OverlayError {
	return &OverlayError{
		Code:       ErrorSaveValidation,
		Message:    fmt.Sprintf("Remote store rejected request with HTTP %d: %s", statusCode, body),
		BlockID:    blockID,
		StatusCode: statusCode,
		Timestamp:  time.Now(),
	}
}

func NewSaveServerError(blockID string, statusCode int, body string) *OverlayError {
	return &OverlayError{
		Code:       ErrorSaveServer,
		Message:    fmt.Sprintf("Remote store failed with HTTP %d: %s", statusCode, body),
		BlockID:    blockID,
		StatusCode: statusCode,
		Timestamp:  time.Now(),
	}
}

func NewExportFailedError(documentID string, cause error) *OverlayError {
	return &OverlayError{
		Code:       ErrorExportFailed,
		Message:    "Failed to recompose document",
		DocumentID: documentID,
		Timestamp:  time.Now(),
		Cause:      cause,
	}
}

func NewStoreFailedError(operation string, cause error) *OverlayError {
	return &OverlayError{
		Code:      ErrorStoreFailed,
		Message:   fmt.Sprintf("Edit store %s failed", operation),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"operation": operation,
		},
		Cause: cause,
	}
}

// HasCode reports whether any error in err's chain is an OverlayError with the given code
func HasCode(err error, code ErrorCode) bool {
	var oe *OverlayError
	for err != nil {
		if !stderrors.As(err, &oe) {
			return false
		}
		if oe.Code == code {
			return true
		}
		err = oe.Cause
	}
	return false
}

// IsRetryable reports whether err is a transient network failure
func IsRetryable(err error) bool {
	return HasCode(err, ErrorSaveNetwork)
}

// ToMap converts error to map for API responses and logs
func (e *OverlayError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	if e.DocumentID != "" {
		result["document_id"] = e.DocumentID
	}
	if e.BlockID != "" {
		result["block_id"] = e.BlockID
	}
	if e.StatusCode != 0 {
		result["status_code"] = e.StatusCode
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
