/**
 * Export Tasks
 *
 * Asynchronous export runs the recomposer out of process. overlayd
 * resolves the block states and enqueues them with the original PDF; the
 * worker recomposes and parks the result in Redis for download.
 */

package queue

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/overlay-editor/internal/export"
	"github.com/adverant/nexus/overlay-editor/internal/model"
)

// TypeExportDocument is the asynq task type of an export job.
const TypeExportDocument = "export:document"

// ExportPayload carries everything the recomposer needs. FileBuffer travels
// as base64.
type ExportPayload struct {
	JobID      string                       `json:"jobId"`
	DocumentID string                       `json:"documentId"`
	Filename   string                       `json:"filename"`
	FileBuffer []byte                       `json:"fileBuffer"`
	Blocks     []model.TextBlock            `json:"blocks"`
	States     map[string]export.BlockState `json:"states"`
}

// NewExportTask wraps a payload in an asynq task.
func NewExportTask(p *ExportPayload, opts ...asynq.Option) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal export payload: %w", err)
	}
	return asynq.NewTask(TypeExportDocument, data, opts...), nil
}
