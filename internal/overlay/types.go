package overlay

import (
	"context"
	"errors"

	"github.com/adverant/nexus/overlay-editor/internal/clients"
	"github.com/adverant/nexus/overlay-editor/internal/export"
	"github.com/adverant/nexus/overlay-editor/internal/extractor"
	"github.com/adverant/nexus/overlay-editor/internal/fontclass"
	"github.com/adverant/nexus/overlay-editor/internal/model"
)

// State is the lifecycle position of one overlay block.
type State string

const (
	StateClean   State = "clean"
	StateEditing State = "editing"
	StateDirty   State = "dirty"
	StateSaving  State = "saving"
)

var (
	ErrNoDocument   = errors.New("no document open")
	ErrUnknownBlock = errors.New("unknown block")
	ErrNotEditing   = errors.New("block is not being edited")
)

// EditableBlockState is a snapshot of one overlay block.
type EditableBlockState struct {
	ID           string           `json:"id"`
	OriginalText string           `json:"original_text"`
	CurrentText  string           `json:"current_text"`
	IsDirty      bool             `json:"is_dirty"`
	IsEditing    bool             `json:"is_editing"`
	State        State            `json:"state"`
	Block        model.TextBlock  `json:"block"`
	Font         fontclass.Font   `json:"font"`
	FontHandle   fontclass.Handle `json:"font_handle"`
	Rect         model.Rect       `json:"rect"` // scaled viewport placement
}

// Score is the latest ATS score reported by the editor API.
type Score struct {
	Total   int                      `json:"total"`
	Details *clients.ATSScoreDetails `json:"details,omitempty"`
}

// BlockSource extracts the blocks of one page of a document.
type BlockSource interface {
	ExtractPage(ctx context.Context, doc *model.Document, pageNumber int, scale float64) (*model.PageResult, error)
}

// RemoteStore is the editor API surface the controller writes to.
type RemoteStore interface {
	UpdateResume(ctx context.Context, blocks []clients.BlockUpdate) (*clients.UpdateResumeResponse, error)
	AnalyzeBlocks(ctx context.Context, req *clients.AnalyzeBlocksRequest) (*clients.AnalyzeBlocksResponse, error)
	ClearEdits(ctx context.Context) error
}

// Exporter recomposes a document from resolved block states.
type Exporter interface {
	Export(original []byte, blocks []model.TextBlock, states map[string]export.BlockState) ([]byte, error)
}

type extractorSource struct {
	extractor *extractor.Extractor
}

// NewExtractorSource adapts a local extractor to BlockSource.
func NewExtractorSource(e *extractor.Extractor) BlockSource {
	return &extractorSource{extractor: e}
}

func (s *extractorSource) ExtractPage(ctx context.Context, doc *model.Document, pageNumber int, scale float64) (*model.PageResult, error) {
	return s.extractor.ExtractPage(ctx, doc.Data, pageNumber, scale)
}
