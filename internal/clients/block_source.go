package clients

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	overlayerrors "github.com/adverant/nexus/overlay-editor/internal/errors"
	"github.com/adverant/nexus/overlay-editor/internal/model"
)

// RemoteBlockSource serves page extractions from the editor API. Each
// document version is uploaded once and then filtered per page. Block ids
// are rewritten to the canonical block-<page>-<index> form, since the service
// numbers blocks on its own.
type RemoteBlockSource struct {
	client *EditorClient
	group  singleflight.Group

	mu         sync.Mutex
	key        string
	extraction *model.Extraction
}

// NewRemoteBlockSource creates a block source backed by client
func NewRemoteBlockSource(client *EditorClient) *RemoteBlockSource {
	return &RemoteBlockSource{client: client}
}

// ExtractPage returns the blocks of one 1-based page.
func (s *RemoteBlockSource) ExtractPage(ctx context.Context, doc *model.Document, pageNumber int, scale float64) (*model.PageResult, error) {
	extraction, err := s.document(ctx, doc)
	if err != nil {
		return nil, err
	}

	if pageNumber < 1 || pageNumber > len(extraction.Pages) {
		return nil, overlayerrors.NewExtractionFailedError(doc.ID, pageNumber,
			fmt.Errorf("page %d out of range (1-%d)", pageNumber, len(extraction.Pages)))
	}
	info := extraction.Pages[pageNumber-1]

	result := &model.PageResult{
		PageNumber: pageNumber,
		PageWidth:  info.Width,
		PageHeight: info.Height,
		Scale:      scale,
		Blocks:     []model.TextBlock{},
	}
	for _, b := range extraction.PageBlocks(pageNumber) {
		b.ID = model.BlockID(pageNumber, len(result.Blocks))
		result.Blocks = append(result.Blocks, b)
	}
	return result, nil
}

// Reset forgets the cached extraction.
func (s *RemoteBlockSource) Reset() {
	s.mu.Lock()
	s.key = ""
	s.extraction = nil
	s.mu.Unlock()
}

// document returns the extraction of doc, uploading it at most once per
// version. The upload is shared by concurrent callers and runs detached from
// any one caller's context, so a caller that gives up does not fail the
// others. The client's request timeout still bounds it.
func (s *RemoteBlockSource) document(ctx context.Context, doc *model.Document) (*model.Extraction, error) {
	key := doc.ID + "@" + doc.Version()

	s.mu.Lock()
	if s.key == key && s.extraction != nil {
		ex := s.extraction
		s.mu.Unlock()
		return ex, nil
	}
	s.mu.Unlock()

	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		ex, err := s.client.ExtractBlocks(shared, doc.Name, doc.Data)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.key = key
		s.extraction = ex
		s.mu.Unlock()
		return ex, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.Extraction), nil
	}
}
