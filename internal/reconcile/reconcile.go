// Package reconcile decides which text each block shows when the live
// overlay, the local edit cache and the remote edit set disagree.
package reconcile

import (
	"context"
	"sync"

	"github.com/adverant/nexus/overlay-editor/internal/editstore"
	"github.com/adverant/nexus/overlay-editor/internal/logging"
	"github.com/adverant/nexus/overlay-editor/internal/model"
)

// Source names where a resolved text came from.
type Source string

const (
	SourceLive      Source = "live"
	SourceLocal     Source = "local"
	SourceRemote    Source = "remote"
	SourceExtracted Source = "extracted"
)

// Resolution is the text a block should display.
type Resolution struct {
	Text   string `json:"text"`
	Source Source `json:"source"`
}

// EditFetcher loads the remote edit set for a document.
type EditFetcher interface {
	GetEdits(ctx context.Context, documentID string) (model.RemoteEditSet, error)
}

// Reconciler resolves block text by priority: live value, dirty local record
// for the same document, remote edit set, extracted text. The remote edit set
// is fetched at most once per document and cached until Reset; failed
// fetches are not cached.
type Reconciler struct {
	store   editstore.Store
	fetcher EditFetcher
	logger  *logging.Logger

	mu       sync.Mutex
	remoteID string
	remote   model.RemoteEditSet
}

// New creates a reconciler. fetcher may be nil when there is no remote store.
func New(store editstore.Store, fetcher EditFetcher) *Reconciler {
	return &Reconciler{
		store:   store,
		fetcher: fetcher,
		logger:  logging.NewLogger("Reconciler"),
	}
}

// Resolve returns the text for a single block.
func (r *Reconciler) Resolve(ctx context.Context, block model.TextBlock, documentID string, live map[string]string) Resolution {
	return r.ResolveAll(ctx, []model.TextBlock{block}, documentID, live)[block.ID]
}

// ResolveAll resolves every block, reading the local record and the remote
// edit set once for the whole batch.
func (r *Reconciler) ResolveAll(ctx context.Context, blocks []model.TextBlock, documentID string, live map[string]string) map[string]Resolution {
	out := make(map[string]Resolution, len(blocks))

	var local map[string]string
	if rec := r.localRecord(ctx, documentID); rec != nil {
		local = rec.Edits
	}

	var remote model.RemoteEditSet
	for _, b := range blocks {
		if _, ok := live[b.ID]; ok {
			continue
		}
		if _, ok := local[b.ID]; ok {
			continue
		}
		remote = r.remoteEdits(ctx, documentID)
		break
	}

	for _, b := range blocks {
		if text, ok := live[b.ID]; ok {
			out[b.ID] = Resolution{Text: text, Source: SourceLive}
			continue
		}
		if text, ok := local[b.ID]; ok {
			out[b.ID] = Resolution{Text: text, Source: SourceLocal}
			continue
		}
		if text, ok := remote[b.ID]; ok {
			out[b.ID] = Resolution{Text: text, Source: SourceRemote}
			continue
		}
		out[b.ID] = Resolution{Text: b.Text, Source: SourceExtracted}
	}

	return out
}

// RecordRemote notes a save the remote store accepted, so later resolutions
// see it without refetching.
func (r *Reconciler) RecordRemote(documentID, blockID, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.remoteID != documentID || r.remote == nil {
		return
	}
	r.remote[blockID] = text
}

// ForgetRemote empties the cached remote edit set of a document after the
// remote store was cleared.
func (r *Reconciler) ForgetRemote(documentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.remoteID == documentID {
		r.remote = model.RemoteEditSet{}
	}
}

// Reset drops the cached remote edit set.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	r.remoteID = ""
	r.remote = nil
	r.mu.Unlock()
}

func (r *Reconciler) localRecord(ctx context.Context, documentID string) *model.StoredEdit {
	if r.store == nil {
		return nil
	}
	rec, err := r.store.Load(ctx)
	if err != nil {
		r.logger.Warn("Local edit record unavailable", "error", err)
		return nil
	}
	if rec == nil || !rec.IsDirty || rec.DocumentName != documentID {
		return nil
	}
	return rec
}

func (r *Reconciler) remoteEdits(ctx context.Context, documentID string) model.RemoteEditSet {
	r.mu.Lock()
	if r.remoteID == documentID && r.remote != nil {
		cached := copyEdits(r.remote)
		r.mu.Unlock()
		return cached
	}
	r.mu.Unlock()

	if r.fetcher == nil {
		return nil
	}

	edits, err := r.fetcher.GetEdits(ctx, documentID)
	if err != nil {
		r.logger.Warn("Remote edit set unavailable", "document_id", documentID, "error", err)
		return nil
	}
	if edits == nil {
		edits = model.RemoteEditSet{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// A reset or a different document may have won while fetching.
	if r.remoteID != "" && r.remoteID != documentID {
		return edits
	}
	if r.remoteID == documentID && r.remote != nil {
		return copyEdits(r.remote)
	}
	r.remoteID = documentID
	r.remote = copyEdits(edits)
	return edits
}

func copyEdits(in model.RemoteEditSet) model.RemoteEditSet {
	out := make(model.RemoteEditSet, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
