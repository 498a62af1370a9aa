package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/overlay-editor/internal/editstore"
	"github.com/adverant/nexus/overlay-editor/internal/model"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	edits map[string]model.RemoteEditSet
	err   error
}

func (f *fakeFetcher) GetEdits(ctx context.Context, documentID string) (model.RemoteEditSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := model.RemoteEditSet{}
	for k, v := range f.edits[documentID] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var blocks = []model.TextBlock{
	{ID: "block-1-0", Text: "2024"},
	{ID: "block-1-1", Text: "Engineer"},
	{ID: "block-1-2", Text: "Acme"},
	{ID: "block-1-3", Text: "Go"},
}

func TestPriorityLaw(t *testing.T) {
	ctx := context.Background()
	store := editstore.NewMemoryStore()
	require.NoError(t, store.Merge(ctx, "block-1-0", "local-0", "cv.pdf", true))
	require.NoError(t, store.Merge(ctx, "block-1-1", "local-1", "cv.pdf", true))

	fetcher := &fakeFetcher{edits: map[string]model.RemoteEditSet{
		"cv.pdf": {"block-1-1": "remote-1", "block-1-2": "remote-2"},
	}}
	r := New(store, fetcher)

	got := r.ResolveAll(ctx, blocks, "cv.pdf", map[string]string{"block-1-0": "live-0"})

	assert.Equal(t, Resolution{"live-0", SourceLive}, got["block-1-0"])
	assert.Equal(t, Resolution{"local-1", SourceLocal}, got["block-1-1"])
	assert.Equal(t, Resolution{"remote-2", SourceRemote}, got["block-1-2"])
	assert.Equal(t, Resolution{"Go", SourceExtracted}, got["block-1-3"])
}

func TestSyncedOrForeignRecordIsIgnored(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{edits: map[string]model.RemoteEditSet{
		"cv.pdf": {"block-1-0": "remote"},
	}}

	synced := editstore.NewMemoryStore()
	require.NoError(t, synced.Merge(ctx, "block-1-0", "local", "cv.pdf", true))
	require.NoError(t, synced.MarkSynced(ctx))
	assert.Equal(t, "remote", New(synced, fetcher).Resolve(ctx, blocks[0], "cv.pdf", nil).Text)

	foreign := editstore.NewMemoryStore()
	require.NoError(t, foreign.Merge(ctx, "block-1-0", "local", "other.pdf", true))
	assert.Equal(t, "remote", New(foreign, fetcher).Resolve(ctx, blocks[0], "cv.pdf", nil).Text)
}

func TestResolveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := editstore.NewMemoryStore()
	require.NoError(t, store.Merge(ctx, "block-1-1", "Senior Engineer", "cv.pdf", true))
	r := New(store, &fakeFetcher{edits: map[string]model.RemoteEditSet{"cv.pdf": {"block-1-2": "Acme Inc"}}})

	first := r.ResolveAll(ctx, blocks, "cv.pdf", nil)
	second := r.ResolveAll(ctx, blocks, "cv.pdf", nil)
	assert.Equal(t, first, second)

	for _, b := range blocks {
		assert.Equal(t, r.Resolve(ctx, b, "cv.pdf", nil), r.Resolve(ctx, b, "cv.pdf", nil))
	}
}

func TestRemoteFetchedOncePerDocument(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{edits: map[string]model.RemoteEditSet{
		"a.pdf": {"block-1-0": "A"},
		"b.pdf": {"block-1-0": "B"},
	}}
	r := New(editstore.NewMemoryStore(), fetcher)

	for i := 0; i < 3; i++ {
		assert.Equal(t, "A", r.Resolve(ctx, blocks[0], "a.pdf", nil).Text)
	}
	assert.Equal(t, 1, fetcher.callCount())

	r.Reset()
	assert.Equal(t, "B", r.Resolve(ctx, blocks[0], "b.pdf", nil).Text)
	assert.Equal(t, 2, fetcher.callCount())
}

func TestRemoteSkippedWhenHigherPrioritySourcesCoverAll(t *testing.T) {
	fetcher := &fakeFetcher{}
	r := New(editstore.NewMemoryStore(), fetcher)

	live := map[string]string{}
	for _, b := range blocks {
		live[b.ID] = b.Text + "!"
	}
	r.ResolveAll(context.Background(), blocks, "cv.pdf", live)
	assert.Equal(t, 0, fetcher.callCount())
}

func TestFailedFetchIsNotCached(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{err: errors.New("connection refused")}
	r := New(editstore.NewMemoryStore(), fetcher)

	res := r.Resolve(ctx, blocks[0], "cv.pdf", nil)
	assert.Equal(t, Resolution{"2024", SourceExtracted}, res)

	fetcher.mu.Lock()
	fetcher.err = nil
	fetcher.edits = map[string]model.RemoteEditSet{"cv.pdf": {"block-1-0": "2025"}}
	fetcher.mu.Unlock()

	assert.Equal(t, Resolution{"2025", SourceRemote}, r.Resolve(ctx, blocks[0], "cv.pdf", nil))
	assert.Equal(t, 2, fetcher.callCount())
}

func TestRecordRemoteUpdatesCache(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{edits: map[string]model.RemoteEditSet{"cv.pdf": {}}}
	r := New(editstore.NewMemoryStore(), fetcher)

	assert.Equal(t, "2024", r.Resolve(ctx, blocks[0], "cv.pdf", nil).Text)
	r.RecordRemote("cv.pdf", "block-1-0", "2025")
	r.RecordRemote("other.pdf", "block-1-0", "ignored")

	assert.Equal(t, Resolution{"2025", SourceRemote}, r.Resolve(ctx, blocks[0], "cv.pdf", nil))
	assert.Equal(t, 1, fetcher.callCount())

	r.ForgetRemote("cv.pdf")
	assert.Equal(t, Resolution{"2024", SourceExtracted}, r.Resolve(ctx, blocks[0], "cv.pdf", nil))
	assert.Equal(t, 1, fetcher.callCount())
}

func TestNilFetcher(t *testing.T) {
	r := New(nil, nil)
	assert.Equal(t, Resolution{"Go", SourceExtracted}, r.Resolve(context.Background(), blocks[3], "cv.pdf", nil))
}
