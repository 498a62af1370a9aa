package overlay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/overlay-editor/internal/clients"
	"github.com/adverant/nexus/overlay-editor/internal/editstore"
	overlayerrors "github.com/adverant/nexus/overlay-editor/internal/errors"
	"github.com/adverant/nexus/overlay-editor/internal/export"
	"github.com/adverant/nexus/overlay-editor/internal/extractor"
	"github.com/adverant/nexus/overlay-editor/internal/model"
	"github.com/adverant/nexus/overlay-editor/internal/pdftest"
)

type fakeSource struct {
	mu    sync.Mutex
	pages map[int][]model.TextBlock
	gates map[int]chan struct{}
}

func newFakeSource(pages map[int][]model.TextBlock) *fakeSource {
	return &fakeSource{pages: pages, gates: map[int]chan struct{}{}}
}

func (s *fakeSource) gate(page int) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	s.gates[page] = ch
	return ch
}

func (s *fakeSource) ExtractPage(ctx context.Context, doc *model.Document, pageNumber int, scale float64) (*model.PageResult, error) {
	s.mu.Lock()
	gate := s.gates[pageNumber]
	blocks, ok := s.pages[pageNumber]
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if !ok {
		return nil, overlayerrors.NewExtractionFailedError(doc.ID, pageNumber, errors.New("no such page"))
	}
	return &model.PageResult{
		PageNumber: pageNumber,
		Blocks:     append([]model.TextBlock(nil), blocks...),
		PageWidth:  612,
		PageHeight: 792,
		Scale:      scale,
	}, nil
}

type fakeRemote struct {
	mu       sync.Mutex
	updates  []clients.BlockUpdate
	active   map[string]int
	overlap  bool
	gate     chan struct{}
	started  chan struct{}
	fail     error
	score    int
	analysis *clients.AnalyzeBlocksResponse
	analyzed *clients.AnalyzeBlocksRequest
	cleared  int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{active: map[string]int{}, score: 70}
}

func (r *fakeRemote) UpdateResume(ctx context.Context, blocks []clients.BlockUpdate) (*clients.UpdateResumeResponse, error) {
	r.mu.Lock()
	for _, b := range blocks {
		r.updates = append(r.updates, b)
		r.active[b.BlockID]++
		if r.active[b.BlockID] > 1 {
			r.overlap = true
		}
	}
	gate, started, fail, score := r.gate, r.started, r.fail, r.score
	r.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	r.mu.Lock()
	for _, b := range blocks {
		r.active[b.BlockID]--
	}
	r.mu.Unlock()

	if fail != nil {
		return nil, fail
	}
	return &clients.UpdateResumeResponse{
		Success:         true,
		ATSScore:        &score,
		ATSScoreDetails: &clients.ATSScoreDetails{TotalScore: score, Grade: "C"},
	}, nil
}

func (r *fakeRemote) AnalyzeBlocks(ctx context.Context, req *clients.AnalyzeBlocksRequest) (*clients.AnalyzeBlocksResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analyzed = req
	return r.analysis, nil
}

func (r *fakeRemote) ClearEdits(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared++
	return nil
}

func (r *fakeRemote) sent() []clients.BlockUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]clients.BlockUpdate(nil), r.updates...)
}

type fakeFetcher struct {
	edits model.RemoteEditSet
}

func (f *fakeFetcher) GetEdits(ctx context.Context, documentID string) (model.RemoteEditSet, error) {
	out := model.RemoteEditSet{}
	for k, v := range f.edits {
		out[k] = v
	}
	return out, nil
}

var page1 = []model.TextBlock{
	{ID: "block-1-0", Text: "2024", Page: 0, X: 10, Y: 10, Width: 40, Height: 12, FontSize: 12, FontName: "Helvetica", BlockType: model.BlockDateEntry},
	{ID: "block-1-1", Text: "Engineer", Page: 0, X: 10, Y: 40, Width: 60, Height: 12, FontSize: 12, FontName: "Times-Bold", Section: "experience"},
	{ID: "block-1-2", Text: "Acme", Page: 0, X: 10, Y: 70, Width: 30, Height: 12, FontSize: 12, FontName: "Helvetica"},
}

var page2 = []model.TextBlock{
	{ID: "block-2-0", Text: "Skills", Page: 1, X: 10, Y: 10, Width: 40, Height: 14, FontSize: 14, FontName: "Helvetica-Bold"},
}

type harness struct {
	ctrl   *Controller
	source *fakeSource
	store  editstore.Store
	remote *fakeRemote
	doc    *model.Document
}

func newHarness(t *testing.T, opts ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		source: newFakeSource(map[int][]model.TextBlock{1: page1, 2: page2}),
		store:  editstore.NewMemoryStore(),
		remote: newFakeRemote(),
		doc:    &model.Document{ID: "cv.pdf", Name: "cv.pdf", Data: []byte("%PDF-1.4")},
	}
	o := Options{Source: h.source, Store: h.store, Remote: h.remote}
	for _, fn := range opts {
		fn(&o)
	}
	h.ctrl = New(o)
	require.NoError(t, h.ctrl.Open(context.Background(), h.doc, 1, 1.5))
	return h
}

func (h *harness) edit(t *testing.T, id, text string) {
	t.Helper()
	require.NoError(t, h.ctrl.Focus(id))
	require.NoError(t, h.ctrl.Input(id, text))
	require.NoError(t, h.ctrl.Commit(context.Background(), id))
}

func mustBlock(t *testing.T, c *Controller, id string) EditableBlockState {
	t.Helper()
	b, ok := c.Block(id)
	require.True(t, ok, "block %s missing", id)
	return b
}

func TestOpenBuildsCleanBlocks(t *testing.T) {
	h := newHarness(t)

	blocks := h.ctrl.Blocks()
	require.Len(t, blocks, 3)
	assert.Equal(t, "block-1-0", blocks[0].ID)
	for _, b := range blocks {
		assert.Equal(t, StateClean, b.State)
		assert.False(t, b.IsDirty)
	}

	assert.Equal(t, model.Rect{X: 15, Y: 15, Width: 60, Height: 18}, blocks[0].Rect)
	assert.Equal(t, "Times", blocks[1].FontHandle.Family)
	assert.Equal(t, "B", blocks[1].FontHandle.Style)
}

func TestEscapeRevertsWithoutSave(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.ctrl.Focus("block-1-1"))
	assert.Equal(t, StateEditing, mustBlock(t, h.ctrl, "block-1-1").State)

	require.NoError(t, h.ctrl.Input("block-1-1", "Enginer"))
	assert.Equal(t, "Enginer", mustBlock(t, h.ctrl, "block-1-1").CurrentText)

	require.NoError(t, h.ctrl.Escape("block-1-1"))

	b := mustBlock(t, h.ctrl, "block-1-1")
	assert.Equal(t, StateClean, b.State)
	assert.Equal(t, "Engineer", b.CurrentText)
	assert.False(t, b.IsEditing)
	assert.False(t, h.ctrl.HasPendingChanges())

	rec, err := h.store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestInputRequiresFocus(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.ctrl.Input("block-1-0", "x"), ErrNotEditing)
	assert.ErrorIs(t, h.ctrl.Focus("block-9-9"), ErrUnknownBlock)
}

func TestCommitWritesThrough(t *testing.T) {
	var committed []EditableBlockState
	h := newHarness(t, func(o *Options) {
		o.OnCommit = func(s EditableBlockState) { committed = append(committed, s) }
	})

	h.edit(t, "block-1-0", "2025")

	b := mustBlock(t, h.ctrl, "block-1-0")
	assert.Equal(t, StateDirty, b.State)
	assert.True(t, b.IsDirty)
	assert.Equal(t, "2024", b.OriginalText)
	assert.True(t, h.ctrl.HasPendingChanges())

	rec, err := h.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"block-1-0": "2025"}, rec.Edits)
	assert.Equal(t, "cv.pdf", rec.DocumentName)
	assert.True(t, rec.IsDirty)

	require.Len(t, committed, 1)
	assert.Equal(t, "2025", committed[0].CurrentText)

	// Focus and blur without a change is not a commit.
	require.NoError(t, h.ctrl.Focus("block-1-2"))
	require.NoError(t, h.ctrl.Commit(context.Background(), "block-1-2"))
	assert.Equal(t, StateClean, mustBlock(t, h.ctrl, "block-1-2").State)
	assert.Len(t, committed, 1)
}

func TestFlushSuccess(t *testing.T) {
	h := newHarness(t)
	h.edit(t, "block-1-0", "2025")
	h.edit(t, "block-1-1", "Senior Engineer")

	ok, err := h.ctrl.Flush(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	sent := h.remote.sent()
	require.Len(t, sent, 2)
	for _, u := range sent {
		if u.BlockID == "block-1-1" {
			require.NotNil(t, u.Section)
			assert.Equal(t, "experience", *u.Section)
			assert.Equal(t, "Engineer", u.OldText)
		}
	}

	for _, id := range []string{"block-1-0", "block-1-1"} {
		b := mustBlock(t, h.ctrl, id)
		assert.Equal(t, StateClean, b.State)
		assert.Equal(t, b.CurrentText, b.OriginalText)
	}
	assert.False(t, h.ctrl.HasPendingChanges())

	rec, err := h.store.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, rec.IsDirty)

	score, ok := h.ctrl.LastScore()
	require.True(t, ok)
	assert.Equal(t, 70, score.Total)

	// Nothing pending is trivially flushed.
	ok, err = h.ctrl.Flush(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, h.remote.sent(), 2)
}

func TestFlushFailureKeepsBlockDirty(t *testing.T) {
	h := newHarness(t)
	h.remote.fail = overlayerrors.NewSaveServerError("block-1-0", 500, "boom")
	h.edit(t, "block-1-0", "2025")

	ok, err := h.ctrl.Flush(context.Background())
	assert.False(t, ok)
	assert.True(t, overlayerrors.HasCode(err, overlayerrors.ErrorSaveServer))

	b := mustBlock(t, h.ctrl, "block-1-0")
	assert.Equal(t, StateDirty, b.State)
	assert.Equal(t, "2025", b.CurrentText)
	assert.True(t, h.ctrl.HasPendingChanges())

	rec, err := h.store.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, rec.IsDirty)

	h.remote.mu.Lock()
	h.remote.fail = nil
	h.remote.mu.Unlock()

	ok, err = h.ctrl.Flush(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, StateClean, mustBlock(t, h.ctrl, "block-1-0").State)
}

func TestQueuedSavesCollapseToLatest(t *testing.T) {
	h := newHarness(t)
	h.edit(t, "block-1-0", "2025")
	h.edit(t, "block-1-0", "2026")

	ok, err := h.ctrl.Flush(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	sent := h.remote.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "2026", sent[0].NewText)
	assert.Equal(t, "2024", sent[0].OldText)
}

func TestConcurrentFlushJoinsInflightSave(t *testing.T) {
	h := newHarness(t)
	h.remote.gate = make(chan struct{})
	h.remote.started = make(chan struct{}, 4)
	h.edit(t, "block-1-0", "2025")

	first := make(chan bool)
	go func() {
		ok, _ := h.ctrl.Flush(context.Background())
		first <- ok
	}()
	<-h.remote.started
	assert.Equal(t, StateSaving, mustBlock(t, h.ctrl, "block-1-0").State)

	second := make(chan bool)
	go func() {
		ok, _ := h.ctrl.Flush(context.Background())
		second <- ok
	}()

	close(h.remote.gate)
	assert.True(t, <-first)
	assert.True(t, <-second)
	assert.Len(t, h.remote.sent(), 1)
}

func TestSameBlockSavesAreOrdered(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.remote.gate = gate
	h.remote.started = make(chan struct{}, 4)
	h.edit(t, "block-1-0", "2025")

	first := make(chan error)
	go func() {
		_, err := h.ctrl.Flush(context.Background())
		first <- err
	}()
	<-h.remote.started

	h.edit(t, "block-1-0", "2026")
	second := make(chan error)
	go func() {
		_, err := h.ctrl.Flush(context.Background())
		second <- err
	}()

	// The newer save must not start while the older one is in flight.
	select {
	case <-h.remote.started:
		t.Fatal("second save started before the first finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	require.NoError(t, <-first)
	require.NoError(t, <-second)

	sent := h.remote.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "2025", sent[0].NewText)
	assert.Equal(t, "2026", sent[1].NewText)
	assert.Equal(t, "2025", sent[1].OldText)
	assert.False(t, h.remote.overlap)

	b := mustBlock(t, h.ctrl, "block-1-0")
	assert.Equal(t, StateClean, b.State)
	assert.Equal(t, "2026", b.OriginalText)
}

func TestStaleExtractionIsDiscarded(t *testing.T) {
	source := newFakeSource(map[int][]model.TextBlock{1: page1, 2: page2})
	ctrl := New(Options{Source: source})
	doc := &model.Document{ID: "cv.pdf", Data: []byte("%PDF-1.4")}

	gate := source.gate(1)
	firstDone := make(chan error)
	go func() {
		firstDone <- ctrl.Open(context.Background(), doc, 1, 1)
	}()

	// Wait until the first call holds generation 1.
	require.Eventually(t, func() bool {
		ctrl.mu.Lock()
		defer ctrl.mu.Unlock()
		return ctrl.generation == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, ctrl.Open(context.Background(), doc, 2, 1))
	close(gate)
	require.NoError(t, <-firstDone)

	blocks := ctrl.Blocks()
	require.Len(t, blocks, 1)
	assert.Equal(t, "block-2-0", blocks[0].ID)
	assert.Equal(t, 2, ctrl.Page().PageNumber)
}

func TestOpenResolvesLocalAndRemoteEdits(t *testing.T) {
	ctx := context.Background()
	store := editstore.NewMemoryStore()
	require.NoError(t, store.Merge(ctx, "block-1-1", "Staff Engineer", "cv.pdf", true))
	remote := newFakeRemote()

	ctrl := New(Options{
		Source:  newFakeSource(map[int][]model.TextBlock{1: page1}),
		Store:   store,
		Remote:  remote,
		Fetcher: &fakeFetcher{edits: model.RemoteEditSet{"block-1-1": "Principal", "block-1-2": "Acme Inc"}},
	})
	require.NoError(t, ctrl.Open(ctx, &model.Document{ID: "cv.pdf", Data: []byte("%PDF")}, 1, 1))

	local := mustBlock(t, ctrl, "block-1-1")
	assert.Equal(t, "Staff Engineer", local.CurrentText)
	assert.Equal(t, StateDirty, local.State)

	fromRemote := mustBlock(t, ctrl, "block-1-2")
	assert.Equal(t, "Acme Inc", fromRemote.CurrentText)
	assert.Equal(t, StateClean, fromRemote.State)

	// The unsynced local edit is queued and goes out on flush.
	ok, err := ctrl.Flush(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, remote.sent(), 1)
	assert.Equal(t, "Staff Engineer", remote.sent()[0].NewText)
}

func TestReopenKeepsLiveEdits(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.Focus("block-1-2"))
	require.NoError(t, h.ctrl.Input("block-1-2", "Acm"))

	require.NoError(t, h.ctrl.Open(context.Background(), h.doc, 1, 2))

	b := mustBlock(t, h.ctrl, "block-1-2")
	assert.Equal(t, "Acm", b.CurrentText)
	assert.True(t, b.IsEditing)
	assert.Equal(t, 2.0, h.ctrl.Page().Scale)
}

func TestDocumentSwitchResetsSession(t *testing.T) {
	h := newHarness(t)
	h.edit(t, "block-1-0", "2025")
	require.True(t, h.ctrl.HasPendingChanges())

	other := &model.Document{ID: "other.pdf", Data: []byte("%PDF")}
	require.NoError(t, h.ctrl.Open(context.Background(), other, 1, 1))

	assert.False(t, h.ctrl.HasPendingChanges())
	assert.Equal(t, "2024", mustBlock(t, h.ctrl, "block-1-0").CurrentText)

	rec, err := h.store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec, "edits of the previous document must not leak")
}

func TestAnalyzeDropsUnknownIDs(t *testing.T) {
	h := newHarness(t)
	score := 64
	h.remote.analysis = &clients.AnalyzeBlocksResponse{
		Success: true,
		WeakBlocks: []clients.WeakBlock{
			{ID: "block-1-2", Issue: "vague"},
			{ID: "3f0c-uuid", Issue: "foreign"},
		},
		ATSScore: &score,
	}
	h.edit(t, "block-1-2", "Acme Corp")

	resp, err := h.ctrl.Analyze(context.Background(), "Go engineer")
	require.NoError(t, err)

	require.Len(t, resp.WeakBlocks, 1)
	assert.Equal(t, "block-1-2", resp.WeakBlocks[0].ID)

	// Flushed before analysis, and the live text was sent.
	assert.Len(t, h.remote.sent(), 1)
	require.NotNil(t, h.remote.analyzed)
	assert.Equal(t, "Go engineer", h.remote.analyzed.JobDescription)
	assert.Equal(t, "Acme Corp", h.remote.analyzed.Blocks[2].Text)

	got, ok := h.ctrl.LastScore()
	require.True(t, ok)
	assert.Equal(t, 64, got.Total)
}

func TestClearEdits(t *testing.T) {
	h := newHarness(t)
	h.edit(t, "block-1-0", "2025")

	require.NoError(t, h.ctrl.ClearEdits(context.Background()))

	assert.Equal(t, 1, h.remote.cleared)
	assert.False(t, h.ctrl.HasPendingChanges())
	b := mustBlock(t, h.ctrl, "block-1-0")
	assert.Equal(t, "2024", b.CurrentText)
	assert.Equal(t, StateClean, b.State)

	rec, err := h.store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRunAutoFlushes(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.FlushPeriod = 10 * time.Millisecond })
	h.edit(t, "block-1-0", "2025")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- h.ctrl.Run(ctx) }()

	assert.Eventually(t, func() bool { return !h.ctrl.HasPendingChanges() }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Len(t, h.remote.sent(), 1)
}

func TestEndToEndEditFlushExport(t *testing.T) {
	ctx := context.Background()
	data := pdftest.Build(t, pdftest.Page{Texts: []pdftest.Text{
		{X: 10, Baseline: 22, Value: "2024", Size: 12},
	}})

	store := editstore.NewMemoryStore()
	remote := newFakeRemote()
	ctrl := New(Options{
		Source: newFakeSource(map[int][]model.TextBlock{1: {
			{ID: "block-1-0", Text: "2024", Page: 0, X: 10, Y: 10, Width: 40, Height: 12, FontSize: 12, FontName: "Helvetica"},
		}}),
		Store:    store,
		Remote:   remote,
		Exporter: export.NewRecomposer(nil),
	})
	doc := &model.Document{ID: "cv.pdf", Name: "cv.pdf", Data: data}
	require.NoError(t, ctrl.Open(ctx, doc, 1, 1.5))

	require.NoError(t, ctrl.Focus("block-1-0"))
	require.NoError(t, ctrl.Input("block-1-0", "2025"))
	require.NoError(t, ctrl.Commit(ctx, "block-1-0"))

	ok, err := ctrl.Flush(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	rec, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"block-1-0": "2025"}, rec.Edits)
	assert.False(t, rec.IsDirty)

	out, err := ctrl.Export(ctx)
	require.NoError(t, err)

	res, err := extractor.New().ExtractPage(ctx, out, 1, 1)
	require.NoError(t, err)

	var found *model.TextBlock
	for i := range res.Blocks {
		if strings.Contains(res.Blocks[i].Text, "2025") {
			found = &res.Blocks[i]
		}
	}
	require.NotNil(t, found, "exported page blocks: %+v", res.Blocks)
	assert.InDelta(t, 12, found.FontSize, 0.01)
	assert.Equal(t, "Helvetica", found.FontName)
	assert.InDelta(t, 10, found.X, 0.01)
	assert.InDelta(t, 10, found.Y, 0.01)
}

func TestExportWithoutEditsReturnsOriginal(t *testing.T) {
	data := pdftest.Resume(t)
	ctrl := New(Options{
		Source:   NewExtractorSource(extractor.New()),
		Exporter: export.NewRecomposer(nil),
	})
	require.NoError(t, ctrl.Open(context.Background(), &model.Document{ID: "r.pdf", Data: data}, 1, 1))

	out, err := ctrl.Export(context.Background())
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestOperationsRequireDocument(t *testing.T) {
	ctrl := New(Options{Source: newFakeSource(nil)})

	_, err := ctrl.Export(context.Background())
	assert.ErrorIs(t, err, ErrNoDocument)
	_, err = ctrl.Analyze(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoDocument)

	ok, err := ctrl.Flush(context.Background())
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestPrepareExportMarksChangedBlocks(t *testing.T) {
	h := newHarness(t)
	h.doc.Data = pdftest.Build(t, pdftest.Page{}, pdftest.Page{})
	h.edit(t, "block-1-1", "Staff Engineer")

	plan, err := h.ctrl.PrepareExport(context.Background())
	require.NoError(t, err)

	assert.Len(t, plan.Blocks, 4)
	assert.Equal(t, 1, plan.Dirty())
	assert.Equal(t, export.BlockState{Text: "Staff Engineer", Dirty: true}, plan.States["block-1-1"])
	assert.Equal(t, export.BlockState{Text: "Skills", Dirty: false}, plan.States["block-2-0"])
}

func TestOpenWithCancelledContext(t *testing.T) {
	ctrl := New(Options{Source: NewExtractorSource(extractor.New())})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ctrl.Open(ctx, &model.Document{ID: "r.pdf", Data: pdftest.Resume(t)}, 1, 1)
	assert.True(t, overlayerrors.HasCode(err, overlayerrors.ErrorRenderCancelled))
	assert.Empty(t, ctrl.Blocks())
}

func TestReuploadUnderSameNameReplacesLiveBlocks(t *testing.T) {
	ctx := context.Background()
	ctrl := New(Options{Source: NewExtractorSource(extractor.New())})

	old := model.NewDocument("cv.pdf", pdftest.Build(t, pdftest.Page{Texts: []pdftest.Text{
		{X: 72, Baseline: 72, Value: "Old Title"},
	}}))
	require.NoError(t, ctrl.Open(ctx, old, 1, 1))
	require.Len(t, ctrl.Blocks(), 1)
	assert.Equal(t, "Old Title", ctrl.Blocks()[0].CurrentText)

	fresh := model.NewDocument("cv.pdf", pdftest.Build(t, pdftest.Page{Texts: []pdftest.Text{
		{X: 72, Baseline: 72, Value: "New Title"},
	}}))
	require.NoError(t, ctrl.Open(ctx, fresh, 1, 1))

	blocks := ctrl.Blocks()
	require.Len(t, blocks, 1)
	assert.Equal(t, "New Title", blocks[0].Block.Text)
	assert.Equal(t, "New Title", blocks[0].CurrentText)
	assert.False(t, blocks[0].IsDirty)
}

func TestSamePageReopenKeepsLiveText(t *testing.T) {
	h := newHarness(t)
	h.edit(t, "block-1-1", "Staff Engineer")

	same := &model.Document{ID: h.doc.ID, Name: h.doc.Name, Data: append([]byte(nil), h.doc.Data...)}
	require.NoError(t, h.ctrl.Open(context.Background(), same, 1, 1.5))

	b, ok := h.ctrl.Block("block-1-1")
	require.True(t, ok)
	assert.Equal(t, "Staff Engineer", b.CurrentText)
}
