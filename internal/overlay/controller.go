/**
 * Overlay controller
 *
 * Owns the editable state of the blocks on the page currently shown for
 * one document. Edits are committed explicitly (blur or Enter), written
 * through to the local edit store and queued for the remote store. Saves
 * are sent by Flush, either on demand or from the auto-flush loop.
 *
 * Block state is derived, never stored:
 *   editing              -> Editing
 *   save in flight       -> Saving
 *   pending or modified  -> Dirty
 *   otherwise            -> Clean
 */

package overlay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adverant/nexus/overlay-editor/internal/editstore"
	overlayerrors "github.com/adverant/nexus/overlay-editor/internal/errors"
	"github.com/adverant/nexus/overlay-editor/internal/fontclass"
	"github.com/adverant/nexus/overlay-editor/internal/logging"
	"github.com/adverant/nexus/overlay-editor/internal/model"
	"github.com/adverant/nexus/overlay-editor/internal/reconcile"
)

// Options wires a controller to its collaborators. Store, Remote and
// Exporter are optional.
type Options struct {
	Source      BlockSource
	Store       editstore.Store
	Remote      RemoteStore
	Fetcher     reconcile.EditFetcher
	Exporter    Exporter
	Classifier  *fontclass.Classifier
	FlushPeriod time.Duration

	// OnCommit is called after a changed block is committed.
	OnCommit func(EditableBlockState)
}

type blockEntry struct {
	block    model.TextBlock
	original string // last text known to the remote store
	current  string
	snapshot string // rollback point while editing
	editing  bool
}

type pendingSave struct {
	blockID string
	oldText string
	newText string
	section string
}

type inflightSave struct {
	text string
	done chan struct{}
	err  error
}

// Controller is the stateful core of one editing session.
type Controller struct {
	source      BlockSource
	store       editstore.Store
	remote      RemoteStore
	exporter    Exporter
	classifier  *fontclass.Classifier
	reconciler  *reconcile.Reconciler
	flushPeriod time.Duration
	onCommit    func(EditableBlockState)
	logger      *logging.Logger

	mu         sync.Mutex
	doc        *model.Document
	session    uint64 // bumped when pending saves are discarded
	generation uint64
	cancel     context.CancelFunc
	page       *model.PageResult
	order      []string
	blocks     map[string]*blockEntry
	pending    map[string]pendingSave
	inflight   map[string]*inflightSave
	synced     map[string]string // texts the remote store accepted this session
	flushing   int
	score      *Score
}

// New creates a controller with no document open.
func New(opts Options) *Controller {
	classifier := opts.Classifier
	if classifier == nil {
		classifier = fontclass.NewClassifier()
	}
	period := opts.FlushPeriod
	if period <= 0 {
		period = 5 * time.Second
	}

	return &Controller{
		source:      opts.Source,
		store:       opts.Store,
		remote:      opts.Remote,
		exporter:    opts.Exporter,
		classifier:  classifier,
		reconciler:  reconcile.New(opts.Store, opts.Fetcher),
		flushPeriod: period,
		onCommit:    opts.OnCommit,
		logger:      logging.NewLogger("OverlayController"),
		blocks:      make(map[string]*blockEntry),
		pending:     make(map[string]pendingSave),
		inflight:    make(map[string]*inflightSave),
		synced:      make(map[string]string),
	}
}

// Open extracts a page and replaces the live blocks with it. A newer call
// cancels an older one still in flight; the older result is dropped. Opening
// a different document resets the session caches and pending saves.
func (c *Controller) Open(ctx context.Context, doc *model.Document, pageNumber int, scale float64) error {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	// A re-upload under the same name with new bytes is a switch too.
	switching := c.doc == nil || !c.doc.SameAs(doc)
	if switching {
		c.resetSessionLocked(doc)
	}
	c.mu.Unlock()
	defer cancel()

	log := c.logger.With("document_id", doc.ID, "page", pageNumber, "generation", gen)

	if switching {
		c.dropForeignRecord(ctx, doc.ID)
	}

	res, err := c.source.ExtractPage(ctx, doc, pageNumber, scale)
	if c.stale(gen) {
		log.Debug("Discarding superseded extraction")
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		log.Debug("Extraction cancelled by caller")
		return overlayerrors.NewRenderCancelledError(doc.ID, gen)
	}
	if err != nil {
		log.Error("Extraction failed", "error", err)
		return err
	}

	resolved := c.reconciler.ResolveAll(ctx, res.Blocks, doc.ID, c.liveTexts())

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		log.Debug("Discarding superseded extraction")
		return nil
	}

	prev := c.blocks
	c.page = res
	c.order = make([]string, 0, len(res.Blocks))
	c.blocks = make(map[string]*blockEntry, len(res.Blocks))

	for _, b := range res.Blocks {
		e := &blockEntry{block: b, original: b.Text, current: b.Text}

		if p, ok := prev[b.ID]; ok {
			// Live values win; they may have changed while resolving.
			e.original = p.original
			e.current = p.current
			e.snapshot = p.snapshot
			e.editing = p.editing
		} else if r, ok := resolved[b.ID]; ok {
			switch r.Source {
			case reconcile.SourceRemote:
				e.original = r.Text
				e.current = r.Text
			case reconcile.SourceLocal:
				e.current = r.Text
				if t, ok := c.synced[b.ID]; ok && t == r.Text {
					e.original = r.Text
				} else if _, queued := c.pending[b.ID]; !queued && r.Text != b.Text {
					c.pending[b.ID] = pendingSave{blockID: b.ID, oldText: b.Text, newText: r.Text, section: b.Section}
				}
			}
		}

		c.order = append(c.order, b.ID)
		c.blocks[b.ID] = e
	}

	log.Info("Page opened", "blocks", len(res.Blocks), "scale", scale)
	return nil
}

// Focus starts editing a block, snapshotting its text for Escape.
func (c *Controller) Focus(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.blocks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBlock, id)
	}
	if !e.editing {
		e.editing = true
		e.snapshot = e.current
	}
	return nil
}

// Input replaces the live text of a block being edited. Nothing is persisted.
func (c *Controller) Input(id, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.blocks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBlock, id)
	}
	if !e.editing {
		return fmt.Errorf("%w: %s", ErrNotEditing, id)
	}
	e.current = text
	return nil
}

// Commit ends editing. A changed text is written to the edit store and
// queued for the remote store, replacing any older queued text.
func (c *Controller) Commit(ctx context.Context, id string) error {
	c.mu.Lock()
	e, ok := c.blocks[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownBlock, id)
	}
	if !e.editing {
		c.mu.Unlock()
		return nil
	}

	e.editing = false
	if e.current == e.snapshot {
		c.mu.Unlock()
		return nil
	}

	text := e.current
	c.pending[id] = pendingSave{
		blockID: id,
		oldText: e.original,
		newText: text,
		section: e.block.Section,
	}
	docID := c.doc.ID
	state := c.snapshotLocked(id)
	c.mu.Unlock()

	c.logger.Debug("Block committed", "block_id", id, "document_id", docID)

	if c.store != nil {
		if err := c.store.Merge(ctx, id, text, docID, true); err != nil {
			// The pending save still carries the edit.
			c.logger.Error("Failed to write edit to local store", "block_id", id, "error", err)
		}
	}

	if c.onCommit != nil {
		c.onCommit(state)
	}
	return nil
}

// Escape abandons the current edit and restores the text from Focus.
func (c *Controller) Escape(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.blocks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBlock, id)
	}
	if e.editing {
		e.current = e.snapshot
		e.editing = false
	}
	return nil
}

// Blocks returns a snapshot of every block on the open page, in extraction
// order.
func (c *Controller) Blocks() []EditableBlockState {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]EditableBlockState, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.snapshotLocked(id))
	}
	return out
}

// Block returns the snapshot of one block.
func (c *Controller) Block(id string) (EditableBlockState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.blocks[id]; !ok {
		return EditableBlockState{}, false
	}
	return c.snapshotLocked(id), true
}

// HasPendingChanges reports whether any save is queued or in flight.
func (c *Controller) HasPendingChanges() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending) > 0 || len(c.inflight) > 0
}

// LastScore returns the most recent ATS score reported by the editor API.
func (c *Controller) LastScore() (Score, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.score == nil {
		return Score{}, false
	}
	return *c.score, true
}

// Document returns the open document, or nil.
func (c *Controller) Document() *model.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc
}

// Page returns the geometry of the open page, or nil.
func (c *Controller) Page() *model.PageResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.page == nil {
		return nil
	}
	p := *c.page
	p.Blocks = nil
	return &p
}

func (c *Controller) snapshotLocked(id string) EditableBlockState {
	e := c.blocks[id]
	font := c.classifier.Classify(e.block.FontName)

	var rect model.Rect
	if c.page != nil {
		rect = c.page.Viewport(e.block)
	}

	return EditableBlockState{
		ID:           id,
		OriginalText: e.original,
		CurrentText:  e.current,
		IsDirty:      e.current != e.original,
		IsEditing:    e.editing,
		State:        c.stateLocked(id, e),
		Block:        e.block,
		Font:         font,
		FontHandle:   font.Handle(),
		Rect:         rect,
	}
}

func (c *Controller) stateLocked(id string, e *blockEntry) State {
	_, pending := c.pending[id]
	_, saving := c.inflight[id]
	switch {
	case e.editing:
		return StateEditing
	case saving:
		return StateSaving
	case pending || e.current != e.original:
		return StateDirty
	default:
		return StateClean
	}
}

func (c *Controller) stale(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen != c.generation
}

func (c *Controller) liveTexts() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := make(map[string]string, len(c.blocks))
	for id, e := range c.blocks {
		live[id] = e.current
	}
	return live
}

func (c *Controller) resetSessionLocked(doc *model.Document) {
	c.doc = doc
	c.session++
	c.page = nil
	c.order = nil
	c.blocks = make(map[string]*blockEntry)
	c.pending = make(map[string]pendingSave)
	c.inflight = make(map[string]*inflightSave)
	c.synced = make(map[string]string)
	c.score = nil
	c.classifier.Reset()
	c.reconciler.Reset()
}

// dropForeignRecord clears a local record left by another document, so its
// edits cannot leak into this one.
func (c *Controller) dropForeignRecord(ctx context.Context, documentID string) {
	if c.store == nil {
		return
	}
	rec, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("Local edit record unavailable", "error", err)
		return
	}
	if rec == nil || rec.DocumentName == documentID {
		return
	}

	c.logger.Warn("Clearing edit record of another document",
		"stored_document", rec.DocumentName,
		"document_id", documentID,
		"unsynced", rec.IsDirty,
		"edits", len(rec.Edits))

	if err := c.store.Clear(ctx); err != nil {
		c.logger.Error("Failed to clear foreign edit record", "error", err)
	}
}

func (c *Controller) requireDocument() (*model.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.doc == nil {
		return nil, ErrNoDocument
	}
	return c.doc, nil
}
