package overlay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adverant/nexus/overlay-editor/internal/clients"
	overlayerrors "github.com/adverant/nexus/overlay-editor/internal/errors"
	"github.com/adverant/nexus/overlay-editor/internal/export"
	"github.com/adverant/nexus/overlay-editor/internal/extractor"
	"github.com/adverant/nexus/overlay-editor/internal/model"
)

// Flush sends every queued save in parallel, one request per block. It
// reports whether nothing is left queued afterwards. Failed saves stay queued
// and their blocks stay Dirty; the returned error joins every failure.
func (c *Controller) Flush(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.doc == nil {
		c.mu.Unlock()
		return true, nil
	}
	doc, session := c.doc, c.session
	batch := make([]string, 0, len(c.pending))
	for id := range c.pending {
		batch = append(batch, id)
	}
	c.flushing++
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.flushing--
		c.mu.Unlock()
	}()

	if len(batch) == 0 {
		return true, nil
	}
	if c.remote == nil {
		return false, fmt.Errorf("no remote store configured")
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, id := range batch {
		g.Go(func() error {
			if err := c.save(ctx, doc, session, id); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	c.mu.Lock()
	done := len(c.pending) == 0 && len(c.inflight) == 0
	c.mu.Unlock()

	if done && c.store != nil {
		if err := c.store.MarkSynced(ctx); err != nil {
			c.logger.Error("Failed to mark edit record synced", "error", err)
		}
		// A commit may have landed between the check and the write.
		if c.HasPendingChanges() {
			if err := c.store.MarkDirty(ctx); err != nil {
				c.logger.Error("Failed to mark edit record dirty", "error", err)
			}
		}
	}

	c.logger.Info("Flush finished",
		"document_id", doc.ID,
		"sent", len(batch),
		"failed", len(errs),
		"complete", done)

	return done, errors.Join(errs...)
}

// save sends the queued text of one block. A request already in flight with
// the same text is joined; one with an older text is waited for first, so
// saves of the same block never overlap.
func (c *Controller) save(ctx context.Context, doc *model.Document, session uint64, id string) error {
	for {
		c.mu.Lock()
		if c.session != session {
			c.mu.Unlock()
			return nil
		}
		p, ok := c.pending[id]
		if !ok {
			c.mu.Unlock()
			return nil
		}

		if f, busy := c.inflight[id]; busy {
			c.mu.Unlock()
			select {
			case <-f.done:
			case <-ctx.Done():
				return overlayerrors.NewSaveNetworkError(id, 0, ctx.Err())
			}
			if f.text == p.newText {
				return f.err
			}
			continue
		}

		f := &inflightSave{text: p.newText, done: make(chan struct{})}
		c.inflight[id] = f
		c.mu.Unlock()

		update := clients.BlockUpdate{BlockID: id, OldText: p.oldText, NewText: p.newText}
		if p.section != "" {
			section := p.section
			update.Section = &section
		}
		resp, err := c.remote.UpdateResume(ctx, []clients.BlockUpdate{update})

		c.mu.Lock()
		if c.inflight[id] == f {
			delete(c.inflight, id)
		}
		f.err = err
		close(f.done)

		if c.session == session && err == nil {
			if cur, ok := c.pending[id]; ok {
				if cur.newText == p.newText {
					delete(c.pending, id)
				} else {
					cur.oldText = p.newText
					c.pending[id] = cur
				}
			}
			if e := c.blocks[id]; e != nil {
				e.original = p.newText
			}
			c.synced[id] = p.newText
			if resp != nil && resp.ATSScore != nil {
				c.score = &Score{Total: *resp.ATSScore, Details: resp.ATSScoreDetails}
			}
		}
		current := c.session == session
		c.mu.Unlock()

		if err != nil {
			c.logger.Warn("Remote save failed",
				"block_id", id,
				"retryable", overlayerrors.IsRetryable(err),
				"error", err)
			return err
		}
		if current {
			c.reconciler.RecordRemote(doc.ID, id, p.newText)
		}
		c.logger.Debug("Remote save accepted", "block_id", id)
		return nil
	}
}

// Run flushes queued saves every flush period until ctx is done. A tick is
// skipped while another flush is running.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.flushPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.mu.Lock()
			skip := c.flushing > 0 || len(c.pending) == 0
			c.mu.Unlock()
			if skip {
				continue
			}
			if _, err := c.Flush(ctx); err != nil {
				c.logger.Warn("Auto-flush incomplete", "error", err)
			}
		}
	}
}

// ExportPlan is a resolved document, ready for recomposition.
type ExportPlan struct {
	Document *model.Document
	Blocks   []model.TextBlock
	States   map[string]export.BlockState
}

// Dirty reports how many blocks will be drawn over.
func (p *ExportPlan) Dirty() int {
	n := 0
	for _, st := range p.States {
		if st.Dirty {
			n++
		}
	}
	return n
}

// PrepareExport flushes and resolves the text of every page. A block is
// dirty when its resolved text differs from the extracted text.
func (c *Controller) PrepareExport(ctx context.Context) (*ExportPlan, error) {
	doc, err := c.requireDocument()
	if err != nil {
		return nil, err
	}

	if ok, err := c.Flush(ctx); err != nil || !ok {
		// Local state is authoritative for export; unsynced edits are still drawn.
		c.logger.Warn("Exporting with unsynced edits", "document_id", doc.ID, "error", err)
	}

	pdfDoc, err := extractor.Open(doc.Data)
	if err != nil {
		return nil, overlayerrors.NewExportFailedError(doc.ID, err)
	}

	c.mu.Lock()
	currentPage := 0
	var currentBlocks []model.TextBlock
	if c.page != nil && c.doc == doc {
		currentPage = c.page.PageNumber
		for _, id := range c.order {
			currentBlocks = append(currentBlocks, c.blocks[id].block)
		}
	}
	live := make(map[string]string, len(c.blocks))
	for id, e := range c.blocks {
		live[id] = e.current
	}
	c.mu.Unlock()

	plan := &ExportPlan{Document: doc, States: make(map[string]export.BlockState)}
	for pageNumber := 1; pageNumber <= pdfDoc.NumPages(); pageNumber++ {
		blocks := currentBlocks
		if pageNumber != currentPage {
			res, err := c.source.ExtractPage(ctx, doc, pageNumber, 1)
			if err != nil {
				return nil, overlayerrors.NewExportFailedError(doc.ID, err)
			}
			blocks = res.Blocks
		}

		resolved := c.reconciler.ResolveAll(ctx, blocks, doc.ID, live)
		for _, b := range blocks {
			text := resolved[b.ID].Text
			plan.States[b.ID] = export.BlockState{Text: text, Dirty: text != b.Text}
		}
		plan.Blocks = append(plan.Blocks, blocks...)
	}
	return plan, nil
}

// Export recomposes the open document with every resolved edit drawn in.
func (c *Controller) Export(ctx context.Context) ([]byte, error) {
	doc, err := c.requireDocument()
	if err != nil {
		return nil, err
	}
	if c.exporter == nil {
		return nil, overlayerrors.NewExportFailedError(doc.ID, fmt.Errorf("no exporter configured"))
	}

	plan, err := c.PrepareExport(ctx)
	if err != nil {
		return nil, err
	}

	out, err := c.exporter.Export(doc.Data, plan.Blocks, plan.States)
	if err != nil {
		var oe *overlayerrors.OverlayError
		if errors.As(err, &oe) && oe.DocumentID == "" {
			oe.DocumentID = doc.ID
		}
		c.logger.Error("Export failed", "document_id", doc.ID, "error", err)
		return nil, err
	}

	c.logger.Info("Document exported", "document_id", doc.ID, "dirty_blocks", plan.Dirty(), "size", len(out))
	return out, nil
}

// Analyze flushes and asks the editor API to flag weak blocks on the open
// page. Flags for ids that are not on the page are dropped.
func (c *Controller) Analyze(ctx context.Context, jobDescription string) (*clients.AnalyzeBlocksResponse, error) {
	doc, err := c.requireDocument()
	if err != nil {
		return nil, err
	}
	if c.remote == nil {
		return nil, fmt.Errorf("no remote store configured")
	}

	if ok, err := c.Flush(ctx); err != nil || !ok {
		c.logger.Warn("Analyzing with unsynced edits", "document_id", doc.ID, "error", err)
	}

	c.mu.Lock()
	req := &clients.AnalyzeBlocksRequest{JobDescription: jobDescription}
	for _, id := range c.order {
		e := c.blocks[id]
		req.Blocks = append(req.Blocks, clients.AnalyzeBlock{
			ID:        id,
			Text:      e.current,
			BlockType: string(e.block.BlockType),
			Section:   e.block.Section,
		})
	}
	c.mu.Unlock()

	resp, err := c.remote.AnalyzeBlocks(ctx, req)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	kept := resp.WeakBlocks[:0]
	for _, w := range resp.WeakBlocks {
		if _, ok := c.blocks[w.ID]; !ok {
			c.logger.Warn("Dropping analysis for unknown block", "block_id", w.ID)
			continue
		}
		kept = append(kept, w)
	}
	resp.WeakBlocks = kept

	if resp.ATSScore != nil {
		c.score = &Score{Total: *resp.ATSScore, Details: resp.ATSScoreDetails}
	}
	return resp, nil
}

// ClearEdits drops every edit: remote, local and queued. Blocks on the open
// page go back to their extracted text.
func (c *Controller) ClearEdits(ctx context.Context) error {
	doc, err := c.requireDocument()
	if err != nil {
		return err
	}

	if c.remote != nil {
		if err := c.remote.ClearEdits(ctx); err != nil {
			return err
		}
	}
	if c.store != nil {
		if err := c.store.Clear(ctx); err != nil {
			return err
		}
	}
	c.reconciler.ForgetRemote(doc.ID)

	c.mu.Lock()
	c.session++
	c.pending = make(map[string]pendingSave)
	c.inflight = make(map[string]*inflightSave)
	c.synced = make(map[string]string)
	c.score = nil
	for _, e := range c.blocks {
		e.original = e.block.Text
		e.current = e.block.Text
		e.editing = false
	}
	c.mu.Unlock()

	c.logger.Info("Edits cleared", "document_id", doc.ID)
	return nil
}
