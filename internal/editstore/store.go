/**
 * Durable edit cache
 *
 * Keeps one record of unsynced block edits per device. Every backend
 * stores the record as a single JSON value; the read-modify-write logic
 * lives in recordStore so all backends share the same merge semantics.
 */

package editstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/adverant/nexus/overlay-editor/internal/config"
	overlayerrors "github.com/adverant/nexus/overlay-editor/internal/errors"
	"github.com/adverant/nexus/overlay-editor/internal/logging"
	"github.com/adverant/nexus/overlay-editor/internal/model"
)

// Store is the durable local record of block edits.
type Store interface {
	// Load returns the stored record, or nil when none exists.
	Load(ctx context.Context) (*model.StoredEdit, error)
	// Merge writes text for blockID into the record, creating it if absent.
	// It never clears edits that belong to another document.
	Merge(ctx context.Context, blockID, text, documentName string, markDirty bool) error
	MarkSynced(ctx context.Context) error
	MarkDirty(ctx context.Context) error
	Clear(ctx context.Context) error
	Close() error
}

// backend persists the serialized record for one device.
type backend interface {
	name() string
	// get returns nil when no record exists.
	get(ctx context.Context) ([]byte, error)
	put(ctx context.Context, record []byte) error
	delete(ctx context.Context) error
	close() error
}

type recordStore struct {
	mu      sync.Mutex
	backend backend
	now     func() time.Time
	logger  *logging.Logger
}

func newRecordStore(b backend) *recordStore {
	return &recordStore{
		backend: b,
		now:     time.Now,
		logger:  logging.NewLogger("EditStore").With("backend", b.name()),
	}
}

// Open returns the store selected by cfg.EditStoreDriver.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.EditStoreDriver {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(cfg.EditStorePath, cfg.DeviceID)
	case "redis":
		return NewRedisStore(cfg.RedisURL, cfg.DeviceID)
	case "postgres":
		return NewPostgresStore(cfg.DatabaseURL, cfg.DeviceID)
	default:
		return nil, fmt.Errorf("unknown edit store driver %q", cfg.EditStoreDriver)
	}
}

func (s *recordStore) Load(ctx context.Context) (*model.StoredEdit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

func (s *recordStore) Merge(ctx context.Context, blockID, text, documentName string, markDirty bool) error {
	return s.update(ctx, "merge", func(rec *model.StoredEdit) *model.StoredEdit {
		if rec == nil {
			rec = &model.StoredEdit{Edits: map[string]string{}}
		}
		rec.Edits[blockID] = text
		rec.DocumentName = documentName
		rec.IsDirty = rec.IsDirty || markDirty
		return rec
	})
}

func (s *recordStore) MarkSynced(ctx context.Context) error {
	return s.setDirty(ctx, "mark_synced", false)
}

func (s *recordStore) MarkDirty(ctx context.Context) error {
	return s.setDirty(ctx, "mark_dirty", true)
}

func (s *recordStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.delete(ctx); err != nil {
		return overlayerrors.NewStoreFailedError("clear", err)
	}
	s.logger.Debug("Edit record cleared")
	return nil
}

func (s *recordStore) Close() error {
	return s.backend.close()
}

func (s *recordStore) setDirty(ctx context.Context, op string, dirty bool) error {
	return s.update(ctx, op, func(rec *model.StoredEdit) *model.StoredEdit {
		if rec == nil {
			return nil
		}
		rec.IsDirty = dirty
		return rec
	})
}

// update applies fn to the current record and writes the result back. A nil
// result leaves the store untouched.
func (s *recordStore) update(ctx context.Context, op string, fn func(*model.StoredEdit) *model.StoredEdit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(ctx)
	if err != nil {
		return err
	}

	rec = fn(rec)
	if rec == nil {
		return nil
	}
	rec.Timestamp = s.now().UnixMilli()

	data, err := json.Marshal(rec)
	if err != nil {
		return overlayerrors.NewStoreFailedError(op, err)
	}
	if err := s.backend.put(ctx, data); err != nil {
		return overlayerrors.NewStoreFailedError(op, err)
	}

	s.logger.Debug("Edit record written",
		"operation", op,
		"edits", len(rec.Edits),
		"is_dirty", rec.IsDirty)
	return nil
}

func (s *recordStore) load(ctx context.Context) (*model.StoredEdit, error) {
	data, err := s.backend.get(ctx)
	if err != nil {
		return nil, overlayerrors.NewStoreFailedError("load", err)
	}
	if data == nil {
		return nil, nil
	}

	var rec model.StoredEdit
	if err := json.Unmarshal(data, &rec); err != nil {
		// A corrupt record is treated as absent so the session can continue.
		s.logger.Warn("Discarding unreadable edit record", "error", err)
		return nil, nil
	}
	if rec.Edits == nil {
		rec.Edits = map[string]string{}
	}
	return &rec, nil
}
