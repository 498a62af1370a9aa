package editstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS edit_records (
	device_id  TEXT PRIMARY KEY,
	record     TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

type sqliteBackend struct {
	db       *sql.DB
	deviceID string
}

// NewSQLiteStore opens (or creates) the device cache at path.
func NewSQLiteStore(path, deviceID string) (Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if deviceID == "" {
		return nil, fmt.Errorf("device ID is required")
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One writer; SQLite serialises anyway.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create edit_records table: %w", err)
	}

	return newRecordStore(&sqliteBackend{db: db, deviceID: deviceID}), nil
}

func (b *sqliteBackend) name() string { return "sqlite" }

func (b *sqliteBackend) get(ctx context.Context) ([]byte, error) {
	var record string
	err := b.db.QueryRowContext(ctx,
		`SELECT record FROM edit_records WHERE device_id = ?`, b.deviceID).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read edit record: %w", err)
	}
	return []byte(record), nil
}

func (b *sqliteBackend) put(ctx context.Context, record []byte) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO edit_records (device_id, record, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			record = excluded.record,
			updated_at = excluded.updated_at`,
		b.deviceID, string(record), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write edit record: %w", err)
	}
	return nil
}

func (b *sqliteBackend) delete(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM edit_records WHERE device_id = ?`, b.deviceID); err != nil {
		return fmt.Errorf("failed to delete edit record: %w", err)
	}
	return nil
}

func (b *sqliteBackend) close() error {
	return b.db.Close()
}
