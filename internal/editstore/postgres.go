/**
 * PostgreSQL backend for the edit cache
 *
 * Used when several hosts share one device record. The record is kept as
 * JSONB and written with an upsert keyed by device ID.
 */

package editstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE SCHEMA IF NOT EXISTS overlay;
CREATE TABLE IF NOT EXISTS overlay.edit_records (
	device_id  TEXT PRIMARY KEY,
	record     JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

type postgresBackend struct {
	db       *sql.DB
	deviceID string
}

// NewPostgresStore connects to databaseURL and ensures the edit table exists.
func NewPostgresStore(databaseURL, deviceID string) (Store, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	if deviceID == "" {
		return nil, fmt.Errorf("device ID is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create edit_records table: %w", err)
	}

	return newRecordStore(&postgresBackend{db: db, deviceID: deviceID}), nil
}

func (b *postgresBackend) name() string { return "postgres" }

func (b *postgresBackend) get(ctx context.Context) ([]byte, error) {
	var record []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT record FROM overlay.edit_records WHERE device_id = $1`, b.deviceID).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read edit record: %w", err)
	}
	return record, nil
}

func (b *postgresBackend) put(ctx context.Context, record []byte) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO overlay.edit_records (device_id, record, updated_at)
		VALUES ($1, $2::jsonb, NOW())
		ON CONFLICT (device_id) DO UPDATE SET
			record = EXCLUDED.record,
			updated_at = NOW()`,
		b.deviceID, string(record))
	if err != nil {
		return fmt.Errorf("failed to upsert edit record: %w", err)
	}
	return nil
}

func (b *postgresBackend) delete(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx,
		`DELETE FROM overlay.edit_records WHERE device_id = $1`, b.deviceID); err != nil {
		return fmt.Errorf("failed to delete edit record: %w", err)
	}
	return nil
}

func (b *postgresBackend) close() error {
	return b.db.Close()
}
