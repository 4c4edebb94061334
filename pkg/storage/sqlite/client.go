// Package sqlite provides SQLite implementation for state storage.
//
// SQLite is a lightweight, file-based database suitable for local development
// and single-node deployments. Record data is stored as a JSON string in a TEXT
// field, keyed by (learner_id, kind).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/learnfeed/learnfeed-go/pkg/storage"
)

// Client implements StateStore using SQLite as the backend.
type Client struct {
	// db is the SQLite database connection.
	db *sql.DB

	// tableName is the name of the table storing records.
	tableName string
}

// Config contains configuration for creating a SQLite StateStore.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// TableName is the name of the table to use.
	TableName string
}

// NewClient creates a new SQLite StateStore client.
//
// Parameters:
//   - cfg: Configuration containing database path and table name
//
// Returns:
//   - *Client: The SQLite client instance
//   - error: Error if database connection or table creation fails
func NewClient(cfg *Config) (*Client, error) {
	// Create parent directory if it doesn't exist
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	tableName := cfg.TableName
	if tableName == "" {
		tableName = "learner_state"
	}
	client := &Client{
		db:        db,
		tableName: tableName,
	}

	// Initialize table structure
	if err := client.initTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return client, nil
}

// initTables initializes the database table structure.
func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER NOT NULL,
			learner_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			data TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (learner_id, kind)
		)
	`, c.tableName)

	_, err := c.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	// Create index
	indexQuery := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_id ON %s(id)
	`, c.tableName, c.tableName)
	_, err = c.db.ExecContext(ctx, indexQuery)
	if err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	return nil
}

// Load retrieves the record of kind for learnerID.
func (c *Client) Load(ctx context.Context, kind storage.Kind, learnerID string) (*storage.Record, error) {
	query := fmt.Sprintf(`
		SELECT id, learner_id, kind, data, version, created_at, updated_at
		FROM %s
		WHERE learner_id = ? AND kind = ?
	`, c.tableName)

	var (
		rec  storage.Record
		k    string
		data string
	)
	err := c.db.QueryRowContext(ctx, query, learnerID, string(kind)).Scan(
		&rec.ID,
		&rec.LearnerID,
		&k,
		&data,
		&rec.Version,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}

	rec.Kind = storage.Kind(k)
	rec.Data = []byte(data)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

// Save upserts rec, guarded by its version.
//
// A new record is inserted with INSERT ... ON CONFLICT DO NOTHING; an existing
// one is updated only when its stored version still matches rec.Version.
func (c *Client) Save(ctx context.Context, rec *storage.Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	storage.Touch(rec)

	var (
		result sql.Result
		err    error
	)
	if rec.Version == 0 {
		query := fmt.Sprintf(`
			INSERT INTO %s
			(id, learner_id, kind, data, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, 1, ?, ?)
			ON CONFLICT(learner_id, kind) DO NOTHING
		`, c.tableName)
		result, err = c.db.ExecContext(ctx, query,
			rec.ID,
			rec.LearnerID,
			string(rec.Kind),
			string(rec.Data),
			rec.CreatedAt,
			rec.UpdatedAt,
		)
	} else {
		query := fmt.Sprintf(`
			UPDATE %s
			SET data = ?, version = version + 1, updated_at = ?
			WHERE learner_id = ? AND kind = ? AND version = ?
		`, c.tableName)
		result, err = c.db.ExecContext(ctx, query,
			string(rec.Data),
			rec.UpdatedAt,
			rec.LearnerID,
			string(rec.Kind),
			rec.Version,
		)
	}
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("Save %s: %w", rec.Key(), storage.ErrVersionConflict)
	}

	rec.Version++
	return nil
}

// Delete deletes the record of kind for learnerID.
func (c *Client) Delete(ctx context.Context, kind storage.Kind, learnerID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE learner_id = ? AND kind = ?", c.tableName)

	if _, err := c.db.ExecContext(ctx, query, learnerID, string(kind)); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
