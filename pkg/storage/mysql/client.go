// Package mysql provides a MySQL-compatible state store.
//
// It works against MySQL and OceanBase in MySQL mode. Record data is kept as
// compacted JSON text next to an MD5 checksum that Load verifies.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/learnfeed/learnfeed-go/pkg/storage"
)

// ErrChecksumMismatch is returned by Load when the stored data does not match its checksum.
var ErrChecksumMismatch = errors.New("record checksum mismatch")

// Client is a MySQL client.
type Client struct {
	db        *sql.DB
	config    *Config
	tableName string
}

// Config contains MySQL configuration.
type Config struct {
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	TableName string
}

// NewClient creates a new MySQL client.
func NewClient(cfg *Config) (*Client, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewMySQLClient: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewMySQLClient: %w", err)
	}

	tableName := cfg.TableName
	if tableName == "" {
		tableName = "learner_state"
	}
	client := &Client{
		db:        db,
		config:    cfg,
		tableName: tableName,
	}

	// Initialize table structure
	if err := client.initTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return client, nil
}

// initTables initializes the database table.
func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT NOT NULL,
			learner_id VARCHAR(128) NOT NULL,
			kind VARCHAR(64) NOT NULL,
			data LONGTEXT NOT NULL,
			hash VARCHAR(32) NOT NULL,
			version BIGINT NOT NULL DEFAULT 1,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			PRIMARY KEY (learner_id, kind),
			INDEX idx_id (id)
		)
	`, c.tableName)

	_, err := c.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	return nil
}

// Load retrieves the record of kind for learnerID and verifies its checksum.
func (c *Client) Load(ctx context.Context, kind storage.Kind, learnerID string) (*storage.Record, error) {
	whereClause, args := buildWhereClause(learnerID, kind)
	query := fmt.Sprintf(`
		SELECT id, learner_id, kind, data, hash, version, created_at, updated_at
		FROM %s
		%s
	`, c.tableName, whereClause)

	var (
		rec  storage.Record
		k    string
		data []byte
		hash string
	)
	err := c.db.QueryRowContext(ctx, query, args...).Scan(
		&rec.ID, &rec.LearnerID, &k, &data, &hash, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}

	if generateHash(string(data)) != hash {
		return nil, fmt.Errorf("Load %s: %w", storage.RecordKey(kind, learnerID), ErrChecksumMismatch)
	}

	rec.Kind = storage.Kind(k)
	rec.Data = data
	return &rec, nil
}

// Save upserts rec, guarded by its version.
func (c *Client) Save(ctx context.Context, rec *storage.Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	storage.Touch(rec)

	compact, err := compactJSON(rec.Data)
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	hash := generateHash(compact)

	var result sql.Result
	if rec.Version == 0 {
		query := fmt.Sprintf(`
			INSERT IGNORE INTO %s
			(id, learner_id, kind, data, hash, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		`, c.tableName)
		result, err = c.db.ExecContext(ctx, query,
			rec.ID, rec.LearnerID, string(rec.Kind), compact, hash, rec.CreatedAt, rec.UpdatedAt)
	} else {
		query := fmt.Sprintf(`
			UPDATE %s
			SET data = ?, hash = ?, version = version + 1, updated_at = ?
			WHERE learner_id = ? AND kind = ? AND version = ?
		`, c.tableName)
		result, err = c.db.ExecContext(ctx, query,
			compact, hash, rec.UpdatedAt, rec.LearnerID, string(rec.Kind), rec.Version)
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
	if learnerID == "" || kind == "" {
		return errors.New("Delete: learner id and kind are required")
	}
	whereClause, args := buildWhereClause(learnerID, kind)
	query := fmt.Sprintf("DELETE FROM %s %s", c.tableName, whereClause)

	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	return nil
}

// DropTable removes the table. It is used to clean up test databases.
func (c *Client) DropTable(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", c.tableName)); err != nil {
		return fmt.Errorf("DropTable: %w", err)
	}
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
