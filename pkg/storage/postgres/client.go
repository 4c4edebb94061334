package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/learnfeed/learnfeed-go/pkg/storage"
)

// Client is a PostgreSQL state store. Record data is kept in a JSONB column.
type Client struct {
	db        *sql.DB
	tableName string
}

// Config contains PostgreSQL configuration.
type Config struct {
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	TableName string
	SSLMode   string
}

// NewClient creates a new PostgreSQL client.
func NewClient(cfg *Config) (*Client, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	tableName := cfg.TableName
	if tableName == "" {
		tableName = "learner_state"
	}
	client := &Client{
		db:        db,
		tableName: tableName,
	}

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
			learner_id VARCHAR(255) NOT NULL,
			kind VARCHAR(64) NOT NULL,
			data JSONB NOT NULL,
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (learner_id, kind)
		)
	`, c.tableName)

	_, err := c.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("initTables: create table: %w", err)
	}

	indexQuery := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_id ON %s(id)
	`, c.tableName, c.tableName)
	_, err = c.db.ExecContext(ctx, indexQuery)
	if err != nil {
		return fmt.Errorf("initTables: create index: %w", err)
	}

	return nil
}

// Load retrieves the record of kind for learnerID.
func (c *Client) Load(ctx context.Context, kind storage.Kind, learnerID string) (*storage.Record, error) {
	query := fmt.Sprintf(`
		SELECT id, learner_id, kind, data, version, created_at, updated_at
		FROM %s
		WHERE learner_id = $1 AND kind = $2
	`, c.tableName)

	var (
		rec  storage.Record
		k    string
		data []byte
	)
	err := c.db.QueryRowContext(ctx, query, learnerID, string(kind)).Scan(
		&rec.ID, &rec.LearnerID, &k, &data, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}

	rec.Kind = storage.Kind(k)
	rec.Data = data
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

// Save upserts rec, guarded by its version.
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
			VALUES ($1, $2, $3, $4, 1, $5, $6)
			ON CONFLICT (learner_id, kind) DO NOTHING
		`, c.tableName)
		result, err = c.db.ExecContext(ctx, query,
			rec.ID, rec.LearnerID, string(rec.Kind), string(rec.Data), rec.CreatedAt, rec.UpdatedAt)
	} else {
		setClause, args := buildUpdateClause(rec)
		query := fmt.Sprintf(`
			UPDATE %s
			%s
			WHERE learner_id = $%d AND kind = $%d AND version = $%d
		`, c.tableName, setClause, len(args)+1, len(args)+2, len(args)+3)
		args = append(args, rec.LearnerID, string(rec.Kind), rec.Version)
		result, err = c.db.ExecContext(ctx, query, args...)
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
	query := fmt.Sprintf("DELETE FROM %s WHERE learner_id = $1 AND kind = $2", c.tableName)

	if _, err := c.db.ExecContext(ctx, query, learnerID, string(kind)); err != nil {
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
