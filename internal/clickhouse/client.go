// Package clickhouse provides the best-effort analytics mirror for the
// audit log (C9 §4.8): the canonical write is always the Postgres
// audit_logs table, this client only ever receives a best-effort copy.
package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
)

// Config holds ClickHouse connection configuration.
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Debug    bool
}

// DefaultConfig returns default ClickHouse configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:     "localhost",
		Port:     9000,
		Database: "billing_audit",
		Username: "default",
		Password: "",
		Debug:    false,
	}
}

// Client is the ClickHouse client backing the audit mirror.
type Client struct {
	db     *sql.DB
	config *Config
}

// New creates a new ClickHouse client.
func New(cfg *Config) (*Client, error) {
	dsn := fmt.Sprintf("clickhouse://%s:%s@%s:%d/%s?dial_timeout=10s&max_execution_time=60",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &Client{db: db, config: cfg}, nil
}

// Close closes the ClickHouse connection.
func (c *Client) Close() error {
	return c.db.Close()
}

// InitSchema creates the audit mirror table.
func (c *Client) InitSchema(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS audit_events (
		id UInt64,
		action String,
		entity_type String,
		entity_id String,
		user_id Nullable(Int64),
		old_value String, -- JSON
		new_value String, -- JSON
		metadata String,  -- JSON
		created_at DateTime64(3)
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMM(created_at)
	ORDER BY (entity_type, created_at, id)
	TTL created_at + INTERVAL 2 YEAR`)
	if err != nil {
		return fmt.Errorf("failed to create audit_events schema: %w", err)
	}
	return nil
}

// AuditEvent is the flattened, JSON-serialized shape of one audit_logs row
// mirrored into ClickHouse.
type AuditEvent struct {
	ID         int64
	Action     string
	EntityType string
	EntityID   string
	UserID     *int64
	OldValue   string
	NewValue   string
	Metadata   string
	CreatedAt  time.Time
}

// InsertAuditEvent mirrors a single audit row.
func (c *Client) InsertAuditEvent(ctx context.Context, e *AuditEvent) error {
	_, err := c.db.ExecContext(ctx, `INSERT INTO audit_events (
		id, action, entity_type, entity_id, user_id, old_value, new_value, metadata, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Action, e.EntityType, e.EntityID, e.UserID, e.OldValue, e.NewValue, e.Metadata, e.CreatedAt,
	)
	return err
}

// InsertAuditEvents mirrors a batch of audit rows in one transaction.
func (c *Client) InsertAuditEvents(ctx context.Context, events []*AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO audit_events (
		id, action, entity_type, entity_id, user_id, old_value, new_value, metadata, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.Action, e.EntityType, e.EntityID, e.UserID, e.OldValue, e.NewValue, e.Metadata, e.CreatedAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// DB returns the underlying database connection for custom queries.
func (c *Client) DB() *sql.DB {
	return c.db
}
