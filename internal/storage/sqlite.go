package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"sweepbot/internal/model"
	"sweepbot/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string, log *zap.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// :memory: databases are per connection.
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(context.Background(), db, log); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Load returns the filter document of a tenant.
func (s *SQLite) Load(ctx context.Context, tenant string) (model.TenantData, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM tenants WHERE tenant_id = ?`, tenant,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TenantData{}, nil
	}
	if err != nil {
		return model.TenantData{}, fmt.Errorf("select tenant: %w", err)
	}

	var data model.TenantData
	if err := json.Unmarshal([]byte(doc), &data); err != nil {
		return model.TenantData{}, fmt.Errorf("decode tenant %s: %w", tenant, err)
	}
	return data, nil
}

// Save replaces the filter document of a tenant.
func (s *SQLite) Save(ctx context.Context, tenant string, data model.TenantData) error {
	doc, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode tenant %s: %w", tenant, err)
	}
	now := time.Now().UTC().Format(timeLayout)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tenants (tenant_id, document, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (tenant_id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		tenant, string(doc), now,
	)
	if err != nil {
		return fmt.Errorf("upsert tenant: %w", err)
	}
	return nil
}

// Tenants lists the tenants with a stored document.
func (s *SQLite) Tenants(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tenant_id FROM tenants ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("query tenants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tenants []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, id)
	}
	return tenants, rows.Err()
}

// RecordStats adds delta to the tenant's counters.
func (s *SQLite) RecordStats(ctx context.Context, tenant string, delta model.StatsDelta) error {
	var lastRun *string
	if delta.Runs > 0 {
		v := delta.At.UTC().Format(timeLayout)
		lastRun = &v
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cleanup_stats (tenant_id, runs, simulations, conversations_deleted, segments_deleted, errors, last_run_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id) DO UPDATE SET
		   runs = runs + excluded.runs,
		   simulations = simulations + excluded.simulations,
		   conversations_deleted = conversations_deleted + excluded.conversations_deleted,
		   segments_deleted = segments_deleted + excluded.segments_deleted,
		   errors = errors + excluded.errors,
		   last_run_at = COALESCE(excluded.last_run_at, last_run_at)`,
		tenant, delta.Runs, delta.Simulations, delta.ConversationsDeleted, delta.SegmentsDeleted, delta.Errors, lastRun,
	)
	if err != nil {
		return fmt.Errorf("record stats: %w", err)
	}
	return nil
}

// GetStats returns the tenant's counters; unknown tenants have zero stats.
func (s *SQLite) GetStats(ctx context.Context, tenant string) (model.Stats, error) {
	var st model.Stats
	var lastRun sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT runs, simulations, conversations_deleted, segments_deleted, errors, last_run_at
		 FROM cleanup_stats WHERE tenant_id = ?`, tenant,
	).Scan(&st.Runs, &st.Simulations, &st.ConversationsDeleted, &st.SegmentsDeleted, &st.Errors, &lastRun)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Stats{}, nil
	}
	if err != nil {
		return model.Stats{}, fmt.Errorf("scan stats: %w", err)
	}
	if lastRun.Valid {
		t, _ := time.Parse(timeLayout, lastRun.String)
		st.LastRunAt = &t
	}
	return st, nil
}
