// Package sqlite provides a Store backed by an embedded sqlite database.
// Register the driver by importing modernc.org/sqlite and opening with
// sql.Open("sqlite", dsn).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/goliatone/go-eventflow"
	"github.com/goliatone/go-eventflow/recordstore"
)

// Store persists documents as JSON rows keyed by (entity_type, id).
type Store struct {
	db     *sql.DB
	table  string
	schema sync.Once
	serr   error
}

var _ recordstore.Store = (*Store)(nil)

// New builds a store over the given DB and table name ("records" when empty).
func New(db *sql.DB, table string) *Store {
	if table == "" {
		table = "records"
	}
	return &Store{db: db, table: table}
}

// Open opens a sqlite database at path and builds a store on it.
func Open(path, table string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eventflow.CloneError(eventflow.ErrStoreUnavailable, "open sqlite record store", err, map[string]any{
			"path": path,
		})
	}
	return New(db, table), nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	s.schema.Do(func() {
		q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			entity_type TEXT NOT NULL,
			id TEXT NOT NULL,
			fields TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (entity_type, id)
		)`, s.table)
		_, s.serr = s.db.ExecContext(ctx, q)
	})
	return s.serr
}

// Get returns the stored document, or nil when absent.
func (s *Store) Get(ctx context.Context, entityType, id string) (map[string]any, error) {
	if s == nil || s.db == nil {
		return nil, eventflow.CloneError(eventflow.ErrStoreUnavailable, "sqlite record store not configured", nil, nil)
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, eventflow.CloneError(eventflow.ErrStoreUnavailable, "ensure record schema", err, nil)
	}

	q := fmt.Sprintf(`SELECT fields FROM %s WHERE entity_type = ? AND id = ?`, s.table)
	var raw string
	err := s.db.QueryRowContext(ctx, q, strings.TrimSpace(entityType), strings.TrimSpace(id)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eventflow.CloneError(eventflow.ErrStoreUnavailable, "read record", err, map[string]any{
			"entity_type": entityType,
			"id":          id,
		})
	}
	fields := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, eventflow.CloneError(eventflow.ErrStoreUnavailable, "decode record", err, map[string]any{
			"entity_type": entityType,
			"id":          id,
		})
	}
	return fields, nil
}

// Upsert merges fields into the stored document inside one transaction.
func (s *Store) Upsert(ctx context.Context, entityType, id string, fields map[string]any) error {
	entityType = strings.TrimSpace(entityType)
	id = strings.TrimSpace(id)
	if entityType == "" || id == "" {
		return eventflow.CloneError(eventflow.ErrPreconditionFailed, "entity type and id required", nil, nil)
	}
	if s == nil || s.db == nil {
		return eventflow.CloneError(eventflow.ErrStoreUnavailable, "sqlite record store not configured", nil, nil)
	}
	if err := s.ensureSchema(ctx); err != nil {
		return eventflow.CloneError(eventflow.ErrStoreUnavailable, "ensure record schema", err, nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eventflow.CloneError(eventflow.ErrStoreUnavailable, "begin upsert", err, nil)
	}
	defer func() { _ = tx.Rollback() }()

	doc := map[string]any{}
	var raw string
	q := fmt.Sprintf(`SELECT fields FROM %s WHERE entity_type = ? AND id = ?`, s.table)
	err = tx.QueryRowContext(ctx, q, entityType, id).Scan(&raw)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return eventflow.CloneError(eventflow.ErrStoreUnavailable, "read record for upsert", err, nil)
	}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return eventflow.CloneError(eventflow.ErrStoreUnavailable, "decode record for upsert", err, nil)
		}
	}
	for k, v := range fields {
		doc[k] = v
	}
	doc["id"] = id

	encoded, err := json.Marshal(doc)
	if err != nil {
		return eventflow.CloneError(eventflow.ErrStoreUnavailable, "encode record", err, nil)
	}

	up := fmt.Sprintf(`INSERT INTO %s (entity_type, id, fields, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_type, id) DO UPDATE SET fields = excluded.fields, updated_at = excluded.updated_at`, s.table)
	if _, err := tx.ExecContext(ctx, up, entityType, id, string(encoded), time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return eventflow.CloneError(eventflow.ErrStoreUnavailable, "write record", err, nil)
	}
	if err := tx.Commit(); err != nil {
		return eventflow.CloneError(eventflow.ErrStoreUnavailable, "commit upsert", err, nil)
	}
	return nil
}

// Query scans the entity type and filters documents on top-level fields.
// Documents are opaque JSON, filtering happens after decode.
func (s *Store) Query(ctx context.Context, entityType string, filter map[string]any) ([]map[string]any, error) {
	if s == nil || s.db == nil {
		return nil, eventflow.CloneError(eventflow.ErrStoreUnavailable, "sqlite record store not configured", nil, nil)
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, eventflow.CloneError(eventflow.ErrStoreUnavailable, "ensure record schema", err, nil)
	}

	q := fmt.Sprintf(`SELECT fields FROM %s WHERE entity_type = ? ORDER BY id`, s.table)
	rows, err := s.db.QueryContext(ctx, q, strings.TrimSpace(entityType))
	if err != nil {
		return nil, eventflow.CloneError(eventflow.ErrStoreUnavailable, "query records", err, map[string]any{
			"entity_type": entityType,
		})
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eventflow.CloneError(eventflow.ErrStoreUnavailable, "scan record", err, nil)
		}
		doc := map[string]any{}
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, eventflow.CloneError(eventflow.ErrStoreUnavailable, "decode record", err, nil)
		}
		if matchesFilter(doc, filter) {
			out = append(out, doc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eventflow.CloneError(eventflow.ErrStoreUnavailable, "iterate records", err, nil)
	}
	return out, nil
}

func matchesFilter(doc, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := doc[k]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}
