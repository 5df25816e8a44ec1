package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vbonduro/buildtrack/internal/docref"
	"github.com/vbonduro/buildtrack/internal/gateway"
)

// Notifier is told the path of every committed change.
type Notifier interface {
	Notify(path string)
}

// DocumentStore is the local gateway backend. It keeps every document as a
// JSON row in SQLite and performs no authorization.
type DocumentStore struct {
	db       *sql.DB
	notifier Notifier
}

func NewDocumentStore(db *sql.DB, notifier Notifier) *DocumentStore {
	return &DocumentStore{db: db, notifier: notifier}
}

func (s *DocumentStore) notify(path string) {
	if s.notifier != nil {
		s.notifier.Notify(path)
	}
}

func (s *DocumentStore) Set(ctx context.Context, ref docref.Ref, data json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (scope, collection, id, data, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (scope, collection, id)
		DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, ref.Scope, ref.Collection, ref.ID, string(data))
	if err != nil {
		return fmt.Errorf("failed to set document %s: %w", ref.Path(), err)
	}
	s.notify(ref.Path())
	return nil
}

func (s *DocumentStore) Update(ctx context.Context, ref docref.Ref, fn func(doc map[string]json.RawMessage) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx, `
		SELECT data FROM documents WHERE scope = ? AND collection = ? AND id = ?
	`, ref.Scope, ref.Collection, ref.ID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to update %s: %w", ref.Path(), gateway.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read document %s: %w", ref.Path(), err)
	}

	doc := make(map[string]json.RawMessage)
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("failed to decode document %s: %w", ref.Path(), err)
	}
	if err := fn(doc); err != nil {
		return err
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", ref.Path(), err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE documents SET data = ?, updated_at = CURRENT_TIMESTAMP
		WHERE scope = ? AND collection = ? AND id = ?
	`, string(out), ref.Scope, ref.Collection, ref.ID); err != nil {
		return fmt.Errorf("failed to update document %s: %w", ref.Path(), err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit update: %w", err)
	}
	s.notify(ref.Path())
	return nil
}

func (s *DocumentStore) Delete(ctx context.Context, ref docref.Ref) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM documents WHERE scope = ? AND collection = ? AND id = ?
	`, ref.Scope, ref.Collection, ref.ID)
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", ref.Path(), err)
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		s.notify(ref.Path())
	}
	return nil
}

func (s *DocumentStore) Get(ctx context.Context, ref docref.Ref) (*gateway.Document, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM documents WHERE scope = ? AND collection = ? AND id = ?
	`, ref.Scope, ref.Collection, ref.ID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", ref.Path(), gateway.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", ref.Path(), err)
	}
	return &gateway.Document{Ref: ref, Data: json.RawMessage(raw)}, nil
}

func (s *DocumentStore) List(ctx context.Context, col docref.CollectionRef) ([]gateway.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, data FROM documents WHERE scope = ? AND collection = ? ORDER BY updated_at DESC, id ASC
	`, col.Scope, col.Collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", col.Path(), err)
	}
	defer rows.Close()

	var docs []gateway.Document
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, gateway.Document{Ref: col.Doc(id), Data: json.RawMessage(raw)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	return docs, nil
}
