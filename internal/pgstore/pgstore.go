// Package pgstore is the remote gateway backend: one JSONB row per document
// in Postgres, with row level security deciding who may touch which rows.
package pgstore

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vbonduro/buildtrack/internal/auth"
	"github.com/vbonduro/buildtrack/internal/docref"
	"github.com/vbonduro/buildtrack/internal/gateway"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sqlstateInsufficientPrivilege is raised for RLS WITH CHECK violations and
// missing grants.
const sqlstateInsufficientPrivilege = "42501"

// ChangePublisher fans a committed change out to every process.
type ChangePublisher interface {
	Publish(ctx context.Context, path string) error
}

type Store struct {
	pool   *pgxpool.Pool
	feed   ChangePublisher
	logger *slog.Logger
}

func New(pool *pgxpool.Pool, feed ChangePublisher, logger *slog.Logger) *Store {
	return &Store{pool: pool, feed: feed, logger: logger}
}

// Connect opens a pool and checks the server is reachable.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse db config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 1
	poolCfg.MaxConnIdleTime = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping: %w", err)
	}
	return pool, nil
}

// Migrate applies pending migrations using dsn.
func Migrate(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(dsn))
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// migrateURL rewrites a libpq URL to the scheme the pgx/v5 migrate driver
// registers.
func migrateURL(dsn string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, scheme) {
			return "pgx5://" + strings.TrimPrefix(dsn, scheme)
		}
	}
	return dsn
}

func userID(ctx context.Context) string {
	if p := auth.FromContext(ctx); p != nil {
		return p.UserID
	}
	return ""
}

// withUser runs fn in a transaction scoped to the acting principal, so the
// row level security policy sees who is asking.
func (s *Store) withUser(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('buildtrack.user_id', $1, true)`, userID(ctx)); err != nil {
		return fmt.Errorf("failed to set acting user: %w", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == sqlstateInsufficientPrivilege {
		return fmt.Errorf("%w: %s", gateway.ErrPermissionDenied, pgErr.Message)
	}
	return err
}

// invisible explains a row the policy hid from the caller. Rows outside the
// caller's own scope are reported as denied, matching what a rules engine
// would say; anything else simply does not exist.
func invisible(ctx context.Context, path, scope string) error {
	if userID(ctx) != scope {
		return fmt.Errorf("%s: %w", path, gateway.ErrPermissionDenied)
	}
	return fmt.Errorf("%s: %w", path, gateway.ErrNotFound)
}

func (s *Store) published(ctx context.Context, path string) {
	if s.feed == nil {
		return
	}
	if err := s.feed.Publish(ctx, path); err != nil {
		s.logger.Warn("failed to publish change", "path", path, "error", err)
	}
}

func (s *Store) Set(ctx context.Context, ref docref.Ref, data json.RawMessage) error {
	err := s.withUser(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO documents (user_id, collection, doc_id, data, updated_at)
			VALUES ($1, $2, $3, $4::jsonb, now())
			ON CONFLICT (user_id, collection, doc_id)
			DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
		`, ref.Scope, ref.Collection, ref.ID, string(data))
		if err != nil {
			return classify(fmt.Errorf("failed to set document %s: %w", ref.Path(), err))
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.published(ctx, ref.Path())
	return nil
}

func (s *Store) Update(ctx context.Context, ref docref.Ref, fn func(doc map[string]json.RawMessage) error) error {
	err := s.withUser(ctx, func(tx pgx.Tx) error {
		var raw []byte
		err := tx.QueryRow(ctx, `
			SELECT data FROM documents WHERE user_id = $1 AND collection = $2 AND doc_id = $3 FOR UPDATE
		`, ref.Scope, ref.Collection, ref.ID).Scan(&raw)
		if errors.Is(err, pgx.ErrNoRows) {
			return invisible(ctx, ref.Path(), ref.Scope)
		}
		if err != nil {
			return classify(fmt.Errorf("failed to read document %s: %w", ref.Path(), err))
		}

		doc := make(map[string]json.RawMessage)
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("failed to decode document %s: %w", ref.Path(), err)
		}
		if err := fn(doc); err != nil {
			return err
		}
		out, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to encode document %s: %w", ref.Path(), err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE documents SET data = $4::jsonb, updated_at = now()
			WHERE user_id = $1 AND collection = $2 AND doc_id = $3
		`, ref.Scope, ref.Collection, ref.ID, string(out)); err != nil {
			return classify(fmt.Errorf("failed to update document %s: %w", ref.Path(), err))
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.published(ctx, ref.Path())
	return nil
}

func (s *Store) Delete(ctx context.Context, ref docref.Ref) error {
	var deleted bool
	err := s.withUser(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			DELETE FROM documents WHERE user_id = $1 AND collection = $2 AND doc_id = $3
		`, ref.Scope, ref.Collection, ref.ID)
		if err != nil {
			return classify(fmt.Errorf("failed to delete document %s: %w", ref.Path(), err))
		}
		if tag.RowsAffected() == 0 && userID(ctx) != ref.Scope {
			return fmt.Errorf("%s: %w", ref.Path(), gateway.ErrPermissionDenied)
		}
		deleted = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return err
	}
	if deleted {
		s.published(ctx, ref.Path())
	}
	return nil
}

func (s *Store) Get(ctx context.Context, ref docref.Ref) (*gateway.Document, error) {
	var doc *gateway.Document
	err := s.withUser(ctx, func(tx pgx.Tx) error {
		var raw []byte
		err := tx.QueryRow(ctx, `
			SELECT data FROM documents WHERE user_id = $1 AND collection = $2 AND doc_id = $3
		`, ref.Scope, ref.Collection, ref.ID).Scan(&raw)
		if errors.Is(err, pgx.ErrNoRows) {
			return invisible(ctx, ref.Path(), ref.Scope)
		}
		if err != nil {
			return classify(fmt.Errorf("failed to get document %s: %w", ref.Path(), err))
		}
		doc = &gateway.Document{Ref: ref, Data: json.RawMessage(raw)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) List(ctx context.Context, col docref.CollectionRef) ([]gateway.Document, error) {
	if userID(ctx) != col.Scope {
		return nil, fmt.Errorf("%s: %w", col.Path(), gateway.ErrPermissionDenied)
	}
	var docs []gateway.Document
	err := s.withUser(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT doc_id, data FROM documents
			WHERE user_id = $1 AND collection = $2
			ORDER BY updated_at DESC, doc_id ASC
		`, col.Scope, col.Collection)
		if err != nil {
			return classify(fmt.Errorf("failed to list %s: %w", col.Path(), err))
		}
		defer rows.Close()

		for rows.Next() {
			var id string
			var raw []byte
			if err := rows.Scan(&id, &raw); err != nil {
				return fmt.Errorf("failed to scan document: %w", err)
			}
			docs = append(docs, gateway.Document{Ref: col.Doc(id), Data: json.RawMessage(raw)})
		}
		if err := rows.Err(); err != nil {
			return classify(fmt.Errorf("error iterating documents: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}
