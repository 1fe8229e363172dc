package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the Postgres schema created by the embedded migrations.
const Schema = "warden"

// PostgresStore implements Store over PostgreSQL.
//
// Transactions run at READ COMMITTED. Rotation and redemption safety comes
// from SELECT ... FOR UPDATE on the token row plus conditional updates, not
// from the isolation level.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps pool. The store takes ownership: Close closes the pool.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("store: nil pool")
	}
	return &PostgresStore{pool: pool}, nil
}

// InTx implements Store.
func (s *PostgresStore) InTx(ctx context.Context, fn func(Tx) error) error {
	return s.run(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

// View implements Store.
func (s *PostgresStore) View(ctx context.Context, fn func(Tx) error) error {
	return s.run(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadOnly}, fn)
}

func (s *PostgresStore) run(ctx context.Context, opts pgx.TxOptions, fn func(Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return pgMapError(ctx, err)
	}
	// Rollback after Commit is a no-op; it must also run when ctx is already cancelled.
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return pgMapError(ctx, err)
	}
	return nil
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return pgMapError(ctx, s.pool.Ping(ctx))
}

// Close implements Store.
func (s *PostgresStore) Close() { s.pool.Close() }

// pgMapError translates driver errors into the store's outcomes.
// Context errors always win so callers observe cancellation unchanged.
func pgMapError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if field, ok := pgClassifyUniqueViolation(err); ok {
		return &ConflictError{Field: field}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503": // foreign_key_violation
			return ErrNotFound
		case "25006": // read_only_sql_transaction
			return ErrReadOnly
		}
	}
	return err
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	// Prefer stable constraint names from the migrations; fall back to substrings.
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch c {
	case "uq_users_email_norm":
		return "email", true
	case "uq_oauth_accounts_provider_account":
		return "oauth_account", true
	}
	switch {
	case strings.HasSuffix(c, "_pkey"):
		return "id", true
	case strings.Contains(c, "email"):
		return "email", true
	case strings.Contains(c, "provider"):
		return "oauth_account", true
	default:
		return "unique", true
	}
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(name string) string {
	return pgx.Identifier{Schema, name}.Sanitize()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
