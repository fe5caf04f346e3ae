package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore persists ledger entries in PostgreSQL. The ledger_entries
// relation is append-only: the store issues INSERTs and aggregate SELECTs,
// never UPDATE or DELETE.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the ledger_entries relation and its ref index when
// they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
        CREATE TABLE IF NOT EXISTS ledger_entries (
            id UUID PRIMARY KEY,
            ts TIMESTAMPTZ NOT NULL,
            ref VARCHAR(255) NOT NULL,
            delta NUMERIC(20, 8) NOT NULL,
            reason VARCHAR(255) NOT NULL,
            metadata JSONB
        );
        CREATE INDEX IF NOT EXISTS idx_ledger_entries_ref ON ledger_entries (ref)`
	if _, err := s.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure ledger schema: %w", err)
	}
	return nil
}

// RecordTopUp appends a credit entry for ref. The caller-supplied amount is
// treated as a magnitude; the stored delta is always non-negative.
func (s *PostgresStore) RecordTopUp(ctx context.Context, ref string, amount decimal.Decimal, reason string, metadata map[string]any) (uuid.UUID, error) {
	return s.append(ctx, ref, amount.Abs(), reason, metadata)
}

// RecordUsage appends a debit entry for ref. The caller-supplied amount is
// treated as a magnitude; the stored delta is always non-positive.
func (s *PostgresStore) RecordUsage(ctx context.Context, ref string, amount decimal.Decimal, reason string, metadata map[string]any) (uuid.UUID, error) {
	return s.append(ctx, ref, amount.Abs().Neg(), reason, metadata)
}

// RecordFailure appends a zero-delta diagnostic entry under failed::<source>.
func (s *PostgresStore) RecordFailure(ctx context.Context, source string, payload map[string]any, cause error) (uuid.UUID, error) {
	return s.append(ctx, FailureRef(source), decimal.Zero, FailureReason(source), failureMetadata(payload, cause))
}

// append writes a single entry inside one transaction. Success is reported
// only after commit; on any error nothing persists.
func (s *PostgresStore) append(ctx context.Context, ref string, delta decimal.Decimal, reason string, metadata map[string]any) (uuid.UUID, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: begin: %v", ErrPersistence, err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	entryID := uuid.New()
	const insert = `INSERT INTO ledger_entries (id, ts, ref, delta, reason, metadata)
        VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := tx.Exec(ctx, insert, entryID, time.Now().UTC(), ref, delta.String(), reason, metadata); err != nil {
		return uuid.Nil, fmt.Errorf("%w: insert entry for %s: %v", ErrPersistence, ref, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("%w: commit entry for %s: %v", ErrPersistence, ref, err)
	}

	return entryID, nil
}

// Balance sums all deltas recorded for ref. Unknown refs sum to exact zero.
// A read failure is surfaced as ErrPersistence rather than masked as zero,
// so callers can tell an empty account from an unavailable ledger.
func (s *PostgresStore) Balance(ctx context.Context, ref string) (decimal.Decimal, error) {
	const query = `SELECT COALESCE(SUM(delta), 0)::text FROM ledger_entries WHERE ref = $1`
	var total string
	if err := s.db.QueryRow(ctx, query, ref).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("%w: balance for %s: %v", ErrPersistence, ref, err)
	}
	balance, err := decimal.NewFromString(total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: balance for %s: %v", ErrPersistence, ref, err)
	}
	return balance, nil
}

var _ Store = (*PostgresStore)(nil)
