// Package pgstore is a PostgreSQL transferstate.Store on pgx.
package pgstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/accordsai/transferlane/pkg/domain"
	"github.com/accordsai/transferlane/pkg/transferstate"
	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS transfer_states (
  claim BYTEA PRIMARY KEY CHECK (octet_length(claim) = 32),
  status TEXT NOT NULL CHECK (status IN ('PERFORMED','CANCELLED')),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)
`

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return transferstate.ErrNotConfigured
	}
	if _, err := s.DB.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create transfer_states: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, claim domain.Claim) (transferstate.Entry, error) {
	if s == nil || s.DB == nil {
		return transferstate.Entry{}, transferstate.ErrNotConfigured
	}
	out := transferstate.Entry{Claim: claim, Status: domain.StatusUnset}
	var status string
	var updatedAt time.Time
	err := s.DB.QueryRow(ctx, `
SELECT status, updated_at
FROM transfer_states
WHERE claim=$1
`, claim[:]).Scan(&status, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return out, nil
		}
		return transferstate.Entry{}, err
	}
	out.Status = domain.Status(status)
	out.UpdatedAt = updatedAt.UTC()
	return out, nil
}

func (s *Store) Begin(ctx context.Context) (transferstate.Tx, error) {
	if s == nil || s.DB == nil {
		return nil, transferstate.ErrNotConfigured
	}
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

// pgTx holds a transaction open for the whole settlement. Marks take a
// transaction-scoped advisory lock on the claim without waiting, so a second
// session touching the same claim fails fast instead of blocking on the row
// until the first one commits. Within the same transaction the lock is
// granted again and the insert conflicts with the row already written.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) TryMarkPerformed(ctx context.Context, claim domain.Claim) (bool, error) {
	return t.mark(ctx, claim, domain.StatusPerformed)
}

func (t *pgTx) TryMarkCancelled(ctx context.Context, claim domain.Claim, caller, from common.Address) (bool, error) {
	if caller != from {
		return false, nil
	}
	return t.mark(ctx, claim, domain.StatusCancelled)
}

func (t *pgTx) mark(ctx context.Context, claim domain.Claim, status domain.Status) (bool, error) {
	var locked bool
	if err := t.tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1)`, lockKey(claim)).Scan(&locked); err != nil {
		return false, txErr(err)
	}
	if !locked {
		return false, nil
	}
	tag, err := t.tx.Exec(ctx, `
INSERT INTO transfer_states(claim, status, updated_at)
VALUES($1, $2, now())
ON CONFLICT (claim) DO NOTHING
`, claim[:], string(status))
	if err != nil {
		return false, txErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

// Savepoint maps onto a PostgreSQL savepoint of the same transaction.
func (t *pgTx) Savepoint(ctx context.Context) (transferstate.Tx, error) {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return nil, txErr(err)
	}
	return &pgTx{tx: sp}, nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	return txErr(t.tx.Commit(ctx))
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func lockKey(claim domain.Claim) int64 {
	return int64(binary.BigEndian.Uint64(claim[:8]))
}

func txErr(err error) error {
	if errors.Is(err, pgx.ErrTxClosed) {
		return transferstate.ErrTxDone
	}
	return err
}
