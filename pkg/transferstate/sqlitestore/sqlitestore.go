// Package sqlitestore is a single-process transferstate.Store on SQLite.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/accordsai/transferlane/pkg/domain"
	"github.com/accordsai/transferlane/pkg/sqlitemigrate"
	"github.com/accordsai/transferlane/pkg/transferstate"
	"github.com/accordsai/transferlane/pkg/transferstate/sqlitestore/migrations"
	"github.com/ethereum/go-ethereum/common"
	_ "modernc.org/sqlite"
)

var ErrConflict = errors.New("claim committed by another writer")

// Store keeps terminal statuses in SQLite and open marks in memory. Only one
// process may write a given database file.
type Store struct {
	db  *sql.DB
	now func() time.Time

	mu       sync.Mutex
	inflight map[domain.Claim]struct{}
}

func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := "file:" + filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := sqlitemigrate.Apply(ctx, db, migrations.FS, "."); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db, now: time.Now, inflight: map[domain.Claim]struct{}{}}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, claim domain.Claim) (transferstate.Entry, error) {
	if s == nil || s.db == nil {
		return transferstate.Entry{}, transferstate.ErrNotConfigured
	}
	out := transferstate.Entry{Claim: claim, Status: domain.StatusUnset}
	var status string
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, `SELECT status, updated_at FROM transfer_states WHERE claim=?`, claim[:]).Scan(&status, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return out, nil
		}
		return transferstate.Entry{}, err
	}
	out.Status = domain.Status(status)
	out.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return out, nil
}

func (s *Store) Begin(ctx context.Context) (transferstate.Tx, error) {
	if s == nil || s.db == nil {
		return nil, transferstate.ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &sqliteTx{s: s, marks: map[domain.Claim]domain.Status{}}, nil
}

type sqliteTx struct {
	s      *Store
	parent *sqliteTx
	marks  map[domain.Claim]domain.Status
	order  []domain.Claim
	done   bool
}

func (t *sqliteTx) TryMarkPerformed(ctx context.Context, claim domain.Claim) (bool, error) {
	return t.mark(ctx, claim, domain.StatusPerformed)
}

func (t *sqliteTx) TryMarkCancelled(ctx context.Context, claim domain.Claim, caller, from common.Address) (bool, error) {
	if caller != from {
		return false, nil
	}
	return t.mark(ctx, claim, domain.StatusCancelled)
}

func (t *sqliteTx) mark(ctx context.Context, claim domain.Claim, status domain.Status) (bool, error) {
	if t.done {
		return false, transferstate.ErrTxDone
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, busy := t.s.inflight[claim]; busy {
		return false, nil
	}
	var exists bool
	err := t.s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM transfer_states WHERE claim=?)`, claim[:]).Scan(&exists)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	t.s.inflight[claim] = struct{}{}
	t.marks[claim] = status
	t.order = append(t.order, claim)
	return true, nil
}

func (t *sqliteTx) Savepoint(ctx context.Context) (transferstate.Tx, error) {
	if t.done {
		return nil, transferstate.ErrTxDone
	}
	return &sqliteTx{s: t.s, parent: t, marks: map[domain.Claim]domain.Status{}}, nil
}

func (t *sqliteTx) Commit(ctx context.Context) error {
	if t.done {
		return transferstate.ErrTxDone
	}
	if p := t.parent; p != nil {
		if p.done {
			_ = t.Rollback(ctx)
			return transferstate.ErrTxDone
		}
		t.done = true
		for _, c := range t.order {
			p.marks[c] = t.marks[c]
			p.order = append(p.order, c)
		}
		t.order = nil
		return nil
	}
	t.done = true
	defer t.release()
	if len(t.order) == 0 {
		return nil
	}

	tx, err := t.s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := t.s.now().UTC().UnixNano()
	for _, c := range t.order {
		res, err := tx.ExecContext(ctx, `
INSERT INTO transfer_states(claim, status, updated_at)
VALUES(?, ?, ?)
ON CONFLICT(claim) DO NOTHING
`, c[:], string(t.marks[c]), now)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != 1 {
			return fmt.Errorf("%w: %s", ErrConflict, c.Hex())
		}
	}
	return tx.Commit()
}

func (t *sqliteTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.release()
	return nil
}

func (t *sqliteTx) release() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, c := range t.order {
		delete(t.s.inflight, c)
	}
}
