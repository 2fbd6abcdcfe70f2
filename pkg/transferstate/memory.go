package transferstate

import (
	"context"
	"sync"
	"time"

	"github.com/accordsai/transferlane/pkg/domain"
	"github.com/ethereum/go-ethereum/common"
)

type memEntry struct {
	status    domain.Status
	updatedAt time.Time
}

// Memory is an in-process Store. Committed statuses and open marks are kept
// apart; check and write happen under one lock.
type Memory struct {
	mu       sync.Mutex
	entries  map[domain.Claim]memEntry
	inflight map[domain.Claim]domain.Status
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries:  map[domain.Claim]memEntry{},
		inflight: map[domain.Claim]domain.Status{},
		now:      time.Now,
	}
}

func (m *Memory) Get(ctx context.Context, claim domain.Claim) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[claim]
	if !ok {
		return Entry{Claim: claim, Status: domain.StatusUnset}, nil
	}
	return Entry{Claim: claim, Status: e.status, UpdatedAt: e.updatedAt}, nil
}

func (m *Memory) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memTx{m: m}, nil
}

type memTx struct {
	m      *Memory
	parent *memTx
	marks  []domain.Claim
	done   bool
}

func (tx *memTx) TryMarkPerformed(ctx context.Context, claim domain.Claim) (bool, error) {
	return tx.mark(claim, domain.StatusPerformed)
}

func (tx *memTx) TryMarkCancelled(ctx context.Context, claim domain.Claim, caller, from common.Address) (bool, error) {
	if tx.done {
		return false, ErrTxDone
	}
	if caller != from {
		return false, nil
	}
	return tx.mark(claim, domain.StatusCancelled)
}

func (tx *memTx) mark(claim domain.Claim, status domain.Status) (bool, error) {
	if tx.done {
		return false, ErrTxDone
	}
	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()
	if _, ok := tx.m.entries[claim]; ok {
		return false, nil
	}
	if _, busy := tx.m.inflight[claim]; busy {
		return false, nil
	}
	tx.m.inflight[claim] = status
	tx.marks = append(tx.marks, claim)
	return true, nil
}

func (tx *memTx) Savepoint(ctx context.Context) (Tx, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	return &memTx{m: tx.m, parent: tx}, nil
}

func (tx *memTx) Commit(ctx context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	if tx.parent != nil {
		if tx.parent.done {
			_ = tx.Rollback(ctx)
			return ErrTxDone
		}
		tx.done = true
		tx.parent.marks = append(tx.parent.marks, tx.marks...)
		tx.marks = nil
		return nil
	}
	tx.done = true
	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()
	now := tx.m.now().UTC()
	for _, c := range tx.marks {
		tx.m.entries[c] = memEntry{status: tx.m.inflight[c], updatedAt: now}
		delete(tx.m.inflight, c)
	}
	tx.marks = nil
	return nil
}

func (tx *memTx) Rollback(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()
	for _, c := range tx.marks {
		delete(tx.m.inflight, c)
	}
	tx.marks = nil
	return nil
}
