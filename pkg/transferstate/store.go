// Package transferstate tracks whether a claim has been performed or
// cancelled. Each claim moves at most once from unset to one terminal
// status and entries are never removed.
package transferstate

import (
	"context"
	"errors"
	"time"

	"github.com/accordsai/transferlane/pkg/domain"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrTxDone        = errors.New("transaction already finished")
	ErrNotConfigured = errors.New("state store is not configured")
)

type Entry struct {
	Claim     domain.Claim
	Status    domain.Status
	UpdatedAt time.Time
}

type Store interface {
	Get(ctx context.Context, claim domain.Claim) (Entry, error)
	Begin(ctx context.Context) (Tx, error)
}

// Tx groups the marks a single settlement makes. An open mark blocks every
// other attempt to mark the same claim, so a concurrent or reentrant attempt
// fails, but Get keeps reporting the committed status until Commit. Rollback
// releases the mark.
type Tx interface {
	// TryMarkPerformed succeeds only while the claim is neither performed
	// nor cancelled.
	TryMarkPerformed(ctx context.Context, claim domain.Claim) (bool, error)
	// TryMarkCancelled succeeds only when caller is the order's from and the
	// claim has not been performed.
	TryMarkCancelled(ctx context.Context, claim domain.Claim, caller, from common.Address) (bool, error)
	// Savepoint opens a nested Tx. Its marks join this Tx on Commit and are
	// released on Rollback without disturbing the marks already held here.
	Savepoint(ctx context.Context) (Tx, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

func Status(ctx context.Context, s Store, claim domain.Claim) (domain.Status, error) {
	e, err := s.Get(ctx, claim)
	if err != nil {
		return "", err
	}
	return e.Status, nil
}

func IsPerformed(ctx context.Context, s Store, claim domain.Claim) (bool, error) {
	st, err := Status(ctx, s, claim)
	return st == domain.StatusPerformed, err
}

func IsCancelled(ctx context.Context, s Store, claim domain.Claim) (bool, error) {
	st, err := Status(ctx, s, claim)
	return st == domain.StatusCancelled, err
}
