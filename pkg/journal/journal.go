// Package journal records undo actions for in-process state changes made
// while a settlement is in flight, so a failed settlement can be reverted as
// a whole.
package journal

import (
	"context"
	"errors"
	"sync"
)

// Undo reverses one recorded change. It reports an error when the change can
// no longer be reversed, for example because the state has moved on since.
type Undo func() error

type Journal struct {
	mu      sync.Mutex
	entries []Undo
	closed  bool
}

func New() *Journal { return &Journal{} }

// Append registers an undo action. Actions appended after Revert or Discard
// are ignored.
func (j *Journal) Append(undo Undo) {
	if j == nil || undo == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	j.entries = append(j.entries, undo)
}

func (j *Journal) Len() int {
	if j == nil {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// Revert runs the undo actions in reverse order of registration. Every
// action runs even when an earlier one fails; the failures are joined.
func (j *Journal) Revert() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	entries := j.entries
	j.entries = nil
	j.closed = true
	j.mu.Unlock()

	var errs []error
	for i := len(entries) - 1; i >= 0; i-- {
		if err := entries[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops the undo actions once the enclosing operation has committed.
func (j *Journal) Discard() {
	if j == nil {
		return
	}
	j.mu.Lock()
	j.entries = nil
	j.closed = true
	j.mu.Unlock()
}

// Absorb moves the actions of child to the end of j and closes child, so the
// child's changes are reverted with j from then on. If j is already closed
// the child is reverted instead.
func (j *Journal) Absorb(child *Journal) error {
	if child == nil || child == j {
		return nil
	}
	child.mu.Lock()
	entries := child.entries
	child.entries = nil
	child.closed = true
	child.mu.Unlock()
	if len(entries) == 0 {
		return nil
	}

	if j != nil {
		j.mu.Lock()
		if !j.closed {
			j.entries = append(j.entries, entries...)
			j.mu.Unlock()
			return nil
		}
		j.mu.Unlock()
	}
	orphan := &Journal{entries: entries}
	return orphan.Revert()
}

type ctxKey struct{}

func WithJournal(ctx context.Context, j *Journal) context.Context {
	return context.WithValue(ctx, ctxKey{}, j)
}

// FromContext returns the journal carried by ctx, or nil. A nil journal is
// safe to Append to.
func FromContext(ctx context.Context) *Journal {
	j, _ := ctx.Value(ctxKey{}).(*Journal)
	return j
}
