package settlement

import (
	"context"
	"errors"

	"github.com/accordsai/transferlane/pkg/journal"
	"github.com/accordsai/transferlane/pkg/transferstate"
)

type unitKey struct{}

// unit is one settlement in progress: its open store transaction and the
// undo chain of the ledger changes it caused. A settlement started from
// inside one of its collaborator calls joins it. The nested marks go into a
// savepoint, the nested ledger changes into the same undo chain, and nothing
// the nested settlement does is final until the outermost unit commits.
type unit struct {
	store   transferstate.Store
	parent  *unit
	tx      transferstate.Tx
	journal *journal.Journal
	settled []func()
}

// begin opens a unit, nested in the one carried by ctx if any. The returned
// context carries the unit and its journal and is what collaborators get.
func (e *Executor) begin(ctx context.Context) (*unit, context.Context, error) {
	parent, _ := ctx.Value(unitKey{}).(*unit)
	u := &unit{store: e.store, parent: parent, journal: journal.New()}
	var err error
	switch {
	case parent == nil:
		u.tx, err = e.store.Begin(ctx)
	case parent.store != e.store:
		return nil, ctx, newError(CodeStateStoreFailure, "settlement started inside a settlement on another state store", nil)
	default:
		u.tx, err = parent.tx.Savepoint(ctx)
	}
	if err != nil {
		return nil, ctx, newError(CodeStateStoreFailure, "begin", err)
	}
	uctx := context.WithValue(journal.WithJournal(ctx, u.journal), unitKey{}, u)
	return u, uctx, nil
}

// abort reverts the unit's ledger changes and releases its marks.
func (u *unit) abort(ctx context.Context) error {
	revertErr := u.journal.Revert()
	return errors.Join(revertErr, u.tx.Rollback(ctx))
}

// commit makes the unit final, or hands it to the enclosing unit. settled
// runs once the outermost unit has committed, after the callbacks of the
// units nested in it.
func (u *unit) commit(ctx context.Context, settled func()) error {
	if err := u.tx.Commit(ctx); err != nil {
		return err
	}
	u.settled = append(u.settled, settled)
	if p := u.parent; p != nil {
		if err := p.journal.Absorb(u.journal); err != nil {
			return err
		}
		p.settled = append(p.settled, u.settled...)
		return nil
	}
	u.journal.Discard()
	for _, fn := range u.settled {
		fn()
	}
	return nil
}
