// Package storetest holds the behaviour every transferstate.Store backend
// must share.
package storetest

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/accordsai/transferlane/pkg/domain"
	"github.com/accordsai/transferlane/pkg/transferstate"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	from  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	other = common.HexToAddress("0x00000000000000000000000000000000000000b2")

	// persistent backends keep entries across runs.
	runNonce = strconv.FormatInt(time.Now().UnixNano(), 10)
)

func claimOf(t *testing.T, label string) domain.Claim {
	return domain.Claim(crypto.Keccak256Hash([]byte(runNonce + "/" + t.Name() + "/" + label)))
}

// Run exercises a fresh store returned by open.
func Run(t *testing.T, open func(t *testing.T) transferstate.Store) {
	t.Run("UnsetByDefault", func(t *testing.T) {
		st := open(t)
		status, err := transferstate.Status(context.Background(), st, claimOf(t, "c"))
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if status != domain.StatusUnset {
			t.Fatalf("expected UNSET, got %s", status)
		}
	})

	t.Run("PerformOnce", func(t *testing.T) {
		ctx := context.Background()
		st := open(t)
		c := claimOf(t, "c")
		mustMark(t, st, func(tx transferstate.Tx) (bool, error) { return tx.TryMarkPerformed(ctx, c) }, true)
		mustMark(t, st, func(tx transferstate.Tx) (bool, error) { return tx.TryMarkPerformed(ctx, c) }, false)
		mustMark(t, st, func(tx transferstate.Tx) (bool, error) { return tx.TryMarkCancelled(ctx, c, from, from) }, false)
		expectStatus(t, st, c, domain.StatusPerformed)
	})

	t.Run("CancelOnce", func(t *testing.T) {
		ctx := context.Background()
		st := open(t)
		c := claimOf(t, "c")
		mustMark(t, st, func(tx transferstate.Tx) (bool, error) { return tx.TryMarkCancelled(ctx, c, from, from) }, true)
		mustMark(t, st, func(tx transferstate.Tx) (bool, error) { return tx.TryMarkCancelled(ctx, c, from, from) }, false)
		mustMark(t, st, func(tx transferstate.Tx) (bool, error) { return tx.TryMarkPerformed(ctx, c) }, false)
		expectStatus(t, st, c, domain.StatusCancelled)
	})

	t.Run("CancelRequiresFrom", func(t *testing.T) {
		ctx := context.Background()
		st := open(t)
		c := claimOf(t, "c")
		mustMark(t, st, func(tx transferstate.Tx) (bool, error) { return tx.TryMarkCancelled(ctx, c, other, from) }, false)
		expectStatus(t, st, c, domain.StatusUnset)
	})

	t.Run("RollbackReleasesMark", func(t *testing.T) {
		ctx := context.Background()
		st := open(t)
		c := claimOf(t, "c")
		tx, err := st.Begin(ctx)
		if err != nil {
			t.Fatalf("Begin: %v", err)
		}
		ok, err := tx.TryMarkPerformed(ctx, c)
		if err != nil || !ok {
			t.Fatalf("TryMarkPerformed: ok=%v err=%v", ok, err)
		}
		if err := tx.Rollback(ctx); err != nil {
			t.Fatalf("Rollback: %v", err)
		}
		expectStatus(t, st, c, domain.StatusUnset)
		mustMark(t, st, func(tx transferstate.Tx) (bool, error) { return tx.TryMarkPerformed(ctx, c) }, true)
	})

	t.Run("OpenMarkBlocksSecondTx", func(t *testing.T) {
		ctx := context.Background()
		st := open(t)
		c := claimOf(t, "c")
		outer, err := st.Begin(ctx)
		if err != nil {
			t.Fatalf("Begin: %v", err)
		}
		defer outer.Rollback(ctx)
		ok, err := outer.TryMarkPerformed(ctx, c)
		if err != nil || !ok {
			t.Fatalf("outer TryMarkPerformed: ok=%v err=%v", ok, err)
		}

		inner, err := st.Begin(ctx)
		if err != nil {
			t.Fatalf("Begin inner: %v", err)
		}
		ok, err = inner.TryMarkPerformed(ctx, c)
		if err != nil {
			t.Fatalf("inner TryMarkPerformed: %v", err)
		}
		if ok {
			t.Fatalf("second transaction marked a claim held by an open transaction")
		}
		ok, err = inner.TryMarkCancelled(ctx, c, from, from)
		if err != nil {
			t.Fatalf("inner TryMarkCancelled: %v", err)
		}
		if ok {
			t.Fatalf("second transaction cancelled a claim held by an open transaction")
		}
		_ = inner.Rollback(ctx)

		if err := outer.Commit(ctx); err != nil {
			t.Fatalf("Commit: %v", err)
		}
		expectStatus(t, st, c, domain.StatusPerformed)
	})

	t.Run("OpenMarkInvisibleToGet", func(t *testing.T) {
		ctx := context.Background()
		st := open(t)
		c := claimOf(t, "c")
		tx := begin(t, st)
		ok, err := tx.TryMarkPerformed(ctx, c)
		if err != nil || !ok {
			t.Fatalf("TryMarkPerformed: ok=%v err=%v", ok, err)
		}
		expectStatus(t, st, c, domain.StatusUnset)

		other := begin(t, st)
		ok, err = other.TryMarkCancelled(ctx, c, from, from)
		if err != nil {
			t.Fatalf("other TryMarkCancelled: %v", err)
		}
		if ok {
			t.Fatalf("second transaction cancelled a claim held by an open transaction")
		}
		_ = other.Rollback(ctx)

		if err := tx.Rollback(ctx); err != nil {
			t.Fatalf("Rollback: %v", err)
		}
		expectStatus(t, st, c, domain.StatusUnset)
	})

	t.Run("SavepointCommitsWithParent", func(t *testing.T) {
		ctx := context.Background()
		st := open(t)
		c1, c2 := claimOf(t, "c1"), claimOf(t, "c2")
		tx := begin(t, st)
		defer tx.Rollback(ctx)
		if ok, err := tx.TryMarkPerformed(ctx, c1); err != nil || !ok {
			t.Fatalf("outer mark: ok=%v err=%v", ok, err)
		}

		sp, err := tx.Savepoint(ctx)
		if err != nil {
			t.Fatalf("Savepoint: %v", err)
		}
		if ok, err := sp.TryMarkPerformed(ctx, c1); err != nil || ok {
			t.Fatalf("savepoint re-marked the parent's claim: ok=%v err=%v", ok, err)
		}
		if ok, err := sp.TryMarkCancelled(ctx, c2, from, from); err != nil || !ok {
			t.Fatalf("savepoint mark: ok=%v err=%v", ok, err)
		}
		if err := sp.Commit(ctx); err != nil {
			t.Fatalf("savepoint Commit: %v", err)
		}
		expectStatus(t, st, c2, domain.StatusUnset)

		if err := tx.Commit(ctx); err != nil {
			t.Fatalf("Commit: %v", err)
		}
		expectStatus(t, st, c1, domain.StatusPerformed)
		expectStatus(t, st, c2, domain.StatusCancelled)
	})

	t.Run("SavepointRollbackKeepsParentMarks", func(t *testing.T) {
		ctx := context.Background()
		st := open(t)
		c1, c2 := claimOf(t, "c1"), claimOf(t, "c2")
		tx := begin(t, st)
		defer tx.Rollback(ctx)
		if ok, err := tx.TryMarkPerformed(ctx, c1); err != nil || !ok {
			t.Fatalf("outer mark: ok=%v err=%v", ok, err)
		}
		sp, err := tx.Savepoint(ctx)
		if err != nil {
			t.Fatalf("Savepoint: %v", err)
		}
		if ok, err := sp.TryMarkPerformed(ctx, c2); err != nil || !ok {
			t.Fatalf("savepoint mark: ok=%v err=%v", ok, err)
		}
		if err := sp.Rollback(ctx); err != nil {
			t.Fatalf("savepoint Rollback: %v", err)
		}
		if ok, err := tx.TryMarkCancelled(ctx, c2, from, from); err != nil || !ok {
			t.Fatalf("mark after savepoint rollback: ok=%v err=%v", ok, err)
		}
		if err := tx.Commit(ctx); err != nil {
			t.Fatalf("Commit: %v", err)
		}
		expectStatus(t, st, c1, domain.StatusPerformed)
		expectStatus(t, st, c2, domain.StatusCancelled)
	})

	t.Run("ParentRollbackDiscardsSavepointMarks", func(t *testing.T) {
		ctx := context.Background()
		st := open(t)
		c := claimOf(t, "c")
		tx := begin(t, st)
		sp, err := tx.Savepoint(ctx)
		if err != nil {
			t.Fatalf("Savepoint: %v", err)
		}
		if ok, err := sp.TryMarkPerformed(ctx, c); err != nil || !ok {
			t.Fatalf("savepoint mark: ok=%v err=%v", ok, err)
		}
		if err := sp.Commit(ctx); err != nil {
			t.Fatalf("savepoint Commit: %v", err)
		}
		if err := tx.Rollback(ctx); err != nil {
			t.Fatalf("Rollback: %v", err)
		}
		expectStatus(t, st, c, domain.StatusUnset)
		mustMark(t, st, func(tx transferstate.Tx) (bool, error) { return tx.TryMarkPerformed(ctx, c) }, true)
	})

	t.Run("CommitTwiceFails", func(t *testing.T) {
		ctx := context.Background()
		st := open(t)
		tx, err := st.Begin(ctx)
		if err != nil {
			t.Fatalf("Begin: %v", err)
		}
		if err := tx.Commit(ctx); err != nil {
			t.Fatalf("Commit: %v", err)
		}
		if err := tx.Commit(ctx); err == nil {
			t.Fatalf("expected second commit to fail")
		}
	})
}

func begin(t *testing.T, st transferstate.Store) transferstate.Tx {
	t.Helper()
	tx, err := st.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return tx
}

func mustMark(t *testing.T, st transferstate.Store, mark func(tx transferstate.Tx) (bool, error), want bool) {
	t.Helper()
	ctx := context.Background()
	tx, err := st.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	got, err := mark(tx)
	if err != nil {
		_ = tx.Rollback(ctx)
		t.Fatalf("mark: %v", err)
	}
	if got != want {
		_ = tx.Rollback(ctx)
		t.Fatalf("expected mark=%v, got %v", want, got)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func expectStatus(t *testing.T, st transferstate.Store, c domain.Claim, want domain.Status) {
	t.Helper()
	got, err := transferstate.Status(context.Background(), st, c)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
