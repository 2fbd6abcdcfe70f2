package journal

import (
	"context"
	"errors"
	"testing"
)

func TestRevertRunsInReverseOrder(t *testing.T) {
	j := New()
	var got []int
	j.Append(func() error { got = append(got, 1); return nil })
	j.Append(func() error { got = append(got, 2); return nil })
	j.Append(func() error { got = append(got, 3); return nil })
	if err := j.Revert(); err != nil {
		t.Fatalf("Revert: %v", err)
	}
	if len(got) != 3 || got[0] != 3 || got[1] != 2 || got[2] != 1 {
		t.Fatalf("unexpected undo order %v", got)
	}
	_ = j.Revert()
	if len(got) != 3 {
		t.Fatalf("revert must run once")
	}
}

func TestRevertRunsEveryActionAndJoinsFailures(t *testing.T) {
	errFirst := errors.New("first")
	errLast := errors.New("last")
	j := New()
	ran := 0
	j.Append(func() error { ran++; return errFirst })
	j.Append(func() error { ran++; return nil })
	j.Append(func() error { ran++; return errLast })

	err := j.Revert()
	if ran != 3 {
		t.Fatalf("expected every action to run, ran %d", ran)
	}
	if !errors.Is(err, errFirst) || !errors.Is(err, errLast) {
		t.Fatalf("expected both failures, got %v", err)
	}
}

func TestDiscardDropsEntries(t *testing.T) {
	j := New()
	ran := false
	j.Append(func() error { ran = true; return nil })
	j.Discard()
	_ = j.Revert()
	if ran {
		t.Fatalf("discarded entry ran")
	}
	j.Append(func() error { ran = true; return nil })
	if j.Len() != 0 {
		t.Fatalf("closed journal accepted an entry")
	}
}

func TestAbsorbRevertsChildWithParent(t *testing.T) {
	parent, child := New(), New()
	var got []string
	parent.Append(func() error { got = append(got, "parent"); return nil })
	child.Append(func() error { got = append(got, "child"); return nil })

	if err := parent.Absorb(child); err != nil {
		t.Fatalf("Absorb: %v", err)
	}
	if child.Len() != 0 || parent.Len() != 2 {
		t.Fatalf("expected entries to move, parent=%d child=%d", parent.Len(), child.Len())
	}
	child.Append(func() error { got = append(got, "late"); return nil })

	_ = parent.Revert()
	if len(got) != 2 || got[0] != "child" || got[1] != "parent" {
		t.Fatalf("unexpected undo order %v", got)
	}
}

func TestAbsorbIntoClosedJournalRevertsChild(t *testing.T) {
	parent, child := New(), New()
	parent.Discard()
	ran := false
	child.Append(func() error { ran = true; return nil })
	if err := parent.Absorb(child); err != nil {
		t.Fatalf("Absorb: %v", err)
	}
	if !ran {
		t.Fatalf("child of a closed journal was not reverted")
	}
}

func TestContextRoundTrip(t *testing.T) {
	if FromContext(context.Background()) != nil {
		t.Fatalf("expected nil journal")
	}
	FromContext(context.Background()).Append(func() error { return nil })

	j := New()
	ctx := WithJournal(context.Background(), j)
	if FromContext(ctx) != j {
		t.Fatalf("expected journal from context")
	}
}
