package domain

import (
	"errors"
	"strconv"
	"testing"
)

func populate(q *CourtQueue, n int) {
	for i := 0; i < n; i++ {
		q.Append("user-"+strconv.Itoa(i), "User "+strconv.Itoa(i), "")
	}
}

func validatePositions(t *testing.T, q *CourtQueue) {
	t.Helper()
	for i, e := range q.Entries {
		if e.Position != i+1 {
			t.Fatalf("entry %d has position %d, want %d", i, e.Position, i+1)
		}
	}
}

func TestAppendAssignsContiguousPositions(t *testing.T) {
	q := NewCourtQueue("court-1", "Center Court")
	populate(q, 5)

	if q.Length() != 5 {
		t.Fatalf("expected length 5, got %d", q.Length())
	}
	validatePositions(t, q)
}

func TestAppendDuplicateLeavesQueueUnchanged(t *testing.T) {
	q := NewCourtQueue("court-1", "Center Court")
	populate(q, 3)

	existing, err := q.Append("user-1", "User 1", "")
	if !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("expected ErrAlreadyQueued, got %v", err)
	}
	if existing.Position != 2 {
		t.Fatalf("expected existing position 2, got %d", existing.Position)
	}
	if q.Length() != 3 {
		t.Fatalf("duplicate append mutated the queue: length %d", q.Length())
	}
	validatePositions(t, q)
}

func TestRemoveRenumbersStable(t *testing.T) {
	q := NewCourtQueue("court-1", "Center Court")
	populate(q, 5)

	// Removing the middle entry must shift, not swap.
	if err := q.Remove("user-2"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	want := []string{"user-0", "user-1", "user-3", "user-4"}
	if q.Length() != len(want) {
		t.Fatalf("expected length %d, got %d", len(want), q.Length())
	}
	for i, id := range want {
		if q.Entries[i].UserID != id {
			t.Fatalf("entry %d is %s, want %s", i, q.Entries[i].UserID, id)
		}
	}
	validatePositions(t, q)
}

func TestRemoveHead(t *testing.T) {
	q := NewCourtQueue("court-1", "Center Court")
	populate(q, 3)

	if err := q.Remove("user-0"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if q.Entries[0].UserID != "user-1" || q.Entries[0].Position != 1 {
		t.Fatalf("head after removal is %s/%d, want user-1/1",
			q.Entries[0].UserID, q.Entries[0].Position)
	}
	validatePositions(t, q)
}

func TestRemoveLastLeavesEmptyQueue(t *testing.T) {
	q := NewCourtQueue("court-1", "Center Court")
	populate(q, 1)

	if err := q.Remove("user-0"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if q.Length() != 0 {
		t.Fatalf("expected empty queue, got length %d", q.Length())
	}
}

func TestRemoveAbsentUser(t *testing.T) {
	q := NewCourtQueue("court-1", "Center Court")
	populate(q, 2)

	err := q.Remove("stranger")
	if !errors.Is(err, ErrNotQueued) {
		t.Fatalf("expected ErrNotQueued, got %v", err)
	}
	if q.Length() != 2 {
		t.Fatalf("failed remove mutated the queue: length %d", q.Length())
	}
	validatePositions(t, q)
}

func TestFind(t *testing.T) {
	q := NewCourtQueue("court-1", "Center Court")
	populate(q, 3)

	if entry := q.Find("user-1"); entry == nil || entry.Position != 2 {
		t.Fatalf("Find(user-1) = %+v, want position 2", entry)
	}
	if entry := q.Find("stranger"); entry != nil {
		t.Fatalf("Find(stranger) = %+v, want nil", entry)
	}
}
