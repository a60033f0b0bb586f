package failover

import (
	"testing"
	"time"
)

func TestPushAndTakeAll(t *testing.T) {
	s := NewStore[[]string]("t1", 10, 5)

	if !s.Push([]string{"a"}, 1) {
		t.Fatal("push rejected")
	}
	if !s.Push([]string{"b"}, 2) {
		t.Fatal("push rejected")
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", s.Len())
	}

	entries := s.TakeAll()
	if len(entries) != 2 {
		t.Fatalf("expected 2 taken, got %d", len(entries))
	}
	if entries[0].Batch[0] != "a" || entries[1].Batch[0] != "b" {
		t.Error("expected FIFO order, oldest first")
	}
	if entries[0].RetryCount != 1 || entries[1].RetryCount != 2 {
		t.Error("retry counts not preserved")
	}
	if entries[0].ID == "" || entries[0].ID == entries[1].ID {
		t.Error("entries must have distinct non-empty ids")
	}
	if s.Len() != 0 {
		t.Fatalf("store must be empty after TakeAll, got %d", s.Len())
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	s := NewStore[int]("t2", 2, 5)

	s.Push(1, 1)
	s.Push(2, 1)
	s.Push(3, 1)

	if s.Len() != 2 {
		t.Fatalf("expected capacity bound of 2, got %d", s.Len())
	}
	entries := s.TakeAll()
	if entries[0].Batch != 2 || entries[1].Batch != 3 {
		t.Errorf("expected oldest evicted, kept [2 3], got [%d %d]", entries[0].Batch, entries[1].Batch)
	}
}

func TestRetryCeilingDiscards(t *testing.T) {
	s := NewStore[int]("t3", 10, 3)

	if !s.Push(1, 3) {
		t.Fatal("retry count at ceiling must be kept")
	}
	if s.Push(2, 4) {
		t.Fatal("retry count beyond ceiling must be discarded")
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", s.Len())
	}
}

func TestOldest(t *testing.T) {
	s := NewStore[int]("t4", 10, 5)

	if !s.Oldest().IsZero() {
		t.Fatal("empty store must report zero time")
	}
	before := time.Now()
	s.Push(1, 1)
	if s.Oldest().Before(before.Add(-time.Second)) {
		t.Fatal("oldest must reflect quarantine time")
	}
}
