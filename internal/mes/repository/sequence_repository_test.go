package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/testutil"
	"github.com/google/uuid"
)

// TestAllocateNextSequential tests that allocation starts at 1 and increments per window
func TestAllocateNextSequential(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewSequenceRepository(db)
	ctx := context.Background()
	ruleID := uuid.New().String()

	for want := int64(1); want <= 5; want++ {
		got, err := repo.AllocateNext(ctx, ruleID, "20260210")
		if err != nil {
			t.Fatalf("allocate: %v", err)
		}
		if got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}

	// A different window starts from 1 again
	got, err := repo.AllocateNext(ctx, ruleID, "20260211")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if got != 1 {
		t.Fatalf("new window should start at 1, got %d", got)
	}
}

// TestAllocateNextConcurrent tests that concurrent allocations never produce duplicates
func TestAllocateNextConcurrent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewSequenceRepository(db)
	ctx := context.Background()
	ruleID := uuid.New().String()

	const n = 20
	results := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := repo.AllocateNext(ctx, ruleID, "ALL")
			if err != nil {
				t.Errorf("allocate: %v", err)
				return
			}
			results <- v
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool, n)
	for v := range results {
		if seen[v] {
			t.Fatalf("duplicate sequence value %d", v)
		}
		seen[v] = true
		if v < 1 || v > n {
			t.Fatalf("sequence value %d out of range [1,%d]", v, n)
		}
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct values, got %d", n, len(seen))
	}
}

// TestPeekNextDoesNotConsume tests that peeking leaves the counter untouched
func TestPeekNextDoesNotConsume(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewSequenceRepository(db)
	ctx := context.Background()
	ruleID := uuid.New().String()

	// Nothing allocated yet
	peek, err := repo.PeekNext(ctx, ruleID, "20260210")
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if peek != 1 {
		t.Fatalf("expected peek 1 before any allocation, got %d", peek)
	}

	if _, err := repo.AllocateNext(ctx, ruleID, "20260210"); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	for i := 0; i < 3; i++ {
		peek, err = repo.PeekNext(ctx, ruleID, "20260210")
		if err != nil {
			t.Fatalf("peek: %v", err)
		}
		if peek != 2 {
			t.Fatalf("expected peek 2, got %d", peek)
		}
	}

	got, err := repo.AllocateNext(ctx, ruleID, "20260210")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if got != 2 {
		t.Fatalf("peek must not consume: expected 2, got %d", got)
	}
}

// TestListWindows tests that historical windows are retained for audit
func TestListWindows(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewSequenceRepository(db)
	ctx := context.Background()
	ruleID := uuid.New().String()

	for _, window := range []string{"20260209", "20260210", "20260211"} {
		if _, err := repo.AllocateNext(ctx, ruleID, window); err != nil {
			t.Fatalf("allocate: %v", err)
		}
	}

	counters, err := repo.ListWindows(ctx, ruleID)
	if err != nil {
		t.Fatalf("list windows: %v", err)
	}
	if len(counters) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(counters))
	}
	if counters[0].WindowKey != "20260211" {
		t.Fatalf("expected newest window first, got %s", counters[0].WindowKey)
	}

	var c entity.SequenceCounter
	if err := db.Where("rule_id = ? AND window_key = ?", ruleID, "20260209").First(&c).Error; err != nil {
		t.Fatalf("historical window should be retained: %v", err)
	}
	if c.CurrentValue != 1 {
		t.Fatalf("expected current_value 1, got %d", c.CurrentValue)
	}
}
