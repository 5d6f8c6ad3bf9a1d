package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cyverse/cloudgw/internal/memstore"
	"github.com/cyverse/cloudgw/internal/model"
	clocktesting "k8s.io/utils/clock/testing"
)

var start = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestLedger() (*Ledger, *memstore.Store, *clocktesting.FakeClock) {
	store := memstore.New()
	clk := clocktesting.NewFakeClock(start)
	return NewLedger(store, clk), store, clk
}

func testResource() *model.ManagedResource {
	return &model.ManagedResource{ID: "r1", OwnerID: "u1", Status: model.StatusRunning}
}

func TestCost(t *testing.T) {
	tests := map[string]struct {
		elapsed       time.Duration
		price         float64
		expectedHours int64
		expectedCost  float64
	}{
		"ninety minutes":     {90 * time.Minute, 0.5, 2, 1.0},
		"exactly one hour":   {time.Hour, 0.5, 1, 0.5},
		"one second":         {time.Second, 0.0119, 1, 0.0119},
		"zero":               {0, 0.5, 0, 0},
		"negative":           {-time.Hour, 0.5, 0, 0},
		"rounded to 4 place": {3 * time.Hour, 0.00333333, 3, 0.01},
		"long running":       {49*time.Hour + time.Minute, 0.0208, 50, 1.04},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			hours, cost := Cost(start, start.Add(tc.elapsed), tc.price)
			if hours != tc.expectedHours {
				t.Errorf("hours: got %d, want %d", hours, tc.expectedHours)
			}
			if cost != tc.expectedCost {
				t.Errorf("cost: got %f, want %f", cost, tc.expectedCost)
			}
		})
	}
}

func TestCloseComputesCeilingHours(t *testing.T) {
	ledger, _, _ := newTestLedger()
	ctx := context.Background()
	price := 0.0238

	if _, _, err := ledger.Open(ctx, testResource(), model.MetricComputeHours, price, nil); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	closed, err := ledger.Close(ctx, "r1", model.MetricComputeHours, start.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if closed == nil {
		t.Fatal("expected a closed interval")
	}
	if closed.Quantity != 2 {
		t.Errorf("quantity: got %d, want 2", closed.Quantity)
	}
	if closed.Cost != 2*price {
		t.Errorf("cost: got %f, want %f", closed.Cost, 2*price)
	}
	if !closed.Closed || closed.EndedAt == nil || !closed.EndedAt.Equal(start.Add(90*time.Minute)) {
		t.Errorf("unexpected interval state: %+v", closed)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	ledger, _, clk := newTestLedger()
	ctx := context.Background()

	first, created, err := ledger.Open(ctx, testResource(), model.MetricComputeHours, 0.01, nil)
	if err != nil || !created {
		t.Fatalf("unexpected result: created=%t err=%v", created, err)
	}

	clk.Step(10 * time.Minute)
	second, created, err := ledger.Open(ctx, testResource(), model.MetricComputeHours, 0.02, nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if created {
		t.Error("a second interval was opened")
	}
	if second.ID != first.ID || !second.StartedAt.Equal(start) || second.UnitPrice != 0.01 {
		t.Errorf("the open interval changed: %+v", second)
	}

	intervals, err := ledger.Intervals(ctx, "r1")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(intervals) != 1 {
		t.Errorf("got %d intervals, want 1", len(intervals))
	}
}

func TestCloseWithoutOpenIntervalIsNoop(t *testing.T) {
	ledger, _, _ := newTestLedger()
	ctx := context.Background()

	closed, err := ledger.Close(ctx, "r1", model.MetricComputeHours, start)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if closed != nil {
		t.Errorf("unexpected interval: %+v", closed)
	}

	if _, _, err := ledger.Open(ctx, testResource(), model.MetricComputeHours, 0.01, nil); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if _, err := ledger.Close(ctx, "r1", model.MetricComputeHours, start.Add(time.Hour)); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	closed, err = ledger.Close(ctx, "r1", model.MetricComputeHours, start.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if closed != nil {
		t.Error("a closed interval was closed again")
	}

	intervals, _ := ledger.Intervals(ctx, "r1")
	if len(intervals) != 1 || intervals[0].Quantity != 1 {
		t.Errorf("the closed interval changed: %+v", intervals)
	}
}

func TestCloseBeforeStartBillsNothing(t *testing.T) {
	ledger, _, _ := newTestLedger()
	ctx := context.Background()

	if _, _, err := ledger.Open(ctx, testResource(), model.MetricComputeHours, 0.01, nil); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	closed, err := ledger.Close(ctx, "r1", model.MetricComputeHours, start.Add(-time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if closed.Quantity != 0 || closed.Cost != 0 || !closed.EndedAt.Equal(start) {
		t.Errorf("unexpected interval: %+v", closed)
	}
}

func TestConcurrentOpenAndClose(t *testing.T) {
	ledger, store, clk := newTestLedger()
	ctx := context.Background()

	for round := 0; round < 5; round++ {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, _, err := ledger.Open(ctx, testResource(), model.MetricComputeHours, 0.01, nil); err != nil {
					t.Errorf("unexpected error: %s", err)
				}
			}()
		}
		wg.Wait()

		intervals, _ := store.ListIntervals(ctx, "r1")
		open := 0
		for _, i := range intervals {
			if !i.Closed {
				open++
			}
		}
		if open != 1 {
			t.Fatalf("round %d: got %d open intervals, want 1", round, open)
		}

		clk.Step(time.Hour)
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := ledger.Close(ctx, "r1", model.MetricComputeHours, clk.Now()); err != nil {
					t.Errorf("unexpected error: %s", err)
				}
			}()
		}
		wg.Wait()
	}

	intervals, _ := store.ListIntervals(ctx, "r1")
	if len(intervals) != 5 {
		t.Errorf("got %d intervals, want 5", len(intervals))
	}
	for _, i := range intervals {
		if !i.Closed || i.Quantity != 1 {
			t.Errorf("unexpected interval: %+v", i)
		}
	}
}

func TestMetricsAreIndependent(t *testing.T) {
	ledger, _, clk := newTestLedger()
	ctx := context.Background()

	if _, _, err := ledger.Open(ctx, testResource(), model.MetricComputeHours, 0.01, nil); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if _, _, err := ledger.Open(ctx, testResource(), "backup_hours", 0.001, nil); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	clk.Step(30 * time.Minute)
	closed, err := ledger.CloseAllForResource(ctx, "r1", clk.Now())
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(closed) != 2 {
		t.Errorf("got %d closed intervals, want 2", len(closed))
	}

	for _, metric := range []string{model.MetricComputeHours, "backup_hours"} {
		active, err := ledger.Active(ctx, "r1", metric)
		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
		if active != nil {
			t.Errorf("%s is still open", metric)
		}
	}
}
