package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cyverse/cloudgw/internal/gateway"
	"github.com/cyverse/cloudgw/internal/memstore"
	"github.com/cyverse/cloudgw/internal/model"
	clocktesting "k8s.io/utils/clock/testing"
)

type fakeSource struct {
	types []gateway.ServerType
	err   error
}

func (s *fakeSource) ServerTypes(context.Context, model.Principal) ([]gateway.ServerType, error) {
	return s.types, s.err
}

func cx21(fsn1, nbg1 float64) gateway.ServerType {
	return gateway.ServerType{
		ID:     1,
		Name:   "cx21",
		Cores:  2,
		Memory: 4,
		Disk:   40,
		Prices: []gateway.Price{
			{Location: "fsn1", PriceHourly: fsn1},
			{Location: "nbg1", PriceHourly: nbg1},
		},
	}
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	clk := clocktesting.NewFakeClock(start)
	store := memstore.New()
	source := &fakeSource{types: []gateway.ServerType{cx21(0.0119, 0.0119)}}
	syncer := NewSyncer(store, source, clk)

	added, err := syncer.Refresh(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if added != 2 {
		t.Errorf("got %d new prices, want 2", added)
	}

	// Unchanged prices aren't recorded again.
	clk.Step(time.Hour)
	if added, _ = syncer.Refresh(ctx); added != 0 {
		t.Errorf("got %d new prices, want 0", added)
	}

	// A price change is recorded for the affected location only.
	clk.Step(time.Hour)
	source.types = []gateway.ServerType{cx21(0.0149, 0.0119)}
	if added, _ = syncer.Refresh(ctx); added != 1 {
		t.Errorf("got %d new prices, want 1", added)
	}

	tests := map[string]struct {
		location string
		at       time.Time
		expected float64
	}{
		"before the change": {"fsn1", start.Add(90 * time.Minute), 0.0119},
		"after the change":  {"fsn1", start.Add(2 * time.Hour), 0.0149},
		"other location":    {"nbg1", start.Add(3 * time.Hour), 0.0119},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			price, err := store.HourlyPrice(ctx, "cx21", tc.location, tc.at)
			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
			if price != tc.expected {
				t.Errorf("got %f, want %f", price, tc.expected)
			}
		})
	}

	types, err := syncer.List(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(types) != 1 || types[0].Cores != 2 || types[0].MemoryGB != 4 || len(types[0].Prices) != 3 {
		t.Errorf("unexpected catalogue: %+v", types)
	}
}

func TestRefreshUpstreamFailure(t *testing.T) {
	failure := errors.New("gateway down")
	syncer := NewSyncer(memstore.New(), &fakeSource{err: failure}, clocktesting.NewFakeClock(time.Now()))

	if _, err := syncer.Refresh(context.Background()); !errors.Is(err, failure) {
		t.Errorf("expected the upstream error, got %v", err)
	}
}
