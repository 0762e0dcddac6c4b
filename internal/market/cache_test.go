package market

import (
	"context"
	"math"
	"testing"
	"time"

	"momentum-backtest/internal/config"
	"momentum-backtest/internal/store"
)

func TestCachedSource_ServesRepeatedRangesFromStore(t *testing.T) {
	st, err := store.NewSQLite(config.DatabaseConfig{InMemory: true})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	defer st.Close()

	calls := 0
	upstream := SourceFunc(func(ctx context.Context, instrument string, start, end time.Time) (PriceSeries, error) {
		calls++
		return NewPriceSeries(instrument, []Point{
			{Timestamp: day(1), Price: 10},
			{Timestamp: day(2), Price: math.NaN()},
			{Timestamp: day(3), Price: 12},
			{Timestamp: day(4), Price: 13},
		}), nil
	})

	ctx := context.Background()
	cached, err := NewCachedSource(ctx, upstream, st, nil)
	if err != nil {
		t.Fatalf("NewCachedSource returned error: %v", err)
	}

	first, err := cached.Fetch(ctx, "AAPL", day(1), day(5))
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if first.Len() != 4 {
		t.Fatalf("expected 4 points, got %d", first.Len())
	}

	// 子区间由缓存提供
	second, err := cached.Fetch(ctx, "AAPL", day(2), day(4))
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected upstream to be called once, got %d", calls)
	}
	if second.Len() != 2 {
		t.Fatalf("expected 2 cached points, got %d", second.Len())
	}
	if !math.IsNaN(second.Prices[0]) || second.Prices[1] != 12 {
		t.Errorf("unexpected cached prices: %v", second.Prices)
	}
	if !second.Timestamps[0].Equal(day(2)) {
		t.Errorf("unexpected cached timestamp: %s", second.Timestamps[0])
	}

	// 超出已缓存区间需要回源
	if _, err := cached.Fetch(ctx, "AAPL", day(1), day(6)); err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected upstream to be called again for wider range, got %d", calls)
	}
}
