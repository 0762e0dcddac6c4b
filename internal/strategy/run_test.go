package strategy

import (
	"errors"
	"math"
	"testing"
	"time"

	"momentum-backtest/internal/market"
)

func makeSeries(prices ...float64) market.PriceSeries {
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	points := make([]market.Point, len(prices))
	for i, p := range prices {
		points[i] = market.Point{Timestamp: base.AddDate(0, 0, i), Price: p}
	}
	return market.NewPriceSeries("TEST", points)
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-12
}

func TestNewRun_EndToEndClosedForm(t *testing.T) {
	run, err := NewRun(makeSeries(100, 102, 101, 105, 110), 1, 0)
	if err != nil {
		t.Fatalf("NewRun returned error: %v", err)
	}

	expectedSignals := []Signal{Flat, Long, Short, Long, Long}
	for i, want := range expectedSignals {
		if run.Signals[i] != want {
			t.Errorf("signal[%d] = %d, want %d", i, run.Signals[i], want)
		}
	}

	expectedChange := []float64{0, 2, -1, 4, 5}
	expectedProfit := []float64{0, 0, -1, -4, 5}
	expectedReturn := []float64{0, 0, -1.0 / 102, -4.0 / 101, 5.0 / 105}
	for i := range expectedChange {
		if !almostEqual(run.DailyChange[i], expectedChange[i]) {
			t.Errorf("daily change[%d] = %f, want %f", i, run.DailyChange[i], expectedChange[i])
		}
		if !almostEqual(run.DailyProfit[i], expectedProfit[i]) {
			t.Errorf("daily profit[%d] = %f, want %f", i, run.DailyProfit[i], expectedProfit[i])
		}
		if !almostEqual(run.ReturnPct[i], expectedReturn[i]) {
			t.Errorf("return[%d] = %f, want %f", i, run.ReturnPct[i], expectedReturn[i])
		}
	}

	want := (1 - 1.0/102) * (1 - 4.0/101) * (1 + 5.0/105)
	if got := run.FinalEquity(); !almostEqual(got, want) {
		t.Fatalf("final equity = %.15f, want %.15f", got, want)
	}
	if run.Trades() != 3 {
		t.Errorf("expected 3 trades, got %d", run.Trades())
	}
}

func TestNewRun_WarmupSignalsAreFlat(t *testing.T) {
	prices := []float64{10, 11, 12, 13, 14, 15, 16, 17}
	for _, n := range []int{1, 3, 7} {
		run, err := NewRun(makeSeries(prices...), n, 0.001)
		if err != nil {
			t.Fatalf("NewRun(n=%d) returned error: %v", n, err)
		}
		for i := 0; i < n; i++ {
			if run.Signals[i] != Flat {
				t.Errorf("n=%d: warm-up signal[%d] = %d, want 0", n, i, run.Signals[i])
			}
		}
		if run.Signals[n] != Long {
			t.Errorf("n=%d: first signal after warm-up = %d, want 1", n, run.Signals[n])
		}
	}
}

func TestNewRun_FirstRowHasNoReturn(t *testing.T) {
	run, err := NewRun(makeSeries(50, 40, 60, 55), 2, 0.01)
	if err != nil {
		t.Fatalf("NewRun returned error: %v", err)
	}
	if run.ReturnPct[0] != 0 {
		t.Errorf("return[0] = %f, want 0", run.ReturnPct[0])
	}
	if run.Equity[0] != 1+run.ReturnPct[0] {
		t.Errorf("equity[0] = %f, want %f", run.Equity[0], 1+run.ReturnPct[0])
	}
	if run.TradeCost[0] != 0 {
		t.Errorf("trade cost[0] = %f, want 0", run.TradeCost[0])
	}
}

func TestNewRun_CommissionChargedOnSignalChange(t *testing.T) {
	run, err := NewRun(makeSeries(100, 102, 101, 105, 110), 1, 0.01)
	if err != nil {
		t.Fatalf("NewRun returned error: %v", err)
	}

	expectedCost := []float64{0, 1.02, 1.01, 1.05, 0}
	for i, want := range expectedCost {
		if !almostEqual(run.TradeCost[i], want) {
			t.Errorf("trade cost[%d] = %f, want %f", i, run.TradeCost[i], want)
		}
	}
	// t=2: 前一日做多，价格下跌 1，并换向支付 1.01
	if !almostEqual(run.DailyProfit[2], -1-1.01) {
		t.Errorf("daily profit[2] = %f, want %f", run.DailyProfit[2], -2.01)
	}
}

func TestNewRun_InsufficientData(t *testing.T) {
	_, err := NewRun(makeSeries(1, 2, 3), 3, 0)
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}

	if _, err := NewRun(makeSeries(1, 2, 3, 4), 3, 0); err != nil {
		t.Fatalf("n+1 prices should be enough, got %v", err)
	}
}

func TestMomentum_InvalidLookback(t *testing.T) {
	if _, err := Momentum([]float64{1, 2, 3}, 0); err == nil {
		t.Fatalf("expected error for n=0")
	}
}

func TestNewRun_NaNPropagates(t *testing.T) {
	run, err := NewRun(makeSeries(100, 101, math.NaN(), 103, 104), 1, 0)
	if err != nil {
		t.Fatalf("NewRun returned error: %v", err)
	}
	if run.Signals[2] != Flat {
		t.Errorf("NaN momentum should map to flat, got %d", run.Signals[2])
	}
	if !math.IsNaN(run.DailyChange[2]) {
		t.Errorf("daily change[2] should be NaN, got %f", run.DailyChange[2])
	}
	if !math.IsNaN(run.FinalEquity()) {
		t.Errorf("equity should carry NaN, got %f", run.FinalEquity())
	}
}

func TestNewRun_ZeroPriceDoesNotProduceInf(t *testing.T) {
	run, err := NewRun(makeSeries(2, 1, 0, 5, 6), 1, 0)
	if err != nil {
		t.Fatalf("NewRun returned error: %v", err)
	}
	for i, r := range run.ReturnPct {
		if math.IsInf(r, 0) || math.IsNaN(r) {
			t.Errorf("return[%d] = %f, want finite", i, r)
		}
	}
	// t=3: 前价为 0 而损益为 -5，除零结果记 0
	if run.ReturnPct[3] != 0 {
		t.Errorf("return[3] = %f, want 0", run.ReturnPct[3])
	}
}

func TestSignals_Mapping(t *testing.T) {
	got := Signals([]float64{0, 2.5, -0.1, math.NaN(), 0})
	want := []Signal{Flat, Long, Short, Flat, Flat}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("signal[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}
