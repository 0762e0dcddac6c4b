package market

import (
	"errors"
	"testing"
	"time"
)

func day(d int) time.Time {
	return time.Date(2021, 3, d, 0, 0, 0, 0, time.UTC)
}

func TestPriceSeriesValidate(t *testing.T) {
	cases := []struct {
		name    string
		series  PriceSeries
		wantErr bool
	}{
		{name: "ok", series: PriceSeries{Instrument: "A", Timestamps: []time.Time{day(1), day(2)}, Prices: []float64{1, 2}}},
		{name: "empty", series: PriceSeries{Instrument: "A"}, wantErr: true},
		{name: "length mismatch", series: PriceSeries{Instrument: "A", Timestamps: []time.Time{day(1)}, Prices: []float64{1, 2}}, wantErr: true},
		{name: "duplicate", series: PriceSeries{Instrument: "A", Timestamps: []time.Time{day(1), day(1)}, Prices: []float64{1, 2}}, wantErr: true},
		{name: "descending", series: PriceSeries{Instrument: "A", Timestamps: []time.Time{day(2), day(1)}, Prices: []float64{1, 2}}, wantErr: true},
	}

	for _, tc := range cases {
		err := tc.series.Validate()
		if tc.wantErr && err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
		}
	}

	if err := (PriceSeries{Instrument: "A"}).Validate(); !errors.Is(err, ErrDataUnavailable) {
		t.Errorf("empty series should be data unavailable, got %v", err)
	}
}

func TestPriceSeriesWindow(t *testing.T) {
	series := NewPriceSeries("A", []Point{
		{Timestamp: day(1), Price: 1},
		{Timestamp: day(2), Price: 2},
		{Timestamp: day(3), Price: 3},
		{Timestamp: day(4), Price: 4},
	})

	w := series.Window(day(2), day(4))
	if w.Len() != 2 || w.Prices[0] != 2 || w.Prices[1] != 3 {
		t.Fatalf("unexpected window: %+v", w.Prices)
	}

	if all := series.Window(time.Time{}, time.Time{}); all.Len() != 4 {
		t.Errorf("zero bounds should keep all points, got %d", all.Len())
	}
}

func TestNormalizePoints(t *testing.T) {
	points := normalizePoints([]Point{
		{Timestamp: day(3), Price: 3},
		{Timestamp: day(1), Price: 1},
		{Timestamp: day(3), Price: 33},
		{Timestamp: day(2), Price: 2},
	})

	if len(points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(points))
	}
	want := []float64{1, 2, 3}
	for i, p := range points {
		if p.Price != want[i] {
			t.Errorf("point %d = %f, want %f", i, p.Price, want[i])
		}
	}
}
