package market

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"momentum-backtest/internal/config"
)

func yahooBody() string {
	open := func(d int) int64 {
		return time.Date(2021, 3, d, 14, 30, 0, 0, time.UTC).Unix()
	}
	return fmt.Sprintf(`{"chart":{"result":[{"timestamp":[%d,%d,%d],"indicators":{"quote":[{"close":[10.5,11,12]}],"adjclose":[{"adjclose":[10,null,11.5]}]}}],"error":null}}`,
		open(1), open(2), open(3))
}

func newTestYahoo(url string) *YahooSource {
	src := NewYahooSource(config.YahooConfig{
		BaseURL: url,
		Timeout: time.Second,
		Retry:   config.RetryConfig{MaxAttempts: 3, MinDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}, nil)
	src.retry.sleep = func(context.Context, time.Duration) error { return nil }
	return src
}

func TestYahooSourceFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v8/finance/chart/AAPL" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("interval") != "1d" {
			t.Errorf("expected interval=1d, got %s", r.URL.Query().Get("interval"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(yahooBody()))
	}))
	defer server.Close()

	series, err := newTestYahoo(server.URL).Fetch(context.Background(), "aapl", day(1), day(10))
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}

	if series.Len() != 2 {
		t.Fatalf("expected null close to be skipped, got %d points", series.Len())
	}
	if series.Prices[0] != 10 || series.Prices[1] != 11.5 {
		t.Errorf("expected adjusted closes, got %v", series.Prices)
	}
	if !series.Timestamps[1].Equal(day(3)) {
		t.Errorf("timestamps should be truncated to the day, got %s", series.Timestamps[1])
	}
}

func TestYahooSourceFetch_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(yahooBody()))
	}))
	defer server.Close()

	if _, err := newTestYahoo(server.URL).Fetch(context.Background(), "AAPL", day(1), day(10)); err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 calls, got %d", got)
	}
}

func TestYahooSourceFetch_NotFound(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`, http.StatusNotFound)
	}))
	defer server.Close()

	_, err := newTestYahoo(server.URL).Fetch(context.Background(), "NOPE", day(1), day(10))
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("4xx should not be retried, got %d calls", got)
	}
}

func TestParseYahooChart_Error(t *testing.T) {
	if _, err := parseYahooChart([]byte(`{"chart":{"result":[],"error":{"code":"Bad","description":"bad symbol"}}}`)); err == nil {
		t.Fatalf("expected error for chart error payload")
	}
	if _, err := parseYahooChart([]byte("<html></html>")); err == nil {
		t.Fatalf("expected error for html body")
	}
}
