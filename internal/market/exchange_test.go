package market

import (
	"context"
	"errors"
	"testing"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"

	"momentum-backtest/internal/config"
)

// fakeFetcher 按调用顺序返回固定大小的页，模拟 since 推进后的分页结果。
type fakeFetcher struct {
	candles  []ccxt.OHLCV
	pageSize int
	calls    int
	fail     int
}

func (f *fakeFetcher) FetchOHLCV(symbol string, options ...ccxt.FetchOHLCVOptions) ([]ccxt.OHLCV, error) {
	f.calls++
	if f.fail > 0 {
		f.fail--
		return nil, errors.New("boom")
	}

	from := (f.calls - 1) * f.pageSize
	if from >= len(f.candles) {
		return nil, nil
	}
	to := from + f.pageSize
	if to > len(f.candles) {
		to = len(f.candles)
	}
	return f.candles[from:to], nil
}

func dailyCandles(n int) []ccxt.OHLCV {
	out := make([]ccxt.OHLCV, n)
	for i := range out {
		out[i] = ccxt.OHLCV{Timestamp: day(1).AddDate(0, 0, i).UnixMilli(), Close: float64(100 + i)}
	}
	return out
}

func TestExchangeSourceFetch_Paginates(t *testing.T) {
	fetcher := &fakeFetcher{candles: dailyCandles(10), pageSize: 3}
	loads := 0
	src := newExchangeSource(config.ExchangeConfig{Name: "binanceusdm", Timeframe: "1d", PageLimit: 3}, fetcher, func() error {
		loads++
		return nil
	}, nil)

	series, err := src.Fetch(context.Background(), "BTC/USDT:USDT", day(1), day(9))
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if series.Len() != 8 {
		t.Fatalf("expected 8 candles before end, got %d", series.Len())
	}
	if series.Prices[0] != 100 || series.Prices[7] != 107 {
		t.Errorf("unexpected prices: %v", series.Prices)
	}
	if fetcher.calls != 3 {
		t.Errorf("expected 3 pages, got %d", fetcher.calls)
	}

	fetcher.calls = 0
	if _, err := src.Fetch(context.Background(), "ETH/USDT:USDT", day(1), day(2)); err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if loads != 1 {
		t.Errorf("markets should load once, got %d", loads)
	}
}

func TestExchangeSourceFetch_GivesUpAfterRetries(t *testing.T) {
	fetcher := &fakeFetcher{candles: dailyCandles(3), pageSize: 3, fail: 10}
	src := newExchangeSource(config.ExchangeConfig{
		Name:  "binanceusdm",
		Retry: config.RetryConfig{MaxAttempts: 2, MinDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}, fetcher, nil, nil)

	_, err := src.Fetch(context.Background(), "BTC/USDT:USDT", day(1), day(5))
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
	// 普通错误不可重试
	if fetcher.calls != 1 {
		t.Errorf("expected a single attempt for non-retryable error, got %d", fetcher.calls)
	}
}

func TestNewExchangeSource_UnsupportedExchange(t *testing.T) {
	if _, err := NewExchangeSource(config.ExchangeConfig{Name: "kraken"}, nil); err == nil {
		t.Fatalf("expected error for unsupported exchange")
	}
}
