package market

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"momentum-backtest/internal/config"
)

// ErrMaintenance 表示交易所处于维护状态。
var ErrMaintenance = errors.New("exchange on maintenance")

// ohlcvFetcher 抽象 ccxt 的K线接口，便于测试替换。
type ohlcvFetcher interface {
	FetchOHLCV(symbol string, options ...ccxt.FetchOHLCVOptions) ([]ccxt.OHLCV, error)
}

// ExchangeSource 通过 ccxt 分页拉取交易所日线收盘价。
type ExchangeSource struct {
	cfg      config.ExchangeConfig
	exchange ohlcvFetcher
	load     func() error
	retry    *retrier
	logger   *zap.Logger

	marketsMu     sync.Mutex
	marketsLoaded bool
}

// NewExchangeSource 构造 Binance USDⓈ-M 行情源。
func NewExchangeSource(cfg config.ExchangeConfig, logger *zap.Logger) (*ExchangeSource, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !strings.EqualFold(cfg.Name, "binanceusdm") {
		return nil, fmt.Errorf("market: 暂不支持交易所 %q", cfg.Name)
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		},
	}

	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}
	if cfg.APIPass != "" {
		userConfig["password"] = cfg.APIPass
	}

	ex := ccxt.NewBinanceusdm(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	loadMarkets := func() error {
		_, err := ex.LoadMarkets()
		return err
	}
	return newExchangeSource(cfg, ex, loadMarkets, logger), nil
}

func newExchangeSource(cfg config.ExchangeConfig, ex ohlcvFetcher, loadMarkets func() error, logger *zap.Logger) *ExchangeSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = "1d"
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 1000
	}
	return &ExchangeSource{
		cfg:      cfg,
		exchange: ex,
		load:     loadMarkets,
		retry:    newRetrier(cfg.Retry, classifyExchangeError, logger),
		logger:   logger,
	}
}

// Fetch 拉取 [start, end) 区间的收盘价，按页推进 since 直到越过 end 或无新数据。
func (s *ExchangeSource) Fetch(ctx context.Context, instrument string, start, end time.Time) (PriceSeries, error) {
	if err := s.ensureMarketsLoaded(ctx); err != nil {
		return PriceSeries{}, fmt.Errorf("%w: %s: %v", ErrDataUnavailable, instrument, err)
	}

	since := start.UnixMilli()
	points := make([]Point, 0, s.cfg.PageLimit)

	for {
		var page []ccxt.OHLCV
		err := s.retry.do(ctx, fmt.Sprintf("fetch_ohlcv_%s", s.cfg.Timeframe), func() error {
			opts := []ccxt.FetchOHLCVOptions{
				ccxt.WithFetchOHLCVTimeframe(s.cfg.Timeframe),
				ccxt.WithFetchOHLCVLimit(s.cfg.PageLimit),
			}
			if since > 0 {
				opts = append(opts, ccxt.WithFetchOHLCVSince(since))
			}
			result, err := s.exchange.FetchOHLCV(instrument, opts...)
			if err != nil {
				return err
			}
			page = result
			return nil
		})
		if err != nil {
			return PriceSeries{}, fmt.Errorf("%w: %s: %v", ErrDataUnavailable, instrument, err)
		}

		lastTs := since
		reachedEnd := false
		for _, item := range page {
			ts := time.UnixMilli(item.Timestamp).UTC()
			if !end.IsZero() && !ts.Before(end) {
				reachedEnd = true
				break
			}
			points = append(points, Point{Timestamp: ts, Price: item.Close})
			if item.Timestamp > lastTs {
				lastTs = item.Timestamp
			}
		}

		if reachedEnd || int64(len(page)) < s.cfg.PageLimit || lastTs <= since {
			break
		}
		since = lastTs + 1
	}

	series := NewPriceSeries(instrument, normalizePoints(points))
	if err := series.Validate(); err != nil {
		return PriceSeries{}, err
	}

	s.logger.Debug("交易所日线拉取完成",
		zap.String("instrument", instrument),
		zap.Int("points", series.Len()),
	)
	return series, nil
}

func (s *ExchangeSource) ensureMarketsLoaded(ctx context.Context) error {
	s.marketsMu.Lock()
	defer s.marketsMu.Unlock()

	if s.marketsLoaded {
		return nil
	}

	if s.load == nil {
		s.marketsLoaded = true
		return nil
	}

	loadErr := s.retry.do(ctx, "load_markets", s.load)
	if loadErr != nil {
		return loadErr
	}

	s.marketsLoaded = true
	s.logger.Info("已完成市场元数据加载", zap.String("exchange", s.cfg.Name))
	return nil
}

func classifyExchangeError(err error) (error, bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err, false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return err, true
		case ccxt.OnMaintenanceErrType:
			message := strings.TrimSpace(ccxtErr.Message)
			if message == "" {
				message = "exchange under maintenance"
			}
			return fmt.Errorf("%w: %s", ErrMaintenance, message), false
		default:
			return err, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return err, true
	}

	return err, false
}
