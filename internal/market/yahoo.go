package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"momentum-backtest/internal/config"
)

type yahooChartResp struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// httpStatusError 保留状态码以便判断是否重试。
type httpStatusError struct {
	status  int
	preview string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("yahoo 返回 %d: %s", e.status, e.preview)
}

// YahooSource 从 Yahoo 图表接口拉取复权日线收盘价。
type YahooSource struct {
	cfg    config.YahooConfig
	client *http.Client
	retry  *retrier
	logger *zap.Logger
}

// NewYahooSource 创建 Yahoo 行情源。
func NewYahooSource(cfg config.YahooConfig, logger *zap.Logger) *YahooSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &YahooSource{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		retry:  newRetrier(cfg.Retry, classifyHTTPError, logger),
		logger: logger,
	}
}

// Fetch 拉取 [start, end) 区间的日线，优先使用复权收盘价。
func (s *YahooSource) Fetch(ctx context.Context, instrument string, start, end time.Time) (PriceSeries, error) {
	endpoint, err := s.chartURL(instrument, start, end)
	if err != nil {
		return PriceSeries{}, err
	}

	var body []byte
	err = s.retry.do(ctx, "yahoo_chart", func() error {
		data, reqErr := s.get(ctx, instrument, endpoint)
		if reqErr != nil {
			return reqErr
		}
		body = data
		return nil
	})
	if err != nil {
		return PriceSeries{}, fmt.Errorf("%w: %s: %v", ErrDataUnavailable, instrument, err)
	}

	points, err := parseYahooChart(body)
	if err != nil {
		return PriceSeries{}, fmt.Errorf("%w: %s: %v", ErrDataUnavailable, instrument, err)
	}

	series := NewPriceSeries(instrument, normalizePoints(points)).Window(start, end)
	if err := series.Validate(); err != nil {
		return PriceSeries{}, err
	}

	s.logger.Debug("Yahoo 日线拉取完成",
		zap.String("instrument", instrument),
		zap.Int("points", series.Len()),
	)
	return series, nil
}

func (s *YahooSource) chartURL(instrument string, start, end time.Time) (string, error) {
	base, err := url.Parse(strings.TrimRight(s.cfg.BaseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("market: 解析 yahoo base_url 失败: %w", err)
	}
	base.Path += "/v8/finance/chart/" + url.PathEscape(strings.ToUpper(instrument))

	if end.IsZero() {
		end = time.Now().UTC()
	}
	q := url.Values{}
	q.Set("period1", fmt.Sprintf("%d", start.Unix()))
	q.Set("period2", fmt.Sprintf("%d", end.Unix()))
	q.Set("interval", "1d")
	q.Set("events", "div,splits")
	base.RawQuery = q.Encode()
	return base.String(), nil
}

func (s *YahooSource) get(ctx context.Context, instrument, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Referer", fmt.Sprintf("https://finance.yahoo.com/quote/%s/chart", strings.ToUpper(instrument)))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取 yahoo 响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		preview := string(body)
		if len(preview) > 120 {
			preview = preview[:120]
		}
		return nil, &httpStatusError{status: resp.StatusCode, preview: preview}
	}
	return body, nil
}

func parseYahooChart(body []byte) ([]Point, error) {
	if strings.HasPrefix(strings.TrimSpace(string(body)), "<") {
		return nil, errors.New("yahoo 返回非 JSON 内容")
	}

	var yc yahooChartResp
	if err := json.Unmarshal(body, &yc); err != nil {
		return nil, fmt.Errorf("解析 yahoo json 失败: %w", err)
	}
	if yc.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo 错误 %s: %s", yc.Chart.Error.Code, yc.Chart.Error.Description)
	}
	if len(yc.Chart.Result) == 0 {
		return nil, errors.New("yahoo 无数据")
	}

	result := yc.Chart.Result[0]
	var closes []*float64
	if len(result.Indicators.AdjClose) > 0 && len(result.Indicators.AdjClose[0].AdjClose) > 0 {
		closes = result.Indicators.AdjClose[0].AdjClose
	} else if len(result.Indicators.Quote) > 0 {
		closes = result.Indicators.Quote[0].Close
	}
	if len(result.Timestamp) == 0 || len(closes) == 0 {
		return nil, errors.New("yahoo 日线为空")
	}

	points := make([]Point, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(closes) || closes[i] == nil {
			continue
		}
		day := time.Unix(ts, 0).UTC().Truncate(24 * time.Hour)
		points = append(points, Point{Timestamp: day, Price: *closes[i]})
	}
	if len(points) == 0 {
		return nil, errors.New("yahoo 无有效收盘价")
	}
	return points, nil
}

func classifyHTTPError(err error) (error, bool) {
	if err == nil {
		return nil, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err, false
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return err, statusErr.status == http.StatusTooManyRequests || statusErr.status >= http.StatusInternalServerError
	}

	// 其余为传输层错误，统一重试
	return err, true
}
