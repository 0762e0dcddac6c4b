package market

import (
	"errors"
	"fmt"
	"time"
)

// ErrDataUnavailable 表示行情源无法提供该标的的价格序列。
var ErrDataUnavailable = errors.New("market: 行情数据不可用")

// Point 为单个交易日的收盘价。
type Point struct {
	Timestamp time.Time
	Price     float64
}

// PriceSeries 为单一标的按时间升序排列的收盘价序列。
type PriceSeries struct {
	Instrument string
	Timestamps []time.Time
	Prices     []float64
}

// NewPriceSeries 从价格点创建 PriceSeries，时间统一为 UTC。
func NewPriceSeries(instrument string, points []Point) PriceSeries {
	series := PriceSeries{
		Instrument: instrument,
		Timestamps: make([]time.Time, len(points)),
		Prices:     make([]float64, len(points)),
	}
	for i, p := range points {
		series.Timestamps[i] = p.Timestamp.UTC()
		series.Prices[i] = p.Price
	}
	return series
}

// Len 返回序列长度。
func (s PriceSeries) Len() int {
	return len(s.Prices)
}

// Validate 校验序列非空、长度一致且时间严格递增。
func (s PriceSeries) Validate() error {
	if len(s.Prices) == 0 {
		return fmt.Errorf("%w: %s 价格序列为空", ErrDataUnavailable, s.Instrument)
	}
	if len(s.Timestamps) != len(s.Prices) {
		return fmt.Errorf("market: %s 时间与价格数量不一致: %d vs %d", s.Instrument, len(s.Timestamps), len(s.Prices))
	}
	for i := 1; i < len(s.Timestamps); i++ {
		if !s.Timestamps[i].After(s.Timestamps[i-1]) {
			return fmt.Errorf("market: %s 时间戳未严格递增 (index %d: %s <= %s)",
				s.Instrument, i, s.Timestamps[i].Format(time.DateOnly), s.Timestamps[i-1].Format(time.DateOnly))
		}
	}
	return nil
}

// Window 返回 [start, end) 区间内的子序列，零值边界表示不限制。
func (s PriceSeries) Window(start, end time.Time) PriceSeries {
	out := PriceSeries{Instrument: s.Instrument}
	for i, ts := range s.Timestamps {
		if !start.IsZero() && ts.Before(start) {
			continue
		}
		if !end.IsZero() && !ts.Before(end) {
			continue
		}
		out.Timestamps = append(out.Timestamps, ts)
		out.Prices = append(out.Prices, s.Prices[i])
	}
	return out
}
