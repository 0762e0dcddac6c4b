package market

import (
	"context"
	"errors"
	"sort"
	"time"
)

// Source 根据标的与日期区间提供日线收盘价。
type Source interface {
	Fetch(ctx context.Context, instrument string, start, end time.Time) (PriceSeries, error)
}

// SourceFunc 允许使用函数作为行情源。
type SourceFunc func(ctx context.Context, instrument string, start, end time.Time) (PriceSeries, error)

func (f SourceFunc) Fetch(ctx context.Context, instrument string, start, end time.Time) (PriceSeries, error) {
	if f == nil {
		return PriceSeries{}, errors.New("market: 行情函数未实现")
	}
	return f(ctx, instrument, start, end)
}

// normalizePoints 按时间升序排列并去除重复时间戳，保留首次出现的值。
func normalizePoints(points []Point) []Point {
	if len(points) < 2 {
		return points
	}
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
	out := points[:1]
	for _, p := range points[1:] {
		if p.Timestamp.After(out[len(out)-1].Timestamp) {
			out = append(out, p)
		}
	}
	return out
}
