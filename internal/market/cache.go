package market

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"momentum-backtest/internal/store"
)

// CachedSource 将下游行情源的结果按 (标的, 区间) 缓存到 SQLite。
// 只有完整覆盖请求区间的历史拉取才会命中缓存；零值边界的请求直接透传。
type CachedSource struct {
	next   Source
	store  *store.Store
	logger *zap.Logger
}

// NewCachedSource 创建带缓存的行情源并初始化表结构。
func NewCachedSource(ctx context.Context, next Source, st *store.Store, logger *zap.Logger) (*CachedSource, error) {
	if next == nil {
		return nil, errors.New("market: 下游行情源不能为空")
	}
	if st == nil {
		return nil, errors.New("market: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := st.EnsureSchema(ctx,
		`CREATE TABLE IF NOT EXISTS price_cache (
	instrument TEXT NOT NULL,
	ts INTEGER NOT NULL,
	price REAL,
	PRIMARY KEY (instrument, ts)
)`,
		`CREATE TABLE IF NOT EXISTS price_cache_ranges (
	instrument TEXT NOT NULL,
	start_ts INTEGER NOT NULL,
	end_ts INTEGER NOT NULL,
	fetched_at TEXT NOT NULL,
	PRIMARY KEY (instrument, start_ts, end_ts)
)`,
	); err != nil {
		return nil, fmt.Errorf("market: 初始化价格缓存失败: %w", err)
	}

	return &CachedSource{next: next, store: st, logger: logger}, nil
}

// Fetch 优先读取缓存，未命中时请求下游并写回。
func (c *CachedSource) Fetch(ctx context.Context, instrument string, start, end time.Time) (PriceSeries, error) {
	if start.IsZero() || end.IsZero() {
		return c.next.Fetch(ctx, instrument, start, end)
	}

	hit, err := c.covered(ctx, instrument, start, end)
	if err != nil {
		c.logger.Warn("读取价格缓存失败，回退到行情源", zap.String("instrument", instrument), zap.Error(err))
	}
	if hit {
		series, err := c.load(ctx, instrument, start, end)
		if err == nil && series.Validate() == nil {
			c.logger.Debug("价格缓存命中", zap.String("instrument", instrument), zap.Int("points", series.Len()))
			return series, nil
		}
		if err != nil {
			c.logger.Warn("加载价格缓存失败，回退到行情源", zap.String("instrument", instrument), zap.Error(err))
		}
	}

	series, err := c.next.Fetch(ctx, instrument, start, end)
	if err != nil {
		return PriceSeries{}, err
	}
	if err := c.save(ctx, instrument, series, start, end); err != nil {
		c.logger.Warn("写入价格缓存失败", zap.String("instrument", instrument), zap.Error(err))
	}
	return series, nil
}

func (c *CachedSource) covered(ctx context.Context, instrument string, start, end time.Time) (bool, error) {
	var count int
	err := c.store.DB().QueryRowContext(ctx,
		`SELECT COUNT(1) FROM price_cache_ranges WHERE instrument = ? AND start_ts <= ? AND end_ts >= ?`,
		instrument, start.UTC().Unix(), end.UTC().Unix(),
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (c *CachedSource) load(ctx context.Context, instrument string, start, end time.Time) (PriceSeries, error) {
	rows, err := c.store.DB().QueryContext(ctx,
		`SELECT ts, price FROM price_cache WHERE instrument = ? AND ts >= ? AND ts < ? ORDER BY ts`,
		instrument, start.UTC().Unix(), end.UTC().Unix(),
	)
	if err != nil {
		return PriceSeries{}, err
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var (
			ts    int64
			price sql.NullFloat64
		)
		if err := rows.Scan(&ts, &price); err != nil {
			return PriceSeries{}, err
		}
		// SQLite 将 NaN 存为 NULL
		p := math.NaN()
		if price.Valid {
			p = price.Float64
		}
		points = append(points, Point{Timestamp: time.Unix(ts, 0), Price: p})
	}
	if err := rows.Err(); err != nil {
		return PriceSeries{}, err
	}
	return NewPriceSeries(instrument, points), nil
}

func (c *CachedSource) save(ctx context.Context, instrument string, series PriceSeries, start, end time.Time) error {
	return c.store.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT OR REPLACE INTO price_cache (instrument, ts, price) VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, ts := range series.Timestamps {
			var price interface{}
			if !math.IsNaN(series.Prices[i]) {
				price = series.Prices[i]
			}
			if _, err := stmt.ExecContext(ctx, instrument, ts.UTC().Unix(), price); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO price_cache_ranges (instrument, start_ts, end_ts, fetched_at) VALUES (?, ?, ?, ?)`,
			instrument, start.UTC().Unix(), end.UTC().Unix(), time.Now().UTC().Format(time.RFC3339),
		)
		return err
	})
}
