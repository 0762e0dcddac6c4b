package market

import (
	"context"
	"time"

	"go.uber.org/zap"

	"momentum-backtest/internal/config"
)

// classifier 将原始错误归一化，并判断是否值得重试。
type classifier func(err error) (error, bool)

type retrier struct {
	cfg      config.RetryConfig
	classify classifier
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func newRetrier(cfg config.RetryConfig, classify classifier, logger *zap.Logger) *retrier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	return &retrier{cfg: cfg, classify: classify, logger: logger, sleep: sleepContext}
}

func (r *retrier) do(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := r.cfg.MinDelay

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("行情调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retry := r.classify(err)
		if !retry || attempt >= r.cfg.MaxAttempts {
			r.logger.Error("行情调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := delay
		if wait > r.cfg.MaxDelay {
			wait = r.cfg.MaxDelay
		}

		r.logger.Warn("行情调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		if err := r.sleep(ctx, wait); err != nil {
			return err
		}

		delay *= 2
		if delay > r.cfg.MaxDelay {
			delay = r.cfg.MaxDelay
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
