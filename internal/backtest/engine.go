package backtest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"momentum-backtest/internal/market"
	"momentum-backtest/internal/portfolio"
	"momentum-backtest/internal/strategy"
)

// InstrumentResult 为单一标的的优化结果或剔除原因。
type InstrumentResult struct {
	Instrument   string
	Optimization OptimizationResult
	Metrics      Metrics
	Err          error
}

// Excluded 表示该标的未进入组合聚合。
func (r InstrumentResult) Excluded() bool {
	return r.Err != nil
}

func (r InstrumentResult) String() string {
	switch {
	case r.Err == nil && r.Optimization.Strategy == strategy.KindMACrossover:
		return fmt.Sprintf("%s: MA %d/%d, Sharpe = %.3f", r.Instrument, r.Optimization.Fast, r.Optimization.Slow, r.Optimization.Sharpe)
	case r.Err == nil:
		return fmt.Sprintf("%s: best n = %d, Sharpe = %.3f", r.Instrument, r.Optimization.Lookback, r.Optimization.Sharpe)
	case errors.Is(r.Err, strategy.ErrInsufficientData):
		return fmt.Sprintf("%s: excluded: insufficient data", r.Instrument)
	case errors.Is(r.Err, ErrNoViableParameter):
		return fmt.Sprintf("%s: excluded: no viable parameter", r.Instrument)
	case errors.Is(r.Err, market.ErrDataUnavailable):
		return fmt.Sprintf("%s: excluded: data unavailable", r.Instrument)
	default:
		return fmt.Sprintf("%s: excluded: %v", r.Instrument, r.Err)
	}
}

// BatchResult 汇总批量回测结果。
type BatchResult struct {
	Instruments      []InstrumentResult
	Portfolio        portfolio.Portfolio
	PortfolioMetrics Metrics
}

// Included 返回参与组合聚合的标的。
func (b BatchResult) Included() []InstrumentResult {
	out := make([]InstrumentResult, 0, len(b.Instruments))
	for _, r := range b.Instruments {
		if !r.Excluded() {
			out = append(out, r)
		}
	}
	return out
}

// Err 合并所有被剔除标的的原因，全部成功时返回 nil。
func (b BatchResult) Err() error {
	var err error
	for _, r := range b.Instruments {
		if r.Err != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", r.Instrument, r.Err))
		}
	}
	return err
}

// Engine 按标的并行执行取数与参数优化，随后汇总为等权组合。
type Engine struct {
	cfg    Config
	source market.Source
	logger *zap.Logger
}

// NewEngine 构建批量回测引擎。
func NewEngine(cfg Config, source market.Source, logger *zap.Logger) (*Engine, error) {
	if source == nil {
		return nil, fmt.Errorf("backtest: source 不能为空")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		cfg:    cfg.normalize(),
		source: source,
		logger: logger,
	}, nil
}

// Run 执行完整批量回测。单个标的失败只会被剔除；若无标的存活则返回 portfolio.ErrNoInstruments。
func (e *Engine) Run(ctx context.Context) (BatchResult, error) {
	results := make([]InstrumentResult, len(e.cfg.Instruments))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.cfg.Workers)

	for i, instrument := range e.cfg.Instruments {
		group.Go(func() error {
			results[i] = e.runInstrument(groupCtx, instrument)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return BatchResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return BatchResult{}, err
	}

	batch := BatchResult{Instruments: results}

	returns := make(map[string]portfolio.ReturnSeries, len(results))
	for _, r := range results {
		if r.Excluded() {
			continue
		}
		returns[r.Instrument] = portfolio.FromRun(r.Optimization.Run)
	}

	pf, err := portfolio.Aggregate(returns)
	if err != nil {
		e.logger.Error("组合聚合失败",
			zap.Int("instruments", len(results)),
			zap.Int("included", len(returns)),
			zap.Error(err),
		)
		return batch, err
	}

	batch.Portfolio = pf
	batch.PortfolioMetrics = CalculateMetrics(pf.Equity, pf.PortfolioReturns)

	e.logger.Info("组合聚合完成",
		zap.Strings("instruments", pf.Instruments),
		zap.Int("rows", len(pf.Timestamps)),
		zap.Float64("final_equity", pf.FinalEquity()),
		zap.Float64("sharpe", batch.PortfolioMetrics.SharpeRatio),
	)

	return batch, nil
}

func (e *Engine) runInstrument(ctx context.Context, instrument string) InstrumentResult {
	result := InstrumentResult{Instrument: instrument}

	series, err := e.source.Fetch(ctx, instrument, e.cfg.Start, e.cfg.End)
	if err == nil {
		err = series.Validate()
	}
	if err != nil {
		if !errors.Is(err, market.ErrDataUnavailable) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %v", market.ErrDataUnavailable, err)
		}
		e.logger.Warn("获取行情失败，剔除该标的", zap.String("instrument", instrument), zap.Error(err))
		result.Err = err
		return result
	}

	if e.cfg.Strategy == strategy.KindMACrossover {
		return e.runCrossover(series, result)
	}

	opt, err := Optimize(series, e.cfg.Lookbacks, e.cfg.Commission)
	result.Optimization = opt
	if err != nil {
		e.logger.Warn("参数优化无可用结果，剔除该标的",
			zap.String("instrument", instrument),
			zap.Int("points", series.Len()),
			zap.Int("candidates", len(e.cfg.Lookbacks)),
			zap.Error(err),
		)
		result.Err = err
		return result
	}

	result.Metrics = CalculateMetrics(opt.Run.Equity, opt.Run.ReturnPct)
	e.logger.Info("参数优化完成",
		zap.String("instrument", instrument),
		zap.Int("best_n", opt.Lookback),
		zap.Float64("sharpe", opt.Sharpe),
		zap.Float64("final_equity", opt.Run.FinalEquity()),
		zap.Int("trades", opt.Run.Trades()),
	)
	return result
}

func (e *Engine) runCrossover(series market.PriceSeries, result InstrumentResult) InstrumentResult {
	opt, err := RunMACrossover(series, e.cfg.Fast, e.cfg.Slow, e.cfg.Commission)
	result.Optimization = opt
	if err != nil {
		e.logger.Warn("均线交叉回测失败，剔除该标的",
			zap.String("instrument", series.Instrument),
			zap.Int("points", series.Len()),
			zap.Int("slow", e.cfg.Slow),
			zap.Error(err),
		)
		result.Err = err
		return result
	}

	result.Metrics = CalculateMetrics(opt.Run.Equity, opt.Run.ReturnPct)
	e.logger.Info("均线交叉回测完成",
		zap.String("instrument", series.Instrument),
		zap.Int("fast", opt.Fast),
		zap.Int("slow", opt.Slow),
		zap.Float64("sharpe", opt.Sharpe),
		zap.Float64("final_equity", opt.Run.FinalEquity()),
		zap.Int("trades", opt.Run.Trades()),
	)
	return result
}
