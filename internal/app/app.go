package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"momentum-backtest/internal/backtest"
	"momentum-backtest/internal/config"
	"momentum-backtest/internal/market"
	"momentum-backtest/internal/monitor"
	"momentum-backtest/internal/portfolio"
	"momentum-backtest/internal/report"
	"momentum-backtest/internal/store"
	"momentum-backtest/internal/strategy"
)

// Notifier 推送批次报告。
type Notifier interface {
	Notify(ctx context.Context, summary string, charts []report.Chart) error
}

// Narrator 为文本报告生成点评。
type Narrator interface {
	Narrate(ctx context.Context, summary string) (string, error)
}

// App 聚合核心依赖并驱动一次批量回测。
type App struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *store.Store
	source   market.Source
	notifier Notifier
	narrator Narrator
}

// Option 调整 App 的可替换依赖。
type Option func(*App)

// WithSource 替换配置指定的行情源。
func WithSource(source market.Source) Option {
	return func(a *App) { a.source = source }
}

// WithNotifier 替换配置指定的推送器。
func WithNotifier(n Notifier) Option {
	return func(a *App) { a.notifier = n }
}

// WithNarrator 替换配置指定的点评生成器。
func WithNarrator(n Narrator) Option {
	return func(a *App) { a.narrator = n }
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store, opts ...Option) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run 拉取行情、逐标的优化、聚合组合并输出报告。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("回测系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("source", a.cfg.Source.Provider),
		zap.Strings("instruments", a.cfg.Backtest.Instruments),
	)

	source := a.source
	if source == nil {
		var err error
		source, err = newSource(a.cfg.Source, a.logger)
		if err != nil {
			return err
		}
		if a.cfg.Source.Cache && !strings.EqualFold(a.cfg.Source.Provider, config.ProviderCSV) && a.store != nil {
			cached, err := market.NewCachedSource(ctx, source, a.store, a.logger)
			if err != nil {
				return err
			}
			source = cached
		}
	}

	monitorSvc, err := monitor.NewService(a.store, "", a.logger)
	if err != nil {
		return fmt.Errorf("初始化监控服务失败: %w", err)
	}

	engineCfg := engineConfig(a.cfg.Backtest)
	engine, err := backtest.NewEngine(engineCfg, source, a.logger)
	if err != nil {
		return fmt.Errorf("初始化回测引擎失败: %w", err)
	}

	a.logger.Info("开始批量回测",
		zap.String("batch", monitorSvc.Batch()),
		zap.String("strategy", string(engineCfg.Strategy)),
		zap.Int("candidates", len(engineCfg.Lookbacks)),
		zap.Float64("commission", engineCfg.Commission),
	)

	batch, runErr := engine.Run(ctx)
	if runErr != nil && !errors.Is(runErr, portfolio.ErrNoInstruments) && !errors.Is(runErr, portfolio.ErrNoOverlap) {
		monitorSvc.RecordError(ctx, "批量回测失败", runErr, nil)
		return fmt.Errorf("批量回测失败: %w", runErr)
	}

	for _, result := range batch.Instruments {
		monitorSvc.RecordInstrument(ctx, result)
		a.logger.Info(result.String())
	}

	if runErr != nil {
		monitorSvc.RecordError(ctx, "组合聚合失败", runErr, map[string]interface{}{
			"excluded": excludedNames(batch),
		})
		return fmt.Errorf("组合聚合失败: %w", runErr)
	}
	monitorSvc.RecordPortfolio(ctx, batch)

	if err := batch.Err(); err != nil {
		a.logger.Warn("部分标的已剔除", zap.Strings("excluded", excludedNames(batch)), zap.Error(err))
	}

	return a.publish(ctx, batch)
}

func (a *App) publish(ctx context.Context, batch backtest.BatchResult) error {
	summary := a.narrate(ctx, report.Summary(batch))

	var portfolioCharts []report.Chart
	if a.cfg.Report.OutputDir != "" {
		if err := os.MkdirAll(a.cfg.Report.OutputDir, 0o755); err != nil {
			return fmt.Errorf("创建报告目录失败: %w", err)
		}
		path := filepath.Join(a.cfg.Report.OutputDir, "summary.txt")
		if err := os.WriteFile(path, []byte(summary), 0o644); err != nil {
			return fmt.Errorf("写入报告失败: %w", err)
		}
		a.logger.Info("文本报告已生成", zap.String("path", path))
	}

	if a.cfg.Report.Charts {
		charts, err := report.NewRenderer(0, 0).Render(batch)
		if err != nil {
			a.logger.Warn("部分图表渲染失败", zap.Error(err))
		}
		paths, err := report.WriteCharts(a.cfg.Report.OutputDir, charts)
		if err != nil {
			return err
		}
		a.logger.Info("图表已生成", zap.Int("count", len(paths)), zap.String("dir", a.cfg.Report.OutputDir))

		for _, c := range charts {
			if strings.HasPrefix(c.Name, "portfolio_") {
				portfolioCharts = append(portfolioCharts, c)
			}
		}
	}

	notifier := a.notifier
	if notifier == nil && a.cfg.Report.Telegram.Enabled {
		tg, err := report.NewTelegramNotifier(a.cfg.Report.Telegram, a.logger)
		if err != nil {
			return err
		}
		notifier = tg
	}
	if notifier != nil {
		if err := notifier.Notify(ctx, summary, portfolioCharts); err != nil {
			a.logger.Warn("推送回测报告失败", zap.Error(err))
		}
	}

	a.logger.Info("批量回测完成",
		zap.Int("included", len(batch.Included())),
		zap.Int("excluded", len(batch.Instruments)-len(batch.Included())),
		zap.Float64("portfolio_equity", batch.Portfolio.FinalEquity()),
	)
	return nil
}

// narrate 在启用时附加点评，生成失败只记录告警。
func (a *App) narrate(ctx context.Context, summary string) string {
	narrator := a.narrator
	if narrator == nil && a.cfg.Report.Narrative.Enabled {
		n, err := report.NewNarrator(a.cfg.Report.Narrative, a.logger)
		if err != nil {
			a.logger.Warn("初始化回测点评失败", zap.Error(err))
			return summary
		}
		narrator = n
	}
	if narrator == nil {
		return summary
	}

	text, err := narrator.Narrate(ctx, summary)
	if err != nil {
		a.logger.Warn("生成回测点评失败", zap.Error(err))
		return summary
	}
	return report.WithNarrative(summary, text)
}

func newSource(cfg config.SourceConfig, logger *zap.Logger) (market.Source, error) {
	switch strings.ToLower(cfg.Provider) {
	case config.ProviderExchange:
		src, err := market.NewExchangeSource(cfg.Exchange, logger)
		if err != nil {
			return nil, fmt.Errorf("初始化交易所行情源失败: %w", err)
		}
		return src, nil
	case config.ProviderYahoo:
		return market.NewYahooSource(cfg.Yahoo, logger), nil
	case config.ProviderCSV:
		return market.NewCSVSource(cfg.CSV.Dir), nil
	default:
		return nil, fmt.Errorf("不支持的行情源: %q", cfg.Provider)
	}
}

func engineConfig(cfg config.BacktestConfig) backtest.Config {
	out := backtest.Config{
		Instruments: cfg.Instruments,
		Start:       cfg.Start,
		End:         cfg.End,
		Commission:  cfg.Commission,
		Strategy:    strategy.Kind(cfg.Strategy),
		Workers:     cfg.Workers,
	}
	if out.Strategy == strategy.KindMACrossover {
		out.Fast, out.Slow = cfg.MA.Fast, cfg.MA.Slow
	} else {
		out.Lookbacks = lookbackGrid(cfg)
	}
	return out
}

func lookbackGrid(cfg config.BacktestConfig) []int {
	if len(cfg.Lookbacks) > 0 {
		return append([]int(nil), cfg.Lookbacks...)
	}
	return backtest.LookbackGrid(cfg.Lookback.Min, cfg.Lookback.Max, cfg.Lookback.Step)
}

func excludedNames(batch backtest.BatchResult) []string {
	var names []string
	for _, r := range batch.Instruments {
		if r.Excluded() {
			names = append(names, r.Instrument)
		}
	}
	return names
}
