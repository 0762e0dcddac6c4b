package backtest

import (
	"fmt"
	"time"

	"momentum-backtest/internal/strategy"
)

// Config 定义一次批量回测的参数。
type Config struct {
	Instruments []string      // 标的列表
	Start       time.Time     // 开始日期（由行情源解释）
	End         time.Time     // 结束日期（由行情源解释）
	Commission  float64       // 每次换仓按成交价收取的比例手续费
	Strategy    strategy.Kind // 为空时使用动量策略
	Lookbacks   []int         // 动量策略的候选回看窗口，按顺序评估
	Fast        int           // 均线交叉的快线窗口
	Slow        int           // 均线交叉的慢线窗口
	Workers     int           // 并行优化的标的数量上限
}

func (c *Config) validate() error {
	if len(c.Instruments) == 0 {
		return fmt.Errorf("backtest: 标的列表不能为空")
	}
	if c.Commission < 0 {
		return fmt.Errorf("backtest: 手续费不能为负, got %g", c.Commission)
	}
	switch c.Strategy {
	case "", strategy.KindMomentum:
		if len(c.Lookbacks) == 0 {
			return fmt.Errorf("backtest: 回看窗口网格不能为空")
		}
	case strategy.KindMACrossover:
		if c.Fast < 1 || c.Slow <= c.Fast {
			return fmt.Errorf("backtest: 均线窗口需满足 1 <= fast < slow, got %d/%d", c.Fast, c.Slow)
		}
	default:
		return fmt.Errorf("backtest: 不支持的策略 %q", c.Strategy)
	}
	return nil
}

func (c *Config) normalize() Config {
	cfg := *c
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Strategy == "" {
		cfg.Strategy = strategy.KindMomentum
	}
	return cfg
}
