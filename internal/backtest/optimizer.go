package backtest

import (
	"errors"
	"fmt"
	"math"

	"momentum-backtest/internal/market"
	"momentum-backtest/internal/strategy"
)

// ErrNoViableParameter 表示网格中没有任何回看窗口可以被评估。
var ErrNoViableParameter = errors.New("backtest: 无可用参数")

// Trial 记录单个候选窗口的评估结果。
type Trial struct {
	Lookback  int
	Sharpe    float64
	Evaluable bool
	Reason    string
}

// OptimizationResult 为单一标的的最优参数及其回测结果。
// 均线交叉策略不做网格搜索，Trials 为空，样本不可评估时 Sharpe 为 NaN。
type OptimizationResult struct {
	Instrument string
	Strategy   strategy.Kind
	Lookback   int
	Fast       int
	Slow       int
	Sharpe     float64
	Run        strategy.Run
	Trials     []Trial
}

// Optimize 按 lookbacks 顺序逐一回测，选取夏普比率严格最大的窗口，相等时保留先出现者。
func Optimize(series market.PriceSeries, lookbacks []int, commission float64) (OptimizationResult, error) {
	result := OptimizationResult{
		Instrument: series.Instrument,
		Strategy:   strategy.KindMomentum,
		Sharpe:     math.Inf(-1),
		Trials:     make([]Trial, 0, len(lookbacks)),
	}
	found := false

	for _, n := range lookbacks {
		run, err := strategy.NewRun(series, n, commission)
		if err != nil {
			result.Trials = append(result.Trials, Trial{Lookback: n, Reason: err.Error()})
			continue
		}

		sharpe, err := Evaluate(run.ReturnPct)
		if err != nil {
			result.Trials = append(result.Trials, Trial{Lookback: n, Reason: err.Error()})
			continue
		}
		result.Trials = append(result.Trials, Trial{Lookback: n, Sharpe: sharpe, Evaluable: true})

		if sharpe > result.Sharpe {
			result.Sharpe = sharpe
			result.Lookback = n
			result.Run = run
			found = true
		}
	}

	if !found {
		return result, fmt.Errorf("%w: %s (候选 %d 个)", ErrNoViableParameter, series.Instrument, len(lookbacks))
	}
	return result, nil
}

// LookbackGrid 生成 [min, max] 之间步长为 step 的回看窗口。
func LookbackGrid(min, max, step int) []int {
	if step < 1 || min < 1 || max < min {
		return nil
	}
	grid := make([]int, 0, (max-min)/step+1)
	for n := min; n <= max; n += step {
		grid = append(grid, n)
	}
	return grid
}

// RunMACrossover 以固定的快慢均线窗口回测单一标的。数据不足时返回 strategy.ErrInsufficientData。
func RunMACrossover(series market.PriceSeries, fast, slow int, commission float64) (OptimizationResult, error) {
	result := OptimizationResult{
		Instrument: series.Instrument,
		Strategy:   strategy.KindMACrossover,
		Fast:       fast,
		Slow:       slow,
		Sharpe:     math.NaN(),
	}

	run, err := strategy.NewMACrossoverRun(series, fast, slow, commission)
	if err != nil {
		return result, err
	}
	result.Run = run

	if sharpe, err := Evaluate(run.ReturnPct); err == nil {
		result.Sharpe = sharpe
	}
	return result, nil
}
