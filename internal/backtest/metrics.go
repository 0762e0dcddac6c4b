package backtest

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	// MinObservations 为计算夏普比率所需的最少有限收益样本数。
	MinObservations = 30
	// TradingDaysPerYear 用于日收益年化。
	TradingDaysPerYear = 252
)

// ErrNotEvaluable 表示收益样本不足或方差为零，无法计算夏普比率。
var ErrNotEvaluable = errors.New("backtest: 收益序列不可评估")

// Evaluate 过滤非有限值后计算年化夏普比率 mean/std*sqrt(252)，std 为样本标准差。
func Evaluate(returns []float64) (float64, error) {
	finite := finiteValues(returns)
	if len(finite) < MinObservations {
		return 0, ErrNotEvaluable
	}
	if floats.Max(finite) == floats.Min(finite) {
		return 0, ErrNotEvaluable
	}

	mean, std := stat.MeanStdDev(finite, nil)
	if std == 0 || math.IsNaN(std) {
		return 0, ErrNotEvaluable
	}

	sharpe := mean / std * math.Sqrt(TradingDaysPerYear)
	if math.IsNaN(sharpe) || math.IsInf(sharpe, 0) {
		return 0, ErrNotEvaluable
	}
	return sharpe, nil
}

// Metrics 记录净值曲线的绩效指标。
type Metrics struct {
	TotalReturn float64
	MaxDrawdown float64
	SharpeRatio float64
	Evaluable   bool
}

// CalculateMetrics 基于复利净值（起点为 1）与日收益计算绩效。
func CalculateMetrics(equity []float64, returns []float64) Metrics {
	if len(equity) == 0 {
		return Metrics{}
	}

	final := equity[len(equity)-1]
	sharpe, err := Evaluate(returns)

	return Metrics{
		TotalReturn: final - 1,
		MaxDrawdown: computeDrawdown(equity),
		SharpeRatio: sharpe,
		Evaluable:   err == nil,
	}
}

func computeDrawdown(equity []float64) float64 {
	peak := 1.0
	maxDD := 0.0
	for _, v := range equity {
		if math.IsNaN(v) {
			continue
		}
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		dd := (v - peak) / peak
		if dd < maxDD {
			maxDD = dd
		}
	}
	return math.Abs(maxDD)
}

func finiteValues(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, v)
	}
	return out
}
