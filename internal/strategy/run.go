package strategy

import (
	"errors"
	"math"
	"time"

	"momentum-backtest/internal/market"
)

// ErrInsufficientData 表示价格序列短于回看窗口要求。
var ErrInsufficientData = errors.New("strategy: 价格数据不足")

// Kind 标识生成信号的策略。
type Kind string

const (
	// KindMomentum 为 price[t]-price[t-n] 的动量规则。
	KindMomentum Kind = "momentum"
	// KindMACrossover 为只做多的均线交叉规则：快线高于慢线时持有。
	KindMACrossover Kind = "ma_crossover"
)

// Run 为一次 (标的, 策略参数, 手续费) 组合的逐日回测结果，构造后只读。
type Run struct {
	Instrument string
	Strategy   Kind
	// Lookback 仅对动量策略有效。
	Lookback int
	// Fast、Slow 仅对均线交叉策略有效。
	Fast       int
	Slow       int
	Commission float64

	Timestamps []time.Time
	Prices     []float64
	// Momentum 仅动量策略填充。
	Momentum    []float64
	Signals     []Signal
	TradeCost   []float64
	DailyChange []float64
	DailyProfit []float64
	ReturnPct   []float64
	Equity      []float64
}

// NewRun 计算动量信号、含手续费的逐日损益、收益率与复利净值。
//
// 首行没有前一日价格与信号：不计手续费，收益率为 0。
// 非有限价格不做拒绝，NaN 会沿派生字段传播。
func NewRun(series market.PriceSeries, n int, commission float64) (Run, error) {
	momentum, err := Momentum(series.Prices, n)
	if err != nil {
		return Run{}, err
	}

	run := newRun(series, Signals(momentum), commission)
	run.Strategy = KindMomentum
	run.Lookback = n
	run.Momentum = momentum
	return run, nil
}

// NewMACrossoverRun 以 SMA(fast) 与 SMA(slow) 的交叉信号回测，
// 收益率等价于 pct_change 乘以前一日信号，换仓手续费与动量策略一致。
func NewMACrossoverRun(series market.PriceSeries, fast, slow int, commission float64) (Run, error) {
	signals, err := MACrossover(series.Prices, fast, slow)
	if err != nil {
		return Run{}, err
	}

	run := newRun(series, signals, commission)
	run.Strategy = KindMACrossover
	run.Fast = fast
	run.Slow = slow
	return run, nil
}

func newRun(series market.PriceSeries, signals []Signal, commission float64) Run {
	length := series.Len()
	run := Run{
		Instrument:  series.Instrument,
		Commission:  commission,
		Timestamps:  append([]time.Time(nil), series.Timestamps...),
		Prices:      append([]float64(nil), series.Prices...),
		Signals:     signals,
		TradeCost:   make([]float64, length),
		DailyChange: make([]float64, length),
		DailyProfit: make([]float64, length),
		ReturnPct:   make([]float64, length),
		Equity:      make([]float64, length),
	}

	equity := 1.0
	for t := 0; t < length; t++ {
		if t > 0 {
			price, prevPrice := run.Prices[t], run.Prices[t-1]
			if signals[t] != signals[t-1] {
				run.TradeCost[t] = price * commission
			}
			run.DailyChange[t] = price - prevPrice
			run.DailyProfit[t] = run.DailyChange[t]*float64(signals[t-1]) - run.TradeCost[t]
			run.ReturnPct[t] = returnOn(run.DailyProfit[t], prevPrice)
		}
		equity *= 1 + run.ReturnPct[t]
		run.Equity[t] = equity
	}

	return run
}

// returnOn 将损益折算为相对前一日价格的收益率，除零导致的无穷或 0/0 记为 0。
func returnOn(profit, prevPrice float64) float64 {
	if prevPrice == 0 && profit == 0 {
		return 0
	}
	r := profit / prevPrice
	if math.IsInf(r, 0) {
		return 0
	}
	return r
}

// Len 返回逐日记录数。
func (r Run) Len() int {
	return len(r.ReturnPct)
}

// FinalEquity 返回期末净值，空结果返回 NaN。
func (r Run) FinalEquity() float64 {
	if len(r.Equity) == 0 {
		return math.NaN()
	}
	return r.Equity[len(r.Equity)-1]
}

// Trades 统计信号变化（即发生交易）的次数，不含首行。
func (r Run) Trades() int {
	count := 0
	for t := 1; t < len(r.Signals); t++ {
		if r.Signals[t] != r.Signals[t-1] {
			count++
		}
	}
	return count
}
