package strategy

import (
	"fmt"

	talib "github.com/markcheno/go-talib"
)

// Signal 为持仓方向：1 做多，-1 做空，0 空仓。
type Signal int

const (
	Short Signal = -1
	Flat  Signal = 0
	Long  Signal = 1
)

// Momentum 计算 price[t] - price[t-n]，前 n 行预热期取 0。
func Momentum(prices []float64, n int) ([]float64, error) {
	if n < 1 {
		return nil, fmt.Errorf("strategy: 回看窗口必须大于等于1, got %d", n)
	}
	if len(prices) < n+1 {
		return nil, fmt.Errorf("%w: 需要 %d 个价格, 实际 %d", ErrInsufficientData, n+1, len(prices))
	}
	return talib.Mom(prices, n), nil
}

// Signals 将动量映射为信号，动量为 0 或 NaN 时空仓。
func Signals(momentum []float64) []Signal {
	signals := make([]Signal, len(momentum))
	for i, m := range momentum {
		switch {
		case m > 0:
			signals[i] = Long
		case m < 0:
			signals[i] = Short
		default:
			signals[i] = Flat
		}
	}
	return signals
}
