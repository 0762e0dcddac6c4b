package strategy

import (
	"fmt"

	talib "github.com/markcheno/go-talib"
)

// MACrossover 快线 SMA 高于慢线 SMA 时做多，否则空仓；慢线未满窗口前的 slow-1 行为空仓。
func MACrossover(prices []float64, fast, slow int) ([]Signal, error) {
	if fast < 1 || slow <= fast {
		return nil, fmt.Errorf("strategy: 均线窗口需满足 1 <= fast < slow, got %d/%d", fast, slow)
	}
	if len(prices) < slow {
		return nil, fmt.Errorf("%w: 需要 %d 个价格, 实际 %d", ErrInsufficientData, slow, len(prices))
	}

	fastMA := talib.Sma(prices, fast)
	slowMA := talib.Sma(prices, slow)

	signals := make([]Signal, len(prices))
	for t := slow - 1; t < len(prices); t++ {
		// NaN 比较恒为 false，落入空仓
		if fastMA[t] > slowMA[t] {
			signals[t] = Long
		}
	}
	return signals, nil
}
