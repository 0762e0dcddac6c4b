package monitor

import "time"

// EventType 表示监控事件类型。
type EventType string

const (
	EventOptimization EventType = "optimization"
	EventExclusion    EventType = "exclusion"
	EventPortfolio    EventType = "portfolio"
	EventError        EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Batch     string      `json:"batch"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TrialPayload 为单个候选窗口的评估。
type TrialPayload struct {
	Lookback  int     `json:"lookback"`
	Sharpe    float64 `json:"sharpe,omitempty"`
	Evaluable bool    `json:"evaluable"`
}

// OptimizationPayload 记录单一标的的最优参数。
type OptimizationPayload struct {
	Instrument  string         `json:"instrument"`
	Strategy    string         `json:"strategy"`
	Lookback    int            `json:"lookback,omitempty"`
	Fast        int            `json:"fast,omitempty"`
	Slow        int            `json:"slow,omitempty"`
	Sharpe      float64        `json:"sharpe"`
	FinalEquity float64        `json:"final_equity"`
	TotalReturn float64        `json:"total_return"`
	MaxDrawdown float64        `json:"max_drawdown"`
	Trades      int            `json:"trades"`
	Trials      []TrialPayload `json:"trials"`
}

// ExclusionPayload 记录被剔除的标的。
type ExclusionPayload struct {
	Instrument string `json:"instrument"`
	Reason     string `json:"reason"`
}

// PortfolioPayload 记录组合聚合结果。
type PortfolioPayload struct {
	Instruments       []string    `json:"instruments"`
	Rows              int         `json:"rows"`
	Start             time.Time   `json:"start"`
	End               time.Time   `json:"end"`
	FinalEquity       float64     `json:"final_equity"`
	FinalSummedEquity float64     `json:"final_summed_equity"`
	Sharpe            float64     `json:"sharpe"`
	MaxDrawdown       float64     `json:"max_drawdown"`
	Correlation       [][]float64 `json:"correlation"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
