package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"momentum-backtest/internal/backtest"
	"momentum-backtest/internal/store"
)

// Service 负责持久化一次批量回测的事件。
type Service struct {
	store  *store.Store
	db     *sql.DB
	batch  string
	logger *zap.Logger
}

// NewService 初始化监控服务，创建所需表结构。batch 用于区分不同批次。
func NewService(store *store.Store, batch string, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if batch == "" {
		batch = time.Now().UTC().Format("20060102T150405Z")
	}

	s := &Service{
		store:  store,
		db:     store.DB(),
		batch:  batch,
		logger: logger,
	}

	if err := s.initSchema(context.Background()); err != nil {
		return nil, err
	}

	return s, nil
}

// Batch 返回当前批次标识。
func (s *Service) Batch() string {
	return s.batch
}

func (s *Service) initSchema(ctx context.Context) error {
	if err := s.store.EnsureSchema(ctx,
		`CREATE TABLE IF NOT EXISTS monitor_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	batch TEXT NOT NULL,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events(event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_monitor_events_batch ON monitor_events(batch)`,
	); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	return nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Batch == "" {
		event.Batch = s.batch
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (batch, event_type, payload, created_at) VALUES (?, ?, ?, ?)`,
		event.Batch, string(event.Type), string(payload), event.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

// RecordInstrument 根据结果写入优化或剔除事件。
func (s *Service) RecordInstrument(ctx context.Context, result backtest.InstrumentResult) {
	if result.Excluded() {
		s.RecordExclusion(ctx, result.Instrument, result.Err)
		return
	}
	s.RecordOptimization(ctx, result)
}

// RecordOptimization 记录单一标的的最优参数。
func (s *Service) RecordOptimization(ctx context.Context, result backtest.InstrumentResult) {
	opt := result.Optimization
	trials := make([]TrialPayload, 0, len(opt.Trials))
	for _, t := range opt.Trials {
		trials = append(trials, TrialPayload{Lookback: t.Lookback, Sharpe: t.Sharpe, Evaluable: t.Evaluable})
	}

	payload := OptimizationPayload{
		Instrument:  result.Instrument,
		Strategy:    string(opt.Strategy),
		Lookback:    opt.Lookback,
		Fast:        opt.Fast,
		Slow:        opt.Slow,
		Sharpe:      jsonSafe(opt.Sharpe),
		FinalEquity: jsonSafe(opt.Run.FinalEquity()),
		TotalReturn: jsonSafe(result.Metrics.TotalReturn),
		MaxDrawdown: jsonSafe(result.Metrics.MaxDrawdown),
		Trades:      opt.Run.Trades(),
		Trials:      trials,
	}
	if err := s.Record(ctx, Event{Type: EventOptimization, Payload: payload}); err != nil {
		s.logger.Warn("记录优化事件失败", zap.Error(err))
	}
}

// RecordExclusion 记录被剔除的标的。
func (s *Service) RecordExclusion(ctx context.Context, instrument string, reason error) {
	payload := ExclusionPayload{Instrument: instrument}
	if reason != nil {
		payload.Reason = reason.Error()
	}
	if err := s.Record(ctx, Event{Type: EventExclusion, Payload: payload}); err != nil {
		s.logger.Warn("记录剔除事件失败", zap.Error(err))
	}
}

// RecordPortfolio 记录组合聚合结果。
func (s *Service) RecordPortfolio(ctx context.Context, batch backtest.BatchResult) {
	pf := batch.Portfolio
	if len(pf.Timestamps) == 0 {
		return
	}

	correlation := make([][]float64, len(pf.Correlation))
	for i, row := range pf.Correlation {
		correlation[i] = make([]float64, len(row))
		for j, v := range row {
			correlation[i][j] = jsonSafe(v)
		}
	}

	payload := PortfolioPayload{
		Instruments:       pf.Instruments,
		Rows:              len(pf.Timestamps),
		Start:             pf.Timestamps[0],
		End:               pf.Timestamps[len(pf.Timestamps)-1],
		FinalEquity:       jsonSafe(pf.FinalEquity()),
		FinalSummedEquity: jsonSafe(pf.SummedEquity[len(pf.SummedEquity)-1]),
		Sharpe:            jsonSafe(batch.PortfolioMetrics.SharpeRatio),
		MaxDrawdown:       jsonSafe(batch.PortfolioMetrics.MaxDrawdown),
		Correlation:       correlation,
	}
	if err := s.Record(ctx, Event{Type: EventPortfolio, Payload: payload}); err != nil {
		s.logger.Warn("记录组合事件失败", zap.Error(err))
	}
}

// RecordError 记录异常。
func (s *Service) RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{}) {
	payload := ErrorPayload{
		Message: msg,
		Error:   err.Error(),
		Context: ctxMap,
	}
	if recErr := s.Record(ctx, Event{Type: EventError, Payload: payload}); recErr != nil {
		s.logger.Warn("记录异常事件失败", zap.Error(recErr))
	}
}

// ListEvents 按类型检索当前批次的最近事件，eventType 为空时不过滤。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT batch, event_type, payload, created_at FROM monitor_events WHERE batch = ?`
	args := []interface{}{s.batch}
	if eventType != "" {
		query += ` AND event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			batch   string
			typ     string
			payload string
			created string
		)
		if scanErr := rows.Scan(&batch, &typ, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		events = append(events, Event{
			Type:      EventType(typ),
			Batch:     batch,
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}

// jsonSafe 将 NaN/Inf 置 0，encoding/json 无法编码非有限浮点数。
func jsonSafe(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
