package portfolio

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"momentum-backtest/internal/strategy"
)

var (
	// ErrNoInstruments 表示没有可聚合的标的。
	ErrNoInstruments = errors.New("portfolio: 无可聚合标的")
	// ErrNoOverlap 表示各标的收益序列没有共同的完整交易日。
	ErrNoOverlap = errors.New("portfolio: 标的收益序列无重叠日期")
)

// ReturnSeries 为单一标的按时间排列的日收益率。
type ReturnSeries struct {
	Timestamps []time.Time
	Returns    []float64
}

// FromRun 提取回测结果中的收益率序列。
func FromRun(run strategy.Run) ReturnSeries {
	return ReturnSeries{
		Timestamps: append([]time.Time(nil), run.Timestamps...),
		Returns:    append([]float64(nil), run.ReturnPct...),
	}
}

// Portfolio 为按日期内连接后的等权组合，构造后只读。
type Portfolio struct {
	Instruments []string
	Timestamps  []time.Time
	// Returns[row][col] 对应 Timestamps[row] 与 Instruments[col]。
	Returns          [][]float64
	PortfolioReturns []float64
	// Equity 为等权日收益的复利净值，是唯一有财务含义的组合曲线。
	Equity []float64
	// SummedEquity 为各标的独立复利净值的逐日求和，仅作对照。
	SummedEquity []float64
	Correlation  [][]float64
}

// Aggregate 按日期内连接各标的收益率，剔除含缺失值的整行，
// 计算等权组合净值、逐标的净值求和的对照曲线以及 Pearson 相关矩阵。
func Aggregate(series map[string]ReturnSeries) (Portfolio, error) {
	if len(series) == 0 {
		return Portfolio{}, ErrNoInstruments
	}

	instruments := make([]string, 0, len(series))
	for name := range series {
		instruments = append(instruments, name)
	}
	sort.Strings(instruments)

	timestamps, rows, err := innerJoin(instruments, series)
	if err != nil {
		return Portfolio{}, err
	}

	p := Portfolio{
		Instruments:      instruments,
		Timestamps:       timestamps,
		Returns:          rows,
		PortfolioReturns: make([]float64, len(rows)),
		Equity:           make([]float64, len(rows)),
		SummedEquity:     make([]float64, len(rows)),
	}

	equity := 1.0
	perInstrument := make([]float64, len(instruments))
	for i := range perInstrument {
		perInstrument[i] = 1
	}

	for r, row := range rows {
		p.PortfolioReturns[r] = stat.Mean(row, nil)
		equity *= 1 + p.PortfolioReturns[r]
		p.Equity[r] = equity

		total := 0.0
		for c, v := range row {
			perInstrument[c] *= 1 + v
			total += perInstrument[c]
		}
		p.SummedEquity[r] = total
	}

	p.Correlation = correlationMatrix(p)
	return p, nil
}

// Column 返回某一标的对齐后的收益率。
func (p Portfolio) Column(col int) []float64 {
	out := make([]float64, len(p.Returns))
	for r, row := range p.Returns {
		out[r] = row[col]
	}
	return out
}

// FinalEquity 返回等权组合期末净值。
func (p Portfolio) FinalEquity() float64 {
	if len(p.Equity) == 0 {
		return math.NaN()
	}
	return p.Equity[len(p.Equity)-1]
}

func innerJoin(instruments []string, series map[string]ReturnSeries) ([]time.Time, [][]float64, error) {
	lookup := make([]map[int64]float64, len(instruments))
	for i, name := range instruments {
		s := series[name]
		if len(s.Timestamps) != len(s.Returns) {
			return nil, nil, fmt.Errorf("portfolio: %s 时间与收益数量不一致: %d vs %d", name, len(s.Timestamps), len(s.Returns))
		}
		m := make(map[int64]float64, len(s.Timestamps))
		for j, ts := range s.Timestamps {
			key := ts.UnixNano()
			if _, dup := m[key]; dup {
				return nil, nil, fmt.Errorf("portfolio: %s 存在重复时间戳 %s", name, ts.UTC().Format(time.RFC3339))
			}
			m[key] = s.Returns[j]
		}
		lookup[i] = m
	}

	keys := make([]int64, 0, len(lookup[0]))
	for key := range lookup[0] {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var (
		timestamps []time.Time
		rows       [][]float64
	)
	for _, key := range keys {
		row := make([]float64, len(instruments))
		complete := true
		for c, m := range lookup {
			v, ok := m[key]
			if !ok || math.IsNaN(v) {
				complete = false
				break
			}
			row[c] = v
		}
		if !complete {
			continue
		}
		timestamps = append(timestamps, time.Unix(0, key).UTC())
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, nil, ErrNoOverlap
	}
	return timestamps, rows, nil
}

func correlationMatrix(p Portfolio) [][]float64 {
	n := len(p.Instruments)
	columns := make([][]float64, n)
	for c := range columns {
		columns[c] = p.Column(c)
	}

	matrix := make([][]float64, n)
	for i := range matrix {
		matrix[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			corr := math.NaN()
			if len(p.Returns) > 1 {
				corr = stat.Correlation(columns[i], columns[j], nil)
			}
			matrix[i][j] = corr
			matrix[j][i] = corr
		}
	}
	return matrix
}
