package report

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vicanso/go-charts/v2"

	"momentum-backtest/internal/backtest"
	"momentum-backtest/internal/portfolio"
	"momentum-backtest/internal/strategy"
)

// Chart 为一张渲染好的 PNG 图。
type Chart struct {
	Name  string
	Title string
	PNG   []byte
}

// Renderer 将回测结果渲染为折线图。
type Renderer struct {
	width  int
	height int
}

// NewRenderer 创建图表渲染器，尺寸非正时使用默认值。
func NewRenderer(width, height int) *Renderer {
	if width <= 0 {
		width = 1000
	}
	if height <= 0 {
		height = 500
	}
	return &Renderer{width: width, height: height}
}

// EquityChart 渲染单一标的最优参数下的净值曲线。
func (r *Renderer) EquityChart(result backtest.InstrumentResult) (Chart, error) {
	run := result.Optimization.Run
	if run.Len() == 0 {
		return Chart{}, fmt.Errorf("report: %s 无净值数据", result.Instrument)
	}
	title := fmt.Sprintf("%s Strategy Equity", result.Instrument)
	params := fmt.Sprintf("n = %d", result.Optimization.Lookback)
	if result.Optimization.Strategy == strategy.KindMACrossover {
		params = fmt.Sprintf("MA %d/%d", result.Optimization.Fast, result.Optimization.Slow)
	}
	subtitle := fmt.Sprintf("%s | Sharpe: %.3f | MaxDD: %.2f%%",
		params, result.Optimization.Sharpe, result.Metrics.MaxDrawdown*100)

	png, err := r.line(title, subtitle, dateLabels(run.Timestamps), run.Equity)
	if err != nil {
		return Chart{}, err
	}
	return Chart{Name: fileSafe(result.Instrument) + "_equity.png", Title: title, PNG: png}, nil
}

// TrialsChart 渲染夏普比率随回看窗口的变化，仅包含可评估的候选。
func (r *Renderer) TrialsChart(result backtest.InstrumentResult) (Chart, error) {
	var (
		labels []string
		values []float64
	)
	for _, t := range result.Optimization.Trials {
		if !t.Evaluable {
			continue
		}
		labels = append(labels, fmt.Sprintf("%d", t.Lookback))
		values = append(values, t.Sharpe)
	}
	if len(values) == 0 {
		return Chart{}, fmt.Errorf("report: %s 无可评估的候选窗口", result.Instrument)
	}

	title := fmt.Sprintf("%s Sharpe by Lookback", result.Instrument)
	png, err := r.line(title, fmt.Sprintf("best n = %d", result.Optimization.Lookback), labels, values)
	if err != nil {
		return Chart{}, err
	}
	return Chart{Name: fileSafe(result.Instrument) + "_sharpe.png", Title: title, PNG: png}, nil
}

// PortfolioCharts 分别渲染等权组合净值与逐标的净值求和的对照曲线。
func (r *Renderer) PortfolioCharts(pf portfolio.Portfolio, metrics backtest.Metrics) ([]Chart, error) {
	if len(pf.Equity) == 0 {
		return nil, portfolio.ErrNoInstruments
	}
	labels := dateLabels(pf.Timestamps)

	equalTitle := "Equal-Weight Portfolio Equity"
	equalSub := fmt.Sprintf("%s | Return: %.2f%% | Sharpe: %.2f | MaxDD: %.2f%%",
		strings.Join(pf.Instruments, ", "), metrics.TotalReturn*100, metrics.SharpeRatio, metrics.MaxDrawdown*100)
	equal, err := r.line(equalTitle, equalSub, labels, pf.Equity)
	if err != nil {
		return nil, err
	}

	summedTitle := "Summed Instrument Equity (not a portfolio return)"
	summed, err := r.line(summedTitle, strings.Join(pf.Instruments, ", "), labels, pf.SummedEquity)
	if err != nil {
		return nil, err
	}

	return []Chart{
		{Name: "portfolio_equity.png", Title: equalTitle, PNG: equal},
		{Name: "portfolio_summed.png", Title: summedTitle, PNG: summed},
	}, nil
}

// Render 生成批次的全部图表。单张渲染失败会被跳过并通过 error 返回。
func (r *Renderer) Render(batch backtest.BatchResult) ([]Chart, error) {
	var (
		out  []Chart
		errs []string
	)
	for _, result := range batch.Included() {
		builders := []func(backtest.InstrumentResult) (Chart, error){r.EquityChart}
		// 均线交叉没有参数网格
		if len(result.Optimization.Trials) > 0 {
			builders = append(builders, r.TrialsChart)
		}
		for _, build := range builders {
			chart, err := build(result)
			if err != nil {
				errs = append(errs, err.Error())
				continue
			}
			out = append(out, chart)
		}
	}

	if len(batch.Portfolio.Equity) > 0 {
		pfCharts, err := r.PortfolioCharts(batch.Portfolio, batch.PortfolioMetrics)
		if err != nil {
			errs = append(errs, err.Error())
		}
		out = append(out, pfCharts...)
	}

	if len(errs) > 0 {
		return out, fmt.Errorf("report: 部分图表渲染失败: %s", strings.Join(errs, "; "))
	}
	return out, nil
}

// WriteCharts 将图表写入目录，返回文件路径。
func WriteCharts(dir string, charts []Chart) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("report: 创建目录 %q 失败: %w", dir, err)
	}
	paths := make([]string, 0, len(charts))
	for _, c := range charts {
		path := filepath.Join(dir, c.Name)
		if err := os.WriteFile(path, c.PNG, 0o644); err != nil {
			return paths, fmt.Errorf("report: 写入 %q 失败: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (r *Renderer) line(title, subtitle string, labels []string, values ...[]float64) ([]byte, error) {
	series := make([][]float64, len(values))
	for i, v := range values {
		series[i] = carryForward(v)
	}

	opts := []charts.OptionFunc{
		charts.TitleTextOptionFunc(title, subtitle),
		charts.XAxisOptionFunc(charts.XAxisOption{
			Data:        labels,
			SplitNumber: splitNumber(len(labels)),
			BoundaryGap: charts.FalseFlag(),
		}),
		charts.ThemeOptionFunc(charts.ThemeLight),
		charts.WidthOptionFunc(r.width),
		charts.HeightOptionFunc(r.height),
	}
	p, err := charts.LineRender(series, opts...)
	if err != nil {
		return nil, fmt.Errorf("report: 渲染图表失败: %w", err)
	}
	buf, err := p.Bytes()
	if err != nil {
		return nil, fmt.Errorf("report: 生成图表字节失败: %w", err)
	}
	return buf, nil
}

// carryForward 用前一个有限值替换 NaN/Inf，开头的非有限值记为 0。
func carryForward(values []float64) []float64 {
	out := make([]float64, len(values))
	last := 0.0
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out[i] = last
			continue
		}
		out[i] = v
		last = v
	}
	return out
}

func dateLabels(ts []time.Time) []string {
	labels := make([]string, len(ts))
	for i, t := range ts {
		labels[i] = t.Format("2006-01-02")
	}
	return labels
}

func splitNumber(n int) int {
	if n <= 30 {
		split := n / 3
		if split < 3 {
			split = 3
		}
		if split > n {
			split = n
		}
		return split
	}
	return 6
}

func fileSafe(name string) string {
	replacer := strings.NewReplacer("/", "_", ":", "_", " ", "_", "\\", "_")
	return replacer.Replace(name)
}
