package report

import (
	"fmt"
	"math"
	"strings"
	"text/tabwriter"

	"momentum-backtest/internal/backtest"
)

// Summary 生成批次的文本报告：逐标的结果、组合对照与相关矩阵。
func Summary(batch backtest.BatchResult) string {
	var b strings.Builder

	for _, r := range batch.Instruments {
		b.WriteString(r.String())
		b.WriteByte('\n')
	}

	pf := batch.Portfolio
	if len(pf.Equity) == 0 {
		b.WriteString("portfolio: no instruments to aggregate\n")
		return b.String()
	}

	fmt.Fprintf(&b, "\nportfolio: %d instruments, %d rows (%s .. %s)\n",
		len(pf.Instruments), len(pf.Timestamps),
		pf.Timestamps[0].Format("2006-01-02"), pf.Timestamps[len(pf.Timestamps)-1].Format("2006-01-02"))
	fmt.Fprintf(&b, "equal-weight equity: %.4f (return %.2f%%, Sharpe %.3f, max drawdown %.2f%%)\n",
		pf.FinalEquity(), batch.PortfolioMetrics.TotalReturn*100,
		batch.PortfolioMetrics.SharpeRatio, batch.PortfolioMetrics.MaxDrawdown*100)
	fmt.Fprintf(&b, "summed equity (not a return): %.4f\n", pf.SummedEquity[len(pf.SummedEquity)-1])

	b.WriteString("\ncorrelation:\n")
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "\t%s\t\n", strings.Join(pf.Instruments, "\t"))
	for i, name := range pf.Instruments {
		cells := make([]string, len(pf.Instruments))
		for j := range pf.Instruments {
			cells[j] = formatCorrelation(pf.Correlation[i][j])
		}
		fmt.Fprintf(tw, "%s\t%s\t\n", name, strings.Join(cells, "\t"))
	}
	_ = tw.Flush()

	return b.String()
}

func formatCorrelation(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return fmt.Sprintf("%.2f", v)
}
