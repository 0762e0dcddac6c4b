package market

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// CSVSource 从目录中读取 <instrument>.csv，格式为 date,close（首行可为表头）。
type CSVSource struct {
	dir string
}

// NewCSVSource 创建离线行情源。
func NewCSVSource(dir string) *CSVSource {
	return &CSVSource{dir: dir}
}

// Fetch 读取文件并截取 [start, end) 区间。
func (s *CSVSource) Fetch(ctx context.Context, instrument string, start, end time.Time) (PriceSeries, error) {
	if err := ctx.Err(); err != nil {
		return PriceSeries{}, err
	}

	path := filepath.Join(s.dir, instrument+".csv")
	f, err := os.Open(path)
	if err != nil {
		return PriceSeries{}, fmt.Errorf("%w: %s: %v", ErrDataUnavailable, instrument, err)
	}
	defer f.Close()

	points, err := readPriceCSV(f)
	if err != nil {
		return PriceSeries{}, fmt.Errorf("%w: %s: %v", ErrDataUnavailable, instrument, err)
	}

	series := NewPriceSeries(instrument, normalizePoints(points)).Window(start, end)
	if err := series.Validate(); err != nil {
		return PriceSeries{}, err
	}
	return series, nil
}

func readPriceCSV(r io.Reader) ([]Point, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var points []Point
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("读取 csv 失败: %w", err)
		}
		line++
		if len(record) < 2 {
			return nil, fmt.Errorf("第 %d 行字段不足", line)
		}

		ts, err := time.Parse(time.DateOnly, strings.TrimSpace(record[0]))
		if err != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("第 %d 行日期无效: %w", line, err)
		}

		raw := strings.TrimSpace(record[1])
		price := math.NaN()
		if raw != "" {
			price, err = strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("第 %d 行价格无效: %w", line, err)
			}
		}
		points = append(points, Point{Timestamp: ts, Price: price})
	}
	return points, nil
}
