package writer

import (
	"fmt"
	"math"
	"sort"

	"bioetl.dev/bioetl/common"
	bioetlerrors "bioetl.dev/bioetl/errors"
	"bioetl.dev/bioetl/source"
)

// BuildQCFrame summarizes a written dataset for the QC sidecar as
// section/column/metric/value rows: a leading dataset row_count row, four
// rows per column (null_count, null_fraction, unique_count, dtype), one
// row per validation issue, and three rows per adapter (api_calls,
// cache_hits, fallback_count).
func BuildQCFrame(frame *common.Frame, issues []bioetlerrors.ValidationIssue, counters map[string]source.Counters) *common.Frame {
	qc := common.NewFrame("section", "column", "metric", "value")

	addRow := func(section, column, metric, value string) {
		r := common.NewRecord()
		r.Set("section", common.NewString(section))
		r.Set("column", common.NewString(column))
		r.Set("metric", common.NewString(metric))
		r.Set("value", common.NewString(value))
		qc.Append(r)
	}

	addRow("dataset", "", "row_count", fmt.Sprintf("%d", frame.Len()))

	for _, col := range frame.Columns {
		nulls := 0
		uniques := make(map[string]bool)
		dtype := "null"
		for _, row := range frame.Rows {
			v := row.Get(col)
			if v.IsNull() {
				nulls++
				continue
			}
			uniques[v.AsString()] = true
			if d := dtypeOf(v); dtype == "null" || dtype == d {
				dtype = d
			} else {
				dtype = "mixed"
			}
		}
		fraction := 0.0
		if frame.Len() > 0 {
			fraction = float64(nulls) / float64(frame.Len())
		}
		addRow("column", col, "null_count", fmt.Sprintf("%d", nulls))
		addRow("column", col, "null_fraction", fmt.Sprintf("%.6f", fraction))
		addRow("column", col, "unique_count", fmt.Sprintf("%d", len(uniques)))
		addRow("column", col, "dtype", dtype)
	}

	for _, issue := range issues {
		addRow("validation", issue.Column, issue.Rule,
			fmt.Sprintf("severity=%s row=%d %s", issue.Severity, issue.Row, issue.Detail))
	}

	for _, name := range sortedCounterNames(counters) {
		c := counters[name]
		addRow("adapter", name, "api_calls", fmt.Sprintf("%d", c.APICalls))
		addRow("adapter", name, "cache_hits", fmt.Sprintf("%d", c.CacheHits))
		addRow("adapter", name, "fallback_count", fmt.Sprintf("%d", c.FallbackCount))
	}

	return qc
}

func dtypeOf(v common.Scalar) string {
	switch v.Kind {
	case common.ScalarInt:
		return "int64"
	case common.ScalarFloat:
		return "float64"
	case common.ScalarBool:
		return "bool"
	case common.ScalarEncoded:
		return "encoded"
	default:
		return "string"
	}
}

func sortedCounterNames(counters map[string]source.Counters) []string {
	names := make([]string, 0, len(counters))
	for name := range counters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildSummaryFrame computes min/max/mean for every numeric column, one
// row per column.
func BuildSummaryFrame(frame *common.Frame) *common.Frame {
	out := common.NewFrame("column", "count", "min", "max", "mean")

	for _, col := range frame.Columns {
		count := 0
		sum := 0.0
		minV, maxV := 0.0, 0.0
		for _, row := range frame.Rows {
			v := row.Get(col)
			if !isNumeric(v) {
				continue
			}
			f := numericOf(v)
			if count == 0 {
				minV, maxV = f, f
			}
			if f < minV {
				minV = f
			}
			if f > maxV {
				maxV = f
			}
			sum += f
			count++
		}
		if count == 0 {
			continue
		}
		r := common.NewRecord()
		r.Set("column", common.NewString(col))
		r.Set("count", common.NewInt(int64(count)))
		r.Set("min", common.NewFloat(minV))
		r.Set("max", common.NewFloat(maxV))
		r.Set("mean", common.NewFloat(sum/float64(count)))
		out.Append(r)
	}
	return out
}

// BuildCorrelationFrame computes pairwise Pearson correlation between
// numeric columns, one row per ordered pair.
func BuildCorrelationFrame(frame *common.Frame) *common.Frame {
	numericCols := make([]string, 0)
	for _, col := range frame.Columns {
		for _, row := range frame.Rows {
			if isNumeric(row.Get(col)) {
				numericCols = append(numericCols, col)
				break
			}
		}
	}

	out := common.NewFrame("column_a", "column_b", "pearson_r", "n")
	for i := 0; i < len(numericCols); i++ {
		for j := i + 1; j < len(numericCols); j++ {
			r, n := pearson(frame, numericCols[i], numericCols[j])
			if n < 2 {
				continue
			}
			rec := common.NewRecord()
			rec.Set("column_a", common.NewString(numericCols[i]))
			rec.Set("column_b", common.NewString(numericCols[j]))
			rec.Set("pearson_r", common.NewFloat(r))
			rec.Set("n", common.NewInt(int64(n)))
			out.Append(rec)
		}
	}
	return out
}

func pearson(frame *common.Frame, colA, colB string) (float64, int) {
	var xs, ys []float64
	for _, row := range frame.Rows {
		a, b := row.Get(colA), row.Get(colB)
		if !isNumeric(a) || !isNumeric(b) {
			continue
		}
		xs = append(xs, numericOf(a))
		ys = append(ys, numericOf(b))
	}
	n := len(xs)
	if n < 2 {
		return 0, n
	}
	meanX, meanY := mean(xs), mean(ys)
	var cov, varX, varY float64
	for i := range xs {
		dx, dy := xs[i]-meanX, ys[i]-meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0, n
	}
	return cov / (math.Sqrt(varX) * math.Sqrt(varY)), n
}

func mean(vals []float64) float64 {
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
