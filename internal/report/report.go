// Package report evaluates every named metric over a snapshot and renders the
// results as a table or JSON.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/proforma/internal/logger"
	"github.com/dvloznov/proforma/internal/query"
	"github.com/dvloznov/proforma/internal/timeline"
)

// Status is the outcome of one metric.
type Status string

const (
	StatusOK     Status = "ok"
	StatusEmpty  Status = "empty"
	StatusFailed Status = "failed"
)

// Recorder receives one call per evaluated metric. *metrics.Collector satisfies it.
type Recorder interface {
	RecordMetricEval(metric, status string)
}

// Line is one metric of a report.
type Line struct {
	Metric      string           `json:"metric"`
	Description string           `json:"description"`
	Status      Status           `json:"status"`
	Total       decimal.Decimal  `json:"total"`
	Series      timeline.Monthly `json:"series,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// Report holds the lines in metric order.
type Report struct {
	Lines []Line `json:"lines"`
}

// Build evaluates every metric in query.Metrics. A failing metric is logged and
// marked StatusFailed; the remaining metrics are still evaluated. rec may be nil.
func Build(ctx context.Context, q *query.Queries, rec Recorder) *Report {
	log := logger.FromContext(ctx)
	r := &Report{Lines: make([]Line, 0, len(query.Metrics))}
	for _, m := range query.Metrics {
		line := Line{Metric: m.Name, Description: m.Description}
		series, err := m.Eval(q, ctx)
		switch {
		case err != nil:
			line.Status = StatusFailed
			line.Error = err.Error()
			log.Warn().Err(err).Str("metric", m.Name).Bool("query_failed", errors.Is(err, query.ErrQueryFailed)).Msg("metric evaluation failed")
		case series.IsEmpty():
			line.Status = StatusEmpty
		default:
			line.Status = StatusOK
			line.Series = series
			line.Total = series.Total()
		}
		if rec != nil {
			rec.RecordMetricEval(m.Name, string(line.Status))
		}
		r.Lines = append(r.Lines, line)
	}
	return r
}

// Line returns the line for metric.
func (r *Report) Line(metric string) (Line, bool) {
	for _, l := range r.Lines {
		if l.Metric == metric {
			return l, true
		}
	}
	return Line{}, false
}

// Failed lists the metrics that could not be computed.
func (r *Report) Failed() []string {
	var out []string
	for _, l := range r.Lines {
		if l.Status == StatusFailed {
			out = append(out, l.Metric)
		}
	}
	return out
}

// WriteTable writes one row per metric: name, status, total and the first and
// last month with a value.
func (r *Report) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "METRIC\tSTATUS\tTOTAL\tFROM\tTO\t")
	for _, l := range r.Lines {
		total, from, to := "-", "-", "-"
		if l.Status == StatusOK {
			total = l.Total.StringFixed(2)
			from = l.Series[0].Month.String()
			to = l.Series[len(l.Series)-1].Month.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n", l.Metric, l.Status, total, from, to)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("WriteTable: %w", err)
	}
	return nil
}

// WriteMonthly writes the month-by-month values of one metric.
func (r *Report) WriteMonthly(w io.Writer, metric string) error {
	l, ok := r.Line(metric)
	if !ok {
		return fmt.Errorf("WriteMonthly: unknown metric %q", metric)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "MONTH\t%s\t\n", l.Metric)
	for _, p := range l.Series {
		fmt.Fprintf(tw, "%s\t%s\t\n", p.Month, p.Amount.StringFixed(2))
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("WriteMonthly: %w", err)
	}
	return nil
}
