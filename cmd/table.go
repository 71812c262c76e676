package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/sells-group/legis-enrich/internal/model"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range columns {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// printReport writes the per-key outcome counts of a batch report, then
// its permanent failures.
func printReport(w io.Writer, r *model.BatchReport) {
	if r == nil {
		return
	}
	rows := make([][]string, 0, len(r.Counts)+1)
	for _, k := range r.Keys() {
		c := r.Counts[k]
		rows = append(rows, countsRow(k, *c))
	}
	rows = append(rows, countsRow("total", r.Totals()))

	fmt.Fprintf(w, "Stage: %s\n", r.Stage)
	fmt.Fprintln(w, renderTable(
		[]string{"KEY", "SUCCEEDED", "FAILED", "SKIPPED", "CANCELED"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
	))
	if r.InputTokens > 0 || r.OutputTokens > 0 {
		fmt.Fprintf(w, "Tokens: %d in / %d out", r.InputTokens, r.OutputTokens)
		if r.CostUSD > 0 {
			fmt.Fprintf(w, " (~$%.4f)", r.CostUSD)
		}
		fmt.Fprintln(w)
	}

	if len(r.Failures) == 0 {
		return
	}
	failRows := make([][]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		failRows = append(failRows, []string{
			strconv.FormatInt(f.PropositionID, 10),
			f.Kind,
			strconv.Itoa(f.Attempts),
			truncate(f.Error, 80),
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"PROPOSITION", "KIND", "ATTEMPTS", "ERROR"},
		failRows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft},
	))
}

func countsRow(key string, c model.Counts) []string {
	return []string{
		key,
		strconv.Itoa(c.Succeeded),
		strconv.Itoa(c.FailedPermanent),
		strconv.Itoa(c.Skipped),
		strconv.Itoa(c.Canceled),
	}
}

// formatRunsList writes batch run history as a table.
func formatRunsList(w io.Writer, runs []model.BatchRun) {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		finished, duration := "-", "-"
		if r.FinishedAt != nil {
			finished = r.FinishedAt.Format("2006-01-02 15:04")
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		succeeded, failed := "-", "-"
		if r.Report != nil {
			t := r.Report.Totals()
			succeeded = strconv.Itoa(t.Succeeded)
			failed = strconv.Itoa(t.FailedPermanent)
		}
		rows = append(rows, []string{
			shortID(r.ID),
			string(r.Stage),
			string(r.Status),
			r.StartedAt.Format("2006-01-02 15:04"),
			finished,
			duration,
			succeeded,
			failed,
			truncate(r.Error, 60),
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"ID", "STAGE", "STATUS", "STARTED", "FINISHED", "DURATION", "OK", "FAILED", "ERROR"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
	))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
