// Package reporting renders analysis results for terminal display and
// programmatic consumption.
//
// Two formats are supported: console, a human-readable tabular layout,
// and JSON for piping into other tools.
package reporting

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"golang-finance-intelligence/internal/anomaly"
	"golang-finance-intelligence/internal/categorizer"
	"golang-finance-intelligence/internal/models"
	"golang-finance-intelligence/internal/recurring"
	"golang-finance-intelligence/pkg/errors"
)

// OutputFormat selects the rendering
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	return f == FormatConsole || f == FormatJSON
}

// Reporter renders analysis results to a writer
type Reporter struct {
	format OutputFormat
}

// NewReporter creates a reporter for the given format
func NewReporter(format OutputFormat) (*Reporter, error) {
	if !format.IsValid() {
		return nil, errors.ValidationError(errors.CodeInvalidConfig,
			fmt.Sprintf("unsupported output format %q", format))
	}
	return &Reporter{format: format}, nil
}

// WriteCategorization renders a batch categorization result
func (r *Reporter) WriteCategorization(w io.Writer, result *categorizer.AutoCategorizeResult) error {
	if r.format == FormatJSON {
		return writeJSON(w, result)
	}

	fmt.Fprintf(w, "Categorization\n")
	fmt.Fprintf(w, "  Processed:   %d\n", result.Processed)
	fmt.Fprintf(w, "  Categorized: %d\n", result.Categorized)
	fmt.Fprintf(w, "  Skipped:     %d\n", result.Skipped)
	fmt.Fprintf(w, "  Failed:      %d\n", result.Failed)

	if result.Failed == 0 && result.Skipped == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\n  TRANSACTION\tSTATUS\tREASON")
	for _, row := range result.Rows {
		if row.Status == categorizer.RowCategorized {
			continue
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", row.TransactionID, row.Status, row.Reason)
	}
	return tw.Flush()
}

// WriteRegularPayments renders the recurring payment buckets
func (r *Reporter) WriteRegularPayments(w io.Writer, payments *recurring.RegularPayments) error {
	if r.format == FormatJSON {
		return writeJSON(w, payments)
	}

	sections := []struct {
		title    string
		patterns []*models.RecurringPattern
	}{
		{"Weekly", payments.Weekly},
		{"Monthly", payments.Monthly},
		{"Annual", payments.Annual},
	}

	for _, section := range sections {
		fmt.Fprintf(w, "%s (%d)\n", section.title, len(section.patterns))
		if len(section.patterns) == 0 {
			continue
		}

		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  PATTERN\tAMOUNT\tFREQUENCY\tOCCURRENCES\tSUBSCRIPTION")
		for _, pattern := range section.patterns {
			subscription := ""
			if pattern.IsSubscription {
				subscription = "yes"
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%d\t%s\n",
				pattern.DescriptionPattern,
				pattern.TypicalAmount.StringFixed(2),
				pattern.Frequency.String(),
				pattern.OccurrenceCount,
				subscription)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	return nil
}

// WriteAnomalies renders anomaly records, most severe first
func (r *Reporter) WriteAnomalies(w io.Writer, anomalies []*models.Anomaly) error {
	if r.format == FormatJSON {
		return writeJSON(w, anomalies)
	}

	if len(anomalies) == 0 {
		fmt.Fprintln(w, "No anomalies detected")
		return nil
	}

	sorted := make([]*models.Anomaly, len(anomalies))
	copy(sorted, anomalies)
	sort.SliceStable(sorted, func(i, j int) bool {
		return severityRank(sorted[i].Severity) > severityRank(sorted[j].Severity)
	})

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEVERITY\tTYPE\tSTATE\tDESCRIPTION")
	for _, a := range sorted {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			strings.ToUpper(string(a.Severity)), a.Type, anomalyState(a), a.Description)
	}
	return tw.Flush()
}

// WriteAnomalyStats renders the anomaly aggregate counts
func (r *Reporter) WriteAnomalyStats(w io.Writer, stats *anomaly.Stats) error {
	if r.format == FormatJSON {
		return writeJSON(w, stats)
	}

	fmt.Fprintf(w, "Anomalies\n")
	fmt.Fprintf(w, "  Total:           %d\n", stats.Total)
	fmt.Fprintf(w, "  Pending:         %d\n", stats.Pending)
	fmt.Fprintf(w, "  Dismissed:       %d\n", stats.Dismissed)
	fmt.Fprintf(w, "  Confirmed fraud: %d\n", stats.ConfirmedFraud)

	if len(stats.ByType) > 0 {
		types := make([]string, 0, len(stats.ByType))
		for t := range stats.ByType {
			types = append(types, string(t))
		}
		sort.Strings(types)

		fmt.Fprintln(w, "  By type:")
		for _, t := range types {
			fmt.Fprintf(w, "    %-22s %d\n", t, stats.ByType[models.AnomalyType(t)])
		}
	}

	return nil
}

func anomalyState(a *models.Anomaly) string {
	switch {
	case a.ConfirmedFraud:
		return "fraud"
	case a.Dismissed:
		return "dismissed"
	default:
		return "open"
	}
}

func severityRank(s models.Severity) int {
	switch s {
	case models.SeverityHigh:
		return 3
	case models.SeverityMedium:
		return 2
	case models.SeverityLow:
		return 1
	default:
		return 0
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
