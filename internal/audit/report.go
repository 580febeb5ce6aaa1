package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RenderText formats the result as plain lines for terminal output.
func RenderText(res *Result) string {
	var b strings.Builder
	if res.Clean() {
		fmt.Fprintf(&b, "no discrepancies (%d databases, %d releases)\n", res.Databases, res.Releases)
		return b.String()
	}
	for _, d := range res.Discrepancies {
		fmt.Fprintf(&b, "%-18s %s\n", d.Kind, d.Message)
	}
	fmt.Fprintf(&b, "\n%d discrepancies (%d databases, %d releases)\n",
		len(res.Discrepancies), res.Databases, res.Releases)
	return b.String()
}

// RenderMarkdown formats the result as a markdown report with one table row
// per discrepancy. The daemon renders this to HTML for its status page; it
// also pastes cleanly into CI summaries and issues.
func RenderMarkdown(res *Result) string {
	var b strings.Builder
	b.WriteString("# Release Audit\n\n")
	fmt.Fprintf(&b, "Run `%s` started %s, took %s. Checked %d databases against %d releases.\n\n",
		res.RunID,
		res.StartedAt.UTC().Format(time.RFC3339),
		res.Duration.Round(time.Millisecond),
		res.Databases,
		res.Releases)

	if res.Clean() {
		b.WriteString("No discrepancies found.\n")
		return b.String()
	}

	b.WriteString("| Kind | Database | Version | Platform | Detail |\n")
	b.WriteString("|------|----------|---------|----------|--------|\n")
	for _, d := range res.Discrepancies {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
			d.Kind, d.Database, orDash(d.Version), orDash(string(d.Platform)), d.Message)
	}
	fmt.Fprintf(&b, "\n**%d discrepancies.**\n", len(res.Discrepancies))

	if len(res.SkippedTags) > 0 {
		fmt.Fprintf(&b, "\nSkipped unparseable tags: %s\n", strings.Join(res.SkippedTags, ", "))
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

type resultJSON struct {
	RunID         string         `json:"runId"`
	StartedAt     time.Time      `json:"startedAt"`
	DurationMS    float64        `json:"durationMs"`
	Databases     int            `json:"databases"`
	Releases      int            `json:"releases"`
	Counts        map[string]int `json:"counts"`
	Discrepancies []Discrepancy  `json:"discrepancies"`
	SkippedTags   []string       `json:"skippedTags,omitempty"`
}

// EncodeJSON serializes the result for machine consumers. Discrepancies is
// always an array, never null, and counts carry all six kinds including
// zeroes so dashboards reset between runs.
func EncodeJSON(res *Result) ([]byte, error) {
	discrepancies := res.Discrepancies
	if discrepancies == nil {
		discrepancies = []Discrepancy{}
	}
	counts := make(map[string]int, 6)
	for kind, n := range res.Counts() {
		counts[string(kind)] = n
	}
	return json.MarshalIndent(resultJSON{
		RunID:         res.RunID,
		StartedAt:     res.StartedAt,
		DurationMS:    float64(res.Duration.Milliseconds()),
		Databases:     res.Databases,
		Releases:      res.Releases,
		Counts:        counts,
		Discrepancies: discrepancies,
		SkippedTags:   res.SkippedTags,
	}, "", "  ")
}
