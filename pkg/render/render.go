// Package render formats report output: colored status lines, aligned
// tables, sparklines and the human-readable units shared by all commands.
package render

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"
	"github.com/fatih/color"
	"github.com/trackops/trackctl/pkg/cache"
)

var (
	headerColor  = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen, color.Bold)
	warnColor    = color.New(color.FgYellow, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	dimColor     = color.New(color.Faint)

	goodColor = color.New(color.FgGreen)
	busyColor = color.New(color.FgYellow)
	badColor  = color.New(color.FgRed)
)

// DisableColor turns off all ANSI output, for scripts and logs.
func DisableColor() {
	color.NoColor = true
}

// Success prints a green check line.
func Success(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", successColor.Sprint("✓"), fmt.Sprintf(format, args...))
}

// Warning prints a yellow warning line.
func Warning(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", warnColor.Sprint("⚠"), fmt.Sprintf(format, args...))
}

// Error prints a red failure line.
func Error(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", errorColor.Sprint("✗"), fmt.Sprintf(format, args...))
}

// Info prints a dimmed informational line.
func Info(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s\n", dimColor.Sprintf(format, args...))
}

// Header prints a bold section header.
func Header(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s\n", headerColor.Sprintf(format, args...))
}

// DataSource prints where a command's data came from: the cache (with its
// freshness) or a live fetch.
func DataSource(w io.Writer, lastSync *time.Time) {
	if lastSync == nil {
		Info(w, "Data source: live (fetched now)")

		return
	}

	Info(w, "Data source: cache (last sync: %s)", FormatAgo(*lastSync))
}

// Table renders aligned columns via tabwriter.
type Table struct {
	w *tabwriter.Writer
}

// NewTable creates a table with a bold header row.
func NewTable(out io.Writer, headers ...string) *Table {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	cells := make([]string, 0, len(headers))
	for _, h := range headers {
		cells = append(cells, headerColor.Sprint(h))
	}

	fmt.Fprintln(w, strings.Join(cells, "\t"))

	return &Table{w: w}
}

// Row appends one row.
func (t *Table) Row(cells ...string) {
	fmt.Fprintln(t.w, strings.Join(cells, "\t"))
}

// Flush writes the aligned table to the output.
func (t *Table) Flush() error {
	return t.w.Flush()
}

// State renders a run state with its conventional color.
func State(s cache.RunState) string {
	switch s {
	case cache.StateFinished:
		return goodColor.Sprint(string(s))
	case cache.StateRunning:
		return busyColor.Sprint(string(s))
	case cache.StateFailed, cache.StateCrashed:
		return badColor.Sprint(string(s))
	default:
		return string(s)
	}
}

// Changed highlights a value that differs from its comparison baseline.
func Changed(s string) string {
	return warnColor.Sprint(s)
}

// sparkRunes are the bucket glyphs from empty to full.
var sparkRunes = []rune(" ▁▂▃▄▅▆▇█")

// Sparkline renders values as a unicode bar chart scaled to the maximum.
// All-zero input renders a flat baseline.
func Sparkline(values []int64) string {
	var maxVal int64
	for _, v := range values {
		if v > maxVal {
			maxVal = v
		}
	}

	if maxVal == 0 {
		return strings.Repeat("▁", len(values))
	}

	var sb strings.Builder

	for _, v := range values {
		idx := int(float64(v) / float64(maxVal) * float64(len(sparkRunes)-1))
		sb.WriteRune(sparkRunes[idx])
	}

	return sb.String()
}

// FormatDuration renders seconds as a compact duration ("2h 5m", "45s").
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		return "-"
	}

	hours := seconds / 3600
	minutes := (seconds % 3600) / 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm", minutes)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// FormatAgo renders a timestamp as an age ("3 hours ago"). The zero time
// renders as "never".
func FormatAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	return units.HumanDuration(time.Since(t)) + " ago"
}

// FormatBytes renders a byte count in human units.
func FormatBytes(n int64) string {
	return units.HumanSize(float64(n))
}

// windowPattern matches report windows: a count plus hours/days/weeks/months.
var windowPattern = regexp.MustCompile(`^(\d+)([hdwm])$`)

// ParseWindow parses a report window like "24h", "7d", "2w" or "1m"
// (months are 30 days).
func ParseWindow(s string) (time.Duration, error) {
	m := windowPattern.FindStringSubmatch(strings.ToLower(s))
	if m == nil {
		return 0, fmt.Errorf(
			"invalid window %q: use a number plus h, d, w or m (e.g. 24h, 7d)", s)
	}

	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid window %q: %w", s, err)
	}

	switch m[2] {
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	case "w":
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	default:
		return time.Duration(n) * 30 * 24 * time.Hour, nil
	}
}
