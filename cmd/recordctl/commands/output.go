package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"github.com/JonMunkholm/recordkeeper/internal/exchange"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	hintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("242")).Italic(true)
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printExport(w io.Writer, res exchange.ExportResult) error {
	fmt.Fprintln(w, titleStyle.Render("Exported "+res.Path))
	fmt.Fprintf(w, "sha256: %s\nsize:   %d bytes\n\n", res.SHA256, res.Size)

	names := make([]string, 0, len(res.Counts))
	for name := range res.Counts {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTITY\tROWS")
	for _, name := range names {
		fmt.Fprintf(tw, "%s\t%d\n", name, res.Counts[name])
	}
	return tw.Flush()
}

func printSummary(w io.Writer, s *exchange.Summary) error {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Import (%s)", s.Mode)))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTITY\tROWS\tADDED\tUPDATED\tSKIPPED\tERRORS")
	row := func(name string, c *exchange.EntityCounts) {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", name, c.RowsTotal, c.Added, c.Updated, c.Skipped, c.Errors)
	}
	for _, name := range s.Order {
		row(name, s.Entities[name])
	}
	row("total", &s.Total)
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(s.Errors) == 0 {
		fmt.Fprintln(w, okStyle.Render("no row errors"))
		return nil
	}
	fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("%d row errors:", len(s.Errors))))
	for _, e := range s.Errors {
		fmt.Fprintf(w, "  %s row %d: %s\n", e.Scope, e.Row, e.Message)
	}
	if s.ErrorLogPath != "" {
		fmt.Fprintln(w, hintStyle.Render("error log: "+s.ErrorLogPath))
	}
	return nil
}
