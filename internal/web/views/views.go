// Package views renders the HTML fragments swapped in by HTMX.
package views

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/recordkeeper/internal/exchange"
)

// maxListedErrors caps the row errors rendered in a summary fragment.
const maxListedErrors = 50

// ErrorAlert renders a dismissible error box with the message code.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w,
			`<div class="alert alert-error" role="alert"><p class="alert-message">%s</p>`,
			templ.EscapeString(message))
		if err != nil {
			return err
		}
		if action != "" {
			if _, err := fmt.Fprintf(w, `<p class="alert-action">%s</p>`, templ.EscapeString(action)); err != nil {
				return err
			}
		}
		_, err = fmt.Fprintf(w, `<p class="alert-code">Code: %s</p></div>`, templ.EscapeString(code))
		return err
	})
}

// ImportSummary renders the per-entity counts of an import followed by the
// first row errors.
func ImportSummary(s *exchange.Summary) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		ew := &errWriter{w: w}
		ew.printf(`<section class="import-summary" data-mode="%s">`, templ.EscapeString(string(s.Mode)))
		ew.printf(`<table><thead><tr><th>Entity</th><th>Rows</th><th>Added</th><th>Updated</th><th>Skipped</th><th>Errors</th></tr></thead><tbody>`)
		for _, name := range s.Order {
			countsRow(ew, name, s.Entities[name])
		}
		ew.printf(`</tbody><tfoot>`)
		countsRow(ew, "Total", &s.Total)
		ew.printf(`</tfoot></table>`)

		if len(s.Errors) > 0 {
			ew.printf(`<ul class="import-errors">`)
			for i, e := range s.Errors {
				if i == maxListedErrors {
					ew.printf(`<li class="more">and %d more</li>`, len(s.Errors)-maxListedErrors)
					break
				}
				ew.printf(`<li><span class="scope">%s</span> row %d: %s</li>`,
					templ.EscapeString(e.Scope), e.Row, templ.EscapeString(e.Message))
			}
			ew.printf(`</ul>`)
		}
		ew.printf(`</section>`)
		return ew.err
	})
}

func countsRow(ew *errWriter, name string, c *exchange.EntityCounts) {
	if c == nil {
		c = &exchange.EntityCounts{}
	}
	ew.printf(`<tr><td>%s</td>`, templ.EscapeString(name))
	for _, n := range []int{c.RowsTotal, c.Added, c.Updated, c.Skipped, c.Errors} {
		ew.printf(`<td>%s</td>`, strconv.Itoa(n))
	}
	ew.printf(`</tr>`)
}

// errWriter keeps the first write error and drops later writes.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
