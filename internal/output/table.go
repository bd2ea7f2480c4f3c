package output

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/vegeta897/slash-create/internal/dispatch"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

// FormatResult renders one dispatch result as a single-row table followed
// by the response body, when the API returned one.
func (f *TableFormatter) FormatResult(result *dispatch.SendResult) (string, error) {
	if result == nil {
		return "", nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(resultHeader())
	t.AppendRow(resultRow(result))

	rendered := t.Render()
	rendered += renderResponseBody(result, false)
	return rendered, nil
}

// FormatSummary renders a bulk summary as a table.
func (f *TableFormatter) FormatSummary(summary *dispatch.BulkSummary) (string, error) {
	if summary == nil {
		return "", nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(resultHeader())

	for _, r := range summary.Results {
		if r == nil {
			continue
		}
		t.AppendRow(resultRow(r))
	}

	if summary.Total > 0 {
		t.AppendFooter(table.Row{
			"",
			"",
			"",
			summaryLine(summary),
			durationLabel(summary.ElapsedMS),
			"",
		})
	}

	return t.Render(), nil
}

func resultHeader() table.Row {
	return table.Row{"Method", "Path", "Status", "Outcome", "Duration", "Notes"}
}

func resultRow(result *dispatch.SendResult) table.Row {
	return table.Row{
		result.Method,
		result.Path,
		statusCell(result),
		outcomeLabel(result),
		durationLabel(result.DurationMS),
		formatNotes(result),
	}
}
