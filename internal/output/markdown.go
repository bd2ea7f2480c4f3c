package output

import (
	"fmt"
	"strings"

	"github.com/vegeta897/slash-create/internal/dispatch"
)

// MarkdownFormatter renders results as a markdown table.
type MarkdownFormatter struct{}

// FormatResult renders one dispatch result as Markdown.
func (f *MarkdownFormatter) FormatResult(result *dispatch.SendResult) (string, error) {
	if result == nil {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## %s %s\n\n", escapeMarkdownCell(result.Method), escapeMarkdownCell(result.Path)))
	writeMarkdownHeader(&sb)
	writeMarkdownRow(&sb, result)
	sb.WriteString(renderResponseBody(result, true))
	return sb.String(), nil
}

// FormatSummary renders a bulk summary as Markdown.
func (f *MarkdownFormatter) FormatSummary(summary *dispatch.BulkSummary) (string, error) {
	if summary == nil {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("## Dispatch results\n\n")
	writeMarkdownHeader(&sb)

	for _, r := range summary.Results {
		if r == nil {
			continue
		}
		writeMarkdownRow(&sb, r)
	}

	if summary.Total > 0 {
		sb.WriteString(fmt.Sprintf("\n**Result**: %s in %s\n", summaryLine(summary), durationLabel(summary.ElapsedMS)))
	}

	return sb.String(), nil
}

func writeMarkdownHeader(sb *strings.Builder) {
	sb.WriteString("| Method | Path | Status | Outcome | Duration | Notes |\n")
	sb.WriteString("|--------|------|--------|---------|----------|-------|\n")
}

func writeMarkdownRow(sb *strings.Builder, result *dispatch.SendResult) {
	sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s |\n",
		escapeMarkdownCell(result.Method),
		escapeMarkdownCell(result.Path),
		statusCell(result),
		escapeMarkdownCell(outcomeLabel(result)),
		durationLabel(result.DurationMS),
		escapeMarkdownCell(formatNotes(result)),
	))
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
