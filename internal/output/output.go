package output

import (
	"fmt"
	"strings"

	"github.com/vegeta897/slash-create/internal/dispatch"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

var knownFormats = map[string]Format{
	string(FormatTable):    FormatTable,
	string(FormatJSON):     FormatJSON,
	string(FormatMarkdown): FormatMarkdown,
}

// Formatter renders dispatch results.
type Formatter interface {
	FormatResult(result *dispatch.SendResult) (string, error)
	FormatSummary(summary *dispatch.BulkSummary) (string, error)
}

// ParseFormat validates and normalizes a format string. Empty input selects
// the table format.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return FormatTable, nil
	}
	if format, ok := knownFormats[normalized]; ok {
		return format, nil
	}
	return "", fmt.Errorf("unsupported output format: %s", value)
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}
