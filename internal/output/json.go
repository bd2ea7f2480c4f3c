package output

import (
	"encoding/json"

	"github.com/vegeta897/slash-create/internal/dispatch"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatResult renders a single dispatch result as JSON.
func (f *JSONFormatter) FormatResult(result *dispatch.SendResult) (string, error) {
	if result == nil {
		return "", nil
	}
	return f.marshal(result)
}

// FormatSummary renders a bulk summary as JSON.
func (f *JSONFormatter) FormatSummary(summary *dispatch.BulkSummary) (string, error) {
	if summary == nil {
		return "", nil
	}
	return f.marshal(summary)
}

func (f *JSONFormatter) marshal(value any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(value, "", "  ")
	} else {
		data, err = json.Marshal(value)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
