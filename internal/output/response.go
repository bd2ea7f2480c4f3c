package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vegeta897/slash-create/internal/dispatch"
)

// maxBodyLines caps the pretty-printed response body in human-readable
// formats. The JSON format always carries the full payload.
const maxBodyLines = 40

func renderResponseBody(result *dispatch.SendResult, markdown bool) string {
	lines, truncated := bodyLines(result)
	if len(lines) == 0 {
		return ""
	}

	var sb strings.Builder
	if markdown {
		sb.WriteString("\n### Response\n\n```json\n")
		for _, line := range lines {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
		sb.WriteString("```\n")
		if truncated {
			sb.WriteString("\n_Body truncated (use --output-format=json for the full payload)._\n")
		}
	} else {
		sb.WriteString("\n\nResponse:\n")
		for _, line := range lines {
			sb.WriteString(fmt.Sprintf("  %s\n", line))
		}
		if truncated {
			sb.WriteString("  ... body truncated (use --output-format=json for the full payload)\n")
		}
	}
	return sb.String()
}

func bodyLines(result *dispatch.SendResult) ([]string, bool) {
	if result == nil || len(result.Body) == 0 {
		return nil, false
	}

	source := string(result.Body)
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, result.Body, "", "  "); err == nil {
		source = pretty.String()
	}

	lines := strings.Split(strings.TrimRight(source, "\n"), "\n")
	if len(lines) > maxBodyLines {
		return lines[:maxBodyLines], true
	}
	return lines, false
}
