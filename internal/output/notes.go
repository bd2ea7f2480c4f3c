package output

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vegeta897/slash-create/internal/dispatch"
)

func outcomeLabel(result *dispatch.SendResult) string {
	if result == nil {
		return "unknown"
	}

	switch result.Outcome {
	case dispatch.OutcomeSuccess:
		return "success"
	case dispatch.OutcomeRejected:
		return "rejected"
	case dispatch.OutcomeRateLimited:
		return "rate limited"
	case dispatch.OutcomeFailed:
		return "failed"
	case dispatch.OutcomeTimeout:
		return "timeout"
	case dispatch.OutcomeInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

func statusCell(result *dispatch.SendResult) string {
	if result == nil || result.Status == 0 {
		return "-"
	}
	return strconv.Itoa(result.Status)
}

func durationLabel(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.2fs", float64(ms)/1000)
}

func formatNotes(result *dispatch.SendResult) string {
	if result == nil {
		return ""
	}

	parts := []string{}
	if result.Message != "" && result.Outcome != dispatch.OutcomeSuccess {
		parts = append(parts, result.Message)
	}
	if result.RetryAfter > 0 {
		parts = append(parts, fmt.Sprintf("retry: %.2fs", result.RetryAfter))
	}
	if result.Attempts > 1 {
		parts = append(parts, fmt.Sprintf("attempts: %d", result.Attempts))
	}

	return strings.Join(parts, "; ")
}

func summaryLine(summary *dispatch.BulkSummary) string {
	line := fmt.Sprintf("%d/%d succeeded", summary.Succeeded, summary.Total)
	if summary.Rejected > 0 {
		line += fmt.Sprintf(", %d rejected", summary.Rejected)
	}
	if summary.Failed > 0 {
		line += fmt.Sprintf(", %d failed", summary.Failed)
	}
	return line
}
