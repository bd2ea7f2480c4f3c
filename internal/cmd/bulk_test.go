package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vegeta897/slash-create/internal/dispatch"
)

func writeSpecFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write spec file: %v", err)
	}
	return path
}

func TestReadBulkSpecsYAML(t *testing.T) {
	path := writeSpecFile(t, "requests.yaml", `
- method: post
  path: /channels/123/messages
  body:
    content: hello
  reason: greeting
- method: GET
  path: /users/@me
  headers:
    X-Trace-ID: abc
`)

	specs, err := readBulkSpecs(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("expected 2 specs, got %d", len(specs))
	}
	if specs[0].Method != "POST" {
		t.Fatalf("expected method uppercased, got %q", specs[0].Method)
	}
	if string(specs[0].Body) != `{"content":"hello"}` {
		t.Fatalf("unexpected body: %s", specs[0].Body)
	}
	if specs[0].Reason != "greeting" {
		t.Fatalf("unexpected reason: %q", specs[0].Reason)
	}
	if specs[1].Headers["X-Trace-ID"] != "abc" {
		t.Fatalf("expected header carried, got %v", specs[1].Headers)
	}
}

func TestReadBulkSpecsJSON(t *testing.T) {
	path := writeSpecFile(t, "requests.json", `[
  {"method": "DELETE", "path": "/channels/123/messages/456", "reason": "cleanup"}
]`)

	specs, err := readBulkSpecs(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(specs) != 1 || specs[0].Method != "DELETE" {
		t.Fatalf("unexpected specs: %+v", specs)
	}
}

func TestReadBulkSpecsWrapped(t *testing.T) {
	path := writeSpecFile(t, "requests.yaml", `
requests:
  - method: get
    path: /gateway
`)

	specs, err := readBulkSpecs(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(specs) != 1 || specs[0].Path != "/gateway" {
		t.Fatalf("unexpected specs: %+v", specs)
	}
}

func TestReadBulkSpecsInvalid(t *testing.T) {
	path := writeSpecFile(t, "requests.yaml", `
- method: get
  path: users/@me
`)

	_, err := readBulkSpecs(path)
	if err == nil {
		t.Fatal("expected error for path without leading slash")
	}
	if !strings.Contains(err.Error(), "request 1") {
		t.Fatalf("expected error to name the request, got %v", err)
	}
}

func TestEncodeBulkBody(t *testing.T) {
	body, err := encodeBulkBody(map[string]any{"content": "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != `{"content":"hi"}` {
		t.Fatalf("unexpected body: %s", body)
	}

	body, err = encodeBulkBody(`{"content":"raw"}`)
	if err != nil || string(body) != `{"content":"raw"}` {
		t.Fatalf("expected raw string body, got %s (err %v)", body, err)
	}

	if _, err := encodeBulkBody("not json"); err == nil {
		t.Fatal("expected error for non-JSON string body")
	}

	body, err = encodeBulkBody(nil)
	if err != nil || body != nil {
		t.Fatalf("expected nil body, got %s (err %v)", body, err)
	}
}

func TestFilterFailures(t *testing.T) {
	results := []*dispatch.SendResult{
		{Outcome: dispatch.OutcomeSuccess},
		{Outcome: dispatch.OutcomeRejected},
		nil,
		{Outcome: dispatch.OutcomeRateLimited},
	}

	filtered := filterFailures(results)
	if len(filtered) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(filtered))
	}
	if filtered[0].Outcome != dispatch.OutcomeRejected || filtered[1].Outcome != dispatch.OutcomeRateLimited {
		t.Fatalf("unexpected filter order: %+v", filtered)
	}
}
