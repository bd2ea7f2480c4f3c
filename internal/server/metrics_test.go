package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/telemetry/exporters"

	"github.com/vegeta897/slash-create/internal/observability"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// stubExporterClient swaps the proxy client for one that serves canned
// exporter output and captures the proxied request.
func stubExporterClient(t *testing.T, header http.Header, body string, captured **http.Request) {
	t.Helper()

	original := metricsProxyClient
	t.Cleanup(func() { metricsProxyClient = original })

	metricsProxyClient = &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			if captured != nil {
				*captured = req
			}
			resp := &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader(body)),
				Header:     header,
			}
			return resp, nil
		}),
	}
}

func installFakeExporter(t *testing.T) {
	t.Helper()
	observability.PrometheusExporter = exporters.NewPrometheusExporter("test", ":9090")
	t.Cleanup(func() { observability.PrometheusExporter = nil })
}

func TestMetricsHandlerProxiesExporterOutput(t *testing.T) {
	header := make(http.Header)
	header.Set("Content-Type", "text/plain; version=0.0.4")
	stubExporterClient(t, header,
		"# HELP http_requests_total Total number of HTTP requests\nhttp_requests_total 1\n", nil)
	installFakeExporter(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	MetricsHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected text/plain content type, got %s", got)
	}
	if body := rec.Body.String(); !strings.Contains(body, "http_requests_total") {
		t.Fatalf("expected Prometheus output to include metric name, got: %s", body)
	}
}

func TestMetricsHandlerForwardsAcceptAndStripsHopByHop(t *testing.T) {
	header := make(http.Header)
	header.Set("Content-Type", "text/plain; version=0.0.4")
	header.Set("Connection", "keep-alive")
	header.Set("Transfer-Encoding", "chunked")

	var proxied *http.Request
	stubExporterClient(t, header, "up 1\n", &proxied)
	installFakeExporter(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Accept", "text/plain")
	rec := httptest.NewRecorder()

	MetricsHandler(rec, req)

	if proxied == nil {
		t.Fatal("expected the handler to call the exporter")
	}
	if got := proxied.Header.Get("Accept"); got != "text/plain" {
		t.Fatalf("expected Accept header forwarded, got %q", got)
	}
	if got := rec.Header().Get("Connection"); got != "" {
		t.Fatalf("expected Connection header stripped, got %q", got)
	}
	if got := rec.Header().Get("Transfer-Encoding"); got != "" {
		t.Fatalf("expected Transfer-Encoding header stripped, got %q", got)
	}
}

func TestMetricsHandlerDefaultsContentType(t *testing.T) {
	stubExporterClient(t, make(http.Header), "up 1\n", nil)
	installFakeExporter(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	MetricsHandler(rec, req)

	if got := rec.Header().Get("Content-Type"); got != "text/plain; version=0.0.4" {
		t.Fatalf("expected default Prometheus content type, got %q", got)
	}
}

func TestMetricsHandlerReturnsServiceUnavailableWithoutExporter(t *testing.T) {
	observability.PrometheusExporter = nil

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	MetricsHandler(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}

	var resp struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Error.Code != "SERVICE_UNAVAILABLE" {
		t.Fatalf("expected error code SERVICE_UNAVAILABLE, got %s", resp.Error.Code)
	}
}
