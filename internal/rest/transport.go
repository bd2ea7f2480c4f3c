package rest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBaseURL is the versioned REST endpoint requests are issued
// against unless a transport overrides it.
const DefaultBaseURL = "https://discord.com/api/v10"

const defaultUserAgent = "DiscordBot (https://github.com/vegeta897/slash-create, dev)"

// Transport sends one prepared request over the wire. Implementations
// must not retry internally; retry policy belongs to the dispatcher.
type Transport interface {
	Send(ctx context.Context, method, path string, header http.Header, body []byte) (*Response, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, method, path string, header http.Header, body []byte) (*Response, error)

func (f TransportFunc) Send(ctx context.Context, method, path string, header http.Header, body []byte) (*Response, error) {
	return f(ctx, method, path, header, body)
}

// HTTPTransport issues requests against the REST API. The zero value
// works for unauthenticated calls; production use sets Token. Limiter,
// when set, smooths the outbound request rate in front of the wire call.
type HTTPTransport struct {
	BaseURL   string
	Token     string
	UserAgent string
	Client    *http.Client
	Limiter   *rate.Limiter
}

func (t *HTTPTransport) Send(ctx context.Context, method, path string, header http.Header, body []byte) (*Response, error) {
	if t == nil {
		return nil, errors.New("transport not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if t.Limiter != nil {
		if err := t.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	base := t.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	url := strings.TrimRight(base, "/") + path

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for key, values := range header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	if t.Token != "" {
		httpReq.Header.Set("Authorization", authorizationValue(t.Token))
	}
	userAgent := t.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	httpReq.Header.Set("User-Agent", userAgent)
	if len(body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// authorizationValue prefixes a raw bot token; tokens that already carry
// a scheme pass through untouched.
func authorizationValue(token string) string {
	if strings.HasPrefix(token, "Bot ") || strings.HasPrefix(token, "Bearer ") {
		return token
	}
	return "Bot " + token
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// encodeMultipart builds the upload form the API expects: a payload_json
// part followed by one files[n] part per attachment.
func encodeMultipart(payload []byte, files []File) ([]byte, string, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	if len(payload) > 0 {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="payload_json"`)
		header.Set("Content-Type", "application/json")
		part, err := form.CreatePart(header)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(payload); err != nil {
			return nil, "", err
		}
	}

	for i, file := range files {
		name := file.Name
		if name == "" {
			name = fmt.Sprintf("file%d", i)
		}
		contentType := file.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files[%d]"; filename="%s"`, i, quoteEscaper.Replace(name)))
		header.Set("Content-Type", contentType)
		part, err := form.CreatePart(header)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(file.Data); err != nil {
			return nil, "", err
		}
	}

	if err := form.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), form.FormDataContentType(), nil
}
