package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// quota is the rate-limit state a response advertises. remaining is -1
// when the header was absent.
type quota struct {
	limit     int
	remaining int
	resetAt   time.Time
	window    time.Duration
	bucketID  string
	global    bool
	present   bool
}

// parseQuotaHeaders reads the X-RateLimit family. Reset-After is
// preferred over the absolute Reset epoch so a skewed local clock cannot
// distort the window.
func parseQuotaHeaders(h http.Header, now time.Time) quota {
	q := quota{limit: 0, remaining: -1}

	if raw := strings.TrimSpace(h.Get("X-RateLimit-Limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			q.limit = n
			q.present = true
		}
	}
	if raw := strings.TrimSpace(h.Get("X-RateLimit-Remaining")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			q.remaining = n
			q.present = true
		}
	}
	if raw := strings.TrimSpace(h.Get("X-RateLimit-Reset-After")); raw != "" {
		if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs >= 0 {
			q.window = time.Duration(secs * float64(time.Second))
			q.resetAt = now.Add(q.window)
			q.present = true
		}
	} else if raw := strings.TrimSpace(h.Get("X-RateLimit-Reset")); raw != "" {
		if epoch, err := strconv.ParseFloat(raw, 64); err == nil && epoch > 0 {
			sec := int64(epoch)
			nsec := int64((epoch - float64(sec)) * float64(time.Second))
			q.resetAt = time.Unix(sec, nsec).UTC()
			if q.resetAt.After(now) {
				q.window = q.resetAt.Sub(now)
			}
			q.present = true
		}
	}
	if id := strings.TrimSpace(h.Get("X-RateLimit-Bucket")); id != "" {
		q.bucketID = id
		q.present = true
	}
	q.global = strings.EqualFold(strings.TrimSpace(h.Get("X-RateLimit-Global")), "true")
	return q
}

// retryAfterHeader parses Retry-After as seconds (possibly fractional)
// or as an HTTP date.
func retryAfterHeader(h http.Header, now time.Time) (time.Duration, bool) {
	raw := strings.TrimSpace(h.Get("Retry-After"))
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.ParseFloat(raw, 64); err == nil && seconds >= 0 {
		return time.Duration(seconds * float64(time.Second)), true
	}
	if when, err := http.ParseTime(raw); err == nil {
		if wait := when.Sub(now); wait > 0 {
			return wait, true
		}
		return 0, true
	}
	return 0, false
}

type rateLimitBody struct {
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after"`
	Global     bool    `json:"global"`
}

func parseRateLimitBody(body []byte) (rateLimitBody, bool) {
	var parsed rateLimitBody
	if len(body) == 0 {
		return parsed, false
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return rateLimitBody{}, false
	}
	return parsed, true
}

// rateLimitDelay resolves how long a 429 asks us to back off and whether
// the pause is account-wide. Headers win; the JSON body fills in when
// they are absent.
func rateLimitDelay(resp *Response, q quota, now time.Time) (time.Duration, bool) {
	global := q.global
	body, hasBody := parseRateLimitBody(resp.Body)
	if hasBody && body.Global {
		global = true
	}
	if wait, ok := retryAfterHeader(resp.Header, now); ok {
		return wait, global
	}
	if hasBody && body.RetryAfter > 0 {
		return time.Duration(body.RetryAfter * float64(time.Second)), global
	}
	if q.resetAt.After(now) {
		return q.resetAt.Sub(now), global
	}
	// The server told us to stop but not for how long.
	return time.Second, global
}
