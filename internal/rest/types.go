package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Response is the upstream reply to a dispatched request.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// JSON decodes the response body into v.
func (r *Response) JSON(v any) error {
	if r == nil {
		return nil
	}
	return json.Unmarshal(r.Body, v)
}

// File is an attachment uploaded alongside a request payload.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// BucketInfo is a point-in-time view of a live bucket.
type BucketInfo struct {
	Key         string    `json:"key"`
	BucketID    string    `json:"bucket_id,omitempty"`
	Limit       int       `json:"limit"`
	Remaining   int       `json:"remaining"`
	ResetAt     time.Time `json:"reset_at"`
	PausedUntil time.Time `json:"paused_until,omitempty"`
	Queued      int       `json:"queued"`
	Processing  bool      `json:"processing"`
}

// BucketRecord is the persisted form of a bucket's quota state.
type BucketRecord struct {
	Key       string    `json:"key"`
	BucketID  string    `json:"bucket_id,omitempty"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BucketStore persists discovered bucket state so a fresh process keeps
// honoring limits learned in earlier runs. Implementations return a nil
// record when the key is unknown.
type BucketStore interface {
	GetBucket(ctx context.Context, key string) (*BucketRecord, error)
	PutBucket(ctx context.Context, rec *BucketRecord) error
}

// Stats are cumulative dispatch counters.
type Stats struct {
	Enqueued   int64 `json:"enqueued"`
	Dispatched int64 `json:"dispatched"`
	Retried    int64 `json:"retried"`
	Throttled  int64 `json:"throttled"`
}
