package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/vegeta897/slash-create/internal/errors"
	"github.com/vegeta897/slash-create/internal/rest"
	"github.com/vegeta897/slash-create/internal/rest/store"
)

var bucketBackend store.Backend

// SetBucketBackend injects the persisted bucket store used by the
// buckets endpoint. A nil backend disables the store source.
func SetBucketBackend(backend store.Backend) {
	bucketBackend = backend
}

// BucketsResponse lists rate limit buckets from one source. Buckets
// holds BucketInfo entries for the live source and BucketRecord entries
// for the store source.
type BucketsResponse struct {
	Source  string `json:"source"`
	Count   int    `json:"count"`
	Buckets any    `json:"buckets"`
}

// StatsResponse reports cumulative dispatch counters plus current bucket
// occupancy.
type StatsResponse struct {
	Stats       rest.Stats `json:"stats"`
	LiveBuckets int        `json:"live_buckets"`
	QueuedTotal int        `json:"queued_total"`
	Timestamp   time.Time  `json:"timestamp"`
}

// BucketsHandler reports the dispatcher's bucket table. ?source=store
// switches to persisted records; ?prefix= narrows the store listing by
// route key prefix.
func BucketsHandler(w http.ResponseWriter, r *http.Request) {
	source := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("source")))

	switch source {
	case "", "live":
		if dispatcher == nil {
			respondWithError(w, r, apperrors.NewServiceUnavailableError("Dispatcher not initialized"))
			return
		}
		infos := dispatcher.Snapshot()
		response := BucketsResponse{Source: "live", Count: len(infos), Buckets: infos}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	case "store":
		if bucketBackend == nil {
			respondWithError(w, r, apperrors.NewServiceUnavailableError("Bucket store not configured"))
			return
		}

		query := store.BucketQuery{All: true}
		if prefix := strings.TrimSpace(r.URL.Query().Get("prefix")); prefix != "" {
			query = store.BucketQuery{Prefix: prefix}
		}

		records, err := bucketBackend.ListBuckets(r.Context(), query)
		if err != nil {
			respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "Unable to list persisted buckets"))
			return
		}
		response := BucketsResponse{Source: "store", Count: len(records), Buckets: records}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	default:
		respondWithError(w, r, apperrors.NewInvalidInputError("source must be live or store"))
	}
}

// StatsHandler reports dispatcher counters for operators and the stats
// sampler exposed on /metrics.
func StatsHandler(w http.ResponseWriter, r *http.Request) {
	if dispatcher == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailableError("Dispatcher not initialized"))
		return
	}

	infos := dispatcher.Snapshot()
	queued := 0
	for _, info := range infos {
		queued += info.Queued
	}

	response := StatsResponse{
		Stats:       dispatcher.Stats(),
		LiveBuckets: len(infos),
		QueuedTotal: queued,
		Timestamp:   time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}
