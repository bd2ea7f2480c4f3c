package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/vegeta897/slash-create/internal/rest"
)

// RunBulk dispatches specs through d with a bounded worker pool and
// returns one result per spec, in input order. Individual failures are
// folded into their results rather than aborting the run; a dead
// context resolves the remaining requests as timeouts.
func RunBulk(ctx context.Context, d *rest.Dispatcher, specs []RequestSpec, concurrency int) *BulkSummary {
	started := time.Now()
	results := make([]*SendResult, len(specs))
	jobs := make(chan int)

	var wg sync.WaitGroup
	worker := func() {
		defer wg.Done()
		for idx := range jobs {
			results[idx] = Send(ctx, d, specs[idx])
		}
	}

	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > len(specs) {
		concurrency = len(specs)
	}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go worker()
	}

	for i := range specs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return Summarize(results, time.Since(started))
}
