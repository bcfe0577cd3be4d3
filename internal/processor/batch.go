package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/wandb/parallel"
)

// DefaultWorkers bounds batch concurrency when the caller passes 0.
const DefaultWorkers = 4

var errNotRun = errors.New("document not processed")

// Document is one named input of a batch.
type Document struct {
	Name string
	Text string
}

// BatchResult pairs a document name with its outcome.
type BatchResult struct {
	Name   string  `json:"name"`
	Result *Result `json:"result,omitempty"`
	Err    error   `json:"-"`
}

// ProcessBatch anonymizes docs concurrently, each in its own session.
// Results keep the input order. A failed document does not stop the others.
func (p *Processor) ProcessBatch(ctx context.Context, docs []Document, opts Options, workers int) []BatchResult {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	results := make([]BatchResult, len(docs))
	group := parallel.Limited(ctx, workers)

	for i, doc := range docs {
		results[i] = BatchResult{Name: doc.Name, Err: errNotRun}
		group.Go(func(ctx context.Context) {
			res, err := p.Process(ctx, doc.Text, opts)
			results[i] = BatchResult{Name: doc.Name, Result: res, Err: err}
		})
	}

	group.Wait()

	for i := range results {
		if errors.Is(results[i].Err, errNotRun) && ctx.Err() != nil {
			results[i].Err = fmt.Errorf("%w: %w", errNotRun, ctx.Err())
		}
	}
	return results
}
