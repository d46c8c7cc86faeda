package batch

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"athena-runner/internal/domain"
)

// Runner executes a single query request. *engine.Engine implements it.
type Runner interface {
	Run(ctx context.Context, req domain.QueryRequest) (*domain.QueryResult, error)
}

// ItemResult is the outcome of one manifest query.
type ItemResult struct {
	Item   Item
	Result *domain.QueryResult
	Err    error
}

// Report collects the outcomes of a batch in manifest order.
type Report struct {
	RequestID string
	Items     []ItemResult
	Elapsed   time.Duration
}

// Failed returns the number of queries that did not produce an artifact.
func (r *Report) Failed() int {
	n := 0
	for _, it := range r.Items {
		if it.Err != nil {
			n++
		}
	}
	return n
}

// Run executes every query of m through runner with at most parallelism
// queries in flight. m.Parallelism, when set, takes precedence; values below
// one run sequentially. A failing query never stops its siblings; failures
// are reported per item.
func Run(ctx context.Context, runner Runner, m *Manifest, parallelism int, logger *slog.Logger) *Report {
	if logger == nil {
		logger = slog.Default()
	}
	if m.Parallelism > 0 {
		parallelism = m.Parallelism
	}
	if parallelism < 1 {
		parallelism = 1
	}

	start := time.Now()
	report := &Report{RequestID: m.RequestID, Items: make([]ItemResult, len(m.Queries))}

	var g errgroup.Group
	g.SetLimit(parallelism)
	for i := range m.Queries {
		item := m.Queries[i]
		g.Go(func() error {
			res, err := runner.Run(ctx, domain.QueryRequest{
				SQL:           item.SQL,
				RequestID:     m.RequestID,
				LocalFilename: item.Filename,
				MaxWait:       item.MaxWait,
			})
			if err != nil {
				logger.Warn("batch query failed", "request_id", m.RequestID, "query", item.Name, "kind", domain.Kind(err), "error", err)
			}
			report.Items[i] = ItemResult{Item: item, Result: res, Err: err}
			return nil // don't fail sibling queries
		})
	}
	_ = g.Wait()

	report.Elapsed = time.Since(start)
	logger.Info("batch complete", "request_id", m.RequestID, "queries", len(m.Queries), "failed", report.Failed())
	return report
}
