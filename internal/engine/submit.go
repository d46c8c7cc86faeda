package engine

import (
	"context"
	"log/slog"

	"athena-runner/internal/domain"
)

// Submitter starts executions on the query service.
type Submitter struct {
	service domain.QueryService
	logger  *slog.Logger
}

// NewSubmitter creates a Submitter. A nil logger means slog.Default().
func NewSubmitter(svc domain.QueryService, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{service: svc, logger: logger}
}

// Submit calls the service exactly once. Failures are never retried: a query
// the service rejected will be rejected again.
func (s *Submitter) Submit(ctx context.Context, sql string) (domain.ExecutionHandle, error) {
	h, err := s.service.Submit(ctx, sql)
	if err != nil {
		s.logger.Warn("query submission rejected", "error", err)
		return "", &domain.SubmissionError{Message: "submit query", Err: err}
	}
	if h == "" {
		return "", &domain.SubmissionError{Message: "query service returned an empty execution id"}
	}
	s.logger.Info("query submitted", "execution_id", h)
	return h, nil
}
