// Package engine runs read-only queries against an asynchronous query service
// and materializes their results under per-request directories.
package engine

import (
	"context"
	"log/slog"
	"os"
	"time"

	"athena-runner/internal/clock"
	"athena-runner/internal/domain"
	"athena-runner/internal/namespace"
	"athena-runner/internal/sqlguard"
)

// Options configures an Engine. Zero values fall back to the package defaults.
type Options struct {
	ResultsRoot  string
	PollInterval time.Duration
	MaxWait      time.Duration
	Retry        RetryPolicy
	SaveSQL      bool // write the submitted SQL beside each artifact
	Clock        clock.Clock
	Logger       *slog.Logger
}

// Engine is the single entry point the orchestration layer calls. It holds no
// per-request state and is safe for concurrent use.
type Engine struct {
	service   domain.QueryService
	namespace *namespace.Manager
	submitter *Submitter
	poller    *Poller
	fetcher   *Fetcher
	opts      Options
	logger    *slog.Logger
}

// New creates an Engine over svc.
func New(svc domain.QueryService, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = DefaultMaxWait
	}
	if opts.Retry == (RetryPolicy{}) {
		opts.Retry = DefaultRetryPolicy()
	}
	return &Engine{
		service:   svc,
		namespace: namespace.New(opts.ResultsRoot),
		submitter: NewSubmitter(svc, opts.Logger),
		poller:    NewPoller(svc, opts.Clock, opts.Retry, opts.Logger),
		fetcher:   NewFetcher(svc, opts.Logger),
		opts:      opts,
		logger:    opts.Logger,
	}
}

// Namespace returns the manager that assigns artifact paths.
func (e *Engine) Namespace() *namespace.Manager { return e.namespace }

// Run executes req end to end and returns the materialized artifact.
//
// The flow:
//  1. Reject anything but a single read-only statement
//  2. Validate the request id and filename (no directory is created yet)
//  3. Submit once
//  4. Poll until SUCCEEDED, FAILED, CANCELLED, or the max wait elapses
//  5. Create the request directory and stream the result into it
//
// Steps 1 and 2 fail before any remote call. Every failure is one of the
// typed errors in package domain.
func (e *Engine) Run(ctx context.Context, req domain.QueryRequest) (*domain.QueryResult, error) {
	logger := e.logger.With("request_id", req.RequestID, "filename", req.LocalFilename)

	if err := sqlguard.Validate(req.SQL); err != nil {
		logger.Warn("query rejected by policy", "error", err)
		return nil, err
	}
	if _, err := e.namespace.Path(req.RequestID, req.LocalFilename); err != nil {
		logger.Warn("invalid result namespace", "error", err)
		return nil, err
	}

	handle, err := e.submitter.Submit(ctx, req.SQL)
	if err != nil {
		return nil, err
	}
	logger = logger.With("execution_id", handle)

	interval, maxWait := e.opts.PollInterval, e.opts.MaxWait
	if req.PollInterval > 0 {
		interval = req.PollInterval
	}
	if req.MaxWait > 0 {
		maxWait = req.MaxWait
	}

	completion, err := e.poller.AwaitCompletion(ctx, handle, interval, maxWait)
	if err != nil {
		logger.Warn("query did not succeed", "kind", domain.Kind(err), "error", err)
		return nil, err
	}
	logger.Info("query succeeded",
		"polls", completion.Polls,
		"data_scanned_bytes", completion.Stats.DataScannedBytes,
		"execution_ms", completion.Stats.TotalExecutionMillis,
	)

	dest, err := e.namespace.Resolve(req.RequestID, req.LocalFilename)
	if err != nil {
		return nil, err
	}

	artifact, err := e.fetcher.Fetch(ctx, completion, dest)
	if err != nil {
		logger.Warn("result fetch failed", "error", err)
		return nil, err
	}

	if e.opts.SaveSQL {
		artifact.SQLPath = e.saveSQL(logger, dest, req.SQL)
	}

	return &domain.QueryResult{
		Handle:   handle,
		Artifact: *artifact,
		Stats:    completion.Stats,
		Polls:    completion.Polls,
		Elapsed:  completion.Elapsed,
	}, nil
}

// saveSQL writes the query to <artifact>.sql and returns its path, or "" when
// it could not be written. A missing sidecar never fails the request.
func (e *Engine) saveSQL(logger *slog.Logger, dest, sql string) string {
	path := namespace.SidecarPath(dest, ".sql")
	if err := os.WriteFile(path, []byte(sql), 0o644); err != nil { //nolint:gosec // results are meant to be shared
		logger.Warn("write sql sidecar", "path", path, "error", err)
		return ""
	}
	return path
}

// Status returns the current state of an execution with a single status check.
// Only transient failures come back as a retryable PollingError; an unknown
// execution keeps its NotFoundError.
func (e *Engine) Status(ctx context.Context, h domain.ExecutionHandle) (*domain.ExecutionStatus, error) {
	status, err := e.service.GetState(ctx, h)
	if err != nil {
		if domain.IsTransient(err) {
			return nil, &domain.PollingError{Handle: h, Attempts: 1, Err: err}
		}
		return nil, err
	}
	return status, nil
}

// Cancel asks the service to stop an execution. It is never invoked implicitly.
func (e *Engine) Cancel(ctx context.Context, h domain.ExecutionHandle) error {
	canceler, ok := e.service.(domain.ExecutionCanceler)
	if !ok {
		return domain.ErrNotSupported("query service does not support cancellation")
	}
	if err := canceler.Cancel(ctx, h); err != nil {
		return err
	}
	e.logger.Info("execution cancel requested", "execution_id", h)
	return nil
}
