package domain

import (
	"context"
	"io"
)

// QueryService is the managed asynchronous query capability the engine drives.
// Implementations must be safe for concurrent use; handles are never shared
// between requests.
type QueryService interface {
	// Submit starts an execution and returns its handle. It is called once per request.
	Submit(ctx context.Context, sql string) (ExecutionHandle, error)
	// GetState returns the current state of an execution.
	GetState(ctx context.Context, h ExecutionHandle) (*ExecutionStatus, error)
	// GetResultLocation resolves the result object of a succeeded execution.
	GetResultLocation(ctx context.Context, h ExecutionHandle) (ResultLocation, error)
	// Read opens the result object. size is -1 when the service does not report it.
	Read(ctx context.Context, loc ResultLocation) (body io.ReadCloser, size int64, err error)
}

// ExecutionCanceler is implemented by services that can stop a running execution.
type ExecutionCanceler interface {
	Cancel(ctx context.Context, h ExecutionHandle) error
}
