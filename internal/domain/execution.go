package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ExecutionHandle is the opaque identifier the query service assigns to a submitted query.
type ExecutionHandle string

func (h ExecutionHandle) String() string { return string(h) }

// ExecutionState represents the lifecycle state of a remote query execution.
type ExecutionState int

// Execution lifecycle states. A service-side requeue is reported as RUNNING.
const (
	StateUnknown ExecutionState = iota
	StateQueued
	StateRunning
	StateSucceeded
	StateFailed
	StateCancelled
)

func (s ExecutionState) String() string {
	switch s {
	case StateQueued:
		return "QUEUED"
	case StateRunning:
		return "RUNNING"
	case StateSucceeded:
		return "SUCCEEDED"
	case StateFailed:
		return "FAILED"
	case StateCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether no further transition can occur from s.
func (s ExecutionState) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// ParseExecutionState maps a service state name onto ExecutionState.
// Both CANCELLED and CANCELED spellings are accepted.
func ParseExecutionState(name string) (ExecutionState, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "QUEUED":
		return StateQueued, nil
	case "RUNNING":
		return StateRunning, nil
	case "SUCCEEDED":
		return StateSucceeded, nil
	case "FAILED":
		return StateFailed, nil
	case "CANCELLED", "CANCELED":
		return StateCancelled, nil
	default:
		return StateUnknown, fmt.Errorf("unrecognized execution state %q", name)
	}
}

// ExecutionStats holds the service-reported cost of an execution.
type ExecutionStats struct {
	DataScannedBytes      int64
	EngineExecutionMillis int64
	TotalExecutionMillis  int64
}

// ExecutionStatus is a single observation of a remote execution.
type ExecutionStatus struct {
	State  ExecutionState
	Reason string // state change reason or error message, if any
	Stats  ExecutionStats
}

// Completion is the poller's proof that an execution reached SUCCEEDED.
type Completion struct {
	Handle  ExecutionHandle
	State   ExecutionState
	Stats   ExecutionStats
	Polls   int
	Elapsed time.Duration
}

// ResultLocation references the remote object holding an execution's result set.
type ResultLocation struct {
	Bucket string
	Key    string
}

// URI renders the location as s3://bucket/key.
func (l ResultLocation) URI() string {
	return "s3://" + l.Bucket + "/" + l.Key
}

// ParseS3URI extracts bucket and key from an "s3://bucket/path/to/file" URI.
func ParseS3URI(uri string) (ResultLocation, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return ResultLocation{}, fmt.Errorf("parse S3 path %q: %w", uri, err)
	}
	if u.Scheme != "s3" {
		return ResultLocation{}, fmt.Errorf("expected s3:// scheme, got %q in %q", u.Scheme, uri)
	}
	if u.Host == "" {
		return ResultLocation{}, fmt.Errorf("empty bucket in S3 path %q", uri)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return ResultLocation{}, fmt.Errorf("empty key in S3 path %q", uri)
	}
	return ResultLocation{Bucket: u.Host, Key: key}, nil
}
