package domain

import "time"

// QueryRequest is a single caller invocation of the engine.
type QueryRequest struct {
	SQL           string
	RequestID     string
	LocalFilename string

	// PollInterval and MaxWait override the engine defaults when non-zero.
	PollInterval time.Duration
	MaxWait      time.Duration
}

// ResultArtifact describes a materialized result file. The engine never deletes it.
type ResultArtifact struct {
	LocalPath string
	ByteSize  int64
	RowCount  *int64 // nil when not cheaply derivable
	SQLPath   string // companion .sql file, empty when not written
	Source    ResultLocation
}

// QueryResult is what the engine entry point returns on success.
type QueryResult struct {
	Handle   ExecutionHandle
	Artifact ResultArtifact
	Stats    ExecutionStats
	Polls    int
	Elapsed  time.Duration
}
