package engine

import "time"

// Defaults applied when neither configuration nor the request sets a value.
//
// The poll interval and max wait match 100 polls at 2s. Transient status
// check failures are retried 5 times per tick with exponential backoff
// starting at 200ms, capped at 5s, with 10% jitter.
const (
	DefaultPollInterval   = 2 * time.Second
	DefaultMaxWait        = 200 * time.Second
	DefaultMaxPollRetries = 5
	DefaultRetryBase      = 200 * time.Millisecond
	DefaultRetryCap       = 5 * time.Second
	DefaultRetryJitter    = 10 // percent
)
