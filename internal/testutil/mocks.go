// Package testutil provides shared fakes of domain interfaces for use in tests
// across the codebase. This follows the Go convention of a shared test utility
// package (like net/http/httptest).
package testutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"athena-runner/internal/domain"
)

// === Query Service Fake ===

// StateStep is one scripted answer to GetState.
type StateStep struct {
	Status domain.ExecutionStatus
	Err    error
}

// States scripts a plain sequence of states.
func States(states ...domain.ExecutionState) []StateStep {
	steps := make([]StateStep, len(states))
	for i, s := range states {
		steps[i] = StateStep{Status: domain.ExecutionStatus{State: s}}
	}
	return steps
}

// Failed scripts a FAILED state carrying reason.
func Failed(reason string) StateStep {
	return StateStep{Status: domain.ExecutionStatus{State: domain.StateFailed, Reason: reason}}
}

// TransientFailures scripts n transient transport errors.
func TransientFailures(n int) []StateStep {
	steps := make([]StateStep, n)
	for i := range steps {
		steps[i] = StateStep{Err: domain.Transient(errors.New("connection reset by peer"))}
	}
	return steps
}

// Script concatenates step groups.
func Script(groups ...[]StateStep) []StateStep {
	var out []StateStep
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// FakeQueryService is a deterministic in-memory domain.QueryService.
//
// Every execution walks its own copy of Script, one step per GetState call;
// the last step repeats forever. An empty Script succeeds immediately.
// Result content comes from ResultsBySQL keyed by the submitted SQL, falling
// back to Content.
type FakeQueryService struct {
	Script       []StateStep
	Content      []byte
	ResultsBySQL map[string][]byte
	ResultExt    string // result object extension, default ".csv"

	SubmitErr      error
	LocateErr      error
	ReadErr        error
	AdvertisedSize *int64    // overrides the size Read reports
	Body           io.Reader // replaces the result body, e.g. a FailingReader

	mu          sync.Mutex
	nextID      int
	execs       map[domain.ExecutionHandle]*fakeExecution
	submitted   []string
	stateCalls  int
	locateCalls int
	readCalls   int
	cancelled   []domain.ExecutionHandle
}

type fakeExecution struct {
	sql       string
	tick      int
	cancelled bool
}

// Compile-time checks.
var (
	_ domain.QueryService      = (*FakeQueryService)(nil)
	_ domain.ExecutionCanceler = (*FakeQueryService)(nil)
)

// Submit implements domain.QueryService.
func (f *FakeQueryService) Submit(_ context.Context, sql string) (domain.ExecutionHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.submitted = append(f.submitted, sql)
	if f.SubmitErr != nil {
		return "", f.SubmitErr
	}
	if f.execs == nil {
		f.execs = make(map[domain.ExecutionHandle]*fakeExecution)
	}
	f.nextID++
	h := domain.ExecutionHandle(fmt.Sprintf("exec-%04d", f.nextID))
	f.execs[h] = &fakeExecution{sql: sql}
	return h, nil
}

// GetState implements domain.QueryService.
func (f *FakeQueryService) GetState(_ context.Context, h domain.ExecutionHandle) (*domain.ExecutionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stateCalls++
	exec, ok := f.execs[h]
	if !ok {
		return nil, domain.ErrNotFound("execution %s not found", h)
	}
	if exec.cancelled {
		return &domain.ExecutionStatus{State: domain.StateCancelled, Reason: "cancelled by user"}, nil
	}
	if len(f.Script) == 0 {
		return &domain.ExecutionStatus{State: domain.StateSucceeded}, nil
	}

	idx := exec.tick
	if idx >= len(f.Script) {
		idx = len(f.Script) - 1
	}
	exec.tick++

	step := f.Script[idx]
	if step.Err != nil {
		return nil, step.Err
	}
	status := step.Status
	return &status, nil
}

// GetResultLocation implements domain.QueryService.
func (f *FakeQueryService) GetResultLocation(_ context.Context, h domain.ExecutionHandle) (domain.ResultLocation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.locateCalls++
	if f.LocateErr != nil {
		return domain.ResultLocation{}, f.LocateErr
	}
	if _, ok := f.execs[h]; !ok {
		return domain.ResultLocation{}, domain.ErrNotFound("execution %s not found", h)
	}
	ext := f.ResultExt
	if ext == "" {
		ext = ".csv"
	}
	return domain.ResultLocation{Bucket: "fake-results", Key: "athena/" + string(h) + ext}, nil
}

// Read implements domain.QueryService.
func (f *FakeQueryService) Read(_ context.Context, loc domain.ResultLocation) (io.ReadCloser, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.readCalls++
	if f.ReadErr != nil {
		return nil, 0, f.ReadErr
	}

	name := strings.TrimPrefix(loc.Key, "athena/")
	if ext := strings.LastIndex(name, "."); ext >= 0 {
		name = name[:ext]
	}
	exec, ok := f.execs[domain.ExecutionHandle(name)]
	if !ok {
		return nil, 0, domain.ErrNotFound("object %s not found", loc.URI())
	}

	if f.Body != nil {
		size := int64(-1)
		if f.AdvertisedSize != nil {
			size = *f.AdvertisedSize
		}
		return io.NopCloser(f.Body), size, nil
	}

	content := f.Content
	if c, ok := f.ResultsBySQL[exec.sql]; ok {
		content = c
	}
	size := int64(len(content))
	if f.AdvertisedSize != nil {
		size = *f.AdvertisedSize
	}
	return io.NopCloser(bytes.NewReader(content)), size, nil
}

// Cancel implements domain.ExecutionCanceler.
func (f *FakeQueryService) Cancel(_ context.Context, h domain.ExecutionHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	exec, ok := f.execs[h]
	if !ok {
		return domain.ErrNotFound("execution %s not found", h)
	}
	exec.cancelled = true
	f.cancelled = append(f.cancelled, h)
	return nil
}

// Submitted returns every SQL string passed to Submit.
func (f *FakeQueryService) Submitted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.submitted...)
}

// StateCalls returns the number of GetState calls.
func (f *FakeQueryService) StateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stateCalls
}

// FetchCalls returns the number of GetResultLocation and Read calls.
func (f *FakeQueryService) FetchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.locateCalls + f.readCalls
}

// Cancelled returns every handle passed to Cancel.
func (f *FakeQueryService) Cancelled() []domain.ExecutionHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ExecutionHandle(nil), f.cancelled...)
}

// === Strict Service ===

// UnreachableService fails the test on any call. Use it to prove that a code
// path rejects input before contacting the query service.
type UnreachableService struct {
	T testing.TB
}

var _ domain.QueryService = UnreachableService{}

func (u UnreachableService) fail(method string) error {
	u.T.Helper()
	u.T.Errorf("unexpected call to QueryService.%s", method)
	return fmt.Errorf("unexpected call to %s", method)
}

// Submit implements domain.QueryService.
func (u UnreachableService) Submit(context.Context, string) (domain.ExecutionHandle, error) {
	return "", u.fail("Submit")
}

// GetState implements domain.QueryService.
func (u UnreachableService) GetState(context.Context, domain.ExecutionHandle) (*domain.ExecutionStatus, error) {
	return nil, u.fail("GetState")
}

// GetResultLocation implements domain.QueryService.
func (u UnreachableService) GetResultLocation(context.Context, domain.ExecutionHandle) (domain.ResultLocation, error) {
	return domain.ResultLocation{}, u.fail("GetResultLocation")
}

// Read implements domain.QueryService.
func (u UnreachableService) Read(context.Context, domain.ResultLocation) (io.ReadCloser, int64, error) {
	return nil, 0, u.fail("Read")
}

// === Readers ===

// FailingReader returns data and then err.
type FailingReader struct {
	Data []byte
	Err  error
	off  int
}

func (r *FailingReader) Read(p []byte) (int, error) {
	if r.off >= len(r.Data) {
		return 0, r.Err
	}
	n := copy(p, r.Data[r.off:])
	r.off += n
	return n, nil
}
