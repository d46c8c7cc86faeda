package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"athena-runner/internal/clock"
	"athena-runner/internal/domain"
	"athena-runner/internal/testutil"
)

func newTestEngine(t *testing.T, svc domain.QueryService, saveSQL bool) (*Engine, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "results", "raw")
	e := New(svc, Options{
		ResultsRoot:  root,
		PollInterval: time.Second,
		MaxWait:      time.Minute,
		Retry:        fastRetry(2),
		SaveSQL:      saveSQL,
		Clock:        clock.Fake(epoch),
		Logger:       discardLogger(),
	})
	return e, root
}

func TestRun_CountQuery(t *testing.T) {
	svc := &testutil.FakeQueryService{
		Script:  testutil.States(domain.StateQueued, domain.StateRunning, domain.StateSucceeded),
		Content: []byte("total\n5\n"),
	}
	e, root := newTestEngine(t, svc, false)

	res, err := e.Run(context.Background(), domain.QueryRequest{
		SQL:           "SELECT COUNT(*) FROM t",
		RequestID:     "r1",
		LocalFilename: "count.csv",
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "r1", "count.csv"), res.Artifact.LocalPath)
	assert.Equal(t, int64(8), res.Artifact.ByteSize)
	require.NotNil(t, res.Artifact.RowCount)
	assert.Equal(t, int64(1), *res.Artifact.RowCount)
	assert.Equal(t, 3, res.Polls)
	assert.Equal(t, domain.ExecutionHandle("exec-0001"), res.Handle)
	assert.Empty(t, res.Artifact.SQLPath)

	got, err := os.ReadFile(res.Artifact.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "total\n5\n", string(got))
	assert.Equal(t, []string{"SELECT COUNT(*) FROM t"}, svc.Submitted())
}

func TestRun_PolicyViolationNeverContactsService(t *testing.T) {
	e, root := newTestEngine(t, testutil.UnreachableService{T: t}, false)

	_, err := e.Run(context.Background(), domain.QueryRequest{
		SQL:           "DELETE FROM t",
		RequestID:     "r1",
		LocalFilename: "out.csv",
	})
	require.Error(t, err)

	var pv *domain.PolicyViolationError
	require.True(t, errors.As(err, &pv), "expected PolicyViolationError, got %T", err)
	assert.Equal(t, "DELETE", pv.Keyword)
	assert.NoDirExists(t, root)
}

func TestRun_InvalidNamespaceNeverSubmits(t *testing.T) {
	tests := []struct {
		name      string
		requestID string
		filename  string
	}{
		{"empty request id", "", "out.csv"},
		{"traversal in request id", "../escape", "out.csv"},
		{"separator in filename", "r1", "sub/out.csv"},
		{"dot dot filename", "r1", ".."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, root := newTestEngine(t, testutil.UnreachableService{T: t}, false)
			_, err := e.Run(context.Background(), domain.QueryRequest{
				SQL:           "SELECT 1",
				RequestID:     tt.requestID,
				LocalFilename: tt.filename,
			})
			var inv *domain.InvalidNamespaceInputError
			require.True(t, errors.As(err, &inv), "expected InvalidNamespaceInputError, got %T", err)
			assert.NoDirExists(t, root)
		})
	}
}

func TestRun_OverwritesPreviousArtifact(t *testing.T) {
	svc := &testutil.FakeQueryService{Content: []byte("total\n5\n")}
	e, root := newTestEngine(t, svc, false)
	req := domain.QueryRequest{SQL: "SELECT COUNT(*) FROM t", RequestID: "r1", LocalFilename: "count.csv"}

	_, err := e.Run(context.Background(), req)
	require.NoError(t, err)

	svc.Content = []byte("total\n42\n")
	res, err := e.Run(context.Background(), req)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(root, "r1", "count.csv"))
	require.NoError(t, err)
	assert.Equal(t, "total\n42\n", string(got))
	assert.Equal(t, int64(9), res.Artifact.ByteSize)
	assert.Len(t, svc.Submitted(), 2)
}

func TestRun_SubmissionError(t *testing.T) {
	svc := &testutil.FakeQueryService{SubmitErr: errors.New("AccessDeniedException: not authorized")}
	e, root := newTestEngine(t, svc, false)

	_, err := e.Run(context.Background(), domain.QueryRequest{SQL: "SELECT 1", RequestID: "r1", LocalFilename: "a.csv"})
	assert.Equal(t, domain.KindSubmission, domain.Kind(err))
	assert.False(t, domain.Retryable(err))
	assert.Zero(t, svc.StateCalls())
	assert.NoDirExists(t, filepath.Join(root, "r1"))
}

func TestRun_FailedExecutionCreatesNoArtifact(t *testing.T) {
	svc := &testutil.FakeQueryService{Script: []testutil.StateStep{testutil.Failed("TABLE_NOT_FOUND: Table 't' does not exist")}}
	e, root := newTestEngine(t, svc, false)

	_, err := e.Run(context.Background(), domain.QueryRequest{SQL: "SELECT * FROM t", RequestID: "r1", LocalFilename: "a.csv"})

	var failed *domain.ExecutionFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, "TABLE_NOT_FOUND: Table 't' does not exist", failed.Reason)
	assert.Zero(t, svc.FetchCalls())
	assert.NoFileExists(t, filepath.Join(root, "r1", "a.csv"))
}

func TestRun_RequestOverridesWait(t *testing.T) {
	svc := &testutil.FakeQueryService{Script: testutil.States(domain.StateRunning)}
	e, _ := newTestEngine(t, svc, false)

	_, err := e.Run(context.Background(), domain.QueryRequest{
		SQL:           "SELECT 1",
		RequestID:     "r1",
		LocalFilename: "a.csv",
		PollInterval:  500 * time.Millisecond,
		MaxWait:       2 * time.Second,
	})

	var timeout *domain.TimeoutError
	require.True(t, errors.As(err, &timeout))
	assert.Equal(t, 2*time.Second, timeout.Waited)
	assert.Equal(t, 5, svc.StateCalls())
	assert.Empty(t, svc.Cancelled())
}

func TestRun_SavesSQLSidecar(t *testing.T) {
	svc := &testutil.FakeQueryService{Content: []byte("n\n1\n")}
	e, root := newTestEngine(t, svc, true)
	sql := "SELECT 1 AS n"

	res, err := e.Run(context.Background(), domain.QueryRequest{SQL: sql, RequestID: "r1", LocalFilename: "one.csv"})
	require.NoError(t, err)

	want := filepath.Join(root, "r1", "one.csv.sql")
	assert.Equal(t, want, res.Artifact.SQLPath)
	got, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, sql, string(got))
}

func TestRun_SidecarOfSQLArtifact(t *testing.T) {
	svc := &testutil.FakeQueryService{Content: []byte("n\n1\n")}
	e, root := newTestEngine(t, svc, true)

	res, err := e.Run(context.Background(), domain.QueryRequest{SQL: "SELECT 1", RequestID: "r1", LocalFilename: "dump.sql"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "r1", "dump.sql.sql"), res.Artifact.SQLPath)

	got, err := os.ReadFile(filepath.Join(root, "r1", "dump.sql"))
	require.NoError(t, err)
	assert.Equal(t, "n\n1\n", string(got))
}

func TestRun_SidecarNeverOverwritesSiblingArtifact(t *testing.T) {
	svc := &testutil.FakeQueryService{ResultsBySQL: map[string][]byte{
		"SELECT 1": []byte("x\nARTIFACT\n"),
		"SELECT 2": []byte("y\n2\n"),
	}}
	e, root := newTestEngine(t, svc, true)

	_, err := e.Run(context.Background(), domain.QueryRequest{SQL: "SELECT 1", RequestID: "r1", LocalFilename: "report.sql"})
	require.NoError(t, err)
	_, err = e.Run(context.Background(), domain.QueryRequest{SQL: "SELECT 2", RequestID: "r1", LocalFilename: "report.csv"})
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(root, "r1", "report.sql"))
	require.NoError(t, err)
	assert.Equal(t, "x\nARTIFACT\n", string(got))

	got, err = os.ReadFile(filepath.Join(root, "r1", "report.csv.sql"))
	require.NoError(t, err)
	assert.Equal(t, "SELECT 2", string(got))
}

func TestRun_SameStemArtifactsKeepOwnSidecars(t *testing.T) {
	svc := &testutil.FakeQueryService{ResultsBySQL: map[string][]byte{
		"SELECT 1": []byte("a\n1\n"),
		"SELECT 2": []byte("a\n2\n"),
	}}
	e, root := newTestEngine(t, svc, true)

	csv, err := e.Run(context.Background(), domain.QueryRequest{SQL: "SELECT 1", RequestID: "r1", LocalFilename: "a.csv"})
	require.NoError(t, err)
	txt, err := e.Run(context.Background(), domain.QueryRequest{SQL: "SELECT 2", RequestID: "r1", LocalFilename: "a.txt"})
	require.NoError(t, err)
	require.NotEqual(t, csv.Artifact.SQLPath, txt.Artifact.SQLPath)

	got, err := os.ReadFile(filepath.Join(root, "r1", "a.csv.sql"))
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", string(got))
	got, err = os.ReadFile(filepath.Join(root, "r1", "a.txt.sql"))
	require.NoError(t, err)
	assert.Equal(t, "SELECT 2", string(got))
}

func TestRun_ConcurrentRequestsShareDirectory(t *testing.T) {
	const n = 8
	results := make(map[string][]byte, n)
	for i := 0; i < n; i++ {
		results[fmt.Sprintf("SELECT %d", i)] = []byte(fmt.Sprintf("v\n%d\n", i))
	}
	svc := &testutil.FakeQueryService{ResultsBySQL: results}
	e, root := newTestEngine(t, svc, false)

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.Run(context.Background(), domain.QueryRequest{
				SQL:           fmt.Sprintf("SELECT %d", i),
				RequestID:     "shared",
				LocalFilename: fmt.Sprintf("part-%d.csv", i),
			})
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		got, err := os.ReadFile(filepath.Join(root, "shared", fmt.Sprintf("part-%d.csv", i)))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("v\n%d\n", i), string(got))
	}
}

func TestStatus(t *testing.T) {
	svc := &testutil.FakeQueryService{Script: testutil.States(domain.StateRunning)}
	e, _ := newTestEngine(t, svc, false)
	h := submitted(t, svc)

	status, err := e.Status(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRunning, status.State)

	_, err = e.Status(context.Background(), "missing")
	assert.Equal(t, domain.KindNotFound, domain.Kind(err))
	assert.False(t, domain.Retryable(err))
}

func TestStatus_TransientErrorIsRetryable(t *testing.T) {
	svc := &testutil.FakeQueryService{Script: testutil.TransientFailures(1)}
	e, _ := newTestEngine(t, svc, false)
	h := submitted(t, svc)

	_, err := e.Status(context.Background(), h)
	assert.Equal(t, domain.KindPolling, domain.Kind(err))
	assert.True(t, domain.Retryable(err))
	assert.True(t, domain.IsTransient(err))
}

func TestCancel(t *testing.T) {
	svc := &testutil.FakeQueryService{Script: testutil.States(domain.StateRunning)}
	e, _ := newTestEngine(t, svc, false)
	h := submitted(t, svc)

	require.NoError(t, e.Cancel(context.Background(), h))
	assert.Equal(t, []domain.ExecutionHandle{h}, svc.Cancelled())

	status, err := e.Status(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCancelled, status.State)
}

func TestCancel_NotSupported(t *testing.T) {
	e, _ := newTestEngine(t, testutil.UnreachableService{T: t}, false)

	err := e.Cancel(context.Background(), "exec-1")
	assert.Equal(t, domain.KindNotSupported, domain.Kind(err))
}
