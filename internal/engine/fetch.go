package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"athena-runner/internal/domain"
)

// Fetcher materializes the result object of a succeeded execution.
type Fetcher struct {
	service domain.QueryService
	logger  *slog.Logger
}

// NewFetcher creates a Fetcher. A nil logger means slog.Default().
func NewFetcher(svc domain.QueryService, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{service: svc, logger: logger}
}

// Fetch copies the result of c byte-for-byte into dest.
//
// The content is streamed into a temporary file next to dest and renamed
// into place only after the full advertised size has been received, so a
// failed transfer never leaves a partial artifact and never disturbs an
// earlier artifact at dest. Row counts are derived while streaming for CSV
// results and reported as unknown otherwise.
func (f *Fetcher) Fetch(ctx context.Context, c *domain.Completion, dest string) (*domain.ResultArtifact, error) {
	if c == nil {
		return nil, domain.ErrPrecondition("fetch requires the completion of a succeeded execution")
	}
	if c.State != domain.StateSucceeded {
		return nil, domain.ErrPrecondition("execution %s is %s, not SUCCEEDED", c.Handle, c.State)
	}
	if dest == "" {
		return nil, domain.ErrPrecondition("fetch requires a destination path")
	}

	loc, err := f.service.GetResultLocation(ctx, c.Handle)
	if err != nil {
		return nil, &domain.FetchError{Message: "resolve result location for " + c.Handle.String(), Err: err}
	}

	body, size, err := f.service.Read(ctx, loc)
	if err != nil {
		return nil, &domain.FetchError{Location: loc.URI(), Message: "open result object", Err: err}
	}
	defer body.Close() //nolint:errcheck

	var counter *recordCounter
	if strings.EqualFold(filepath.Ext(loc.Key), ".csv") {
		counter = &recordCounter{}
	}

	written, ferr := writeAtomic(dest, body, size, counter)
	if ferr != nil {
		ferr.Location = loc.URI()
		return nil, ferr
	}

	artifact := &domain.ResultArtifact{
		LocalPath: dest,
		ByteSize:  written,
		Source:    loc,
	}
	if counter != nil {
		rows := counter.Rows()
		artifact.RowCount = &rows
	}

	f.logger.Info("result materialized", "execution_id", c.Handle, "source", loc.URI(), "path", dest, "bytes", written)
	return artifact, nil
}

// writeAtomic streams r into a temporary sibling of dest and renames it over
// dest once want bytes (when want >= 0) have arrived. The temporary file is
// removed on any failure.
func writeAtomic(dest string, r io.Reader, want int64, counter *recordCounter) (int64, *domain.FetchError) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return 0, &domain.FetchError{Message: "create temporary file", Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	var w io.Writer = tmp
	if counter != nil {
		w = io.MultiWriter(tmp, counter)
	}

	n, err := io.Copy(w, r)
	if err != nil {
		return n, &domain.FetchError{Message: fmt.Sprintf("transfer interrupted after %d bytes", n), Err: err}
	}
	if want >= 0 && n != want {
		return n, &domain.FetchError{Message: fmt.Sprintf("truncated transfer: received %d of %d bytes", n, want)}
	}
	if err := tmp.Chmod(0o644); err != nil {
		return n, &domain.FetchError{Message: "set file mode", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		return n, &domain.FetchError{Message: "sync result file", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return n, &domain.FetchError{Message: "close result file", Err: err}
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return n, &domain.FetchError{Message: "move result into place", Err: err}
	}
	committed = true
	return n, nil
}

// recordCounter counts CSV records in a single streaming pass. Newlines
// inside quoted fields do not end a record; the header line is excluded.
type recordCounter struct {
	records  int64
	inQuotes bool
	pending  bool // bytes seen since the last record terminator
}

func (c *recordCounter) Write(p []byte) (int, error) {
	for _, b := range p {
		switch {
		case b == '"':
			c.inQuotes = !c.inQuotes
			c.pending = true
		case b == '\n' && !c.inQuotes:
			c.records++
			c.pending = false
		default:
			c.pending = true
		}
	}
	return len(p), nil
}

// Rows returns the number of data records, excluding the header.
func (c *recordCounter) Rows() int64 {
	total := c.records
	if c.pending {
		total++
	}
	if total == 0 {
		return 0
	}
	return total - 1
}
