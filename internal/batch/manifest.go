// Package batch runs several queries that share one request id.
package batch

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Item is one query of a manifest.
type Item struct {
	Name     string        `yaml:"name"`
	SQL      string        `yaml:"sql"`
	Filename string        `yaml:"filename"`
	MaxWait  time.Duration `yaml:"max_wait,omitempty"`
}

// Manifest lists the queries of a batch.
//
//	request_id: weekly-report
//	parallelism: 2
//	queries:
//	  - name: enrolments
//	    sql: SELECT course, COUNT(*) AS n FROM enrolments GROUP BY course
//	    filename: enrolments.csv
type Manifest struct {
	RequestID   string `yaml:"request_id"`
	Parallelism int    `yaml:"parallelism,omitempty"`
	Queries     []Item `yaml:"queries"`
}

// LoadManifest reads and validates the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := ParseManifest(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ParseManifest decodes a manifest, rejecting unknown fields, and validates it.
func ParseManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("manifest is empty")
		}
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// sidecarExt matches the SQL sidecar the engine writes beside each artifact.
const sidecarExt = ".sql"

// Validate checks the manifest shape. Query names default to their filename.
// No filename may be another query's SQL sidecar.
// The SQL itself is checked later, per item, when the batch runs.
func (m *Manifest) Validate() error {
	if len(m.Queries) == 0 {
		return errors.New("manifest lists no queries")
	}
	if m.Parallelism < 0 {
		return fmt.Errorf("parallelism must not be negative, got %d", m.Parallelism)
	}

	seen := make(map[string]int, len(m.Queries))
	for i := range m.Queries {
		q := &m.Queries[i]
		if strings.TrimSpace(q.SQL) == "" {
			return fmt.Errorf("query %d: sql is required", i+1)
		}
		if q.Filename == "" {
			return fmt.Errorf("query %d: filename is required", i+1)
		}
		if q.MaxWait < 0 {
			return fmt.Errorf("query %d: max_wait must not be negative", i+1)
		}
		if q.Name == "" {
			q.Name = q.Filename
		}
		if prev, dup := seen[q.Filename]; dup {
			return fmt.Errorf("queries %d and %d both write %q", prev, i+1, q.Filename)
		}
		seen[q.Filename] = i + 1
	}
	for i, q := range m.Queries {
		if owner, ok := seen[q.Filename+sidecarExt]; ok {
			return fmt.Errorf("query %d writes %q, the SQL sidecar of query %d", owner, q.Filename+sidecarExt, i+1)
		}
	}
	return nil
}
