// Package namespace maps request identifiers onto result directories.
//
// Every request owns <root>/<request_id>/. Names are validated, never
// rewritten: an unsafe request id or filename is rejected outright.
package namespace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"athena-runner/internal/domain"
)

// DefaultRoot is the directory under which request namespaces are created.
const DefaultRoot = "results/raw"

// Manager resolves artifact paths inside per-request directories.
type Manager struct {
	root string
}

// New creates a Manager rooted at root. An empty root means DefaultRoot.
func New(root string) *Manager {
	if root == "" {
		root = DefaultRoot
	}
	return &Manager{root: filepath.Clean(root)}
}

// Root returns the configured root directory.
func (m *Manager) Root() string { return m.root }

// Path validates the inputs and returns <root>/<request_id>/<filename>
// without touching the filesystem.
func (m *Manager) Path(requestID, filename string) (string, error) {
	if err := checkName("request_id", requestID); err != nil {
		return "", err
	}
	if err := checkName("filename", filename); err != nil {
		return "", err
	}
	return filepath.Join(m.root, requestID, filename), nil
}

// Resolve validates the inputs, ensures the request directory exists, and
// returns the absolute artifact path. It is idempotent. An existing file at
// the returned path is not protected: the next write replaces it.
func (m *Manager) Resolve(requestID, filename string) (string, error) {
	rel, err := m.Path(requestID, filename)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(rel)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", rel, err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create request directory: %w", err)
	}
	return abs, nil
}

// SidecarPath returns the companion path for path with ext appended to the
// full filename, e.g. "count.csv" -> "count.csv.sql". Distinct artifacts
// therefore never share a sidecar.
func SidecarPath(path, ext string) string {
	return path + ext
}

func checkName(field, value string) error {
	switch {
	case value == "":
		return domain.ErrInvalidNamespaceInput(field, value, "must not be empty")
	case strings.TrimSpace(value) == "":
		return domain.ErrInvalidNamespaceInput(field, value, "must not be blank")
	case value == "." || value == "..":
		return domain.ErrInvalidNamespaceInput(field, value, "must not be a relative directory reference")
	case strings.Contains(value, ".."):
		return domain.ErrInvalidNamespaceInput(field, value, "must not contain \"..\"")
	case strings.ContainsAny(value, `/\`):
		return domain.ErrInvalidNamespaceInput(field, value, "must not contain path separators")
	case strings.ContainsRune(value, 0):
		return domain.ErrInvalidNamespaceInput(field, value, "must not contain NUL bytes")
	case filepath.VolumeName(value) != "":
		return domain.ErrInvalidNamespaceInput(field, value, "must not contain a volume name")
	}
	return nil
}
