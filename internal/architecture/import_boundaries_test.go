package architecture_test

import (
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const modulePath = "athena-runner"

type layerRule struct {
	sourcePrefix string
	forbidden    []string
	hint         string
}

var rules = []layerRule{
	{
		sourcePrefix: modulePath + "/internal/domain",
		forbidden:    []string{modulePath + "/"},
		hint:         "domain may only import the standard library",
	},
	{
		sourcePrefix: modulePath + "/internal/sqlguard",
		forbidden: []string{
			modulePath + "/internal/engine",
			modulePath + "/internal/athena",
			modulePath + "/internal/namespace",
			modulePath + "/internal/config",
		},
		hint: "sqlguard depends only on domain",
	},
	{
		sourcePrefix: modulePath + "/internal/namespace",
		forbidden: []string{
			modulePath + "/internal/engine",
			modulePath + "/internal/athena",
			modulePath + "/internal/sqlguard",
			modulePath + "/internal/config",
		},
		hint: "namespace depends only on domain",
	},
	{
		sourcePrefix: modulePath + "/internal/engine",
		forbidden: []string{
			modulePath + "/internal/athena",
			modulePath + "/internal/config",
			modulePath + "/internal/batch",
			modulePath + "/pkg/cli",
			modulePath + "/cmd",
		},
		hint: "engine talks to the query service through domain.QueryService only",
	},
	{
		sourcePrefix: modulePath + "/internal/athena",
		forbidden: []string{
			modulePath + "/internal/engine",
			modulePath + "/internal/config",
			modulePath + "/internal/batch",
			modulePath + "/pkg/cli",
		},
		hint: "athena adapts the AWS SDK to domain ports and knows nothing of callers",
	},
	{
		sourcePrefix: modulePath + "/internal/batch",
		forbidden: []string{
			modulePath + "/internal/athena",
			modulePath + "/internal/engine",
			modulePath + "/pkg/cli",
		},
		hint: "batch drives any Runner",
	},
}

// sdkPrefixes may only be imported by the adapter.
var sdkPrefixes = []string{
	"github.com/aws/aws-sdk-go-v2",
	"github.com/aws/smithy-go",
}

func TestImportBoundaries(t *testing.T) {
	files, err := collectGoFiles(filepath.Join(repoRootDir(), "internal"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	violations := make([]string, 0)
	for _, file := range files {
		if shouldSkipFile(file) {
			continue
		}
		sourcePkg := packageImportPath(file)
		rule, ok := findRule(sourcePkg)
		if !ok {
			continue
		}
		for _, importPath := range parseImports(t, file) {
			if !strings.HasPrefix(importPath, modulePath+"/") {
				continue
			}
			if violatesRule(importPath, rule.forbidden) {
				violations = append(violations,
					"governance: "+sourcePkg+" imports "+importPath+" via "+relToRepoRoot(file)+"; allowed direction: "+rule.hint,
				)
			}
		}
	}

	if len(violations) > 0 {
		sort.Strings(violations)
		t.Fatalf("%s", strings.Join(violations, "\n"))
	}
}

func TestAWSSDKConfinedToAdapter(t *testing.T) {
	files, err := collectGoFiles(repoRootDir())
	require.NoError(t, err)

	violations := make([]string, 0)
	for _, file := range files {
		if shouldSkipFile(file) {
			continue
		}
		if hasPathPrefix(packageImportPath(file), modulePath+"/internal/athena") {
			continue
		}
		for _, importPath := range parseImports(t, file) {
			if violatesRule(importPath, sdkPrefixes) {
				violations = append(violations, relToRepoRoot(file)+" imports "+importPath)
			}
		}
	}

	sort.Strings(violations)
	require.Empty(t, violations, "only internal/athena may import the AWS SDK:\n%s", strings.Join(violations, "\n"))
}

func TestTestutilOnlyInTests(t *testing.T) {
	files, err := collectGoFiles(repoRootDir())
	require.NoError(t, err)

	violations := make([]string, 0)
	for _, file := range files {
		if isTestFile(file) || hasPathPrefix(packageImportPath(file), modulePath+"/internal/testutil") {
			continue
		}
		for _, importPath := range parseImports(t, file) {
			if hasPathPrefix(importPath, modulePath+"/internal/testutil") {
				violations = append(violations, relToRepoRoot(file))
			}
		}
	}

	sort.Strings(violations)
	require.Empty(t, violations, "production code must not import internal/testutil:\n%s", strings.Join(violations, "\n"))
}

func collectGoFiles(root string) ([]string, error) {
	files := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if name := d.Name(); path != root && (strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, ".go") {
			files = append(files, filepath.ToSlash(path))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func repoRootDir() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "."
	}
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
}

func relToRepoRoot(path string) string {
	rel, err := filepath.Rel(repoRootDir(), path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func packageImportPath(file string) string {
	return modulePath + "/" + filepath.ToSlash(filepath.Dir(relToRepoRoot(file)))
}

func parseImports(t *testing.T, file string) []string {
	t.Helper()

	fset := token.NewFileSet()
	parsed, err := parser.ParseFile(fset, file, nil, parser.ImportsOnly)
	require.NoErrorf(t, err, "parse imports for %s", file)

	imports := make([]string, 0, len(parsed.Imports))
	for _, imp := range parsed.Imports {
		imports = append(imports, strings.Trim(imp.Path.Value, "\""))
	}
	return imports
}

func isTestFile(path string) bool {
	return strings.HasSuffix(filepath.Base(path), "_test.go")
}

func shouldSkipFile(path string) bool {
	return isTestFile(path)
}

func findRule(sourcePkg string) (layerRule, bool) {
	for _, rule := range rules {
		if hasPathPrefix(sourcePkg, rule.sourcePrefix) {
			return rule, true
		}
	}
	return layerRule{}, false
}

func violatesRule(importPath string, forbidden []string) bool {
	for _, prefix := range forbidden {
		if strings.HasSuffix(prefix, "/") {
			if strings.HasPrefix(importPath, prefix) {
				return true
			}
			continue
		}
		if hasPathPrefix(importPath, prefix) {
			return true
		}
	}
	return false
}

func hasPathPrefix(value string, prefix string) bool {
	return value == prefix || strings.HasPrefix(value, prefix+"/")
}
