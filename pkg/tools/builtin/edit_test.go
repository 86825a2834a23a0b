package builtin_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/carbon-run/agentcore/pkg/ai"
	"github.com/carbon-run/agentcore/pkg/tools"
	"github.com/carbon-run/agentcore/pkg/tools/builtin"
)

func resultTextContent(r tools.Result) string {
	var sb strings.Builder
	for _, b := range r.Content {
		if tc, ok := b.(ai.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

func editTool(t *testing.T, cwd, path, oldText, newText string) string {
	t.Helper()
	tool := builtin.NewEditTool(cwd)
	result, err := tool.Execute(context.Background(), "c1", map[string]any{
		"path":    path,
		"oldText": oldText,
		"newText": newText,
	}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return resultTextContent(result)
}

func TestEditTool_BasicReplace(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "f.go")
	os.WriteFile(f, []byte("func Hello() {}\n"), 0644)

	editTool(t, dir, "f.go", "Hello", "World")

	data, _ := os.ReadFile(f)
	if !strings.Contains(string(data), "World") {
		t.Errorf("replacement not applied, got: %s", data)
	}
	if strings.Contains(string(data), "Hello") {
		t.Errorf("old text still present: %s", data)
	}
}

func TestEditTool_MultilineReplace(t *testing.T) {
	dir := t.TempDir()
	original := "line one\nline two\nline three\n"
	os.WriteFile(filepath.Join(dir, "f.txt"), []byte(original), 0644)

	editTool(t, dir, "f.txt", "line one\nline two", "replaced")

	data, _ := os.ReadFile(filepath.Join(dir, "f.txt"))
	if !strings.Contains(string(data), "replaced") {
		t.Errorf("multiline replace failed, got: %s", data)
	}
}

func TestEditTool_NotFound(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "f.txt"), []byte("content"), 0644)

	out := editTool(t, dir, "f.txt", "DOES_NOT_EXIST", "x")
	if !strings.Contains(strings.ToLower(out), "error") && !strings.Contains(out, "not found") {
		t.Errorf("expected not-found error, got: %q", out)
	}
}

func TestEditTool_AmbiguousMatch(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "f.txt"), []byte("foo\nfoo\n"), 0644)

	out := editTool(t, dir, "f.txt", "foo", "bar")
	if !strings.Contains(strings.ToLower(out), "error") &&
		!strings.Contains(out, "more than once") &&
		!strings.Contains(out, "multiple") &&
		!strings.Contains(out, "ambiguous") {
		// Some implementations replace the first occurrence; the file contents are not checked.
		data, _ := os.ReadFile(filepath.Join(dir, "f.txt"))
		_ = data // accept either behaviour as long as no panic
	}
}

func TestEditTool_FileNotFound(t *testing.T) {
	dir := t.TempDir()
	out := editTool(t, dir, "missing.txt", "x", "y")
	if !strings.Contains(strings.ToLower(out), "error") {
		t.Errorf("expected error for missing file, got: %q", out)
	}
}

func TestEditTool_Definition(t *testing.T) {
	def := builtin.NewEditTool(".").Definition()
	if def.Name != "str_replace_editor" {
		t.Errorf("name = %q", def.Name)
	}
}
