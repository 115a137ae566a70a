package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const quizFile = `{
  "id": "cli-quiz",
  "title": "Go Basics",
  "description": "About Go",
  "questions": [
    {"question": "What is Go?", "options": ["A language", "A game"], "correctAnswer": 0},
    {"question": "Who made Go?", "options": ["Google", "Nobody"], "correctAnswer": 0}
  ]
}`

// run executes one goquiz invocation against an isolated data directory.
func run(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	base := []string{"--data-dir", dataDir, "--cache-dir", filepath.Join(dataDir, "cache"), "--env-file", filepath.Join(dataDir, "missing.env")}
	cmd.SetArgs(append(base, args...))
	cmd.SetErr(io.Discard)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLI_LibraryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "quiz.json")
	if err := os.WriteFile(src, []byte(quizFile), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	out, err := run(t, dir, "import", src, "--preserve-id")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out, "cli-quiz\tGo Basics\t2 questions") {
		t.Fatalf("unexpected import output %q", out)
	}

	if _, err := run(t, dir, "profile", "create", "--name", "Ada", "--email", "ada@example.com"); err != nil {
		t.Fatalf("profile create: %v", err)
	}
	out, err = run(t, dir, "take", "cli-quiz", "--answers", "0,1")
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if !strings.Contains(out, "score 1/2 (50%)") || strings.Contains(out, "not recorded") {
		t.Fatalf("unexpected take output %q", out)
	}

	out, err = run(t, dir, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "cli-quiz") || !strings.Contains(out, "50%") {
		t.Fatalf("unexpected list output %q", out)
	}

	out, err = run(t, dir, "scores", "--quiz", "cli-quiz")
	if err != nil {
		t.Fatalf("scores: %v", err)
	}
	if !strings.Contains(out, "1/2") {
		t.Fatalf("unexpected scores output %q", out)
	}

	exportDir := filepath.Join(dir, "out")
	if err := os.Mkdir(exportDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	out, err = run(t, dir, "export", "cli-quiz", "--format", "pdf", "--out", exportDir)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	path := strings.TrimSpace(out)
	if filepath.Dir(path) != exportDir || filepath.Ext(path) != ".pdf" {
		t.Fatalf("unexpected export path %q", path)
	}

	out, err = run(t, dir, "profile", "show")
	if err != nil {
		t.Fatalf("profile show: %v", err)
	}
	if !strings.Contains(out, "Ada") || !strings.Contains(out, "gravatar.com") {
		t.Fatalf("unexpected profile output %q", out)
	}

	if _, err := run(t, dir, "scores", "--clear"); err != nil {
		t.Fatalf("scores clear: %v", err)
	}
	if out, _ := run(t, dir, "scores"); !strings.Contains(out, "no scores") {
		t.Fatalf("history should be empty, got %q", out)
	}

	if _, err := run(t, dir, "remove", "cli-quiz"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if out, _ := run(t, dir, "list"); !strings.Contains(out, "no quizzes") {
		t.Fatalf("library should be empty, got %q", out)
	}
	if _, err := run(t, dir, "remove", "cli-quiz"); err == nil {
		t.Fatalf("removing a missing quiz should fail")
	}
}

func TestCLI_TakeWithoutProfile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "quiz.json")
	if err := os.WriteFile(src, []byte(quizFile), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := run(t, dir, "import", src, "--preserve-id"); err != nil {
		t.Fatalf("import: %v", err)
	}
	out, err := run(t, dir, "take", "cli-quiz", "-a", "0,0")
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if !strings.Contains(out, "score 2/2 (100%)") || !strings.Contains(out, "not recorded") {
		t.Fatalf("unexpected output %q", out)
	}
	if _, err := run(t, dir, "take", "cli-quiz"); err == nil {
		t.Fatalf("missing --answers should fail")
	}
	if _, err := run(t, dir, "take", "cli-quiz", "-a", "0"); err == nil {
		t.Fatalf("short answer list should fail")
	}
}

func TestCLI_ExtractDirect(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<html><head><title>Gophers</title></head><body><p>Gophers dig tunnels.</p></body></html>`)
	}))
	defer site.Close()

	out, err := run(t, t.TempDir(), "extract", site.URL, "--direct")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.Contains(out, "# Gophers") || !strings.Contains(out, "Gophers dig tunnels.") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestCLI_InvalidConfig(t *testing.T) {
	if _, err := run(t, t.TempDir(), "--log-format", "xml", "list"); err == nil {
		t.Fatalf("expected invalid log format to fail")
	}
	if _, err := run(t, t.TempDir(), "generate", "https://example.com", "-n", "0", "--direct"); err == nil || !strings.Contains(err.Error(), "Questions") {
		t.Fatalf("expected question count validation error, got %v", err)
	}
}

func TestCLI_Version(t *testing.T) {
	out, err := run(t, t.TempDir(), "--version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "goquiz version ") {
		t.Fatalf("unexpected version output %q", out)
	}
}
