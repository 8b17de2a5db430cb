package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.log")
	l, err := New("pipeline", Warn, path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Info("should be dropped")
	l.Warn("should be kept")
	l.Close()

	lines := readLines(t, path)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %v", len(lines), lines)
	}
	var e entry
	if err := json.Unmarshal([]byte(lines[0]), &e); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if e.Level != "warn" || e.Message != "should be kept" {
		t.Fatalf("unexpected entry: %+v", e)
	}
}

func TestTraceIsBelowDebug(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.log")
	l, err := New("pipeline", Debug, path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Trace("should be dropped")
	l.Debug("should be kept")
	l.Close()

	lines := readLines(t, path)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %v", len(lines), lines)
	}
	var e entry
	if err := json.Unmarshal([]byte(lines[0]), &e); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if e.Level != "debug" {
		t.Fatalf("expected debug entry to survive a Debug-level logger, got %+v", e)
	}
}

func TestParseLevelAcceptsTrace(t *testing.T) {
	lvl, err := ParseLevel("trace")
	if err != nil {
		t.Fatalf("ParseLevel(trace): %v", err)
	}
	if lvl != Trace {
		t.Fatalf("expected Trace, got %v", lvl)
	}
	if Trace >= Debug {
		t.Fatalf("expected Trace to sort below Debug")
	}
}

func TestWithAddsGlobalFieldWithoutMutatingParent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.log")
	base, err := New("router", Debug, path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	child := base.With("rule", "legacy-to-ip")
	child.Info("routed")
	base.Info("base-only")
	base.Close()

	lines := readLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var first entry
	json.Unmarshal([]byte(lines[0]), &first)
	if first.Fields["rule"] != "legacy-to-ip" {
		t.Fatalf("expected child entry to carry rule field, got %+v", first.Fields)
	}
	var second entry
	json.Unmarshal([]byte(lines[1]), &second)
	if _, ok := second.Fields["rule"]; ok {
		t.Fatal("expected parent logger to be unaffected by child's With()")
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}
