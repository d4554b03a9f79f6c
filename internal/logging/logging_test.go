package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "msync.log")
	s := Open(Options{File: path})

	s.Logger("sync").Println("cycle committed")
	s.Debug("builder").Println("parsed 3 manifests")
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "[sync] ") || !strings.Contains(out, "cycle committed") {
		t.Errorf("log file missing sync line:\n%s", out)
	}
	if !strings.Contains(out, "parsed 3 manifests") {
		t.Errorf("debug lines should reach a log file:\n%s", out)
	}
}

func TestDebugKeepsWarningsWhenQuiet(t *testing.T) {
	var buf bytes.Buffer
	s := &Sink{w: &buf}

	logger := s.Debug("sync")
	logger.Printf("Cycle %d complete", 1)
	logger.Printf("WARNING: failed to delete output %s: %v", "pkg/A.out", "permission denied")

	out := buf.String()
	if strings.Contains(out, "Cycle 1 complete") {
		t.Errorf("quiet debug logger leaked a debug line:\n%s", out)
	}
	if !strings.Contains(out, "[sync] ") || !strings.Contains(out, "WARNING: failed to delete output pkg/A.out") {
		t.Errorf("quiet debug logger dropped a warning:\n%s", out)
	}
}

func TestDebugVerbose(t *testing.T) {
	s := Open(Options{})
	if s.Debug("sync").Writer() == s.Writer() {
		t.Error("quiet debug logger should filter its output")
	}
	v := Open(Options{Verbose: true})
	if v.Debug("sync").Writer() != v.Writer() {
		t.Error("verbose debug logger should write to the sink")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close without file: %v", err)
	}
}
