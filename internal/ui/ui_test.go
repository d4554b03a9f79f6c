package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/steveyegge/modelsync/internal/artifact"
	"github.com/steveyegge/modelsync/internal/builder"
	"github.com/steveyegge/modelsync/internal/sync"
)

func TestPrintReport(t *testing.T) {
	DisableColor()
	var buf bytes.Buffer
	PrintReport(&buf, &sync.Report{
		Revision:    "abc123",
		RebuildSet:  []artifact.ID{"/src/a.unit.json"},
		Failed:      []artifact.ID{"/src/a.unit.json"},
		Pending:     []artifact.ID{"/src/a.unit.json"},
		Diagnostics: []builder.Diagnostic{{Artifact: "/src/a.unit.json", Line: 3, Message: "unknown ref"}},
	})
	out := buf.String()
	for _, want := range []string{"pending", "abc123", "failed:", "/src/a.unit.json", "unknown ref"} {
		if !strings.Contains(out, want) {
			t.Errorf("report output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintReportClean(t *testing.T) {
	DisableColor()
	var buf bytes.Buffer
	PrintReport(&buf, &sync.Report{Revision: "r1"})
	if !strings.Contains(buf.String(), "ok") || strings.Contains(buf.String(), "pending:") {
		t.Errorf("clean report = %q", buf.String())
	}
}

func TestPrintError(t *testing.T) {
	DisableColor()
	var buf bytes.Buffer
	PrintError(&buf, "r2", sync.ErrCancelled)
	if !strings.Contains(buf.String(), "retryable") {
		t.Errorf("cancelled cycle should be retryable: %q", buf.String())
	}
	buf.Reset()
	PrintError(&buf, "r3", errors.Join(sync.ErrInvalidChangeRecord))
	if !strings.Contains(buf.String(), "fatal") {
		t.Errorf("invalid change record should be fatal: %q", buf.String())
	}
}

func TestPrintStats(t *testing.T) {
	DisableColor()
	var buf bytes.Buffer
	PrintStats(&buf, sync.Stats{Revision: "r9", Units: 12})
	out := buf.String()
	if !strings.Contains(out, "r9") || !strings.Contains(out, "12") {
		t.Errorf("stats output = %q", out)
	}
	if got := strings.Count(out, "\n"); got != 7 {
		t.Errorf("got %d lines, want 7", got)
	}
}

func TestIndent(t *testing.T) {
	if got := Indent("a\nb\n", 2); got != "  a\n  b\n" {
		t.Errorf("Indent = %q", got)
	}
}
