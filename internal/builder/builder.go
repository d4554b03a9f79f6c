// Package builder defines the contract between the synchronizer and the
// parser/builder that turns artifact content into declared units.
//
// A Builder is handed the rebuild set of one cycle. It returns the units it
// parsed, the namespace markers it found and the subset of artifacts that
// failed (parse or compile errors). A non-nil error means the builder could
// not run at all; the synchronizer then rolls the cycle back.
package builder

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/steveyegge/modelsync/internal/artifact"
	"github.com/steveyegge/modelsync/internal/model"
)

// ErrUnavailable is returned by builders that cannot run, for example
// because a required output store is missing.
var ErrUnavailable = errors.New("builder unavailable")

// Environment gives read access to the units that stay in the live model
// while the rebuild set is parsed.
type Environment interface {
	Unit(id model.UnitID) (model.Unit, bool)
}

// Request is the input of one build.
type Request struct {
	Artifacts []artifact.ID
	Env       Environment
}

// Diagnostic is a message about one artifact.
type Diagnostic struct {
	Artifact artifact.ID `json:"artifact"`
	Line     int         `json:"line,omitempty"`
	Message  string      `json:"message"`
}

func (d Diagnostic) String() string {
	if d.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", d.Artifact, d.Line, d.Message)
	}
	return fmt.Sprintf("%s: %s", d.Artifact, d.Message)
}

// Result is the output of one build.
type Result struct {
	Units []model.Unit
	// Markers maps a namespace path to the artifact that marks it.
	Markers     map[string]artifact.ID
	Failures    artifact.Set
	Diagnostics []Diagnostic
}

// NewResult returns an empty result.
func NewResult() *Result {
	return &Result{Markers: make(map[string]artifact.ID), Failures: artifact.NewSet()}
}

// Fail records a failure of a with a diagnostic.
func (r *Result) Fail(a artifact.ID, line int, format string, args ...any) {
	if r.Failures == nil {
		r.Failures = artifact.NewSet()
	}
	r.Failures.Add(a)
	r.Diagnostics = append(r.Diagnostics, Diagnostic{Artifact: a, Line: line, Message: fmt.Sprintf(format, args...)})
}

// Merge appends other to r.
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}
	r.Units = append(r.Units, other.Units...)
	if r.Markers == nil {
		r.Markers = make(map[string]artifact.ID)
	}
	for ns, a := range other.Markers {
		r.Markers[ns] = a
	}
	if r.Failures == nil {
		r.Failures = artifact.NewSet()
	}
	r.Failures.Union(other.Failures)
	r.Diagnostics = append(r.Diagnostics, other.Diagnostics...)
}

// SortDiagnostics orders diagnostics by artifact then line.
func SortDiagnostics(ds []Diagnostic) {
	sort.SliceStable(ds, func(i, j int) bool {
		if ds[i].Artifact != ds[j].Artifact {
			return ds[i].Artifact < ds[j].Artifact
		}
		return ds[i].Line < ds[j].Line
	})
}

// Builder parses artifacts into declared units.
type Builder interface {
	Build(ctx context.Context, req *Request) (*Result, error)
}

// Func adapts a function to the Builder interface.
type Func func(ctx context.Context, req *Request) (*Result, error)

func (f Func) Build(ctx context.Context, req *Request) (*Result, error) { return f(ctx, req) }
