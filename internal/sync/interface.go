package sync

import (
	"context"

	"github.com/steveyegge/modelsync/internal/artifact"
	"github.com/steveyegge/modelsync/internal/change"
	"github.com/steveyegge/modelsync/internal/model"
)

// Reader is the read-only query surface offered to consumers of the model.
type Reader interface {
	// AllUnits returns a snapshot of every declared unit, ordered by id.
	// The slice is not affected by later updates.
	AllUnits() []model.Unit

	// UnitsInNamespace returns the units declared in the namespace at path,
	// including nested units. It returns nil for unknown namespaces.
	UnitsInNamespace(path string) []model.Unit
}

// Synchronizer incrementally maintains the live model.
//
// The synchronizer is an explicit handle: independent instances share no
// state, so tests and tools can run several side by side.
type Synchronizer interface {
	Reader

	// Update applies the change set of one revision transition.
	//
	// The returned report describes the rebuild set, removed units,
	// diagnostics and the pending set carried to the next cycle. Partial
	// build failures are reported there, not as errors.
	//
	// Errors:
	//   - ErrInvalidChangeRecord: a record could not be resolved; nothing
	//     was changed.
	//   - ErrBuilderUnavailable: the builder could not run; the model was
	//     rolled back.
	//   - ErrCancelled: ctx was cancelled or its deadline expired; the model
	//     was rolled back.
	//
	// Example:
	//   report, err := s.Update(ctx, "a1b2c3", change.Set{change.Modify("src/cart.unit.json")})
	Update(ctx context.Context, revision string, changes change.Set) (*Report, error)

	// Pending returns the artifacts carried to the next cycle because their
	// last build did not produce every expected output.
	Pending() []artifact.ID

	// Revision returns the revision of the last committed cycle.
	Revision() string

	// Snapshot returns an independent copy of the live model.
	Snapshot() *model.Model

	// Known reports whether path names an artifact that owns units or is
	// pending.
	Known(path string) bool

	// Stats returns counters describing the live model.
	Stats() Stats
}

// Stats summarizes the synchronizer state.
type Stats struct {
	Revision   string `json:"revision"`
	Cycles     int    `json:"cycles"`
	Units      int    `json:"units"`
	Artifacts  int    `json:"artifacts"`
	Namespaces int    `json:"namespaces"`
	Pending    int    `json:"pending"`
	Leaked     int    `json:"leaked_outputs"`
}
