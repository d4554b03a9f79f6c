package sync

import (
	"fmt"
	"time"

	"github.com/steveyegge/modelsync/internal/artifact"
	"github.com/steveyegge/modelsync/internal/builder"
)

// Report describes one committed update cycle.
type Report struct {
	Revision string `json:"revision"`
	Cycle    int    `json:"cycle"`

	// RebuildSet lists the artifacts handed to the builder, after vanished
	// artifacts were dropped.
	RebuildSet []artifact.ID `json:"rebuild_set"`
	// Removed lists removed and relocated-from artifacts.
	Removed []artifact.ID `json:"removed,omitempty"`
	// Vanished lists rebuild candidates that no longer existed on disk.
	Vanished []artifact.ID `json:"vanished,omitempty"`
	// Failed lists the artifacts the builder reported as failed.
	Failed []artifact.ID `json:"failed,omitempty"`
	// Pending is the pending set carried to the next cycle.
	Pending []artifact.ID `json:"pending,omitempty"`

	UnitsRemoved     int      `json:"units_removed"`
	UnitsAdded       int      `json:"units_added"`
	Units            int      `json:"units"`
	PrunedNamespaces []string `json:"pruned_namespaces,omitempty"`
	LeakedOutputs    int      `json:"leaked_outputs,omitempty"`

	Diagnostics []builder.Diagnostic `json:"diagnostics,omitempty"`
	Duration    time.Duration        `json:"duration"`
}

// Clean reports whether the cycle left nothing pending.
func (r *Report) Clean() bool {
	return len(r.Pending) == 0 && len(r.Failed) == 0
}

// Summary returns a single line description of the cycle.
func (r *Report) Summary() string {
	return fmt.Sprintf("revision %s: rebuilt %d artifacts (+%d/-%d units, %d total), removed %d, pending %d, %s",
		r.Revision, len(r.RebuildSet), r.UnitsAdded, r.UnitsRemoved, r.Units, len(r.Removed), len(r.Pending),
		r.Duration.Round(time.Millisecond))
}
