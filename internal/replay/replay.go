// Package replay drives a synchronizer through a range of repository
// revisions, one update cycle per revision.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/steveyegge/modelsync/internal/sync"
	"github.com/steveyegge/modelsync/internal/vcs"
)

// Options controls a replay.
type Options struct {
	Dir    string    // Scratch checkout directory; the synchronizer's BaseDir
	From   string    // Exclusive start revision; empty replays from the beginning
	To     string    // Inclusive end revision; empty is the current revision
	Since  time.Time // Skip revisions older than this
	Keep   bool      // Leave the checkout in place afterwards
	Logger *log.Logger
}

// Step is the outcome of one revision.
type Step struct {
	Revision vcs.Revision
	Changes  int
	Report   *sync.Report
	Err      error
}

// Result contains statistics about the replay.
type Result struct {
	Revisions int
	Committed int
	Failed    int
	Last      string // Last committed revision
	Errors    []string
}

// Run checks out each revision in turn and submits the files it changed.
//
// A cycle that fails with a retryable error is rolled back by the
// synchronizer; its changes are folded into the next revision's diff so
// nothing is lost. Fatal errors and cancellation stop the replay.
// The first revision is diffed against opts.From (or the last revision
// skipped by opts.Since) only when s already holds a committed revision;
// an empty synchronizer gets every file of the first revision as added.
// onStep, when non-nil, is called after every revision.
func Run(ctx context.Context, h vcs.History, s sync.Synchronizer, opts Options, onStep func(Step)) (*Result, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("checkout directory is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[replay] ", log.LstdFlags)
	}

	revs, err := h.Revisions(ctx, opts.From, opts.To)
	if err != nil {
		return nil, fmt.Errorf("failed to list revisions: %w", err)
	}

	base := opts.From
	kept := vcs.Since(revs, opts.Since)
	if skipped := len(revs) - len(kept); skipped > 0 {
		base = revs[skipped-1].ID
		logger.Printf("Skipping %d revisions older than %s", skipped, opts.Since.Format(time.RFC3339))
	}

	result := &Result{Revisions: len(kept), Last: s.Revision()}
	if !opts.Keep {
		defer func() {
			if err := h.Release(context.Background(), opts.Dir); err != nil && len(kept) > 0 {
				logger.Printf("WARNING: failed to release checkout: %v", err)
			}
		}()
	}

	// A model that reflects no revision yet is built from the full tree of
	// the first revision, not from its diff against base.
	prev := base
	if s.Revision() == "" {
		prev = ""
	}
	for _, rev := range kept {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		step := Step{Revision: rev}
		step.Err = replayOne(ctx, h, s, opts.Dir, prev, &step)
		if onStep != nil {
			onStep(step)
		}

		switch {
		case step.Err == nil:
			prev = rev.ID
			result.Committed++
			result.Last = rev.ID
		case sync.IsFatal(step.Err), vcs.IsFatal(step.Err), errors.Is(step.Err, sync.ErrCancelled), ctx.Err() != nil:
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", rev.Short(), step.Err))
			return result, step.Err
		default:
			// prev stays put so the next diff still carries these changes.
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", rev.Short(), step.Err))
			logger.Printf("WARNING: revision %s rolled back: %v", rev.Short(), step.Err)
		}
	}
	return result, nil
}

func replayOne(ctx context.Context, h vcs.History, s sync.Synchronizer, dir, prev string, step *Step) error {
	rev := step.Revision
	if err := h.Checkout(ctx, dir, rev.ID); err != nil {
		return fmt.Errorf("failed to check out %s: %w", rev.Short(), err)
	}
	changes, err := h.Changes(ctx, prev, rev.ID)
	if err != nil {
		return fmt.Errorf("failed to diff %s: %w", rev.Short(), err)
	}
	step.Changes = len(changes)

	report, err := s.Update(ctx, rev.ID, changes)
	if err != nil {
		return err
	}
	step.Report = report
	return nil
}
