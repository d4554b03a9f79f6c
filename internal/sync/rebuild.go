package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/steveyegge/modelsync/internal/artifact"
	"github.com/steveyegge/modelsync/internal/builder"
	"github.com/steveyegge/modelsync/internal/model"
)

// mergeSet is the outcome of the rebuild step.
type mergeSet struct {
	built       artifact.Set
	vanished    artifact.Set
	failures    artifact.Set
	added       int
	diagnostics []builder.Diagnostic
}

// rebuild parses the rebuild set and merges the produced units into the
// model. A returned error is a total failure; the caller rolls back.
func (s *synchronizer) rebuild(ctx context.Context, revision string, rebuild artifact.Set) (*mergeSet, error) {
	ms := &mergeSet{
		built:    artifact.NewSet(),
		vanished: artifact.NewSet(),
		failures: artifact.NewSet(),
	}
	for _, a := range rebuild.Sorted() {
		if !s.config.Exists(a) {
			s.logger.Printf("WARNING: %s vanished before it could be parsed, dropping it", a)
			ms.vanished.Add(a)
			continue
		}
		ms.built.Add(a)
	}
	if len(ms.built) == 0 {
		return ms, nil
	}

	input := ms.built.Sorted()
	res, err := s.builder.Build(ctx, &builder.Request{Artifacts: input, Env: s.model})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, cancelled(err)
		}
		return nil, &BuildError{Revision: revision, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}
	if res == nil {
		res = builder.NewResult()
	}

	byArtifact := make(map[artifact.ID][]model.Unit)
	for _, u := range res.Units {
		if !ms.built.Has(u.Artifact) {
			ms.diagnostics = append(ms.diagnostics, builder.Diagnostic{
				Artifact: u.Artifact,
				Line:     u.Line,
				Message:  fmt.Sprintf("unit %s is attributed to an artifact outside the rebuild set", u.ID),
			})
			continue
		}
		byArtifact[u.Artifact] = append(byArtifact[u.Artifact], u)
	}
	for a := range res.Failures {
		if ms.built.Has(a) {
			ms.failures.Add(a)
		}
	}
	ms.diagnostics = append(ms.diagnostics, res.Diagnostics...)

	for _, a := range input {
		for _, u := range byArtifact[a] {
			if err := s.model.Add(u); err != nil {
				// Keep the artifact all-or-nothing: drop what was added.
				ms.added -= len(s.model.RemoveArtifact(a))
				ms.failures.Add(a)
				ms.diagnostics = append(ms.diagnostics, builder.Diagnostic{Artifact: a, Line: u.Line, Message: err.Error()})
				break
			}
			ms.added++
		}
	}

	for ns, a := range res.Markers {
		if ms.built.Has(a) && !ms.failures.Has(a) {
			s.model.SetMarker(ns, a)
		}
	}

	builder.SortDiagnostics(ms.diagnostics)
	return ms, nil
}
