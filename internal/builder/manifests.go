package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/modelsync/internal/artifact"
	"github.com/steveyegge/modelsync/internal/model"
	"github.com/steveyegge/modelsync/internal/outputs"
)

// Config holds settings for the manifest builder.
type Config struct {
	// Outputs receives one output per built unit. Required.
	Outputs outputs.Writer
	Layout  outputs.Layout
	// Strict fails artifacts whose units reference a unit that is neither in
	// the environment nor in the same build.
	Strict  bool
	Workers int
	Logger  *log.Logger
}

// DefaultConfig returns the default manifest builder settings without an
// output store.
func DefaultConfig() *Config {
	return &Config{
		Layout:  outputs.Layout{Suffix: outputs.DefaultSuffix},
		Workers: 4,
		Logger:  log.New(os.Stderr, "[builder] ", log.LstdFlags),
	}
}

// Manifests builds units from manifest files and writes one output per
// unit to the configured store.
type Manifests struct {
	config *Config
}

// NewManifests returns a manifest builder.
func NewManifests(config *Config) *Manifests {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[builder] ", log.LstdFlags)
	}
	return &Manifests{config: config}
}

// Accepts reports whether a is a manifest file.
func (b *Manifests) Accepts(a artifact.ID) bool {
	_, ok := FormatOf(string(a))
	return ok
}

type parsed struct {
	id       artifact.ID
	manifest *Manifest
	units    []model.Unit
	err      error
}

// Build parses every requested artifact, checks references when strict and
// writes outputs for the artifacts that built cleanly.
func (b *Manifests) Build(ctx context.Context, req *Request) (*Result, error) {
	if b.config.Outputs == nil {
		return nil, fmt.Errorf("%w: no output store configured", ErrUnavailable)
	}

	results := make([]parsed, len(req.Artifacts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.config.Workers)
	for i, a := range req.Artifacts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = parse(a)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := NewResult()
	batch := make(map[model.UnitID]bool)
	for _, p := range results {
		for _, u := range p.units {
			batch[u.ID] = true
		}
	}

	var ready []parsed
	for _, p := range results {
		if p.err != nil {
			res.Fail(p.id, 0, "%v", p.err)
			continue
		}
		if p.manifest.Marker {
			res.Markers[p.manifest.Namespace] = p.id
			continue
		}
		res.Units = append(res.Units, p.units...)

		if b.config.Strict {
			if missing := unresolved(p.units, batch, req.Env); missing != nil {
				res.Fail(p.id, missing.line, "cannot resolve reference %s from %s", missing.ref, missing.from)
				continue
			}
		}
		ready = append(ready, p)
	}

	var mu sync.Mutex
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(b.config.Workers)
	for _, p := range ready {
		g.Go(func() error {
			if err := b.write(gctx, p.units); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				mu.Lock()
				res.Fail(p.id, 0, "%v", err)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	SortDiagnostics(res.Diagnostics)
	if len(res.Failures) > 0 {
		b.config.Logger.Printf("Built %d artifacts, %d failed", len(req.Artifacts), len(res.Failures))
	}
	return res, nil
}

func parse(a artifact.ID) parsed {
	m, err := ReadManifest(string(a))
	if err != nil {
		return parsed{id: a, err: err}
	}
	if err := m.Validate(); err != nil {
		return parsed{id: a, err: err}
	}
	return parsed{id: a, manifest: m, units: m.DeclaredUnits(a)}
}

type missingRef struct {
	from model.UnitID
	ref  model.UnitID
	line int
}

func unresolved(units []model.Unit, batch map[model.UnitID]bool, env Environment) *missingRef {
	for _, u := range units {
		for _, r := range u.Refs {
			if batch[r] {
				continue
			}
			if env != nil {
				if _, ok := env.Unit(r); ok {
					continue
				}
			}
			return &missingRef{from: u.ID, ref: r, line: u.Line}
		}
	}
	return nil
}

// unitOutput is the content written for each built unit.
type unitOutput struct {
	ID       model.UnitID   `json:"id"`
	Artifact artifact.ID    `json:"artifact"`
	Line     int            `json:"line,omitempty"`
	Refs     []model.UnitID `json:"refs,omitempty"`
}

// write stores the output of every unit. units are ordered parents first,
// so binary names are computed from a local parent table.
func (b *Manifests) write(ctx context.Context, units []model.Unit) error {
	names := make(map[model.UnitID]string, len(units))
	for _, u := range units {
		name := u.Name
		if parent, ok := names[u.Parent]; ok && u.Parent != "" {
			name = parent + "$" + u.Name
		}
		names[u.ID] = name

		data, err := json.Marshal(unitOutput{ID: u.ID, Artifact: u.Artifact, Line: u.Line, Refs: u.Refs})
		if err != nil {
			return fmt.Errorf("failed to encode output for %s: %w", u.ID, err)
		}
		if err := b.config.Outputs.Put(ctx, b.config.Layout.OutputID(u.Namespace, name), data); err != nil {
			return fmt.Errorf("failed to write output for %s: %w", u.ID, err)
		}
	}
	return nil
}
