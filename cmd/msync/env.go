package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/steveyegge/modelsync/internal/artifact"
	"github.com/steveyegge/modelsync/internal/builder"
	"github.com/steveyegge/modelsync/internal/config"
	"github.com/steveyegge/modelsync/internal/logging"
	"github.com/steveyegge/modelsync/internal/outputs"
	"github.com/steveyegge/modelsync/internal/sync"
)

// env is the wiring shared by every command: log sink, output store,
// manifest builder and synchronizer.
type env struct {
	cfg     *config.Config
	sink    *logging.Sink
	store   outputs.Writer
	closers []io.Closer
	builder *builder.Manifests
	sync    sync.Synchronizer
}

// openEnv wires a synchronizer whose relative paths resolve against baseDir.
func openEnv(c *config.Config, baseDir string) (*env, error) {
	e := &env{cfg: c}
	e.sink = logging.Open(logging.Options{
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		Verbose:    c.Verbose,
	})
	e.closers = append(e.closers, e.sink)

	store, closer, err := openStore(c.Output)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.store = store
	if closer != nil {
		e.closers = append(e.closers, closer)
	}

	layout := outputs.Layout{Suffix: c.Output.Suffix}
	bcfg := builder.DefaultConfig()
	bcfg.Outputs = store
	bcfg.Layout = layout
	bcfg.Strict = c.Strict
	bcfg.Workers = c.Workers
	bcfg.Logger = e.sink.Debug("builder")
	e.builder = builder.NewManifests(bcfg)

	scfg := sync.DefaultConfig()
	scfg.BaseDir = baseDir
	scfg.Incremental = c.Incremental
	scfg.Include = e.builder.Accepts
	scfg.Layout = layout
	scfg.Workers = c.Workers
	scfg.Logger = e.sink.Debug("sync")
	s, err := sync.New(e.builder, store, scfg)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to create synchronizer: %w", err)
	}
	e.sync = s
	return e, nil
}

func openStore(c config.OutputConfig) (outputs.Writer, io.Closer, error) {
	switch c.Store {
	case config.StoreMemory:
		return outputs.NewMemStore(), nil, nil
	case config.StoreSQLite:
		s, err := outputs.OpenSQLiteStore(c.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		s, err := outputs.NewDirStore(c.Dir)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	}
}

// accepts reports whether the builder parses path.
func (e *env) accepts(path string) bool {
	return e.builder.Accepts(artifact.ID(filepath.Clean(path)))
}

// Close releases the store and log file in reverse order of opening.
func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		_ = e.closers[i].Close()
	}
	e.closers = nil
}
