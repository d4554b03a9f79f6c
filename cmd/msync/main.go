// Command msync keeps a model of declared units in step with a source tree.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/modelsync/internal/config"
)

var (
	// Set by -ldflags at release time.
	Version = "0.3.0"
	Commit  = ""

	configFile string
	v          = config.New()
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "msync",
	Short: "Incrementally synchronize a unit model with its source files",
	Long: `msync parses unit manifests (*.unit.json, *.unit.yaml, *.unit.toml) into a
live model of namespaces and units, writes one derived output per unit, and
keeps both current as files change, rebuilding only what a change affects.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(v, configFile)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Config file (default .msync.{yaml,toml} in . or $HOME)")
	flags.StringP("source-root", "C", ".", "Source tree to synchronize")
	flags.String("store", config.StoreDir, "Output store: dir, sqlite or memory")
	flags.String("out", ".msync/out", "Output directory for the dir store")
	flags.String("db", ".msync/outputs.db", "Database file for the sqlite store")
	flags.IntP("workers", "j", 4, "Parallel parse and scan workers")
	flags.Bool("incremental", true, "Rebuild only affected artifacts")
	flags.Bool("strict", false, "Fail artifacts with unresolved references")
	flags.String("log-file", "", "Write logs to a rotating file")
	flags.BoolP("verbose", "v", false, "Log every cycle step")

	bind := map[string]string{
		"source_root":        "source-root",
		"output.store":       "store",
		"output.dir":         "out",
		"output.sqlite_path": "db",
		"workers":            "workers",
		"incremental":        "incremental",
		"strict":             "strict",
		"log.file":           "log-file",
		"verbose":            "verbose",
	}
	for key, name := range bind {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("msync: bind %s: %v", name, err))
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
