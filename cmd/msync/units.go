package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/steveyegge/modelsync/internal/artifact"
	"github.com/steveyegge/modelsync/internal/model"
	"github.com/steveyegge/modelsync/internal/ui"
)

var unitsCmd = &cobra.Command{
	Use:   "units",
	Short: "List the units declared under the source root",
	Long: `Units builds the model and lists its units.

Example usage:
  msync units                     # every unit, one per line
  msync units --namespace shop    # units of one namespace, nested included
  msync units --tree              # artifacts as a directory tree
  msync units --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ns, _ := cmd.Flags().GetString("namespace")
		tree, _ := cmd.Flags().GetBool("tree")
		asJSON, _ := cmd.Flags().GetBool("json")

		e, report, err := buildTree(cmd.Context())
		if e != nil {
			defer e.Close()
		}
		if err != nil {
			return err
		}
		for _, d := range report.Diagnostics {
			fmt.Fprintln(cmd.ErrOrStderr(), ui.RenderWarn("warning:"), d.String())
		}

		units := e.sync.AllUnits()
		if ns != "" {
			units = e.sync.UnitsInNamespace(ns)
			if units == nil {
				return fmt.Errorf("unknown namespace %q", ns)
			}
		}

		root := resolvedRoot()
		out := cmd.OutOrStdout()
		switch {
		case asJSON:
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(units)
		case tree:
			return printTree(cmd, root, units)
		default:
			for _, u := range units {
				fmt.Fprintf(out, "%s %s\n", u.ID, ui.RenderMuted(location(root, u)))
			}
			return nil
		}
	},
}

// resolvedRoot returns the source root as artifact IDs spell it: absolute
// with symlinks resolved.
func resolvedRoot() string {
	root, err := filepath.Abs(cfg.SourceRoot)
	if err != nil {
		return cfg.SourceRoot
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	return root
}

func location(root string, u model.Unit) string {
	if !u.HasPosition() {
		return "(synthetic)"
	}
	rel, err := filepath.Rel(root, string(u.Artifact))
	if err != nil || !filepath.IsLocal(rel) {
		rel = string(u.Artifact)
	}
	return fmt.Sprintf("%s:%d", rel, u.Line)
}

// printTree renders the artifacts owning units as a directory tree, each
// labelled with its unit count.
func printTree(cmd *cobra.Command, root string, units []model.Unit) error {
	counts := make(map[artifact.ID]int)
	var ids []artifact.ID
	for _, u := range units {
		if u.Artifact == "" {
			continue
		}
		if counts[u.Artifact] == 0 {
			ids = append(ids, u.Artifact)
		}
		counts[u.Artifact]++
	}
	return model.NewPathTree(root, ids).Render(cmd.OutOrStdout(), func(a artifact.ID) string {
		return fmt.Sprintf("(%d units)", counts[a])
	})
}

func init() {
	unitsCmd.Flags().StringP("namespace", "n", "", "Only list units in this namespace")
	unitsCmd.Flags().Bool("tree", false, "Render artifacts as a directory tree")
	unitsCmd.Flags().Bool("json", false, "Print units as JSON")
	rootCmd.AddCommand(unitsCmd)
}
