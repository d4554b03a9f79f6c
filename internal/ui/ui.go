// Package ui renders msync output for the terminal.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/steveyegge/modelsync/internal/sync"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "25", Dark: "75"}).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func init() {
	if !ColorEnabled(os.Stdout) {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// ColorEnabled reports whether f is a terminal and NO_COLOR is unset.
func ColorEnabled(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// DisableColor forces plain output.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

func RenderAccent(s string) string { return accentStyle.Render(s) }
func RenderPass(s string) string   { return passStyle.Render(s) }
func RenderWarn(s string) string   { return warnStyle.Render(s) }
func RenderFail(s string) string   { return failStyle.Render(s) }
func RenderMuted(s string) string  { return mutedStyle.Render(s) }

// PrintReport writes a cycle report: a status line, then the failed,
// vanished and pending artifacts and the diagnostics, if any.
func PrintReport(w io.Writer, r *sync.Report) {
	status := RenderPass("ok")
	if !r.Clean() {
		status = RenderWarn("pending")
	}
	fmt.Fprintf(w, "%s %s %s\n", status, RenderAccent(r.Revision), r.Summary())

	list := func(label string, ids []string) {
		if len(ids) == 0 {
			return
		}
		fmt.Fprintf(w, "  %s\n", RenderMuted(label+":"))
		for _, id := range ids {
			fmt.Fprintf(w, "    %s\n", id)
		}
	}
	list("failed", toStrings(r.Failed))
	list("vanished", toStrings(r.Vanished))
	list("pending", toStrings(r.Pending))
	for _, d := range r.Diagnostics {
		fmt.Fprintf(w, "  %s %s\n", RenderFail("error"), d.String())
	}
}

// PrintError writes a failed cycle.
func PrintError(w io.Writer, revision string, err error) {
	kind := "fatal"
	if sync.IsRetryable(err) {
		kind = "retryable"
	}
	fmt.Fprintf(w, "%s %s %s: %v\n", RenderFail("failed"), RenderAccent(revision), RenderMuted("("+kind+")"), err)
}

// PrintStats writes the model counters as aligned key/value lines.
func PrintStats(w io.Writer, s sync.Stats) {
	rows := [][2]string{
		{"revision", s.Revision},
		{"cycles", fmt.Sprint(s.Cycles)},
		{"units", fmt.Sprint(s.Units)},
		{"artifacts", fmt.Sprint(s.Artifacts)},
		{"namespaces", fmt.Sprint(s.Namespaces)},
		{"pending", fmt.Sprint(s.Pending)},
		{"leaked outputs", fmt.Sprint(s.Leaked)},
	}
	for _, row := range rows {
		fmt.Fprintf(w, "%s %s\n", RenderMuted(fmt.Sprintf("%-15s", row[0])), row[1])
	}
}

func toStrings[T ~string](ids []T) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

// Indent prefixes every line of s with n spaces.
func Indent(s string, n int) string {
	pad := strings.Repeat(" ", n)
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = pad + l
	}
	return strings.Join(lines, "\n") + "\n"
}
