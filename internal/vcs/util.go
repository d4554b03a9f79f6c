package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// DefaultTimeout bounds a single VCS command.
const DefaultTimeout = 60 * time.Second

// Run executes a VCS command in workDir and returns its stdout.
// A command killed by its own timeout reports ErrTimeout; cancellation of
// the parent ctx is returned as ctx.Err().
//
// Example:
//
//	out, err := Run(ctx, DefaultTimeout, root, "git", "rev-parse", "HEAD")
func Run(ctx context.Context, timeout time.Duration, workDir, name string, args ...string) ([]byte, error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s %s", ErrTimeout, name, strings.Join(args, " "))
		}
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%s %s: %w: %s", name, first(args), err, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("%s %s: %w", name, first(args), err)
	}
	return stdout.Bytes(), nil
}

func first(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// Lines splits command output into trimmed, non-empty lines.
func Lines(output []byte) []string {
	raw := strings.Split(string(output), "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// RepoPath joins a repository-relative path (always slash separated in
// VCS output) onto root.
func RepoPath(root, rel string) string {
	return filepath.Join(root, filepath.FromSlash(rel))
}

// IsSubPath reports whether target lies inside base.
func IsSubPath(base, target string) bool {
	rel, err := filepath.Rel(filepath.Clean(base), filepath.Clean(target))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
