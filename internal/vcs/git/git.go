// Package git implements vcs.History on top of the git command line.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/steveyegge/modelsync/internal/change"
	"github.com/steveyegge/modelsync/internal/vcs"
)

// emptyTree is the object id of git's empty tree.
const emptyTree = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

func init() {
	vcs.Register(vcs.TypeGit, func(root string) (vcs.History, error) {
		return New(root)
	})
}

// Git is a git repository history.
type Git struct {
	root    string
	timeout time.Duration
}

var _ vcs.History = (*Git)(nil)

// New opens the git repository enclosing path.
func New(path string) (*Git, error) {
	out, err := vcs.Run(context.Background(), vcs.DefaultTimeout, path, "git", "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vcs.ErrNotInVCS, err)
	}
	return &Git{root: strings.TrimSpace(string(out)), timeout: vcs.DefaultTimeout}, nil
}

func (g *Git) Name() vcs.Type { return vcs.TypeGit }
func (g *Git) Root() string   { return g.root }

func (g *Git) run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	if dir == "" {
		dir = g.root
	}
	return vcs.Run(ctx, g.timeout, dir, "git", args...)
}

// Revisions lists first-parent revisions in from..to, oldest first.
func (g *Git) Revisions(ctx context.Context, from, to string) ([]vcs.Revision, error) {
	if to == "" {
		to = "HEAD"
	}
	revs := to
	if from != "" {
		revs = from + ".." + to
	}
	out, err := g.run(ctx, "", "log", "--reverse", "--first-parent", "--format=%H%x1f%an%x1f%ct%x1f%s", revs, "--")
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", vcs.ErrInvalidRevision, revs, err)
	}
	return parseLog(out)
}

func parseLog(out []byte) ([]vcs.Revision, error) {
	var revs []vcs.Revision
	for _, line := range vcs.Lines(out) {
		fields := strings.SplitN(line, "\x1f", 4)
		if len(fields) < 3 {
			return nil, fmt.Errorf("%w: log line %q", vcs.ErrMalformedOutput, line)
		}
		secs, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: commit time %q", vcs.ErrMalformedOutput, fields[2])
		}
		rev := vcs.Revision{ID: fields[0], Author: fields[1], Time: time.Unix(secs, 0).UTC()}
		if len(fields) == 4 {
			rev.Summary = fields[3]
		}
		revs = append(revs, rev)
	}
	return revs, nil
}

// Changes runs git diff with rename detection between from and to.
func (g *Git) Changes(ctx context.Context, from, to string) (change.Set, error) {
	if from == "" {
		from = emptyTree
	}
	if to == "" {
		to = "HEAD"
	}
	out, err := g.run(ctx, "", "diff", "--name-status", "-M", "-z", from, to, "--")
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s..%s: %v", vcs.ErrInvalidRevision, from, to, err)
	}
	return parseNameStatus(out)
}

// parseNameStatus parses `git diff --name-status -z` output. Copies are
// reported as additions of the destination, type changes as modifications.
func parseNameStatus(out []byte) (change.Set, error) {
	fields := bytes.Split(bytes.TrimRight(out, "\x00"), []byte{0})
	var set change.Set
	for i := 0; i < len(fields); i++ {
		status := string(fields[i])
		if status == "" {
			continue
		}
		next := func() (string, error) {
			i++
			if i >= len(fields) || len(fields[i]) == 0 {
				return "", fmt.Errorf("%w: missing path after status %q", vcs.ErrMalformedOutput, status)
			}
			return string(fields[i]), nil
		}

		switch status[0] {
		case 'A', 'M', 'D', 'T':
			path, err := next()
			if err != nil {
				return nil, err
			}
			switch status[0] {
			case 'A':
				set = append(set, change.Add(path))
			case 'D':
				set = append(set, change.Remove(path))
			default:
				set = append(set, change.Modify(path))
			}
		case 'R', 'C':
			src, err := next()
			if err != nil {
				return nil, err
			}
			dst, err := next()
			if err != nil {
				return nil, err
			}
			if status[0] == 'R' {
				set = append(set, change.Relocate(src, dst))
			} else {
				set = append(set, change.Add(dst))
			}
		default:
			return nil, fmt.Errorf("%w: unknown status %q", vcs.ErrMalformedOutput, status)
		}
	}
	return set, nil
}

// Checkout materializes rev in dir as a detached worktree.
func (g *Git) Checkout(ctx context.Context, dir, rev string) error {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		if _, err := g.run(ctx, dir, "checkout", "--detach", "--force", rev); err != nil {
			return fmt.Errorf("failed to check out %s: %w", rev, err)
		}
		return nil
	}
	if entries, err := os.ReadDir(dir); err == nil && len(entries) > 0 {
		return fmt.Errorf("%w: %s", vcs.ErrWorkspaceExists, dir)
	}
	if _, err := g.run(ctx, "", "worktree", "add", "--detach", "-f", dir, rev); err != nil {
		return fmt.Errorf("failed to add worktree at %s: %w", dir, err)
	}
	return nil
}

// Release removes the worktree at dir.
func (g *Git) Release(ctx context.Context, dir string) error {
	if _, err := g.run(ctx, "", "worktree", "remove", "--force", dir); err != nil {
		return fmt.Errorf("failed to remove worktree %s: %w", dir, err)
	}
	return nil
}
