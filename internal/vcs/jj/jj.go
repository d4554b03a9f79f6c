// Package jj implements vcs.History on top of the Jujutsu command line.
package jj

import (
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

const logTemplate = `commit_id ++ "\t" ++ author.name() ++ "\t" ++ author.timestamp().format("%s") ++ "\t" ++ description.first_line() ++ "\n"`

func init() {
	vcs.Register(vcs.TypeJJ, func(root string) (vcs.History, error) {
		return New(root)
	})
}

// JJ is a Jujutsu repository history.
type JJ struct {
	root    string
	timeout time.Duration
}

var _ vcs.History = (*JJ)(nil)

// New opens the jj repository enclosing path.
func New(path string) (*JJ, error) {
	out, err := vcs.Run(context.Background(), vcs.DefaultTimeout, path, "jj", "root")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vcs.ErrNotInVCS, err)
	}
	return &JJ{root: strings.TrimSpace(string(out)), timeout: vcs.DefaultTimeout}, nil
}

func (j *JJ) Name() vcs.Type { return vcs.TypeJJ }
func (j *JJ) Root() string   { return j.root }

func (j *JJ) run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	if dir == "" {
		dir = j.root
	}
	return vcs.Run(ctx, j.timeout, dir, "jj", append(args, "--color=never")...)
}

// Revisions lists the revisions in from..to, oldest first. An empty to is
// the working-copy parent @-.
func (j *JJ) Revisions(ctx context.Context, from, to string) ([]vcs.Revision, error) {
	if to == "" {
		to = "@-"
	}
	revset := "::" + to + " ~ root()"
	if from != "" {
		revset = from + ".." + to
	}
	out, err := j.run(ctx, "", "log", "--no-graph", "--reversed", "-r", revset, "-T", logTemplate)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", vcs.ErrInvalidRevision, revset, err)
	}
	return parseLog(out)
}

func parseLog(out []byte) ([]vcs.Revision, error) {
	var revs []vcs.Revision
	for _, line := range vcs.Lines(out) {
		fields := strings.SplitN(line, "\t", 4)
		if len(fields) < 3 {
			return nil, fmt.Errorf("%w: log line %q", vcs.ErrMalformedOutput, line)
		}
		secs, err := strconv.ParseInt(strings.TrimSpace(fields[2]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: timestamp %q", vcs.ErrMalformedOutput, fields[2])
		}
		rev := vcs.Revision{ID: fields[0], Author: fields[1], Time: time.Unix(secs, 0).UTC()}
		if len(fields) == 4 {
			rev.Summary = fields[3]
		}
		revs = append(revs, rev)
	}
	return revs, nil
}

// Changes runs jj diff --summary between from and to.
func (j *JJ) Changes(ctx context.Context, from, to string) (change.Set, error) {
	if from == "" {
		from = "root()"
	}
	if to == "" {
		to = "@-"
	}
	out, err := j.run(ctx, "", "diff", "--summary", "--from", from, "--to", to)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s..%s: %v", vcs.ErrInvalidRevision, from, to, err)
	}
	return parseSummary(out)
}

// parseSummary parses `jj diff --summary` lines such as "M a.unit.json" or
// "R src/{a => b}/x.unit.json".
func parseSummary(out []byte) (change.Set, error) {
	var set change.Set
	for _, line := range vcs.Lines(out) {
		if len(line) < 3 || line[1] != ' ' {
			return nil, fmt.Errorf("%w: summary line %q", vcs.ErrMalformedOutput, line)
		}
		path := line[2:]
		switch line[0] {
		case 'A':
			set = append(set, change.Add(path))
		case 'M':
			set = append(set, change.Modify(path))
		case 'D':
			set = append(set, change.Remove(path))
		case 'R', 'C':
			src, dst, err := expandRename(path)
			if err != nil {
				return nil, err
			}
			if line[0] == 'R' {
				set = append(set, change.Relocate(src, dst))
			} else {
				set = append(set, change.Add(dst))
			}
		default:
			return nil, fmt.Errorf("%w: unknown status in %q", vcs.ErrMalformedOutput, line)
		}
	}
	return set, nil
}

// expandRename turns "pre/{a => b}/post" into its source and destination.
// A bare "a => b" is also accepted.
func expandRename(s string) (src, dst string, err error) {
	open := strings.Index(s, "{")
	closing := strings.LastIndex(s, "}")
	if open < 0 || closing < open {
		parts := strings.SplitN(s, " => ", 2)
		if len(parts) != 2 {
			return "", "", fmt.Errorf("%w: rename %q", vcs.ErrMalformedOutput, s)
		}
		return parts[0], parts[1], nil
	}
	parts := strings.SplitN(s[open+1:closing], " => ", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("%w: rename %q", vcs.ErrMalformedOutput, s)
	}
	prefix, suffix := s[:open], s[closing+1:]
	return joinRename(prefix, parts[0], suffix), joinRename(prefix, parts[1], suffix), nil
}

// joinRename collapses the doubled slash left by an empty side, as in
// "src/{ => sub}/x".
func joinRename(prefix, mid, suffix string) string {
	if mid == "" {
		return prefix + strings.TrimPrefix(suffix, "/")
	}
	return prefix + mid + suffix
}

// Checkout materializes rev in dir through a named jj workspace.
func (j *JJ) Checkout(ctx context.Context, dir, rev string) error {
	if _, err := os.Stat(filepath.Join(dir, ".jj")); err == nil {
		if _, err := j.run(ctx, dir, "new", rev); err != nil {
			return fmt.Errorf("failed to check out %s: %w", rev, err)
		}
		return nil
	}
	if entries, err := os.ReadDir(dir); err == nil && len(entries) > 0 {
		return fmt.Errorf("%w: %s", vcs.ErrWorkspaceExists, dir)
	}
	if _, err := j.run(ctx, "", "workspace", "add", "--name", workspaceName(dir), "-r", rev, dir); err != nil {
		return fmt.Errorf("failed to add workspace at %s: %w", dir, err)
	}
	return nil
}

// Release forgets the workspace and removes its directory.
func (j *JJ) Release(ctx context.Context, dir string) error {
	if _, err := j.run(ctx, "", "workspace", "forget", workspaceName(dir)); err != nil {
		return fmt.Errorf("failed to forget workspace %s: %w", workspaceName(dir), err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", dir, err)
	}
	return nil
}

func workspaceName(dir string) string {
	return "msync-" + filepath.Base(dir)
}
