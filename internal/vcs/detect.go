package vcs

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Detection describes the repository enclosing a path.
type Detection struct {
	Type Type
	// Root is the nearest directory holding .jj or .git.
	Root string
	// Worktree is set when .git is a file, as in git worktrees.
	Worktree bool
}

// Detect walks up from path to the nearest directory containing .jj or
// .git. A directory holding both is reported as TypeColocate.
//
// Returns ErrNotInVCS if no repository is found.
func Detect(path string) (*Detection, error) {
	current, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	for {
		hasJJ := isDir(filepath.Join(current, ".jj"))
		gitInfo, gitErr := os.Stat(filepath.Join(current, ".git"))
		hasGit := gitErr == nil

		if hasJJ || hasGit {
			d := &Detection{Root: current, Worktree: hasGit && gitInfo.Mode().IsRegular()}
			switch {
			case hasJJ && hasGit:
				d.Type = TypeColocate
			case hasJJ:
				d.Type = TypeJJ
			default:
				d.Type = TypeGit
			}
			return d, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return nil, ErrNotInVCS
		}
		current = parent
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// PreferredVCS returns the backend to use for colocated repositories.
// MSYNC_VCS ("git" or "jj") overrides the default, which is jj.
func PreferredVCS() Type {
	if pref := os.Getenv("MSYNC_VCS"); pref != "" {
		switch strings.ToLower(pref) {
		case "jj", "jujutsu":
			return TypeJJ
		case "git":
			return TypeGit
		}
	}
	return TypeJJ
}

// IsAvailable reports whether the binary for t is on PATH.
func IsAvailable(t Type) bool {
	_, err := exec.LookPath(string(t))
	return err == nil
}
