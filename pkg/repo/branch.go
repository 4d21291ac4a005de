package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/odvcencio/docstore/pkg/object"
)

// CreateBranch creates a new branch pointing at the given target hash.
// Returns an error if the branch already exists.
func (r *Repo) CreateBranch(name string, target object.Hash) error {
	if err := ValidateBranchName(name); err != nil {
		return fmt.Errorf("create branch: %w", err)
	}
	if err := r.updateRef(BranchRef(name), target, "branch: created", true, ""); err != nil {
		if errors.Is(err, ErrRefCASMismatch) {
			return fmt.Errorf("create branch: branch %q already exists", name)
		}
		return fmt.Errorf("create branch %q: %w", name, err)
	}
	return nil
}

// DeleteBranch removes the local branch ref. Returns an error if the branch
// is the one HEAD points at, or does not exist.
func (r *Repo) DeleteBranch(name string) error {
	current, err := r.CurrentBranch()
	if err != nil {
		return fmt.Errorf("delete branch: %w", err)
	}
	if current == name {
		return fmt.Errorf("delete branch: cannot delete current branch %q", name)
	}
	if err := r.DeleteRef(BranchRef(name)); err != nil {
		if errors.Is(err, ErrRefNotFound) {
			return fmt.Errorf("delete branch: branch %q does not exist: %w", name, ErrRefNotFound)
		}
		return fmt.Errorf("delete branch %q: %w", name, err)
	}
	r.pruneEmptyRefDirs(filepath.Dir(r.refPath(BranchRef(name))))
	return nil
}

// pruneEmptyRefDirs removes empty directories left behind by nested branch
// names, stopping at refs/heads.
func (r *Repo) pruneEmptyRefDirs(dir string) {
	stop := filepath.Join(r.Dir, "refs", "heads")
	for dir != stop && strings.HasPrefix(dir, stop) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// ListBranches returns the local branch names sorted alphabetically.
// Nested names such as "feature/x" are included.
func (r *Repo) ListBranches() ([]string, error) {
	refs, err := r.ListRefs("heads")
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	names := make([]string, 0, len(refs))
	for name := range refs {
		names = append(names, strings.TrimPrefix(name, "heads/"))
	}
	sort.Strings(names)
	return names, nil
}

// CurrentBranch reads HEAD and returns the branch name if HEAD is a symbolic
// ref (e.g. "ref: refs/heads/master" → "master"). If HEAD is detached, it
// returns "".
func (r *Repo) CurrentBranch() (string, error) {
	head, err := r.Head()
	if err != nil {
		return "", fmt.Errorf("current branch: %w", err)
	}
	if strings.HasPrefix(head, headsPrefix) {
		return strings.TrimPrefix(head, headsPrefix), nil
	}
	return "", nil
}
