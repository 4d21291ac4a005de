package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/odvcencio/docstore/pkg/object"
)

const (
	headsPrefix    = "refs/heads/"
	trackingPrefix = "refs/remotes/origin/"
)

// ErrInvalidRefName is returned for ref names that cannot be stored.
var ErrInvalidRefName = errors.New("invalid ref name")

// BranchRef returns the full ref name of a local branch.
func BranchRef(branch string) string { return headsPrefix + branch }

// TrackingRef returns the full ref name of the origin-tracking copy of a
// branch.
func TrackingRef(branch string) string { return trackingPrefix + branch }

// ValidateRefName rejects names that would escape refs/ or collide with
// lock files.
func ValidateRefName(name string) error {
	if !strings.HasPrefix(name, "refs/") {
		return fmt.Errorf("%w: %q must start with refs/", ErrInvalidRefName, name)
	}
	for _, seg := range strings.Split(name, "/") {
		switch {
		case seg == "" || seg == "." || seg == "..":
			return fmt.Errorf("%w: %q", ErrInvalidRefName, name)
		case strings.HasSuffix(seg, ".lock"):
			return fmt.Errorf("%w: %q ends in .lock", ErrInvalidRefName, name)
		case strings.ContainsAny(seg, " \t\n\x00\\:?*[~^"):
			return fmt.Errorf("%w: %q", ErrInvalidRefName, name)
		}
	}
	return nil
}

// ValidateBranchName checks a bare branch name.
func ValidateBranchName(branch string) error {
	if strings.TrimSpace(branch) == "" {
		return fmt.Errorf("%w: empty branch name", ErrInvalidRefName)
	}
	return ValidateRefName(BranchRef(branch))
}

// ListRefs lists references under refs/.
// Names are returned relative to refs root, e.g. "heads/master",
// "remotes/origin/master".
func (r *Repo) ListRefs(prefix string) (map[string]object.Hash, error) {
	root := filepath.Join(r.Dir, "refs")
	dir := root
	if strings.TrimSpace(prefix) != "" {
		dir = filepath.Join(root, filepath.FromSlash(prefix))
	}

	refs := make(map[string]object.Hash)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), ".lock") {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		refs[filepath.ToSlash(rel)] = object.Hash(strings.TrimSpace(string(data)))
		return nil
	})
	if os.IsNotExist(err) {
		return refs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	return refs, nil
}

// TrackingBranches returns the origin-tracking refs keyed by branch name.
func (r *Repo) TrackingBranches() (map[string]object.Hash, error) {
	refs, err := r.ListRefs("remotes/origin")
	if err != nil {
		return nil, err
	}
	out := make(map[string]object.Hash, len(refs))
	for name, h := range refs {
		out[strings.TrimPrefix(name, "remotes/origin/")] = h
	}
	return out, nil
}

// LookupRef returns the hash stored at a full ref name, or "" when the ref
// does not exist.
func (r *Repo) LookupRef(name string) (object.Hash, error) {
	if err := ValidateRefName(name); err != nil {
		return "", err
	}
	h, err := readRefHash(r.refPath(name))
	if err != nil {
		return "", fmt.Errorf("lookup ref %q: %w", name, err)
	}
	return h, nil
}
