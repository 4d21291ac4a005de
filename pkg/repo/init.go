package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/odvcencio/docstore/pkg/object"
)

var (
	ErrNotRepository                   = errors.New("not a docstore repository")
	ErrRefNotFound                     = errors.New("ref not found")
	ErrRefCASMismatch                  = errors.New("ref compare-and-swap mismatch")
	ErrRefUpdatedButReflogAppendFailed = errors.New("ref updated but reflog append failed")
)

// RefUpdateReflogError indicates the ref file update succeeded, but appending
// the corresponding reflog entry failed.
type RefUpdateReflogError struct {
	Ref     string
	OldHash object.Hash
	NewHash object.Hash
	Err     error
}

func (e *RefUpdateReflogError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf(
		"update ref %q: %s (old=%s new=%s): %v",
		e.Ref,
		ErrRefUpdatedButReflogAppendFailed,
		e.OldHash,
		e.NewHash,
		e.Err,
	)
}

func (e *RefUpdateReflogError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *RefUpdateReflogError) Is(target error) bool {
	return target == ErrRefUpdatedButReflogAppendFailed
}

const (
	refLockRetryDelay = 5 * time.Millisecond
	refLockWaitLimit  = 2 * time.Second
)

// Init creates a repository at path: HEAD pointing at the default branch,
// config.json, objects/, refs/heads/ and logs/. Fails if HEAD already exists.
func Init(path string, cfg Config, opts ...Option) (*Repo, error) {
	headPath := filepath.Join(path, "HEAD")
	if _, err := os.Stat(headPath); err == nil {
		return nil, fmt.Errorf("init: repository already exists at %s", path)
	}

	dirs := []string{
		filepath.Join(path, "objects"),
		filepath.Join(path, "refs", "heads"),
		filepath.Join(path, "logs", "refs", "heads"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("init: mkdir %s: %w", d, err)
		}
	}

	r := newRepo(path, opts)
	cfg.DefaultBranch = cfg.defaultBranch()
	if err := r.WriteConfig(&cfg); err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}
	head := "ref: refs/heads/" + cfg.DefaultBranch + "\n"
	if err := os.WriteFile(headPath, []byte(head), 0o644); err != nil {
		return nil, fmt.Errorf("init: write HEAD: %w", err)
	}
	return r, nil
}

// Exists reports whether path holds a repository.
func Exists(path string) bool {
	info, err := os.Stat(filepath.Join(path, "HEAD"))
	if err != nil || info.IsDir() {
		return false
	}
	info, err = os.Stat(filepath.Join(path, "objects"))
	return err == nil && info.IsDir()
}

// Open opens the repository at path. A directory without HEAD and objects/
// fails with ErrNotRepository.
func Open(path string, opts ...Option) (*Repo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("open: abs path: %w", err)
	}
	if !Exists(abs) {
		return nil, fmt.Errorf("open %s: %w", abs, ErrNotRepository)
	}
	return newRepo(abs, opts), nil
}

// Head reads HEAD. If the content starts with "ref: ", it returns the ref
// path (e.g., "refs/heads/master"). Otherwise it returns the raw content as
// a detached hash string.
func (r *Repo) Head() (string, error) {
	data, err := os.ReadFile(filepath.Join(r.Dir, "HEAD"))
	if err != nil {
		return "", fmt.Errorf("head: %w", err)
	}
	content := strings.TrimRight(string(data), "\n")

	if strings.HasPrefix(content, "ref: ") {
		return strings.TrimPrefix(content, "ref: "), nil
	}
	return content, nil
}

// ResolveRef resolves a ref name to an object hash.
//
// Resolution order:
//  1. If name is "HEAD", read HEAD. If HEAD is symbolic, resolve the target ref.
//  2. If name starts with "refs/", read <dir>/<name>.
//  3. Otherwise, try "refs/heads/<name>".
//
// A ref that does not exist (including an unborn HEAD) fails with
// ErrRefNotFound.
func (r *Repo) ResolveRef(name string) (object.Hash, error) {
	if name == "HEAD" {
		head, err := r.Head()
		if err != nil {
			return "", err
		}
		if strings.HasPrefix(head, "refs/") {
			return r.ResolveRef(head)
		}
		return object.Hash(head), nil
	}

	refName := name
	if !strings.HasPrefix(name, "refs/") {
		refName = BranchRef(name)
	}
	if err := ValidateRefName(refName); err != nil {
		return "", fmt.Errorf("resolve ref %q: %w", name, err)
	}

	h, err := readRefHash(r.refPath(refName))
	if err != nil {
		return "", fmt.Errorf("resolve ref %q: %w", name, err)
	}
	if h == "" {
		return "", fmt.Errorf("resolve ref %q: %w", name, ErrRefNotFound)
	}
	return h, nil
}

func (r *Repo) refPath(name string) string {
	return filepath.Join(r.Dir, filepath.FromSlash(name))
}

// UpdateRef writes a hash to the named ref file. Parent directories are
// created as needed.
func (r *Repo) UpdateRef(name string, h object.Hash, reason string) error {
	return r.updateRef(name, h, reason, false, "")
}

// UpdateRefCAS writes a hash to the named ref file using lockfile + rename
// atomic semantics. If expectedOld is provided, the update only succeeds
// when the current ref hash matches it; an empty expectedOld requires the
// ref to be absent.
//
// Reflog append happens after the ref rename; if reflog append fails, the ref
// update remains committed and a RefUpdateReflogError is returned.
func (r *Repo) UpdateRefCAS(name string, h object.Hash, expectedOld ...object.Hash) error {
	if len(expectedOld) > 1 {
		return fmt.Errorf("update ref %q: expected at most one old hash", name)
	}
	if len(expectedOld) == 1 {
		return r.updateRef(name, h, "update", true, expectedOld[0])
	}
	return r.updateRef(name, h, "update", false, "")
}

func (r *Repo) updateRef(name string, h object.Hash, reason string, checkOld bool, wantOld object.Hash) error {
	if err := ValidateRefName(name); err != nil {
		return fmt.Errorf("update ref %q: %w", name, err)
	}
	refPath := r.refPath(name)
	if err := os.MkdirAll(filepath.Dir(refPath), 0o755); err != nil {
		return fmt.Errorf("update ref %q: mkdir: %w", name, err)
	}

	lockPath := refPath + ".lock"
	lockFile, err := acquireRefLock(lockPath)
	if err != nil {
		return fmt.Errorf("update ref %q: lock: %w", name, err)
	}
	cleanupLock := true
	defer func() {
		if lockFile != nil {
			_ = lockFile.Close()
		}
		if cleanupLock {
			_ = os.Remove(lockPath)
		}
	}()

	oldHash, err := readRefHash(refPath)
	if err != nil {
		return fmt.Errorf("update ref %q: read old hash: %w", name, err)
	}
	if checkOld && oldHash != wantOld {
		return fmt.Errorf(
			"update ref %q: %w (expected %s, found %s)",
			name,
			ErrRefCASMismatch,
			displayHash(wantOld),
			displayHash(oldHash),
		)
	}

	if _, err := lockFile.WriteString(string(h) + "\n"); err != nil {
		return fmt.Errorf("update ref %q: write: %w", name, err)
	}
	if err := lockFile.Sync(); err != nil {
		return fmt.Errorf("update ref %q: sync: %w", name, err)
	}
	if err := lockFile.Close(); err != nil {
		lockFile = nil
		return fmt.Errorf("update ref %q: close: %w", name, err)
	}
	lockFile = nil

	if err := os.Rename(lockPath, refPath); err != nil {
		return fmt.Errorf("update ref %q: rename: %w", name, err)
	}
	cleanupLock = false

	if err := r.appendReflog(name, oldHash, h, reason); err != nil {
		return &RefUpdateReflogError{Ref: name, OldHash: oldHash, NewHash: h, Err: err}
	}
	return nil
}

// DeleteRef removes the named ref. With expectedOld, the ref must currently
// hold that hash. Deleting a missing ref fails with ErrRefNotFound.
func (r *Repo) DeleteRef(name string, expectedOld ...object.Hash) error {
	if err := ValidateRefName(name); err != nil {
		return fmt.Errorf("delete ref %q: %w", name, err)
	}
	refPath := r.refPath(name)
	lockPath := refPath + ".lock"
	if err := os.MkdirAll(filepath.Dir(refPath), 0o755); err != nil {
		return fmt.Errorf("delete ref %q: mkdir: %w", name, err)
	}
	lockFile, err := acquireRefLock(lockPath)
	if err != nil {
		return fmt.Errorf("delete ref %q: lock: %w", name, err)
	}
	defer func() {
		_ = lockFile.Close()
		_ = os.Remove(lockPath)
	}()

	oldHash, err := readRefHash(refPath)
	if err != nil {
		return fmt.Errorf("delete ref %q: %w", name, err)
	}
	if oldHash == "" {
		return fmt.Errorf("delete ref %q: %w", name, ErrRefNotFound)
	}
	if len(expectedOld) > 0 && expectedOld[0] != oldHash {
		return fmt.Errorf("delete ref %q: %w (expected %s, found %s)", name, ErrRefCASMismatch, displayHash(expectedOld[0]), oldHash)
	}
	if err := os.Remove(refPath); err != nil {
		return fmt.Errorf("delete ref %q: %w", name, err)
	}
	if err := r.appendReflog(name, oldHash, "", "delete"); err != nil {
		return &RefUpdateReflogError{Ref: name, OldHash: oldHash, Err: err}
	}
	return nil
}

func displayHash(h object.Hash) string {
	if h == "" {
		return "<none>"
	}
	return string(h)
}

func acquireRefLock(lockPath string) (*os.File, error) {
	deadline := time.Now().Add(refLockWaitLimit)
	for {
		f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, nil
		}
		if os.IsExist(err) {
			if time.Now().After(deadline) {
				return nil, fmt.Errorf("timeout waiting for lock %q", lockPath)
			}
			time.Sleep(refLockRetryDelay)
			continue
		}
		return nil, err
	}
}

func readRefHash(refPath string) (object.Hash, error) {
	data, err := os.ReadFile(refPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return object.Hash(strings.TrimSpace(string(data))), nil
}
