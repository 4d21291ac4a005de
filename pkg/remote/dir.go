package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/odvcencio/docstore/pkg/object"
	"github.com/odvcencio/docstore/pkg/repo"
)

var errInvalidRef = errors.New("invalid ref update")

// Dir is a bare origin repository on the local filesystem. It serves the
// Transport interface in-process and backs the HTTP Handler.
type Dir struct {
	repo *repo.Repo
	mu   sync.Mutex // serializes multi-ref updates
}

var _ Transport = (*Dir)(nil)

// InitDir creates an empty bare origin at path.
func InitDir(path, defaultBranch string, opts ...repo.Option) (*Dir, error) {
	r, err := repo.Init(path, repo.Config{DefaultBranch: defaultBranch}, opts...)
	if err != nil {
		return nil, fmt.Errorf("init origin: %w", err)
	}
	return &Dir{repo: r}, nil
}

// OpenDir opens an existing bare origin.
func OpenDir(path string, opts ...repo.Option) (*Dir, error) {
	r, err := repo.Open(path, opts...)
	if err != nil {
		if errors.Is(err, repo.ErrNotRepository) {
			return nil, fmt.Errorf("open origin: %w: %w", errNotFound, err)
		}
		return nil, fmt.Errorf("open origin: %w", err)
	}
	return &Dir{repo: r}, nil
}

// Path returns the origin directory.
func (d *Dir) Path() string { return d.repo.Dir }

// Store exposes the origin's object store.
func (d *Dir) Store() *object.Store { return d.repo.Store }

// DefaultBranch returns the branch new clones start on.
func (d *Dir) DefaultBranch() (string, error) { return d.repo.DefaultBranch() }

func (d *Dir) ListRefs(ctx context.Context) (map[string]object.Hash, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.repo.ListRefs("")
}

func (d *Dir) BatchObjects(ctx context.Context, wants, haves []object.Hash, maxObjects int) ([]ObjectRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if len(object.UniqueHashes(wants)) == 0 {
		return nil, false, fmt.Errorf("at least one want hash is required")
	}
	return collectMissing(d.repo.Store, wants, haves, maxObjects)
}

func (d *Dir) GetObject(ctx context.Context, hash object.Hash) (ObjectRecord, error) {
	if err := ctx.Err(); err != nil {
		return ObjectRecord{}, err
	}
	if err := object.ValidateHash(hash); err != nil {
		return ObjectRecord{}, fmt.Errorf("get object: %w: %w", errInvalidObject, err)
	}
	if !d.repo.Store.Has(hash) {
		return ObjectRecord{}, fmt.Errorf("object %s: %w", hash, errNotFound)
	}
	objType, data, err := d.repo.Store.Read(hash)
	if err != nil {
		return ObjectRecord{}, err
	}
	return ObjectRecord{Hash: hash, Type: objType, Data: data}, nil
}

// PushObjects validates the whole batch, then writes it.
func (d *Dir) PushObjects(ctx context.Context, objects []ObjectRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validatePush(d.repo.Store, objects); err != nil {
		return err
	}
	for i, obj := range objects {
		if _, err := d.repo.Store.Write(obj.Type, obj.Data); err != nil {
			return fmt.Errorf("write object %d: %w", i, err)
		}
	}
	return nil
}

// UpdateRefs checks every expectation before moving any ref. New targets
// must be commits already present in the origin.
func (d *Dir) UpdateRefs(ctx context.Context, updates []RefUpdate) (map[string]object.Hash, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return nil, fmt.Errorf("%w: at least one ref update is required", errInvalidRef)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, u := range updates {
		if err := d.checkUpdate(u); err != nil {
			return nil, err
		}
	}

	applied := make(map[string]object.Hash, len(updates))
	for _, u := range updates {
		full := "refs/" + u.Name
		var old []object.Hash
		if u.Old != nil {
			old = append(old, *u.Old)
		}
		var err error
		switch {
		case u.New != nil:
			err = d.repo.UpdateRefCAS(full, *u.New, old...)
			applied[u.Name] = *u.New
		case u.Old != nil && *u.Old == "":
			// Deleting a ref that must already be absent.
		default:
			err = d.repo.DeleteRef(full, old...)
			if u.Old == nil && errors.Is(err, repo.ErrRefNotFound) {
				err = nil
			}
			applied[u.Name] = ""
		}
		if errors.Is(err, repo.ErrRefCASMismatch) {
			return nil, fmt.Errorf("%s: %w: %w", u.Name, ErrRejected, err)
		}
		if err != nil {
			return nil, err
		}
	}
	return applied, nil
}

func (d *Dir) checkUpdate(u RefUpdate) error {
	full := "refs/" + u.Name
	if err := repo.ValidateRefName(full); err != nil {
		return fmt.Errorf("%w: %w", errInvalidRef, err)
	}
	if u.New != nil {
		objType, _, err := d.repo.Store.Read(*u.New)
		if err != nil {
			return fmt.Errorf("%w: set %s: target object missing: %w", errInvalidRef, u.Name, err)
		}
		if objType != object.TypeCommit {
			return fmt.Errorf("%w: set %s: target must be commit, got %s", errInvalidRef, u.Name, objType)
		}
	}
	if u.Old == nil {
		return nil
	}
	current, err := d.repo.LookupRef(full)
	if err != nil {
		return err
	}
	if current != *u.Old {
		return fmt.Errorf("%s: %w (expected %s, found %s)", u.Name, ErrRejected, displayHash(*u.Old), displayHash(current))
	}
	return nil
}

func displayHash(h object.Hash) string {
	if h == "" {
		return "<none>"
	}
	return string(h)
}
