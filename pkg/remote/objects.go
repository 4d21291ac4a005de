package remote

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/odvcencio/docstore/pkg/object"
)

const (
	maxPushObjectBytes = 16 << 20
	maxPushObjectCount = 50000
	defaultBatchMaxObj = 10000
	maxBatchMaxObj     = 50000
)

var (
	errInvalidObject = errors.New("invalid object")
	errNotFound      = errors.New("not found")
)

// WalkObjects lists the objects reachable from root, parents after
// children, without descending into any object for which has returns true.
func WalkObjects(store *object.Store, root object.Hash, has func(object.Hash) bool) ([]object.Hash, error) {
	var missing []object.Hash
	seen := make(map[object.Hash]bool)
	stack := []object.Hash{root}
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if h == "" || seen[h] || has(h) {
			continue
		}
		seen[h] = true

		objType, data, err := store.Read(h)
		if err != nil {
			return nil, err
		}
		missing = append(missing, h)
		refs, err := object.ReferencedHashes(objType, data)
		if err != nil {
			return nil, fmt.Errorf("parse object %s (%s): %w", h, objType, err)
		}
		for i := len(refs) - 1; i >= 0; i-- {
			stack = append(stack, refs[i])
		}
	}
	return missing, nil
}

// collectMissing answers a batch request: the objects reachable from wants
// but not through haves, capped at maxObjects.
func collectMissing(store *object.Store, wants, haves []object.Hash, maxObjects int) ([]ObjectRecord, bool, error) {
	if maxObjects <= 0 {
		maxObjects = defaultBatchMaxObj
	}
	maxObjects = min(maxObjects, maxBatchMaxObj)

	haveSet := make(map[object.Hash]bool, len(haves))
	for _, h := range object.UniqueHashes(haves) {
		haveSet[h] = true
	}

	seen := make(map[object.Hash]bool)
	var missing []object.Hash
	truncated := false
	for _, root := range object.UniqueHashes(wants) {
		if !store.Has(root) {
			continue
		}
		hashes, err := WalkObjects(store, root, func(h object.Hash) bool {
			return haveSet[h] || seen[h]
		})
		if err != nil {
			return nil, false, fmt.Errorf("walk objects for %s: %w", root, err)
		}
		for _, h := range hashes {
			if seen[h] {
				continue
			}
			seen[h] = true
			missing = append(missing, h)
			if len(missing) >= maxObjects {
				truncated = true
				break
			}
		}
		if truncated {
			break
		}
	}

	out := make([]ObjectRecord, 0, len(missing))
	for _, h := range missing {
		objType, data, err := store.Read(h)
		if err != nil {
			return nil, false, fmt.Errorf("read object %s: %w", h, err)
		}
		out = append(out, ObjectRecord{Hash: h, Type: objType, Data: data})
	}
	return out, truncated, nil
}

// validatePush checks every pushed object before any is written: the hash
// matches the content, the content parses, and every referenced object is
// either in the push or already stored with the right type. All failures
// are reported together.
func validatePush(store *object.Store, objects []ObjectRecord) error {
	if len(objects) > maxPushObjectCount {
		return fmt.Errorf("%w: %d objects exceeds limit of %d", errInvalidObject, len(objects), maxPushObjectCount)
	}
	known := make(map[object.Hash]object.ObjectType, len(objects))
	var result *multierror.Error
	for i, obj := range objects {
		objType, err := object.ParseObjectType(string(obj.Type))
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("object %d: %w", i, err))
			continue
		}
		if len(obj.Data) > maxPushObjectBytes {
			result = multierror.Append(result, fmt.Errorf("object %d exceeds %d-byte limit", i, maxPushObjectBytes))
			continue
		}
		computed := object.HashObject(objType, obj.Data)
		if obj.Hash != "" && obj.Hash != computed {
			result = multierror.Append(result, fmt.Errorf("object %d: hash mismatch (provided %s, computed %s)", i, obj.Hash, computed))
			continue
		}
		known[computed] = objType
	}
	if result != nil {
		return fmt.Errorf("%w: %w", errInvalidObject, result.ErrorOrNil())
	}

	for i, obj := range objects {
		if err := validateObject(obj.Type, obj.Data, known, store); err != nil {
			result = multierror.Append(result, fmt.Errorf("object %d (%s): %w", i, obj.Type, err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", errInvalidObject, err)
	}
	return nil
}

func resolveObjectType(hash object.Hash, known map[object.Hash]object.ObjectType, store *object.Store) (object.ObjectType, bool) {
	if t, ok := known[hash]; ok {
		return t, true
	}
	if !store.Has(hash) {
		return "", false
	}
	t, _, err := store.Read(hash)
	if err != nil {
		return "", false
	}
	return t, true
}

func validateObject(objType object.ObjectType, data []byte, known map[object.Hash]object.ObjectType, store *object.Store) error {
	requireRef := func(hash object.Hash, expected object.ObjectType) error {
		if hash == "" {
			return fmt.Errorf("empty reference hash")
		}
		gotType, ok := resolveObjectType(hash, known, store)
		if !ok {
			return fmt.Errorf("missing referenced object %s", hash)
		}
		if gotType != expected {
			return fmt.Errorf("referenced object %s has type %s, want %s", hash, gotType, expected)
		}
		return nil
	}

	switch objType {
	case object.TypeBlob:
		_, err := object.UnmarshalBlob(data)
		return err
	case object.TypeTree:
		tree, err := object.UnmarshalTree(data)
		if err != nil {
			return err
		}
		for _, e := range tree.Entries {
			if err := object.ValidateEntryName(e.Name); err != nil {
				return err
			}
			if e.IsDir {
				if err := requireRef(e.SubtreeHash, object.TypeTree); err != nil {
					return fmt.Errorf("tree entry %q subtree: %w", e.Name, err)
				}
				continue
			}
			if err := requireRef(e.BlobHash, object.TypeBlob); err != nil {
				return fmt.Errorf("tree entry %q blob: %w", e.Name, err)
			}
		}
		return nil
	case object.TypeCommit:
		commit, err := object.UnmarshalCommit(data)
		if err != nil {
			return err
		}
		if err := requireRef(commit.TreeHash, object.TypeTree); err != nil {
			return fmt.Errorf("commit tree: %w", err)
		}
		for _, p := range commit.Parents {
			if err := requireRef(p, object.TypeCommit); err != nil {
				return fmt.Errorf("commit parent: %w", err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported object type %q", objType)
	}
}
