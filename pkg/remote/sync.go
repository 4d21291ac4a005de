package remote

import (
	"context"
	"fmt"

	"github.com/odvcencio/docstore/pkg/object"
)

const (
	// MaxBatchObjects mirrors the server-side cap.
	MaxBatchObjects = maxBatchMaxObj
	// MaxBatchHaveHashes keeps batch request payloads under server body limits.
	MaxBatchHaveHashes = 20000
	// MaxBatchNegotiationRounds prevents unbounded negotiation loops.
	MaxBatchNegotiationRounds = 1024
)

// FetchIntoStore fetches all objects reachable from wants into the local store
// and returns how many were new.
//
// It starts with batch negotiation, then guarantees closure by walking the
// object graph locally and fetching any still-missing object via GetObject.
// Every object is hash-verified before it is written.
func FetchIntoStore(ctx context.Context, t Transport, store *object.Store, wants, haves []object.Hash) (int, error) {
	roots := object.UniqueHashes(wants)
	if len(roots) == 0 {
		return 0, fmt.Errorf("at least one want hash is required")
	}

	knownHaves, knownHaveSet := initKnownHaves(haves)
	written := 0
	negotiationCompleted := false
	for round := 0; round < MaxBatchNegotiationRounds; round++ {
		batchObjects, truncated, err := t.BatchObjects(ctx, roots, selectBatchHaves(knownHaves, MaxBatchHaveHashes), MaxBatchObjects)
		if err != nil {
			return written, err
		}

		newInRound := 0
		for _, obj := range batchObjects {
			n, err := writeVerifiedObject(store, obj)
			if err != nil {
				return written, err
			}
			written += n
			newInRound += n
			knownHaves = appendKnownHave(knownHaves, knownHaveSet, obj.Hash)
		}

		// A server that keeps truncating without sending anything new is
		// finished off by point fetches below.
		if !truncated || newInRound == 0 {
			negotiationCompleted = true
			break
		}
	}
	if !negotiationCompleted {
		return written, fmt.Errorf("batch negotiation exceeded %d rounds", MaxBatchNegotiationRounds)
	}

	n, err := ensureGraphClosure(ctx, t, store, roots)
	written += n
	return written, err
}

func initKnownHaves(haves []object.Hash) ([]object.Hash, map[object.Hash]struct{}) {
	haveList := object.UniqueHashes(haves)
	haveSet := make(map[object.Hash]struct{}, len(haveList))
	for _, h := range haveList {
		haveSet[h] = struct{}{}
	}
	return haveList, haveSet
}

func appendKnownHave(haveList []object.Hash, haveSet map[object.Hash]struct{}, h object.Hash) []object.Hash {
	if h == "" {
		return haveList
	}
	if _, ok := haveSet[h]; ok {
		return haveList
	}
	haveSet[h] = struct{}{}
	return append(haveList, h)
}

// selectBatchHaves keeps the most recent max haves.
func selectBatchHaves(haves []object.Hash, max int) []object.Hash {
	if max <= 0 || len(haves) <= max {
		out := make([]object.Hash, len(haves))
		copy(out, haves)
		return out
	}
	out := make([]object.Hash, max)
	copy(out, haves[len(haves)-max:])
	return out
}

// CollectObjectsForPush returns objects reachable from roots excluding objects
// in stopRoots (and anything reachable from stopRoots).
func CollectObjectsForPush(store *object.Store, roots, stopRoots []object.Hash) ([]ObjectRecord, error) {
	roots = object.UniqueHashes(roots)
	if len(roots) == 0 {
		return nil, fmt.Errorf("at least one root hash is required")
	}

	stopSet, err := store.ReachableSet(stopRoots)
	if err != nil {
		return nil, err
	}

	seen := make(map[object.Hash]struct{})
	stack := append([]object.Hash(nil), roots...)
	objects := make([]ObjectRecord, 0, 64)
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if h == "" {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		if _, stopped := stopSet[h]; stopped {
			continue
		}
		seen[h] = struct{}{}

		objType, data, err := store.Read(h)
		if err != nil {
			return nil, fmt.Errorf("read object %s: %w", h, err)
		}
		objects = append(objects, ObjectRecord{Hash: h, Type: objType, Data: data})

		refs, err := object.ReferencedHashes(objType, data)
		if err != nil {
			return nil, fmt.Errorf("parse object %s (%s): %w", h, objType, err)
		}
		stack = append(stack, refs...)
	}

	return objects, nil
}

func ensureGraphClosure(ctx context.Context, t Transport, store *object.Store, roots []object.Hash) (int, error) {
	written := 0
	seen := make(map[object.Hash]struct{}, len(roots))
	stack := append([]object.Hash(nil), roots...)

	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if h == "" {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}

		if !store.Has(h) {
			obj, err := t.GetObject(ctx, h)
			if err != nil {
				return written, err
			}
			if obj.Hash != h {
				return written, fmt.Errorf("object %s: server returned %s", h, obj.Hash)
			}
			n, err := writeVerifiedObject(store, obj)
			if err != nil {
				return written, err
			}
			written += n
		}

		objType, data, err := store.Read(h)
		if err != nil {
			return written, fmt.Errorf("read object %s: %w", h, err)
		}
		refs, err := object.ReferencedHashes(objType, data)
		if err != nil {
			return written, fmt.Errorf("parse object %s (%s): %w", h, objType, err)
		}
		stack = append(stack, refs...)
	}

	return written, nil
}

func writeVerifiedObject(store *object.Store, obj ObjectRecord) (int, error) {
	if obj.Hash == "" {
		return 0, fmt.Errorf("object hash is required")
	}
	if _, err := object.ParseObjectType(string(obj.Type)); err != nil {
		return 0, err
	}
	computed := object.HashObject(obj.Type, obj.Data)
	if computed != obj.Hash {
		return 0, fmt.Errorf("object hash mismatch: expected %s, got %s", obj.Hash, computed)
	}
	if store.Has(obj.Hash) {
		return 0, nil
	}
	writtenHash, err := store.Write(obj.Type, obj.Data)
	if err != nil {
		return 0, err
	}
	if writtenHash != obj.Hash {
		return 0, fmt.Errorf("object write mismatch: expected %s, wrote %s", obj.Hash, writtenHash)
	}
	return 1, nil
}
