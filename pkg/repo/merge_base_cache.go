package repo

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/odvcencio/docstore/pkg/object"
)

const defaultMergeMemoSize = 4096

type commitPair struct {
	left  object.Hash
	right object.Hash
}

func orderedPair(a, b object.Hash) commitPair {
	if a <= b {
		return commitPair{left: a, right: b}
	}
	return commitPair{left: b, right: a}
}

type mergeBaseCacheEntry struct {
	base  object.Hash
	found bool
}

// mergeBaseTraversalState memoizes parsed commits, generation numbers and
// merge bases for one Repo. Each memo is a bounded LRU since a workspace
// lives for the whole process.
type mergeBaseTraversalState struct {
	commits     *lru.Cache[object.Hash, *object.CommitObj]
	generations *lru.Cache[object.Hash, uint64]
	mergeBases  *lru.Cache[commitPair, mergeBaseCacheEntry]
}

func newMergeBaseTraversalState(size int) *mergeBaseTraversalState {
	if size <= 0 {
		size = defaultMergeMemoSize
	}
	commits, _ := lru.New[object.Hash, *object.CommitObj](size)
	generations, _ := lru.New[object.Hash, uint64](size)
	bases, _ := lru.New[commitPair, mergeBaseCacheEntry](size)
	return &mergeBaseTraversalState{commits: commits, generations: generations, mergeBases: bases}
}

func (s *mergeBaseTraversalState) loadMergeBase(a, b object.Hash) (mergeBaseCacheEntry, bool) {
	return s.mergeBases.Get(orderedPair(a, b))
}

func (s *mergeBaseTraversalState) storeMergeBase(a, b, base object.Hash, found bool) {
	s.mergeBases.Add(orderedPair(a, b), mergeBaseCacheEntry{base: base, found: found})
}

func (s *mergeBaseTraversalState) mergeBaseCacheSize() int { return s.mergeBases.Len() }

func (s *mergeBaseTraversalState) generationCacheSize() int { return s.generations.Len() }

func (s *mergeBaseTraversalState) readCommit(store *object.Store, h object.Hash) (*object.CommitObj, error) {
	if c, ok := s.commits.Get(h); ok {
		return c, nil
	}
	c, err := store.ReadCommit(h)
	if err != nil {
		return nil, fmt.Errorf("find merge base: read commit %s: %w", h, err)
	}
	s.commits.Add(h, c)
	return c, nil
}

// generation returns 1 + the highest parent generation, with root commits
// at 1. The walk is iterative so long linear histories do not grow the
// goroutine stack.
func (s *mergeBaseTraversalState) generation(store *object.Store, h object.Hash) (uint64, error) {
	if h == "" {
		return 0, nil
	}
	type frame struct {
		hash    object.Hash
		parents []object.Hash
		next    int
		max     uint64
	}
	onStack := map[object.Hash]bool{}
	var stack []*frame

	push := func(h object.Hash) error {
		if onStack[h] {
			return fmt.Errorf("find merge base: commit graph cycle detected at %s", h)
		}
		c, err := s.readCommit(store, h)
		if err != nil {
			return err
		}
		onStack[h] = true
		stack = append(stack, &frame{hash: h, parents: c.Parents})
		return nil
	}

	if g, ok := s.generations.Get(h); ok {
		return g, nil
	}
	if err := push(h); err != nil {
		return 0, err
	}
	var result uint64
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.next < len(top.parents) {
			p := top.parents[top.next]
			top.next++
			if g, ok := s.generations.Get(p); ok {
				top.max = max(top.max, g)
				continue
			}
			if err := push(p); err != nil {
				return 0, err
			}
			continue
		}
		g := top.max + 1
		s.generations.Add(top.hash, g)
		delete(onStack, top.hash)
		stack = stack[:len(stack)-1]
		if len(stack) > 0 {
			parent := stack[len(stack)-1]
			parent.max = max(parent.max, g)
		}
		result = g
	}
	return result, nil
}
