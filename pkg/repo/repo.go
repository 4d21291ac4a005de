package repo

import (
	"sync"

	"github.com/odvcencio/docstore/pkg/object"
)

// Repo is an opened local clone (or bare origin). The directory holds HEAD,
// config.json, objects/, refs/ and logs/ directly; there is no working
// tree.
type Repo struct {
	Dir   string        // repository directory
	Store *object.Store // content-addressed object store

	mergeOnce sync.Once
	mergeMemo *mergeBaseTraversalState
	memoSize  int
}

// Option configures how a Repo is opened.
type Option func(*options)

type options struct {
	cacheSize int
}

// WithObjectCache fronts the object store with an LRU of n decoded objects.
func WithObjectCache(n int) Option {
	return func(o *options) { o.cacheSize = n }
}

func newRepo(dir string, opts []Option) *Repo {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Repo{
		Dir:      dir,
		Store:    object.NewStore(dir, object.WithCache(o.cacheSize)),
		memoSize: o.cacheSize,
	}
}

func (r *Repo) getMergeTraversalState() *mergeBaseTraversalState {
	r.mergeOnce.Do(func() {
		r.mergeMemo = newMergeBaseTraversalState(r.memoSize)
	})
	return r.mergeMemo
}
