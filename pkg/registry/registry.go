// Package registry keeps one Workspace per repository name.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/odvcencio/docstore/pkg/config"
	"github.com/odvcencio/docstore/pkg/metrics"
	"github.com/odvcencio/docstore/pkg/remote"
	"github.com/odvcencio/docstore/pkg/repo"
	"github.com/odvcencio/docstore/pkg/workspace"
)

// Registry maps repository names to workspaces. Each name gets exactly one
// Workspace for the life of the registry.
type Registry struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	signer  repo.CommitSigner
	now     func() time.Time
	// transports overrides the locator for a repository name.
	transports map[string]remote.Transport

	group singleflight.Group
	mu    sync.RWMutex
	items map[string]*workspace.Workspace
}

// Option configures a Registry.
type Option func(*Registry)

func WithLogger(l *slog.Logger) Option { return func(r *Registry) { r.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(r *Registry) { r.metrics = m } }

func WithSigner(s repo.CommitSigner) Option { return func(r *Registry) { r.signer = s } }

// WithClock stamps commits with now instead of time.Now.
func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

// WithTransport serves repository name from t instead of its configured
// locator.
func WithTransport(name string, t remote.Transport) Option {
	return func(r *Registry) { r.transports[name] = t }
}

// ConnectOption adjusts a single Connect call. Options only apply when the
// call creates the workspace.
type ConnectOption func(*workspace.Config)

// WithDefaultBranch follows branch instead of the one origin advertises.
func WithDefaultBranch(branch string) ConnectOption {
	return func(c *workspace.Config) { c.DefaultBranch = branch }
}

// WithDirectory scopes the workspace to a repository subdirectory.
func WithDirectory(dir string) ConnectOption {
	return func(c *workspace.Config) { c.Directory = dir }
}

func New(cfg *config.Config, opts ...Option) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	r := &Registry{
		cfg:        cfg,
		logger:     slog.Default(),
		transports: make(map[string]remote.Transport),
		items:      make(map[string]*workspace.Workspace),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Connect returns the workspace for name, creating it on first use, and
// brings it to Ready. Concurrent first calls share one construction.
func (r *Registry) Connect(ctx context.Context, name string, opts ...ConnectOption) (*workspace.Workspace, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, fmt.Errorf("registry: invalid repository name %q", name)
	}
	w, ok := r.Get(name)
	if !ok {
		v, err, _ := r.group.Do(name, func() (any, error) {
			if w, ok := r.Get(name); ok {
				return w, nil
			}
			w, err := workspace.New(r.workspaceConfig(name, opts))
			if err != nil {
				return nil, err
			}
			r.mu.Lock()
			r.items[name] = w
			r.mu.Unlock()
			r.logger.Info("workspace registered", "workspace", name, "path", w.LocalPath())
			return w, nil
		})
		if err != nil {
			return nil, err
		}
		w = v.(*workspace.Workspace)
	}
	if err := w.EnsureReady(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

func (r *Registry) workspaceConfig(name string, opts []ConnectOption) workspace.Config {
	rc := r.cfg.Repository(name)
	wc := workspace.Config{
		Name:          name,
		Remote:        rc.Remote,
		LocalPath:     rc.LocalPath,
		DefaultBranch: rc.DefaultBranch,
		Directory:     rc.Directory,
		Committer:     r.cfg.Committer,
		Credentials:   r.cfg.Credentials,
		Transport:     r.transports[name],
		Signer:        r.signer,
		Logger:        r.logger,
		Metrics:       r.metrics,
		CacheSize:     r.cfg.CacheSize,
		Now:           r.now,
	}
	for _, opt := range opts {
		opt(&wc)
	}
	return wc
}

// Get returns the workspace for name if it was connected.
func (r *Registry) Get(name string) (*workspace.Workspace, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.items[name]
	return w, ok
}

// Names lists the connected repositories, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (r *Registry) snapshot() []*workspace.Workspace {
	names := r.Names()
	out := make([]*workspace.Workspace, 0, len(names))
	for _, name := range names {
		if w, ok := r.Get(name); ok {
			out = append(out, w)
		}
	}
	return out
}

// FetchAll fetches every connected workspace concurrently and returns the
// first failure.
func (r *Registry) FetchAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, w := range r.snapshot() {
		g.Go(func() error {
			if err := w.Fetch(ctx); err != nil {
				return fmt.Errorf("fetch %s: %w", w.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Cleanup removes every local clone. Workspaces stay registered and clone
// again on next use.
func (r *Registry) Cleanup() error {
	var result *multierror.Error
	for _, w := range r.snapshot() {
		if err := w.Cleanup(); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", w.Name(), err))
		}
	}
	return result.ErrorOrNil()
}
