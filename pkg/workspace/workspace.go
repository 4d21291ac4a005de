// Package workspace exposes the files of an origin repository as a
// versioned document store. A Workspace owns one local clone, keeps it in
// step with origin, and publishes every write, branch and merge to origin
// before it becomes visible locally.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/docstore/pkg/metrics"
	"github.com/odvcencio/docstore/pkg/object"
	"github.com/odvcencio/docstore/pkg/remote"
	"github.com/odvcencio/docstore/pkg/repo"
)

const tracerName = "github.com/odvcencio/docstore/pkg/workspace"

// Default commit messages.
const (
	DefaultWriteMessage  = "Commit via docstore"
	DefaultDeleteMessage = "Delete via docstore"
)

// DefaultLogLimit bounds Log when no limit is given, and the commit list a
// Read returns.
const DefaultLogLimit = 10

// Config describes one workspace.
type Config struct {
	Name      string // logical repository name
	Remote    string // origin locator, used when Transport is nil
	LocalPath string // local clone directory
	// DefaultBranch overrides the branch origin advertises.
	DefaultBranch string
	// Directory restricts every key to this repository subdirectory.
	Directory   string
	Committer   object.Ident
	Credentials remote.Credentials
	Transport   remote.Transport
	Signer      repo.CommitSigner
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	CacheSize   int
	// Now stamps commits; time.Now when nil.
	Now func() time.Time
}

// State is the lifecycle of the local clone.
type State int

const (
	Uninitialized State = iota
	Cloning
	Ready
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Cloning:
		return "cloning"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Workspace is a document store over one origin repository. Operations are
// serialized; a Workspace may be shared between goroutines.
type Workspace struct {
	name      string
	localPath string
	remote    string
	directory string
	committer object.Ident
	signer    repo.CommitSigner
	cacheSize int
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	now       func() time.Time

	mu            sync.Mutex
	state         State
	repo          *repo.Repo
	transport     remote.Transport
	creds         remote.Credentials
	defaultBranch string
}

// New validates cfg and returns an Uninitialized workspace. Nothing touches
// disk or origin until the first operation.
func New(cfg Config) (*Workspace, error) {
	if strings.TrimSpace(cfg.LocalPath) == "" {
		return nil, fmt.Errorf("workspace %q: local path is required", cfg.Name)
	}
	if cfg.Transport == nil && strings.TrimSpace(cfg.Remote) == "" {
		return nil, fmt.Errorf("workspace %q: remote locator is required", cfg.Name)
	}
	if cfg.DefaultBranch != "" {
		if err := repo.ValidateBranchName(cfg.DefaultBranch); err != nil {
			return nil, fmt.Errorf("workspace %q: default branch: %w", cfg.Name, err)
		}
	}
	dir := strings.Trim(cfg.Directory, "/")
	if dir != "" {
		if _, err := repo.CleanPath(dir); err != nil {
			return nil, fmt.Errorf("workspace %q: directory: %w", cfg.Name, err)
		}
	}
	if cfg.Committer.IsZero() {
		cfg.Committer = object.Ident{Name: "docstore", Email: "docstore@localhost"}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	name := cfg.Name
	if name == "" {
		name = cfg.LocalPath
	}
	return &Workspace{
		name:          name,
		localPath:     cfg.LocalPath,
		remote:        cfg.Remote,
		directory:     dir,
		committer:     cfg.Committer,
		signer:        cfg.Signer,
		cacheSize:     cfg.CacheSize,
		logger:        logger.With("workspace", name),
		metrics:       cfg.Metrics,
		tracer:        otel.Tracer(tracerName),
		now:           now,
		transport:     cfg.Transport,
		creds:         cfg.Credentials,
		defaultBranch: cfg.DefaultBranch,
	}, nil
}

// Name returns the logical repository name.
func (w *Workspace) Name() string { return w.name }

// LocalPath returns the clone directory.
func (w *Workspace) LocalPath() string { return w.localPath }

// Directory returns the key scope, "" for the whole repository.
func (w *Workspace) Directory() string { return w.directory }

// State returns the current lifecycle state.
func (w *Workspace) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// DefaultBranch returns the active branch. It is only known once the
// workspace is Ready, unless configured.
func (w *Workspace) DefaultBranch() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.defaultBranch
}

// EnsureReady clones origin when there is no local clone, else fetches.
func (w *Workspace) EnsureReady(ctx context.Context) error {
	return w.run(ctx, opEnsureReady, func(context.Context) error { return nil })
}

// Cleanup removes the local clone and returns the workspace to
// Uninitialized. The next operation clones again.
func (w *Workspace) Cleanup() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := os.RemoveAll(w.localPath); err != nil {
		return fmt.Errorf("cleanup %s: %w", w.localPath, err)
	}
	w.repo = nil
	w.setState(Uninitialized)
	w.logger.Info("local clone removed", "path", w.localPath)
	return nil
}

func (w *Workspace) setState(s State) {
	w.state = s
	w.metrics.SetState(w.name, int(s))
}

// open drives the state machine to Ready. It reports whether it cloned, in
// which case the clone is already fresh. Caller holds w.mu.
func (w *Workspace) open(ctx context.Context) (cloned bool, err error) {
	if w.state == Ready {
		return false, nil
	}
	if w.transport == nil {
		t, err := remote.Open(w.remote, w.creds)
		if err != nil {
			return false, fmt.Errorf("open origin %s: %w", w.remote, err)
		}
		w.transport = t
	}
	opts := []repo.Option{repo.WithObjectCache(w.cacheSize)}

	if repo.Exists(w.localPath) {
		r, err := repo.Open(w.localPath, opts...)
		if err != nil {
			return false, err
		}
		if w.defaultBranch == "" {
			if w.defaultBranch, err = r.DefaultBranch(); err != nil {
				return false, err
			}
		}
		w.repo = r
		w.setState(Ready)
		return false, nil
	}

	w.setState(Cloning)
	if err := w.clone(ctx, opts); err != nil {
		w.repo = nil
		w.setState(Uninitialized)
		if rmErr := os.RemoveAll(w.localPath); rmErr != nil {
			w.logger.Warn("remove partial clone", "path", w.localPath, "error", rmErr)
		}
		return false, err
	}
	w.setState(Ready)
	return true, nil
}

func (w *Workspace) clone(ctx context.Context, opts []repo.Option) error {
	start := time.Now()
	refs, err := w.transport.ListRefs(ctx)
	if err != nil {
		return &TransportError{Op: "clone", Err: err}
	}
	if w.defaultBranch == "" {
		w.defaultBranch = w.originDefaultBranch(refs)
	}
	r, err := repo.Init(w.localPath, repo.Config{Origin: w.remote, DefaultBranch: w.defaultBranch}, opts...)
	if err != nil {
		return fmt.Errorf("clone: %w", err)
	}
	w.repo = r
	n, err := w.fetchRefs(ctx, refs)
	if err != nil {
		return err
	}
	w.logger.Info("cloned", "path", w.localPath, "branch", w.defaultBranch,
		"objects", n, "duration", time.Since(start))
	return nil
}

// originDefaultBranch picks the branch a fresh clone follows: the one the
// origin advertises, else master, else main, else the first branch.
func (w *Workspace) originDefaultBranch(refs map[string]object.Hash) string {
	if d, ok := w.transport.(interface{ DefaultBranch() (string, error) }); ok {
		if b, err := d.DefaultBranch(); err == nil && b != "" {
			return b
		}
	}
	for _, b := range []string{repo.DefaultBranchName, "main"} {
		if _, ok := refs["heads/"+b]; ok {
			return b
		}
	}
	var heads []string
	for name := range refs {
		if b, ok := strings.CutPrefix(name, "heads/"); ok {
			heads = append(heads, b)
		}
	}
	if len(heads) == 0 {
		return repo.DefaultBranchName
	}
	sort.Strings(heads)
	return heads[0]
}

// branchTip returns the commit a branch operation starts from and makes the
// local ref agree with it. The origin-tracking copy wins: local refs only
// move after origin accepted an update, so a local ref can trail its
// tracking copy but never lead it. exists is false when neither ref is
// present.
func (w *Workspace) branchTip(branch string) (tip object.Hash, exists bool, err error) {
	local, err := w.repo.LookupRef(repo.BranchRef(branch))
	if err != nil {
		return "", false, err
	}
	tracking, err := w.repo.LookupRef(repo.TrackingRef(branch))
	if err != nil {
		return "", false, err
	}
	switch {
	case local == "" && tracking == "":
		return "", false, nil
	case tracking == "" || local == tracking:
		return local, true, nil
	}
	if local != "" {
		ff, err := w.repo.IsAncestor(local, tracking)
		if err != nil {
			return "", false, err
		}
		if !ff {
			w.logger.Warn("local branch diverged from origin, following origin",
				"branch", branch, "local", local.Short(), "origin", tracking.Short())
		}
	}
	if err := w.repo.UpdateRef(repo.BranchRef(branch), tracking, "sync: follow origin"); err != nil {
		return "", false, err
	}
	return tracking, true, nil
}

// defaultTip is the tip of the default branch, "" while it is unborn.
func (w *Workspace) defaultTip() (object.Hash, error) {
	tip, _, err := w.branchTip(w.defaultBranch)
	return tip, err
}

func (w *Workspace) commitInfo(h object.Hash) (*CommitInfo, error) {
	if h == "" {
		return nil, nil
	}
	c, err := w.repo.Store.ReadCommit(h)
	if err != nil {
		return nil, err
	}
	return newCommitInfo(h, c), nil
}

func (w *Workspace) branchOrDefault(branch string) (string, error) {
	branch = strings.TrimSpace(branch)
	if branch == "" {
		return w.defaultBranch, nil
	}
	if err := repo.ValidateBranchName(branch); err != nil {
		return "", err
	}
	return branch, nil
}

// checkPath validates a key and confines it to the workspace directory.
func (w *Workspace) checkPath(p string) (string, error) {
	clean, err := repo.CleanPath(p)
	if err != nil {
		return "", err
	}
	if !w.inScope(clean) {
		return "", fmt.Errorf("%w: %q is outside %q", ErrOutOfScope, clean, w.directory)
	}
	return clean, nil
}

func (w *Workspace) inScope(p string) bool {
	return w.directory == "" || strings.HasPrefix(p, w.directory+"/")
}
