package workspace

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/odvcencio/docstore/pkg/object"
	"github.com/odvcencio/docstore/pkg/remote"
	"github.com/odvcencio/docstore/pkg/repo"
)

var testAuthor = object.Ident{Name: "Test Author", Email: "author@example.com"}

// clock advances one second per call so commit order is deterministic.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

// countingTransport counts ListRefs calls, one per fetch or clone.
type countingTransport struct {
	remote.Transport
	listRefs atomic.Int32
}

func (c *countingTransport) ListRefs(ctx context.Context) (map[string]object.Hash, error) {
	c.listRefs.Add(1)
	return c.Transport.ListRefs(ctx)
}

func newOrigin(t *testing.T) *remote.Dir {
	t.Helper()
	d, err := remote.InitDir(t.TempDir(), repo.DefaultBranchName)
	if err != nil {
		t.Fatalf("InitDir: %v", err)
	}
	return d
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newWorkspace(t *testing.T, origin remote.Transport, clk *clock, mutate ...func(*Config)) *Workspace {
	t.Helper()
	cfg := Config{
		Name:      "docs",
		LocalPath: filepath.Join(t.TempDir(), "clone"),
		Transport: origin,
		Committer: object.Ident{Name: "Docstore", Email: "docstore@example.com"},
		Logger:    quietLogger(),
		Now:       clk.Now,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	w, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w
}

func mustWrite(t *testing.T, w *Workspace, path, content string, opts WriteOptions) *CommitInfo {
	t.Helper()
	c, err := w.Write(context.Background(), path, []byte(content), opts)
	if err != nil {
		t.Fatalf("Write(%q): %v", path, err)
	}
	if c == nil {
		t.Fatalf("Write(%q) was a no-op", path)
	}
	return c
}

func mustRead(t *testing.T, w *Workspace, path string, opts ReadOptions) *Document {
	t.Helper()
	doc, err := w.Read(context.Background(), path, opts)
	if err != nil {
		t.Fatalf("Read(%q): %v", path, err)
	}
	if doc == nil {
		t.Fatalf("Read(%q) = nil", path)
	}
	return doc
}

func mustLog(t *testing.T, w *Workspace, opts LogOptions) []*CommitInfo {
	t.Helper()
	log, err := w.Log(context.Background(), opts)
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	return log
}

func localRef(t *testing.T, w *Workspace, branch string) object.Hash {
	t.Helper()
	h, err := w.repo.LookupRef(repo.BranchRef(branch))
	if err != nil {
		t.Fatalf("LookupRef(%s): %v", branch, err)
	}
	return h
}

func originRef(t *testing.T, origin remote.Transport, branch string) object.Hash {
	t.Helper()
	refs, err := origin.ListRefs(context.Background())
	if err != nil {
		t.Fatalf("origin ListRefs: %v", err)
	}
	return refs["heads/"+branch]
}
