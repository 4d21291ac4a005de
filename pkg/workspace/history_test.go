package workspace

import (
	"context"
	"testing"

	"github.com/odvcencio/docstore/pkg/diff"
)

func TestResolveCommit(t *testing.T) {
	w := newWorkspace(t, newOrigin(t), newClock())
	ctx := context.Background()
	first := mustWrite(t, w, "README", "one\n", WriteOptions{})
	feature := mustWrite(t, w, "README", "two\n", WriteOptions{Branch: "feature"})

	cases := []struct {
		ref  string
		want *CommitInfo
	}{
		{"", first},
		{"HEAD", first},
		{"master", first},
		{"feature", feature},
		{"refs/heads/feature", feature},
		{"refs/remotes/origin/feature", feature},
		{string(feature.Commit), feature},
		{string(feature.Commit[:12]), feature},
		{"nope", nil},
		{"refs/heads/nope", nil},
		{"refs/heads/x.lock", nil},
		{string(first.Tree), nil},
		{"zzzz", nil},
	}
	for _, tc := range cases {
		got := w.ResolveCommit(ctx, tc.ref)
		switch {
		case tc.want == nil && got != nil:
			t.Fatalf("ResolveCommit(%q) = %s, want nil", tc.ref, got.Commit)
		case tc.want != nil && got == nil:
			t.Fatalf("ResolveCommit(%q) = nil, want %s", tc.ref, tc.want.Commit)
		case tc.want != nil && got.Commit != tc.want.Commit:
			t.Fatalf("ResolveCommit(%q) = %s, want %s", tc.ref, got.Commit, tc.want.Commit)
		}
	}
}

func TestReadCommitsTouchingPath(t *testing.T) {
	w := newWorkspace(t, newOrigin(t), newClock())
	ctx := context.Background()
	mustWrite(t, w, "README", "v1\n", WriteOptions{})
	other := mustWrite(t, w, "other.md", "x\n", WriteOptions{})
	v2 := mustWrite(t, w, "README", "v2\n", WriteOptions{})
	b, err := w.CreateBranch(ctx, CreateBranchOptions{})
	if err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	mustWrite(t, w, "other.md", "y\n", WriteOptions{})
	branch := mustWrite(t, w, "README", "v3\n", WriteOptions{Branch: b})
	res, err := w.MergeBranch(ctx, b, MergeOptions{})
	if err != nil || !res.Success {
		t.Fatalf("MergeBranch = %+v, %v", res, err)
	}

	doc := mustRead(t, w, "README", ReadOptions{})
	if string(doc.Content) != "v3\n" {
		t.Fatalf("README = %q", doc.Content)
	}
	if doc.Commit.Commit != res.Commit.Commit {
		t.Fatalf("doc commit = %s, want merge %s", doc.Commit.Commit, res.Commit.Commit)
	}
	// The root commit has no parent and the merge has two; neither is listed.
	want := []*CommitInfo{branch, v2}
	if len(doc.Commits) != len(want) {
		t.Fatalf("commits = %d, want %d", len(doc.Commits), len(want))
	}
	for i := range want {
		if doc.Commits[i].Commit != want[i].Commit {
			t.Fatalf("commits[%d] = %s, want %s", i, doc.Commits[i].Commit, want[i].Commit)
		}
	}

	old := mustRead(t, w, "README", ReadOptions{Ref: string(other.Commit)})
	if string(old.Content) != "v1\n" || len(old.Commits) != 0 {
		t.Fatalf("README at %s = %q with %d commits", other.Commit, old.Content, len(old.Commits))
	}
}

func TestReadHistoryIsBounded(t *testing.T) {
	w := newWorkspace(t, newOrigin(t), newClock())
	mustWrite(t, w, "n.txt", "0\n", WriteOptions{})
	for i := 1; i <= DefaultLogLimit+3; i++ {
		mustWrite(t, w, "n.txt", string(rune('a'+i))+"\n", WriteOptions{})
	}
	doc := mustRead(t, w, "n.txt", ReadOptions{})
	if len(doc.Commits) != DefaultLogLimit {
		t.Fatalf("commits = %d, want %d", len(doc.Commits), DefaultLogLimit)
	}
	if doc.Commits[0].Commit != doc.Commit.Commit {
		t.Fatalf("newest commit %s is not the tip %s", doc.Commits[0].Commit, doc.Commit.Commit)
	}
	if n := len(mustLog(t, w, LogOptions{Limit: 3})); n != 3 {
		t.Fatalf("log limit 3 returned %d", n)
	}
}

func TestReadAllModes(t *testing.T) {
	origin := newOrigin(t)
	clk := newClock()
	full := newWorkspace(t, origin, clk)
	ctx := context.Background()
	if _, err := full.WriteMany(ctx, []Edit{
		{Path: "docs/a.md", Content: []byte("a\n")},
		{Path: "docs/guides/b.md", Content: []byte("b\n")},
		{Path: "docs/guides/c.md", Content: []byte("c\n")},
		{Path: "top.md", Content: []byte("top\n")},
	}, WriteOptions{}); err != nil {
		t.Fatalf("WriteMany: %v", err)
	}

	flat, err := full.ReadAll(ctx, ReadAllOptions{})
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(flat.Files) != 4 || flat.Root != nil {
		t.Fatalf("flat = %+v", flat)
	}
	if flat.Files[0].Path != "docs/a.md" || string(flat.Files[3].Content) != "top\n" {
		t.Fatalf("flat files = %+v", flat.Files)
	}

	scoped := newWorkspace(t, origin, clk, func(c *Config) { c.Directory = "docs" })
	nested, err := scoped.ReadAll(ctx, ReadAllOptions{Mode: Nested})
	if err != nil {
		t.Fatalf("ReadAll nested: %v", err)
	}
	root := nested.Root
	if root == nil || nested.Files != nil {
		t.Fatalf("nested = %+v", nested)
	}
	if root.Name != "docs" || root.Path != "docs" {
		t.Fatalf("root = %q %q", root.Name, root.Path)
	}
	if len(root.Files) != 1 || root.Files[0].Path != "docs/a.md" {
		t.Fatalf("root files = %+v", root.Files)
	}
	if len(root.Dirs) != 1 || root.Dirs[0].Name != "guides" || root.Dirs[0].Path != "docs/guides" {
		t.Fatalf("root dirs = %+v", root.Dirs)
	}
	if g := root.Dirs[0]; len(g.Files) != 2 || string(g.Files[1].Content) != "c\n" {
		t.Fatalf("guides = %+v", g)
	}

	if snap, err := full.ReadAll(ctx, ReadAllOptions{Branch: "missing"}); err != nil || snap != nil {
		t.Fatalf("ReadAll on missing branch = %v, %v", snap, err)
	}
}

func TestDiffAndShow(t *testing.T) {
	w := newWorkspace(t, newOrigin(t), newClock())
	ctx := context.Background()
	first, err := w.WriteMany(ctx, []Edit{
		{Path: "a.md", Content: []byte("one\ntwo\n")},
		{Path: "b.md", Content: []byte("bee\n")},
	}, WriteOptions{})
	if err != nil {
		t.Fatalf("WriteMany: %v", err)
	}
	second, err := w.WriteMany(ctx, []Edit{
		{Path: "a.md", Content: []byte("one\nthree\n")},
		{Path: "b.md", Delete: true},
		{Path: "c.md", Content: []byte("sea\n")},
	}, WriteOptions{})
	if err != nil {
		t.Fatalf("WriteMany: %v", err)
	}

	d, err := w.Diff(ctx, string(first.Commit), "", DiffOptions{NoRenames: true})
	if err != nil || d == nil {
		t.Fatalf("Diff = %v, %v", d, err)
	}
	if d.Commits[0].Commit != first.Commit || d.Commits[1].Commit != second.Commit {
		t.Fatalf("diff commits = %s..%s", d.Commits[0].Commit, d.Commits[1].Commit)
	}
	if d.FilesChanged != 3 || d.Additions != 2 || d.Deletions != 2 {
		t.Fatalf("stat = %+v", d.Stat())
	}
	byType := d.ByType()
	if len(byType[diff.Added]) != 1 || len(byType[diff.Deleted]) != 1 || len(byType[diff.Modified]) != 1 {
		t.Fatalf("changes by type = %+v", byType)
	}
	if m := byType[diff.Modified][0]; m.Patch == "" {
		t.Fatal("modified change has no patch")
	}

	only, err := w.Diff(ctx, string(first.Commit), string(second.Commit), DiffOptions{Paths: []string{"a.md"}})
	if err != nil || only.FilesChanged != 1 {
		t.Fatalf("path-limited diff = %+v, %v", only, err)
	}
	if d, err := w.Diff(ctx, "nope", "", DiffOptions{}); err != nil || d != nil {
		t.Fatalf("Diff from unknown ref = %v, %v", d, err)
	}

	show, err := w.Show(ctx, string(second.Commit))
	if err != nil || show == nil {
		t.Fatalf("Show = %v, %v", show, err)
	}
	if show.FilesChanged != 3 || show.Commits[0].Commit != first.Commit {
		t.Fatalf("show = %+v", show)
	}
	rootShow, err := w.Show(ctx, string(first.Commit))
	if err != nil || rootShow == nil {
		t.Fatalf("Show root = %v, %v", rootShow, err)
	}
	if rootShow.Commits[0] != nil || rootShow.FilesChanged != 2 || rootShow.Additions != 3 {
		t.Fatalf("root show = %+v", rootShow)
	}
}

func TestReflogRecordsCloneAndPush(t *testing.T) {
	origin := newOrigin(t)
	clk := newClock()
	ctx := context.Background()
	seed := newWorkspace(t, origin, clk)
	first := mustWrite(t, seed, "README", "one\n", WriteOptions{})

	w := newWorkspace(t, origin, clk)
	second := mustWrite(t, w, "README", "two\n", WriteOptions{})

	changes, err := w.Reflog(ctx, "", 0)
	if err != nil {
		t.Fatalf("Reflog: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("reflog = %+v, want clone and push", changes)
	}
	created, pushed := changes[1], changes[0]
	if created.Ref != "refs/heads/master" || created.Old != "" || created.New != first.Commit || created.Reason != "branch: created" {
		t.Fatalf("clone entry = %+v", created)
	}
	if pushed.Old != first.Commit || pushed.New != second.Commit || pushed.Reason != "push" {
		t.Fatalf("push entry = %+v", pushed)
	}

	if limited, err := w.Reflog(ctx, "master", 1); err != nil || len(limited) != 1 || limited[0].New != second.Commit {
		t.Fatalf("Reflog(master, 1) = %+v, %v", limited, err)
	}
	if none, err := w.Reflog(ctx, "feature", 0); err != nil || len(none) != 0 {
		t.Fatalf("Reflog(feature) = %+v, %v, want empty", none, err)
	}
	if _, err := w.Reflog(ctx, "bad name", 0); err == nil {
		t.Fatal("Reflog accepted an invalid branch name")
	}
}
