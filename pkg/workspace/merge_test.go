package workspace

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/odvcencio/docstore/pkg/repo"
)

func TestMergeBranchNormal(t *testing.T) {
	origin := newOrigin(t)
	w := newWorkspace(t, origin, newClock())
	ctx := context.Background()

	root := mustWrite(t, w, "README", "hey\n", WriteOptions{})
	b, err := w.CreateBranch(ctx, CreateBranchOptions{})
	if err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	head := mustWrite(t, w, "other.txt", "other\n", WriteOptions{})
	branch := mustWrite(t, w, "README", "update\n", WriteOptions{Branch: b})

	analysis, err := w.MergeAnalysis(ctx, "", b)
	if err != nil {
		t.Fatalf("MergeAnalysis: %v", err)
	}
	if analysis != Normal {
		t.Fatalf("analysis = %s, want normal", analysis)
	}

	res, err := w.MergeBranch(ctx, b, MergeOptions{})
	if err != nil {
		t.Fatalf("MergeBranch: %v", err)
	}
	if !res.Success || res.Analysis != Normal || len(res.Conflicts) != 0 {
		t.Fatalf("merge result = %+v", res)
	}
	if res.OrigHead.Commit != head.Commit || res.MergeHead.Commit != branch.Commit || res.MergeBase.Commit != root.Commit {
		t.Fatalf("heads = %s %s %s", res.OrigHead.Commit, res.MergeHead.Commit, res.MergeBase.Commit)
	}
	if res.Commit.Message != "Merge branch '"+b+"' into master" {
		t.Fatalf("merge message = %q", res.Commit.Message)
	}

	log := mustLog(t, w, LogOptions{})
	if len(log) != 4 {
		t.Fatalf("log length = %d, want 4", len(log))
	}
	if log[0].Commit != res.Commit.Commit || log[1].Commit != branch.Commit || log[2].Commit != head.Commit || log[3].Commit != root.Commit {
		t.Fatalf("log order = %s %s %s %s", log[0].Commit, log[1].Commit, log[2].Commit, log[3].Commit)
	}
	if got := log[0].Parents; len(got) != 2 || got[0] != head.Commit || got[1] != branch.Commit {
		t.Fatalf("merge parents = %v", got)
	}
	if got := string(mustRead(t, w, "README", ReadOptions{}).Content); got != "update\n" {
		t.Fatalf("README = %q", got)
	}
	if got := string(mustRead(t, w, "other.txt", ReadOptions{}).Content); got != "other\n" {
		t.Fatalf("other.txt = %q", got)
	}
	if got := originRef(t, origin, "master"); got != res.Commit.Commit {
		t.Fatalf("origin master = %s, want %s", got, res.Commit.Commit)
	}
}

func TestMergeBranchFastForward(t *testing.T) {
	w := newWorkspace(t, newOrigin(t), newClock())
	ctx := context.Background()
	mustWrite(t, w, "README", "hey\n", WriteOptions{})
	b, err := w.CreateBranch(ctx, CreateBranchOptions{})
	if err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	tip := mustWrite(t, w, "README", "update\n", WriteOptions{Branch: b})

	res, err := w.MergeBranch(ctx, b, MergeOptions{})
	if err != nil {
		t.Fatalf("MergeBranch: %v", err)
	}
	if !res.Success || res.Analysis != FastForward || res.Commit.Commit != tip.Commit {
		t.Fatalf("merge result = %+v", res)
	}
	if got := localRef(t, w, "master"); got != tip.Commit {
		t.Fatalf("master = %s, want %s", got, tip.Commit)
	}
	if n := len(mustLog(t, w, LogOptions{})); n != 2 {
		t.Fatalf("fast-forward created a merge commit; log length %d", n)
	}

	analysis, err := w.MergeAnalysis(ctx, "", b)
	if err != nil || analysis != UpToDate {
		t.Fatalf("MergeAnalysis after merge = %s, %v", analysis, err)
	}
	res, err = w.MergeBranch(ctx, b, MergeOptions{})
	if err != nil || !res.Success || res.Analysis != UpToDate || res.Commit.Commit != tip.Commit {
		t.Fatalf("second merge = %+v, %v", res, err)
	}
}

func TestMergeIntoUnbornBranch(t *testing.T) {
	origin := newOrigin(t)
	w := newWorkspace(t, origin, newClock())
	ctx := context.Background()
	feature := mustWrite(t, w, "README", "hey\n", WriteOptions{Branch: "feature"})
	if len(feature.Parents) != 0 {
		t.Fatalf("first commit on unborn repo has parents %v", feature.Parents)
	}

	analysis, err := w.MergeAnalysis(ctx, "", "feature")
	if err != nil || analysis != Unborn {
		t.Fatalf("MergeAnalysis = %s, %v, want unborn", analysis, err)
	}
	res, err := w.MergeBranch(ctx, "feature", MergeOptions{})
	if err != nil || !res.Success || res.Analysis != Unborn {
		t.Fatalf("MergeBranch = %+v, %v", res, err)
	}
	if got := originRef(t, origin, "master"); got != feature.Commit {
		t.Fatalf("origin master = %s, want %s", got, feature.Commit)
	}
}

func TestMergeMissingSource(t *testing.T) {
	w := newWorkspace(t, newOrigin(t), newClock())
	ctx := context.Background()
	mustWrite(t, w, "README", "hey\n", WriteOptions{})

	if _, err := w.MergeBranch(ctx, "nope", MergeOptions{}); !errors.Is(err, ErrBranchNotFound) {
		t.Fatalf("MergeBranch err = %v, want ErrBranchNotFound", err)
	}
	if _, err := w.MergeAnalysis(ctx, "", "nope"); !errors.Is(err, ErrBranchNotFound) {
		t.Fatalf("MergeAnalysis err = %v, want ErrBranchNotFound", err)
	}
	if d, err := w.MergePreview(ctx, "nope", MergeOptions{}); err != nil || d != nil {
		t.Fatalf("MergePreview = %v, %v, want nil", d, err)
	}
}

// conflictedBranch leaves README changed differently on master and on a new
// branch.
func conflictedBranch(t *testing.T, w *Workspace) string {
	t.Helper()
	ctx := context.Background()
	mustWrite(t, w, "README", "base\n", WriteOptions{})
	mustWrite(t, w, "keep.md", "keep\n", WriteOptions{})
	b, err := w.CreateBranch(ctx, CreateBranchOptions{})
	if err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	mustWrite(t, w, "README", "ours\n", WriteOptions{})
	mustWrite(t, w, "README", "theirs\n", WriteOptions{Branch: b})
	mustWrite(t, w, "added.md", "from branch\n", WriteOptions{Branch: b})
	return b
}

func TestMergeConflictsAreDeterministic(t *testing.T) {
	w := newWorkspace(t, newOrigin(t), newClock())
	ctx := context.Background()
	b := conflictedBranch(t, w)
	before := localRef(t, w, "master")

	first, err := w.MergeBranch(ctx, b, MergeOptions{})
	if err != nil {
		t.Fatalf("MergeBranch: %v", err)
	}
	if first.Success || first.Commit != nil {
		t.Fatalf("conflicted merge committed: %+v", first)
	}
	if len(first.Conflicts) != 1 {
		t.Fatalf("conflicts = %+v, want one", first.Conflicts)
	}
	c := first.Conflicts[0]
	if c.Path != "README" {
		t.Fatalf("conflict path = %q", c.Path)
	}
	if string(c.Ancestor.Content) != "base\n" || string(c.Ours.Content) != "ours\n" || string(c.Theirs.Content) != "theirs\n" {
		t.Fatalf("conflict sides = %q %q %q", c.Ancestor.Content, c.Ours.Content, c.Theirs.Content)
	}
	for _, marker := range []string{"<<<<<<< ours:master", "=======", ">>>>>>> theirs:" + b} {
		if !strings.Contains(c.MergeFile, marker) {
			t.Fatalf("merge file missing %q:\n%s", marker, c.MergeFile)
		}
	}
	if got := localRef(t, w, "master"); got != before {
		t.Fatalf("conflicted merge moved master %s -> %s", before, got)
	}

	second, err := w.MergeBranch(ctx, b, MergeOptions{})
	if err != nil {
		t.Fatalf("MergeBranch again: %v", err)
	}
	if !reflect.DeepEqual(first.Conflicts, second.Conflicts) {
		t.Fatalf("conflicts differ between runs:\n%+v\n%+v", first.Conflicts, second.Conflicts)
	}
}

func TestWriteMergeBranchResolvesConflicts(t *testing.T) {
	w := newWorkspace(t, newOrigin(t), newClock())
	ctx := context.Background()
	b := conflictedBranch(t, w)
	res, err := w.MergeBranch(ctx, b, MergeOptions{})
	if err != nil || res.Success {
		t.Fatalf("MergeBranch = %+v, %v", res, err)
	}
	orig, mergeHead := res.OrigHead.Commit, res.MergeHead.Commit

	_, err = w.WriteMergeBranch(ctx, nil, b, orig, mergeHead, MergeOptions{})
	if !errors.Is(err, repo.ErrUnresolvedConflicts) {
		t.Fatalf("unresolved WriteMergeBranch err = %v", err)
	}

	c, err := w.WriteMergeBranch(ctx, map[string][]byte{"README": []byte("resolved\n")}, b, orig, mergeHead,
		MergeOptions{Message: "resolve", Author: testAuthor})
	if err != nil {
		t.Fatalf("WriteMergeBranch: %v", err)
	}
	if len(c.Parents) != 2 || c.Parents[0] != orig || c.Parents[1] != mergeHead {
		t.Fatalf("parents = %v", c.Parents)
	}
	if c.Message != "resolve" || c.Author != testAuthor {
		t.Fatalf("commit = %+v", c)
	}
	for p, want := range map[string]string{"README": "resolved\n", "keep.md": "keep\n", "added.md": "from branch\n"} {
		if got := string(mustRead(t, w, p, ReadOptions{}).Content); got != want {
			t.Fatalf("%s = %q, want %q", p, got, want)
		}
	}
}

func TestWriteMergeBranchStale(t *testing.T) {
	w := newWorkspace(t, newOrigin(t), newClock())
	ctx := context.Background()
	b := conflictedBranch(t, w)
	res, err := w.MergeBranch(ctx, b, MergeOptions{})
	if err != nil || res.Success {
		t.Fatalf("MergeBranch = %+v, %v", res, err)
	}
	files := map[string][]byte{"README": []byte("resolved\n")}

	moved := mustWrite(t, w, "keep.md", "changed\n", WriteOptions{})
	_, err = w.WriteMergeBranch(ctx, files, b, res.OrigHead.Commit, res.MergeHead.Commit, MergeOptions{})
	var stale *StaleMergeError
	if !errors.As(err, &stale) || !errors.Is(err, ErrStaleMerge) {
		t.Fatalf("err = %v, want StaleMergeError", err)
	}
	if stale.Ref != "master" || stale.Expected != res.OrigHead.Commit || stale.Actual != moved.Commit {
		t.Fatalf("stale = %+v", stale)
	}

	theirs := mustWrite(t, w, "added.md", "again\n", WriteOptions{Branch: b})
	_, err = w.WriteMergeBranch(ctx, files, b, moved.Commit, res.MergeHead.Commit, MergeOptions{})
	if !errors.As(err, &stale) || stale.Ref != b || stale.Actual != theirs.Commit {
		t.Fatalf("err = %v, want stale source", err)
	}
}

func TestMergePreviewIsDiffFromMergeBase(t *testing.T) {
	w := newWorkspace(t, newOrigin(t), newClock())
	ctx := context.Background()
	b := conflictedBranch(t, w)
	res, err := w.MergeBranch(ctx, b, MergeOptions{})
	if err != nil {
		t.Fatalf("MergeBranch: %v", err)
	}

	preview, err := w.MergePreview(ctx, b, MergeOptions{})
	if err != nil || preview == nil {
		t.Fatalf("MergePreview = %v, %v", preview, err)
	}
	want, err := w.Diff(ctx, string(res.MergeBase.Commit), b, DiffOptions{})
	if err != nil || want == nil {
		t.Fatalf("Diff = %v, %v", want, err)
	}
	if !reflect.DeepEqual(preview, want) {
		t.Fatalf("preview = %+v\nwant %+v", preview, want)
	}
	if preview.FilesChanged != 2 {
		t.Fatalf("preview files changed = %d, want 2", preview.FilesChanged)
	}
}

func TestWriteMergeBranchFileDirectoryClash(t *testing.T) {
	w := newWorkspace(t, newOrigin(t), newClock())
	ctx := context.Background()
	mustWrite(t, w, "a", "base\n", WriteOptions{})
	b, err := w.CreateBranch(ctx, CreateBranchOptions{})
	if err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	mustWrite(t, w, "a/b", "nested\n", WriteOptions{Branch: b})
	mustWrite(t, w, "a", "ours\n", WriteOptions{})

	res, err := w.MergeBranch(ctx, b, MergeOptions{})
	if err != nil || res.Success {
		t.Fatalf("MergeBranch = %+v, %v", res, err)
	}
	var paths []string
	for _, c := range res.Conflicts {
		paths = append(paths, c.Path)
	}
	if !reflect.DeepEqual(paths, []string{"a", "a/b"}) {
		t.Fatalf("conflict paths = %v, want [a a/b]", paths)
	}
	orig, mergeHead := res.OrigHead.Commit, res.MergeHead.Commit

	if _, err := w.WriteMergeBranch(ctx, nil, b, orig, mergeHead, MergeOptions{}); !errors.Is(err, repo.ErrUnresolvedConflicts) {
		t.Fatalf("WriteMergeBranch with no files err = %v, want ErrUnresolvedConflicts", err)
	}
	partial := map[string][]byte{"a": []byte("resolved\n")}
	_, err = w.WriteMergeBranch(ctx, partial, b, orig, mergeHead, MergeOptions{})
	if !errors.Is(err, repo.ErrUnresolvedConflicts) || !strings.HasSuffix(err.Error(), ": a/b") {
		t.Fatalf("WriteMergeBranch without a/b err = %v, want a/b unresolved", err)
	}
	if got := localRef(t, w, "master"); got != orig {
		t.Fatalf("rejected resolution moved master %s -> %s", orig, got)
	}

	files := map[string][]byte{"a": []byte("resolved\n"), "a/b": nil}
	if _, err := w.WriteMergeBranch(ctx, files, b, orig, mergeHead, MergeOptions{}); err != nil {
		t.Fatalf("WriteMergeBranch: %v", err)
	}
	entries, err := w.List(ctx, ReadOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Path != "a" {
		t.Fatalf("merged tree = %+v, want only a", entries)
	}
	if got := string(mustRead(t, w, "a", ReadOptions{}).Content); got != "resolved\n" {
		t.Fatalf("a = %q", got)
	}
}

func TestWriteMergeBranchResolvesByDeleting(t *testing.T) {
	w := newWorkspace(t, newOrigin(t), newClock())
	ctx := context.Background()
	mustWrite(t, w, "notes.md", "base\n", WriteOptions{})
	mustWrite(t, w, "keep.md", "keep\n", WriteOptions{})
	b, err := w.CreateBranch(ctx, CreateBranchOptions{})
	if err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if _, err := w.Delete(ctx, "notes.md", WriteOptions{Branch: b}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	mustWrite(t, w, "notes.md", "edited\n", WriteOptions{})

	res, err := w.MergeBranch(ctx, b, MergeOptions{})
	if err != nil || res.Success || len(res.Conflicts) != 1 || res.Conflicts[0].Theirs != nil {
		t.Fatalf("MergeBranch = %+v, %v, want one modify/delete conflict", res, err)
	}

	c, err := w.WriteMergeBranch(ctx, map[string][]byte{"notes.md": nil}, b,
		res.OrigHead.Commit, res.MergeHead.Commit, MergeOptions{})
	if err != nil {
		t.Fatalf("WriteMergeBranch: %v", err)
	}
	if len(c.Parents) != 2 {
		t.Fatalf("parents = %v", c.Parents)
	}
	doc, err := w.Read(ctx, "notes.md", ReadOptions{})
	if err != nil || doc != nil {
		t.Fatalf("Read(notes.md) = %+v, %v, want deleted", doc, err)
	}
	if got := string(mustRead(t, w, "keep.md", ReadOptions{}).Content); got != "keep\n" {
		t.Fatalf("keep.md = %q", got)
	}
}

func TestScopedMergeRefusesConflictsOutsideDirectory(t *testing.T) {
	origin := newOrigin(t)
	clk := newClock()
	ctx := context.Background()
	full := newWorkspace(t, origin, clk)
	mustWrite(t, full, "docs/a.md", "base\n", WriteOptions{})
	mustWrite(t, full, "private/key", "base\n", WriteOptions{})
	b, err := full.CreateBranch(ctx, CreateBranchOptions{})
	if err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	mustWrite(t, full, "docs/a.md", "ours\n", WriteOptions{})
	mustWrite(t, full, "private/key", "ours\n", WriteOptions{})
	mustWrite(t, full, "docs/a.md", "theirs\n", WriteOptions{Branch: b})
	theirs := mustWrite(t, full, "private/key", "theirs\n", WriteOptions{Branch: b})
	orig := localRef(t, full, "master")

	scoped := newWorkspace(t, origin, clk, func(c *Config) { c.Directory = "docs" })
	res, err := scoped.MergeBranch(ctx, b, MergeOptions{})
	if !errors.Is(err, ErrOutOfScope) || res != nil {
		t.Fatalf("scoped MergeBranch = %+v, %v, want ErrOutOfScope", res, err)
	}
	if strings.Contains(err.Error(), "private") {
		t.Fatalf("error names an out-of-scope path: %v", err)
	}
	files := map[string][]byte{"docs/a.md": []byte("resolved\n")}
	if _, err := scoped.WriteMergeBranch(ctx, files, b, orig, theirs.Commit, MergeOptions{}); !errors.Is(err, ErrOutOfScope) {
		t.Fatalf("scoped WriteMergeBranch err = %v, want ErrOutOfScope", err)
	}
	if got := originRef(t, origin, "master"); got != orig {
		t.Fatalf("origin master moved %s -> %s", orig, got)
	}

	res, err = full.MergeBranch(ctx, b, MergeOptions{})
	if err != nil || len(res.Conflicts) != 2 {
		t.Fatalf("unscoped MergeBranch = %+v, %v, want two conflicts", res, err)
	}
}

func TestScopedMergeResolvesConflictsInsideDirectory(t *testing.T) {
	origin := newOrigin(t)
	clk := newClock()
	ctx := context.Background()
	full := newWorkspace(t, origin, clk)
	mustWrite(t, full, "docs/a.md", "base\n", WriteOptions{})
	mustWrite(t, full, "private/key", "base\n", WriteOptions{})
	b, err := full.CreateBranch(ctx, CreateBranchOptions{})
	if err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	mustWrite(t, full, "docs/a.md", "ours\n", WriteOptions{})
	mustWrite(t, full, "docs/a.md", "theirs\n", WriteOptions{Branch: b})
	mustWrite(t, full, "private/key", "rotated\n", WriteOptions{Branch: b})

	scoped := newWorkspace(t, origin, clk, func(c *Config) { c.Directory = "docs" })
	res, err := scoped.MergeBranch(ctx, b, MergeOptions{})
	if err != nil || len(res.Conflicts) != 1 || res.Conflicts[0].Path != "docs/a.md" {
		t.Fatalf("scoped MergeBranch = %+v, %v", res, err)
	}
	files := map[string][]byte{"docs/a.md": []byte("resolved\n")}
	c, err := scoped.WriteMergeBranch(ctx, files, b, res.OrigHead.Commit, res.MergeHead.Commit, MergeOptions{})
	if err != nil {
		t.Fatalf("WriteMergeBranch: %v", err)
	}
	if got := originRef(t, origin, "master"); got != c.Commit {
		t.Fatalf("origin master = %s, want %s", got, c.Commit)
	}
	if got := string(mustRead(t, full, "private/key", ReadOptions{}).Content); got != "rotated\n" {
		t.Fatalf("private/key after scoped merge = %q, want the clean change from the branch", got)
	}
}
