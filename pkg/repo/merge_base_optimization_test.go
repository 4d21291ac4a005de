package repo

import (
	"testing"
	"time"

	"github.com/odvcencio/docstore/pkg/object"
)

// divergedHistory builds A <- B on one side and A <- C on the other.
func divergedHistory(t *testing.T, r *Repo) (a, b, c object.Hash) {
	t.Helper()
	a = commitFiles(t, r, nil, map[string]string{"README": "a\n"}, "A", 0)
	b = commitFiles(t, r, []object.Hash{a}, map[string]string{"README": "a\n", "main.md": "b\n"}, "main adds B", 10)
	c = commitFiles(t, r, []object.Hash{a}, map[string]string{"README": "a\n", "feature.md": "c\n"}, "feature adds C", 20)
	return a, b, c
}

func TestMergeBaseGenerationNumbersFollowAncestry(t *testing.T) {
	r := newTestRepo(t)
	commitA, commitB, commitC := divergedHistory(t, r)
	commitM := commitFiles(t, r, []object.Hash{commitB, commitC}, map[string]string{
		"README": "a\n", "main.md": "b\n", "feature.md": "c\n",
	}, "merge", 30)

	state := r.getMergeTraversalState()

	genA, err := state.generation(r.Store, commitA)
	if err != nil {
		t.Fatalf("generation(A): %v", err)
	}
	genB, err := state.generation(r.Store, commitB)
	if err != nil {
		t.Fatalf("generation(B): %v", err)
	}
	genC, err := state.generation(r.Store, commitC)
	if err != nil {
		t.Fatalf("generation(C): %v", err)
	}
	genM, err := state.generation(r.Store, commitM)
	if err != nil {
		t.Fatalf("generation(M): %v", err)
	}

	if genA == 0 {
		t.Fatalf("generation(A) should be >= 1, got 0")
	}
	if genB <= genA {
		t.Fatalf("generation(B) = %d, want > generation(A) = %d", genB, genA)
	}
	if genC <= genA {
		t.Fatalf("generation(C) = %d, want > generation(A) = %d", genC, genA)
	}
	if genM <= genB || genM <= genC {
		t.Fatalf("generation(M) = %d, want > max(generation(B)=%d, generation(C)=%d)", genM, genB, genC)
	}

	if state.generationCacheSize() < 4 {
		t.Fatalf("expected generation cache to contain at least 4 commits, got %d", state.generationCacheSize())
	}
}

func TestFindMergeBase_UsesCanonicalPairCache(t *testing.T) {
	r := newTestRepo(t)
	commitA, mainTip, featureTip := divergedHistory(t, r)

	state := r.getMergeTraversalState()
	if got := state.mergeBaseCacheSize(); got != 0 {
		t.Fatalf("merge-base cache size before query = %d, want 0", got)
	}

	base1, err := r.FindMergeBase(mainTip, featureTip)
	if err != nil {
		t.Fatalf("FindMergeBase(main, feature): %v", err)
	}
	if base1 != commitA {
		t.Fatalf("FindMergeBase(main, feature) = %q, want %q", base1, commitA)
	}
	if got := state.mergeBaseCacheSize(); got != 1 {
		t.Fatalf("merge-base cache size after first query = %d, want 1", got)
	}

	base2, err := r.FindMergeBase(featureTip, mainTip)
	if err != nil {
		t.Fatalf("FindMergeBase(feature, main): %v", err)
	}
	if base2 != base1 {
		t.Fatalf("symmetric query returned %q, want %q", base2, base1)
	}
	if got := state.mergeBaseCacheSize(); got != 1 {
		t.Fatalf("merge-base cache size after symmetric query = %d, want 1", got)
	}
}

func TestFindMergeBase_CachesNoCommonAncestor(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir, Config{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	treeHash, err := r.Store.WriteTree(&object.TreeObj{})
	if err != nil {
		t.Fatalf("WriteTree: %v", err)
	}

	commitA, err := r.Store.WriteCommit(&object.CommitObj{
		TreeHash:  treeHash,
		Author:    "test-author",
		Timestamp: time.Now().Unix(),
		Message:   "orphan A",
	})
	if err != nil {
		t.Fatalf("WriteCommit(orphan A): %v", err)
	}
	commitB, err := r.Store.WriteCommit(&object.CommitObj{
		TreeHash:  treeHash,
		Author:    "test-author",
		Timestamp: time.Now().Unix(),
		Message:   "orphan B",
	})
	if err != nil {
		t.Fatalf("WriteCommit(orphan B): %v", err)
	}

	state := r.getMergeTraversalState()

	base1, err := r.FindMergeBase(commitA, commitB)
	if err != nil {
		t.Fatalf("FindMergeBase(orphanA, orphanB): %v", err)
	}
	if base1 != "" {
		t.Fatalf("FindMergeBase(orphanA, orphanB) = %q, want empty", base1)
	}
	if got := state.mergeBaseCacheSize(); got != 1 {
		t.Fatalf("merge-base cache size after first no-base query = %d, want 1", got)
	}

	base2, err := r.FindMergeBase(commitB, commitA)
	if err != nil {
		t.Fatalf("FindMergeBase(orphanB, orphanA): %v", err)
	}
	if base2 != "" {
		t.Fatalf("FindMergeBase(orphanB, orphanA) = %q, want empty", base2)
	}
	if got := state.mergeBaseCacheSize(); got != 1 {
		t.Fatalf("merge-base cache size after symmetric no-base query = %d, want 1", got)
	}

	cached, ok := state.loadMergeBase(commitA, commitB)
	if !ok {
		t.Fatalf("expected no-base result to be cached")
	}
	if cached.found {
		t.Fatalf("cached no-base entry incorrectly marked found=true")
	}
}

func TestFindMergeBase_MergeParentFastPath(t *testing.T) {
	r := newTestRepo(t)
	_, mainTip, featureTip := divergedHistory(t, r)
	merge := commitFiles(t, r, []object.Hash{mainTip, featureTip}, map[string]string{
		"README": "a\n", "main.md": "b\n", "feature.md": "c\n",
	}, "merge", 30)

	base, err := r.FindMergeBase(merge, featureTip)
	if err != nil {
		t.Fatalf("FindMergeBase(merge, featureTip): %v", err)
	}
	if base != featureTip {
		t.Fatalf("FindMergeBase(merge, featureTip) = %q, want %q", base, featureTip)
	}
}

func TestIsAncestor(t *testing.T) {
	r := newTestRepo(t)
	a, b, c := divergedHistory(t, r)

	cases := []struct {
		ancestor, descendant object.Hash
		want                 bool
	}{
		{a, b, true},
		{a, c, true},
		{b, b, true},
		{b, a, false},
		{b, c, false},
	}
	for _, tc := range cases {
		got, err := r.IsAncestor(tc.ancestor, tc.descendant)
		if err != nil {
			t.Fatalf("IsAncestor(%s, %s): %v", tc.ancestor.Short(), tc.descendant.Short(), err)
		}
		if got != tc.want {
			t.Fatalf("IsAncestor(%s, %s) = %v, want %v", tc.ancestor.Short(), tc.descendant.Short(), got, tc.want)
		}
	}
}
