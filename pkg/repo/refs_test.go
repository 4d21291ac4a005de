package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/odvcencio/docstore/pkg/object"
)

func TestUpdateRefCAS_ConcurrentSingleWinner(t *testing.T) {
	r := newTestRepo(t)

	base := object.Hash(strings.Repeat("a", 64))
	if err := r.UpdateRef("refs/heads/master", base, "test"); err != nil {
		t.Fatalf("UpdateRef(base): %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	wg.Add(workers)

	successCh := make(chan object.Hash, workers)
	errCh := make(chan error, workers)

	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			next := object.Hash(fmt.Sprintf("%064x", i+1))
			if err := r.UpdateRefCAS("refs/heads/master", next, base); err != nil {
				errCh <- err
				return
			}
			successCh <- next
		}()
	}

	wg.Wait()
	close(successCh)
	close(errCh)

	var winner object.Hash
	successes := 0
	for h := range successCh {
		successes++
		winner = h
	}
	if successes != 1 {
		t.Fatalf("successful CAS updates = %d, want 1", successes)
	}

	casMismatches := 0
	for err := range errCh {
		if errors.Is(err, ErrRefCASMismatch) {
			casMismatches++
			continue
		}
		t.Fatalf("unexpected error type: %v", err)
	}
	if casMismatches != workers-1 {
		t.Fatalf("CAS mismatches = %d, want %d", casMismatches, workers-1)
	}

	got, err := r.ResolveRef("refs/heads/master")
	if err != nil {
		t.Fatalf("ResolveRef(master): %v", err)
	}
	if got != winner {
		t.Fatalf("refs/heads/master = %s, want winner %s", got, winner)
	}
}

func TestUpdateRefCAS_CleansLockOnMismatch(t *testing.T) {
	r := newTestRepo(t)

	current := object.Hash(strings.Repeat("b", 64))
	if err := r.UpdateRef("refs/heads/master", current, "test"); err != nil {
		t.Fatalf("UpdateRef(current): %v", err)
	}

	err := r.UpdateRefCAS("refs/heads/master", object.Hash(strings.Repeat("c", 64)), object.Hash(strings.Repeat("d", 64)))
	if !errors.Is(err, ErrRefCASMismatch) {
		t.Fatalf("expected CAS mismatch, got: %v", err)
	}

	lockPath := filepath.Join(r.Dir, "refs", "heads", "master.lock")
	if _, statErr := os.Stat(lockPath); !os.IsNotExist(statErr) {
		t.Fatalf("expected no lingering lockfile at %q, stat err=%v", lockPath, statErr)
	}
}

func TestUpdateRefCAS_EmptyExpectedRequiresAbsent(t *testing.T) {
	r := newTestRepo(t)
	h := object.Hash(strings.Repeat("e", 64))

	if err := r.UpdateRefCAS("refs/remotes/origin/master", h, ""); err != nil {
		t.Fatalf("create via CAS: %v", err)
	}
	err := r.UpdateRefCAS("refs/remotes/origin/master", object.Hash(strings.Repeat("f", 64)), "")
	if !errors.Is(err, ErrRefCASMismatch) {
		t.Fatalf("second create error = %v, want ErrRefCASMismatch", err)
	}
}

func TestDeleteRef(t *testing.T) {
	r := newTestRepo(t)
	h := object.Hash(strings.Repeat("1", 64))
	if err := r.UpdateRef("refs/heads/topic", h, "test"); err != nil {
		t.Fatalf("UpdateRef: %v", err)
	}

	err := r.DeleteRef("refs/heads/topic", object.Hash(strings.Repeat("2", 64)))
	if !errors.Is(err, ErrRefCASMismatch) {
		t.Fatalf("DeleteRef with wrong expected = %v, want ErrRefCASMismatch", err)
	}
	if err := r.DeleteRef("refs/heads/topic", h); err != nil {
		t.Fatalf("DeleteRef: %v", err)
	}
	if err := r.DeleteRef("refs/heads/topic"); !errors.Is(err, ErrRefNotFound) {
		t.Fatalf("DeleteRef(missing) = %v, want ErrRefNotFound", err)
	}
}

func TestValidateRefName(t *testing.T) {
	valid := []string{"refs/heads/master", "refs/heads/feature/x", "refs/remotes/origin/a-b_c"}
	for _, name := range valid {
		if err := ValidateRefName(name); err != nil {
			t.Errorf("ValidateRefName(%q) = %v, want nil", name, err)
		}
	}
	invalid := []string{"heads/master", "refs/heads/", "refs/heads/../x", "refs/heads/a.lock", "refs/heads/a b", "refs//heads"}
	for _, name := range invalid {
		if err := ValidateRefName(name); !errors.Is(err, ErrInvalidRefName) {
			t.Errorf("ValidateRefName(%q) = %v, want ErrInvalidRefName", name, err)
		}
	}
}

func TestListRefsAndTrackingBranches(t *testing.T) {
	r := newTestRepo(t)
	a := object.Hash(strings.Repeat("a", 64))
	b := object.Hash(strings.Repeat("b", 64))
	for name, h := range map[string]object.Hash{
		BranchRef("master"):      a,
		BranchRef("feature/one"): b,
		TrackingRef("master"):    a,
	} {
		if err := r.UpdateRef(name, h, "test"); err != nil {
			t.Fatalf("UpdateRef(%s): %v", name, err)
		}
	}

	heads, err := r.ListRefs("heads")
	if err != nil {
		t.Fatalf("ListRefs: %v", err)
	}
	if len(heads) != 2 || heads["heads/master"] != a || heads["heads/feature/one"] != b {
		t.Fatalf("ListRefs(heads) = %v", heads)
	}

	tracking, err := r.TrackingBranches()
	if err != nil {
		t.Fatalf("TrackingBranches: %v", err)
	}
	if len(tracking) != 1 || tracking["master"] != a {
		t.Fatalf("TrackingBranches = %v", tracking)
	}

	missing, err := r.LookupRef(BranchRef("nope"))
	if err != nil {
		t.Fatalf("LookupRef(missing): %v", err)
	}
	if missing != "" {
		t.Fatalf("LookupRef(missing) = %q, want empty", missing)
	}
}
