package remote

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseCapabilities(t *testing.T) {
	caps := ParseCapabilities(" zstd , ndjson,")
	if !caps.Has("zstd") || !caps.Has("ndjson") {
		t.Fatalf("caps = %q", caps)
	}
	if caps.Has("") || caps.Has("pack") {
		t.Fatal("unexpected capability")
	}
}

func TestCapabilitiesIntersect(t *testing.T) {
	common := ParseCapabilities("zstd,ndjson").Intersect(ParseCapabilities("zstd"))
	if !common.Has("zstd") || common.Has("ndjson") {
		t.Fatalf("intersection = %q", common)
	}
}

func TestCapabilitiesString(t *testing.T) {
	if s := ParseCapabilities("zstd,b,a").String(); s != "a,b,zstd" {
		t.Fatalf("String() = %q", s)
	}
}

func TestRemoteErrorFormat(t *testing.T) {
	re := &RemoteError{Code: "not_found", Message: "ref not found", Detail: "heads/main"}
	if re.Error() != "ref not found (not_found): heads/main" {
		t.Fatalf("Error() = %q", re.Error())
	}
}

func TestRemoteErrorStaleRefIsRejected(t *testing.T) {
	err := fmt.Errorf("push: %w", &RemoteError{Code: CodeStaleRef, Message: "stale"})
	if !errors.Is(err, ErrRejected) {
		t.Fatal("stale_ref should match ErrRejected")
	}
	if errors.Is(&RemoteError{Code: CodeInvalidObject}, ErrRejected) {
		t.Fatal("invalid_object should not match ErrRejected")
	}
}

func TestWriteRemoteErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("heads/x: %w", ErrRejected), http.StatusConflict, CodeStaleRef},
		{fmt.Errorf("object 0: %w", errInvalidObject), http.StatusBadRequest, CodeInvalidObject},
		{fmt.Errorf("repo: %w", errNotFound), http.StatusNotFound, CodeNotFound},
		{errors.New("disk full"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range tests {
		rec := httptest.NewRecorder()
		writeRemoteError(rec, tc.err)
		if rec.Code != tc.status {
			t.Fatalf("%v: status = %d, want %d", tc.err, rec.Code, tc.status)
		}
		re := tryParseRemoteError(rec.Code, rec.Body.Bytes())
		if re == nil || re.Code != tc.code || re.Status != tc.status {
			t.Fatalf("%v: parsed = %+v", tc.err, re)
		}
	}
}
