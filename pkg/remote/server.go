package remote

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/odvcencio/docstore/pkg/object"
	"github.com/odvcencio/docstore/pkg/repo"
)

const (
	routePrefix = "docstore"

	maxPushBodyBytes  int64 = 64 << 20
	maxRefUpdateBytes int64 = 4 << 20
	maxBatchRequestB  int64 = 2 << 20
)

// serverCapabilities is what the Handler can speak.
var serverCapabilities = ParseCapabilities(ClientCapabilities)

// Authorizer decides whether r may read (or, with write, modify) a
// repository. A non-nil error is sent with the returned status.
type Authorizer func(r *http.Request, owner, repo string, write bool) (int, error)

// Handler serves a set of bare origins over HTTP.
type Handler struct {
	resolve   func(owner, repo string) (*Dir, error)
	authorize Authorizer
	logger    *slog.Logger
	mux       *http.ServeMux
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithAuthorizer guards every route with fn.
func WithAuthorizer(fn Authorizer) HandlerOption {
	return func(h *Handler) { h.authorize = fn }
}

// WithLogger sets the logger for failed requests.
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

// NewHandler returns a Handler that serves the origin resolve returns for
// each {owner}/{repo}.
func NewHandler(resolve func(owner, repo string) (*Dir, error), opts ...HandlerOption) *Handler {
	h := &Handler{resolve: resolve, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	h.mux = http.NewServeMux()
	h.RegisterRoutes(h.mux)
	return h
}

// RegisterRoutes sets up protocol routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	base := "/" + routePrefix + "/{owner}/{repo}"
	mux.HandleFunc("GET "+base+"/refs", h.handleListRefs)
	mux.HandleFunc("POST "+base+"/objects/batch", h.handleBatchObjects)
	mux.HandleFunc("GET "+base+"/objects/{hash}", h.handleGetObject)
	mux.HandleFunc("POST "+base+"/objects", h.handlePushObjects)
	mux.HandleFunc("POST "+base+"/refs", h.handleUpdateRefs)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleListRefs(w http.ResponseWriter, r *http.Request) {
	d, ok := h.open(w, r, false)
	if !ok {
		return
	}
	refs, err := d.ListRefs(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, refs)
}

func (h *Handler) handleGetObject(w http.ResponseWriter, r *http.Request) {
	d, ok := h.open(w, r, false)
	if !ok {
		return
	}
	obj, err := d.GetObject(r.Context(), object.Hash(r.PathValue("hash")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set(headerObjectType, string(obj.Type))
	_, _ = w.Write(obj.Data)
}

func (h *Handler) handleBatchObjects(w http.ResponseWriter, r *http.Request) {
	d, ok := h.open(w, r, false)
	if !ok {
		return
	}
	var req batchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchRequestB)).Decode(&req); err != nil {
		h.fail(w, r, fmt.Errorf("%w: invalid JSON: %w", errInvalidObject, err))
		return
	}
	wants := make([]object.Hash, 0, len(req.Wants))
	for _, s := range req.Wants {
		wants = append(wants, object.Hash(s))
	}
	haves := make([]object.Hash, 0, len(req.Haves))
	for _, s := range req.Haves {
		haves = append(haves, object.Hash(s))
	}

	records, truncated, err := d.BatchObjects(r.Context(), wants, haves, req.MaxObjects)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := batchResponse{Objects: make([]wireObject, 0, len(records)), Truncated: truncated}
	for _, rec := range records {
		resp.Objects = append(resp.Objects, wireObject{Hash: string(rec.Hash), Type: string(rec.Type), Data: rec.Data})
	}
	writeJSON(w, r, resp)
}

func (h *Handler) handlePushObjects(w http.ResponseWriter, r *http.Request) {
	d, ok := h.open(w, r, true)
	if !ok {
		return
	}

	var body io.Reader = http.MaxBytesReader(w, r.Body, maxPushBodyBytes)
	if isZstdEncoded(r.Header.Get("Content-Encoding")) {
		zr, err := newZstdReader(body)
		if err != nil {
			h.fail(w, r, fmt.Errorf("%w: %w", errInvalidObject, err))
			return
		}
		defer zr.Close()
		body = zr
	}

	dec := json.NewDecoder(body)
	var records []ObjectRecord
	for {
		var obj wireObject
		if err := dec.Decode(&obj); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			h.fail(w, r, fmt.Errorf("%w: decode object %d: %w", errInvalidObject, len(records), err))
			return
		}
		if len(records) >= maxPushObjectCount {
			h.fail(w, r, fmt.Errorf("%w: too many objects in push", errInvalidObject))
			return
		}
		records = append(records, ObjectRecord{
			Hash: object.Hash(strings.TrimSpace(obj.Hash)),
			Type: object.ObjectType(obj.Type),
			Data: obj.Data,
		})
	}

	if err := d.PushObjects(r.Context(), records); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, map[string]int{"received": len(records)})
}

func (h *Handler) handleUpdateRefs(w http.ResponseWriter, r *http.Request) {
	d, ok := h.open(w, r, true)
	if !ok {
		return
	}
	var req struct {
		Updates []refUpdatePayload `json:"updates"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRefUpdateBytes)).Decode(&req); err != nil {
		h.fail(w, r, fmt.Errorf("%w: invalid JSON: %w", errInvalidRef, err))
		return
	}

	updates := make([]RefUpdate, 0, len(req.Updates))
	for _, p := range req.Updates {
		u := RefUpdate{Name: strings.TrimSpace(p.Name)}
		if p.Old != nil {
			u.Old = hashPtr(object.Hash(strings.TrimSpace(*p.Old)))
		}
		if p.New != nil && strings.TrimSpace(*p.New) != "" {
			u.New = hashPtr(object.Hash(strings.TrimSpace(*p.New)))
		}
		updates = append(updates, u)
	}

	applied, err := d.UpdateRefs(r.Context(), updates)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make(map[string]string, len(applied))
	for name, hash := range applied {
		out[name] = string(hash)
	}
	h.logger.Info("refs updated", "owner", r.PathValue("owner"), "repo", r.PathValue("repo"), "refs", len(out))
	writeJSON(w, r, map[string]any{"status": "ok", "updated": out})
}

// open authorizes the request and resolves its repository.
func (h *Handler) open(w http.ResponseWriter, r *http.Request, write bool) (*Dir, bool) {
	owner := r.PathValue("owner")
	repoName := r.PathValue("repo")
	if h.authorize != nil {
		if status, err := h.authorize(r, owner, repoName, write); err != nil {
			if status == http.StatusUnauthorized {
				w.Header().Set("WWW-Authenticate", `Basic realm="docstore"`)
			}
			writeRemoteError(w, &RemoteError{Status: status, Code: "unauthorized", Message: err.Error()})
			return nil, false
		}
	}
	d, err := h.resolve(owner, repoName)
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	return d, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Warn("protocol request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeRemoteError(w, err)
}

// writeJSON encodes v, compressing with zstd when the client advertises it.
func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		writeRemoteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(headerCapabilities, serverCapabilities.String())
	if ParseCapabilities(r.Header.Get(headerCapabilities)).Intersect(serverCapabilities).Has(capZstd) {
		if compressed, err := compressZstd(data); err == nil {
			w.Header().Set("Content-Encoding", capZstd)
			data = compressed
		}
	}
	_, _ = w.Write(data)
}

// TokenAuthorizer accepts requests carrying creds: a matching bearer token,
// or matching basic-auth username and password. Zero credentials allow
// everything.
func TokenAuthorizer(creds Credentials) Authorizer {
	return func(r *http.Request, _, _ string, _ bool) (int, error) {
		if creds.IsZero() {
			return http.StatusOK, nil
		}
		if token := strings.TrimSpace(creds.Token); token != "" {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if ok && subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1 {
				return http.StatusOK, nil
			}
		}
		if creds.Username != "" {
			user, pass, ok := r.BasicAuth()
			if ok && subtle.ConstantTimeCompare([]byte(user), []byte(creds.Username)) == 1 &&
				subtle.ConstantTimeCompare([]byte(pass), []byte(creds.Password)) == 1 {
				return http.StatusOK, nil
			}
		}
		return http.StatusUnauthorized, errors.New("authentication required")
	}
}

// DirSet resolves {owner}/{repo} to bare origins under a root directory,
// keeping each open so concurrent ref updates share one Dir.
type DirSet struct {
	root          string
	defaultBranch string
	autoInit      bool

	mu   sync.Mutex
	dirs map[string]*Dir
}

// NewDirSet serves origins stored at root/<owner>/<repo>. With autoInit, an
// unknown repository is created on first use.
func NewDirSet(root, defaultBranch string, autoInit bool) *DirSet {
	return &DirSet{root: root, defaultBranch: defaultBranch, autoInit: autoInit, dirs: make(map[string]*Dir)}
}

// Resolve returns the origin for owner/repo.
func (s *DirSet) Resolve(owner, repoName string) (*Dir, error) {
	for _, seg := range []string{owner, repoName} {
		if seg == "" || seg == "." || seg == ".." || strings.ContainsAny(seg, `/\`) {
			return nil, fmt.Errorf("repository %q/%q: %w", owner, repoName, errNotFound)
		}
	}
	key := owner + "/" + repoName

	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.dirs[key]; ok {
		return d, nil
	}
	path := filepath.Join(s.root, owner, repoName)
	var (
		d   *Dir
		err error
	)
	if !repo.Exists(path) && s.autoInit {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("create origin %s: %w", key, err)
		}
		d, err = InitDir(path, s.defaultBranch)
	} else {
		d, err = OpenDir(path)
	}
	if err != nil {
		return nil, err
	}
	s.dirs[key] = d
	return d, nil
}
