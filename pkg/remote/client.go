package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/odvcencio/docstore/pkg/object"
)

// Endpoint identifies a repository on an HTTP origin.
// BaseURL is normalized to ".../docstore/{owner}/{repo}" with no trailing slash.
type Endpoint struct {
	Raw     string
	BaseURL string
	Owner   string
	Repo    string
	user    string
	pass    string
}

// ParseEndpoint parses a remote URL into a canonical endpoint.
//
// Supported inputs include:
// - https://host/docstore/owner/repo
// - https://host/owner/repo (expanded to /docstore/owner/repo)
// - https://host/api/v1/docstore/owner/repo
func ParseEndpoint(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Endpoint{}, fmt.Errorf("remote URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse remote URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Endpoint{}, fmt.Errorf("remote URL must include scheme and host")
	}

	segments := splitPathSegments(u.Path)
	if len(segments) < 2 {
		return Endpoint{}, fmt.Errorf("remote URL must include owner and repository")
	}

	markerIdx := -1
	for i := 0; i+2 < len(segments); i++ {
		if segments[i] == routePrefix {
			markerIdx = i
		}
	}

	var owner, repo string
	var baseSegments []string
	if markerIdx >= 0 {
		owner = segments[markerIdx+1]
		repo = segments[markerIdx+2]
		baseSegments = append(baseSegments, segments[:markerIdx+3]...)
	} else {
		owner = segments[len(segments)-2]
		repo = segments[len(segments)-1]
		baseSegments = append(baseSegments, segments[:len(segments)-2]...)
		baseSegments = append(baseSegments, routePrefix, owner, repo)
	}

	endpointURL := *u
	endpointURL.Path = "/" + strings.Join(baseSegments, "/")
	endpointURL.RawPath = ""
	endpointURL.RawQuery = ""
	endpointURL.Fragment = ""
	user := ""
	pass := ""
	if endpointURL.User != nil {
		user = endpointURL.User.Username()
		pass, _ = endpointURL.User.Password()
	}
	endpointURL.User = nil

	return Endpoint{
		Raw:     raw,
		BaseURL: strings.TrimRight(endpointURL.String(), "/"),
		Owner:   owner,
		Repo:    repo,
		user:    user,
		pass:    pass,
	}, nil
}

func splitPathSegments(p string) []string {
	p = strings.TrimPrefix(path.Clean(p), "/")
	if p == "" || p == "." {
		return nil
	}
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" && part != "." {
			out = append(out, part)
		}
	}
	return out
}

// ClientOptions configures the remote protocol client.
type ClientOptions struct {
	Timeout     time.Duration // HTTP client timeout (default 60s)
	Credentials Credentials
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// Response limits per endpoint type.
const (
	responseLimitDefault = 2 << 20  // 2MB
	responseLimitRefs    = 8 << 20  // 8MB
	responseLimitBatch   = 64 << 20 // 64MB
	responseLimitObject  = 32 << 20 // 32MB
)

// Client talks to an HTTP origin. Failed requests are not retried.
type Client struct {
	endpoint   Endpoint
	httpClient *http.Client
	token      string
	user       string
	pass       string
}

var _ Transport = (*Client)(nil)

// NewClient creates a remote protocol client with default options.
func NewClient(remoteURL string) (*Client, error) {
	return NewClientWithOptions(remoteURL, ClientOptions{})
}

// NewClientWithOptions creates a remote protocol client.
//
// Auth resolution order:
// 1) Credentials.Token (Bearer)
// 2) Credentials.Username + Credentials.Password (Basic)
// 3) URL userinfo (Basic)
func NewClientWithOptions(remoteURL string, opts ClientOptions) (*Client, error) {
	endpoint, err := ParseEndpoint(remoteURL)
	if err != nil {
		return nil, err
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	token := strings.TrimSpace(opts.Credentials.Token)
	user := strings.TrimSpace(opts.Credentials.Username)
	pass := opts.Credentials.Password
	if token == "" && user == "" && endpoint.user != "" {
		user = endpoint.user
		pass = endpoint.pass
	}

	return &Client{
		endpoint:   endpoint,
		httpClient: httpClient,
		token:      token,
		user:       user,
		pass:       pass,
	}, nil
}

// Endpoint returns the parsed endpoint metadata.
func (c *Client) Endpoint() Endpoint {
	return c.endpoint
}

// ListRefs returns all remote refs (e.g. heads/master).
func (c *Client) ListRefs(ctx context.Context) (map[string]object.Hash, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint.BaseURL+"/refs", nil)
	if err != nil {
		return nil, err
	}
	body, err := c.doWithLimit(req, responseLimitRefs, "application/json")
	if err != nil {
		return nil, err
	}
	var raw map[string]string
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode refs response: %w", err)
	}
	refs := make(map[string]object.Hash, len(raw))
	for name, hash := range raw {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		h := object.Hash(strings.TrimSpace(hash))
		if err := object.ValidateHash(h); err != nil {
			return nil, fmt.Errorf("invalid hash for ref %q: %w", name, err)
		}
		refs[name] = h
	}
	return refs, nil
}

type batchRequest struct {
	Wants      []string `json:"wants"`
	Haves      []string `json:"haves,omitempty"`
	MaxObjects int      `json:"max_objects,omitempty"`
}

type wireObject struct {
	Hash string `json:"hash"`
	Type string `json:"type"`
	Data []byte `json:"data"`
}

type batchResponse struct {
	Objects   []wireObject `json:"objects"`
	Truncated bool         `json:"truncated"`
}

// BatchObjects fetches missing objects reachable from wants and not in haves.
func (c *Client) BatchObjects(ctx context.Context, wants, haves []object.Hash, maxObjects int) ([]ObjectRecord, bool, error) {
	reqBody := batchRequest{MaxObjects: maxObjects}
	for _, h := range object.UniqueHashes(wants) {
		reqBody.Wants = append(reqBody.Wants, string(h))
	}
	for _, h := range object.UniqueHashes(haves) {
		reqBody.Haves = append(reqBody.Haves, string(h))
	}
	if len(reqBody.Wants) == 0 {
		return nil, false, fmt.Errorf("at least one want hash is required")
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.BaseURL+"/objects/batch", bytes.NewReader(payload))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.doWithLimit(req, responseLimitBatch, "application/json")
	if err != nil {
		return nil, false, err
	}

	var resp batchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, false, fmt.Errorf("decode batch response: %w", err)
	}

	out := make([]ObjectRecord, 0, len(resp.Objects))
	for _, obj := range resp.Objects {
		objType, err := object.ParseObjectType(obj.Type)
		if err != nil {
			return nil, false, err
		}
		h := object.Hash(strings.TrimSpace(obj.Hash))
		if err := object.ValidateHash(h); err != nil {
			return nil, false, fmt.Errorf("invalid hash in batch response: %w", err)
		}
		out = append(out, ObjectRecord{Hash: h, Type: objType, Data: obj.Data})
	}
	return out, resp.Truncated, nil
}

// GetObject fetches one object by hash.
func (c *Client) GetObject(ctx context.Context, hash object.Hash) (ObjectRecord, error) {
	if err := object.ValidateHash(hash); err != nil {
		return ObjectRecord{}, fmt.Errorf("get object: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint.BaseURL+"/objects/"+string(hash), nil)
	if err != nil {
		return ObjectRecord{}, err
	}
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ObjectRecord{}, err
	}
	defer resp.Body.Close()

	body, err := readBody(resp, responseLimitObject)
	if err != nil {
		return ObjectRecord{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return ObjectRecord{}, responseError(req, resp.StatusCode, body)
	}

	objType, err := object.ParseObjectType(resp.Header.Get(headerObjectType))
	if err != nil {
		return ObjectRecord{}, fmt.Errorf("decode object %s: %w", hash, err)
	}
	return ObjectRecord{Hash: hash, Type: objType, Data: body}, nil
}

// PushObjects uploads objects as zstd-compressed newline-delimited JSON.
func (c *Client) PushObjects(ctx context.Context, objects []ObjectRecord) error {
	if len(objects) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, obj := range objects {
		if _, err := object.ParseObjectType(string(obj.Type)); err != nil {
			return fmt.Errorf("push object %d: %w", i, err)
		}
		computedHash := object.HashObject(obj.Type, obj.Data)
		if provided := object.Hash(strings.TrimSpace(string(obj.Hash))); provided != "" && provided != computedHash {
			return fmt.Errorf("push object %d: hash mismatch (provided %s, computed %s)", i, provided, computedHash)
		}
		if err := enc.Encode(wireObject{Hash: string(computedHash), Type: string(obj.Type), Data: obj.Data}); err != nil {
			return fmt.Errorf("push object %d: encode: %w", i, err)
		}
	}

	compressed, err := compressZstd(buf.Bytes())
	if err != nil {
		return fmt.Errorf("compress push: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.BaseURL+"/objects", bytes.NewReader(compressed))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	req.Header.Set("Content-Encoding", capZstd)

	_, err = c.doWithLimit(req, responseLimitDefault, "application/json")
	return err
}

type refUpdatePayload struct {
	Name string  `json:"name"`
	Old  *string `json:"old,omitempty"`
	New  *string `json:"new,omitempty"`
}

// UpdateRefs applies atomic CAS updates on the remote refs. A stale
// expectation fails with a RemoteError matching ErrRejected.
func (c *Client) UpdateRefs(ctx context.Context, updates []RefUpdate) (map[string]object.Hash, error) {
	if len(updates) == 0 {
		return nil, fmt.Errorf("at least one ref update is required")
	}

	payload := struct {
		Updates []refUpdatePayload `json:"updates"`
	}{
		Updates: make([]refUpdatePayload, 0, len(updates)),
	}
	for _, u := range updates {
		name := strings.TrimSpace(u.Name)
		if name == "" {
			return nil, fmt.Errorf("ref update name is required")
		}
		p := refUpdatePayload{Name: name}
		if u.Old != nil {
			v := string(*u.Old)
			p.Old = &v
		}
		if u.New != nil {
			v := string(*u.New)
			p.New = &v
		}
		payload.Updates = append(payload.Updates, p)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.BaseURL+"/refs", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.doWithLimit(req, responseLimitDefault, "application/json")
	if err != nil {
		return nil, err
	}
	var resp struct {
		Updated map[string]string `json:"updated"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode ref update response: %w", err)
	}

	out := make(map[string]object.Hash, len(resp.Updated))
	for name, hash := range resp.Updated {
		out[name] = object.Hash(strings.TrimSpace(hash))
	}
	return out, nil
}

func (c *Client) doWithLimit(req *http.Request, maxBytes int64, expectedContentType string) ([]byte, error) {
	c.applyAuth(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readBody(resp, maxBytes)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, responseError(req, resp.StatusCode, body)
	}

	if expectedContentType != "" {
		ct := resp.Header.Get("Content-Type")
		if ct != "" && !strings.HasPrefix(ct, expectedContentType) {
			return nil, fmt.Errorf("unexpected content type %q (expected %s) from %s %s (status %d)",
				ct, expectedContentType, req.Method, req.URL.Path, resp.StatusCode)
		}
	}
	return body, nil
}

// readBody reads at most maxBytes of the response, undoing zstd encoding.
func readBody(resp *http.Response, maxBytes int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return nil, err
	}
	if isZstdEncoded(resp.Header.Get("Content-Encoding")) {
		body, err = decompressZstd(body)
		if err != nil {
			return nil, fmt.Errorf("decompress response: %w", err)
		}
	}
	return body, nil
}

func responseError(req *http.Request, status int, body []byte) error {
	if re := tryParseRemoteError(status, body); re != nil {
		return re
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return fmt.Errorf("remote request failed (%s %s): %d %s", req.Method, req.URL.Path, status, msg)
}

func (c *Client) applyAuth(req *http.Request) {
	req.Header.Set(headerProtocol, ProtocolVersion)
	req.Header.Set(headerCapabilities, ClientCapabilities)

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
		return
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}
}
