package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

const (
	// ProtocolVersion is the current wire protocol version.
	ProtocolVersion = "1"

	// ClientCapabilities lists all capabilities this client supports.
	ClientCapabilities = "zstd"

	headerProtocol     = "Docstore-Protocol"
	headerCapabilities = "Docstore-Capabilities"
	headerObjectType   = "X-Object-Type"

	capZstd = "zstd"

	// CodeStaleRef is the error code a server sends when a ref update's
	// expected old hash no longer matches.
	CodeStaleRef = "stale_ref"
	// CodeInvalidObject marks a push whose objects failed validation.
	CodeInvalidObject = "invalid_object"
	// CodeInvalidRef marks a malformed ref update or one whose target is not
	// a stored commit.
	CodeInvalidRef = "invalid_ref"
	// CodeNotFound marks an unknown repository, ref or object.
	CodeNotFound = "not_found"
)

// Capabilities represents a set of protocol capabilities.
type Capabilities struct {
	set map[string]struct{}
}

// ParseCapabilities parses a comma-separated capability string.
func ParseCapabilities(raw string) Capabilities {
	caps := Capabilities{set: make(map[string]struct{})}
	for _, c := range strings.Split(raw, ",") {
		c = strings.TrimSpace(c)
		if c != "" {
			caps.set[c] = struct{}{}
		}
	}
	return caps
}

// Has returns true if the capability is present.
func (c Capabilities) Has(name string) bool {
	_, ok := c.set[name]
	return ok
}

// Intersect returns capabilities present in both sets.
func (c Capabilities) Intersect(other Capabilities) Capabilities {
	result := Capabilities{set: make(map[string]struct{})}
	for k := range c.set {
		if _, ok := other.set[k]; ok {
			result.set[k] = struct{}{}
		}
	}
	return result
}

// String returns a sorted comma-separated capability string.
func (c Capabilities) String() string {
	names := make([]string, 0, len(c.set))
	for k := range c.set {
		names = append(names, k)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// RemoteError is a structured error from the remote server.
type RemoteError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
	Detail  string `json:"detail,omitempty"`
}

func (e *RemoteError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (%s): %s", e.Message, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// Is lets a stale_ref response match ErrRejected.
func (e *RemoteError) Is(target error) bool {
	return target == ErrRejected && e.Code == CodeStaleRef
}

// tryParseRemoteError attempts to parse a JSON error response body.
func tryParseRemoteError(status int, body []byte) *RemoteError {
	var re RemoteError
	if err := json.Unmarshal(body, &re); err != nil {
		return nil
	}
	if re.Message == "" && re.Code == "" {
		return nil
	}
	re.Status = status
	return &re
}

// writeRemoteError renders err as a RemoteError body, choosing the status
// from the error's kind.
func writeRemoteError(w http.ResponseWriter, err error) {
	re := &RemoteError{Status: http.StatusInternalServerError, Code: "internal", Message: err.Error()}
	var typed *RemoteError
	switch {
	case errors.As(err, &typed):
		re = typed
	case errors.Is(err, ErrRejected):
		re = &RemoteError{Status: http.StatusConflict, Code: CodeStaleRef, Message: err.Error()}
	case errors.Is(err, errInvalidObject):
		re = &RemoteError{Status: http.StatusBadRequest, Code: CodeInvalidObject, Message: err.Error()}
	case errors.Is(err, errInvalidRef):
		re = &RemoteError{Status: http.StatusBadRequest, Code: CodeInvalidRef, Message: err.Error()}
	case errors.Is(err, errNotFound):
		re = &RemoteError{Status: http.StatusNotFound, Code: CodeNotFound, Message: err.Error()}
	}
	if re.Status == 0 {
		re.Status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(re.Status)
	_ = json.NewEncoder(w).Encode(re)
}
