// Package web provides HTTP handlers for archive exchange and documents.
// This file contains shared utilities and helper functions used across handlers.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/JonMunkholm/recordkeeper/internal/document"
	"github.com/JonMunkholm/recordkeeper/internal/errmsg"
)

// maxJSONBody caps document request bodies (1MB).
const maxJSONBody = 1 << 20

// parseIntParam parses a positive integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched
// when optional is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: invalid JSON body: %v", errmsg.ErrBadRequest, err)
	}
	return nil
}

// expectedVersion reads the caller's expected version from If-Match, then
// from fallback (a body field or query parameter).
func expectedVersion(r *http.Request, fallback *int) (int, error) {
	if tag := strings.TrimSpace(r.Header.Get("If-Match")); tag != "" {
		tag = strings.TrimPrefix(tag, "W/")
		v, err := strconv.Atoi(strings.Trim(tag, `"`))
		if err != nil {
			return 0, fmt.Errorf("%w: If-Match must be a document version, got %s", errmsg.ErrBadRequest, tag)
		}
		return v, nil
	}
	if fallback != nil {
		return *fallback, nil
	}
	return 0, fmt.Errorf("%w: expected version is required (If-Match header or expected_version)", errmsg.ErrBadRequest)
}

// queryVersion parses ?expected_version= for bodiless requests.
func queryVersion(r *http.Request) (*int, error) {
	raw := r.URL.Query().Get("expected_version")
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: expected_version must be an integer", errmsg.ErrBadRequest)
	}
	return &v, nil
}

func etag(version int) string {
	return `"` + strconv.Itoa(version) + `"`
}

// writeDocument writes doc with its version as the ETag.
func writeDocument(w http.ResponseWriter, status int, doc *document.Document) {
	w.Header().Set("ETag", etag(doc.Version))
	writeJSON(w, status, doc)
}
