package blob

import (
	"fmt"
	"net/url"
	"strings"
)

// Resolver derives public view and download locators from blob references.
// Derivation is pure string work; it never touches the backend, so a
// resolved locator can point at content that no longer exists.
type Resolver struct {
	baseURL string
}

// NewResolver creates a Resolver for the given public base URL.
func NewResolver(baseURL string) (*Resolver, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base URL %q must be absolute", baseURL)
	}
	return &Resolver{baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// ViewURL returns the inline-view locator for a blob reference.
func (r *Resolver) ViewURL(ref string) string {
	return r.baseURL + "/api/v1/blobs/" + escapeRef(ref) + "/view"
}

// DownloadURL returns the attachment-download locator for a blob reference.
func (r *Resolver) DownloadURL(ref string) string {
	return r.baseURL + "/api/v1/blobs/" + escapeRef(ref) + "/download"
}

// escapeRef escapes each path segment of a reference, keeping the slashes
// that separate owner prefix from object ID.
func escapeRef(ref string) string {
	parts := strings.Split(ref, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
