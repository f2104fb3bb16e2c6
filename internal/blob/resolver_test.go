package blob

import (
	"strings"
	"testing"
)

func TestNewResolverValidation(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{"valid http", "http://localhost:8080", false},
		{"valid https", "https://drive.example.com", false},
		{"trailing slash", "https://drive.example.com/", false},
		{"missing scheme", "drive.example.com", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewResolver(tt.baseURL)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewResolver(%q) error = %v, wantErr %v", tt.baseURL, err, tt.wantErr)
			}
		})
	}
}

func TestResolverURLs(t *testing.T) {
	r, err := NewResolver("https://drive.example.com/")
	if err != nil {
		t.Fatal(err)
	}

	ref := "user-1/9f3a2b1c"

	view := r.ViewURL(ref)
	want := "https://drive.example.com/api/v1/blobs/user-1/9f3a2b1c/view"
	if view != want {
		t.Errorf("ViewURL = %q, want %q", view, want)
	}

	download := r.DownloadURL(ref)
	want = "https://drive.example.com/api/v1/blobs/user-1/9f3a2b1c/download"
	if download != want {
		t.Errorf("DownloadURL = %q, want %q", download, want)
	}
}

func TestResolverEscapesRefSegments(t *testing.T) {
	r, err := NewResolver("http://localhost:8080")
	if err != nil {
		t.Fatal(err)
	}

	u := r.ViewURL("user 1/obj#7")
	if strings.Contains(u, " ") || strings.Contains(u, "#") {
		t.Errorf("expected escaped locator, got %q", u)
	}
	if !strings.Contains(u, "user%201/obj%237") {
		t.Errorf("unexpected escaping in %q", u)
	}
}

func TestResolverIsPureDerivation(t *testing.T) {
	r, err := NewResolver("http://localhost:8080")
	if err != nil {
		t.Fatal(err)
	}

	// Same reference always yields the same locator, with no backend in play.
	a := r.DownloadURL("user-1/gone")
	b := r.DownloadURL("user-1/gone")
	if a != b {
		t.Errorf("derivation not stable: %q vs %q", a, b)
	}
}
