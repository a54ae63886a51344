// Package storage stores briefing audio blobs, either on local disk or
// in S3. Blobs are addressed by the public URL path handed to clients.
package storage

import (
	"context"
	"io"
	"strings"
)

// URLPrefix is the public path under which audio is served.
const URLPrefix = "/api/audio/"

// Blob abstracts audio blob storage.
type Blob interface {
	// Save stores data under filename and returns the public URL path.
	Save(ctx context.Context, filename string, data []byte) (string, error)
	// Delete removes the blob behind a public URL. Unknown URLs are not
	// an error.
	Delete(ctx context.Context, audioURL string) error
	// Exists reports whether the blob behind a public URL is present.
	Exists(ctx context.Context, audioURL string) (bool, error)
	// Size returns the blob size in bytes.
	Size(ctx context.Context, filename string) (int64, error)
	// ReadRange streams bytes [start, end] inclusive.
	ReadRange(ctx context.Context, filename string, start, end int64) (io.ReadCloser, error)
}

// FilenameFromURL extracts the blob filename from a public audio URL.
// Anything that escapes the flat audio namespace is rejected.
func FilenameFromURL(audioURL string) (string, bool) {
	if !strings.HasPrefix(audioURL, URLPrefix) {
		return "", false
	}
	name := strings.TrimPrefix(audioURL, URLPrefix)
	if name == "" || strings.Contains(name, "/") || strings.Contains(name, "\\") || strings.Contains(name, "..") {
		return "", false
	}
	return name, true
}
