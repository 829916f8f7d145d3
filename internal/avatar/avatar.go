// Package avatar stores profile pictures as content-addressed blobs and
// renders initials placeholders for profiles without one.
package avatar

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// MaxSize caps an uploaded avatar.
const MaxSize = 2 << 20

var (
	ErrTooLarge    = errors.New("avatar: image too large")
	ErrUnsupported = errors.New("avatar: unsupported image type")
	ErrInvalidName = errors.New("avatar: invalid blob name")
)

var blobNameRe = regexp.MustCompile(`^[0-9a-f]{16}\.(png|jpg|gif|webp|svg)$`)

var extensions = map[string]string{
	"image/png":     ".png",
	"image/jpeg":    ".jpg",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
}

// Blobs keeps avatar images in a directory, named by content hash so a
// changed picture always gets a new URL.
type Blobs struct {
	mu      sync.Mutex
	dir     string
	baseURL string
}

// NewBlobs creates the store in dir. URLs are baseURL + "/blobs/" + name.
func NewBlobs(dir, baseURL string) (*Blobs, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &Blobs{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Put stores data and returns its URL. Storing the same bytes twice
// returns the same URL.
func (b *Blobs) Put(data []byte) (string, error) {
	if len(data) > MaxSize {
		return "", ErrTooLarge
	}
	ext, ok := extensions[sniff(data)]
	if !ok {
		return "", ErrUnsupported
	}
	name := hashBytes(data) + ext

	b.mu.Lock()
	defer b.mu.Unlock()
	path := filepath.Join(b.dir, name)
	if _, err := os.Stat(path); err == nil {
		return b.URL(name), nil
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return b.URL(name), nil
}

// URL is where name is served.
func (b *Blobs) URL(name string) string {
	return b.baseURL + "/blobs/" + name
}

// Path returns the file for a blob name, rejecting anything that is not a
// name Put could have produced.
func (b *Blobs) Path(name string) (string, error) {
	if !blobNameRe.MatchString(name) {
		return "", ErrInvalidName
	}
	return filepath.Join(b.dir, name), nil
}

func sniff(data []byte) string {
	ct := http.DetectContentType(data)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	// DetectContentType reports SVG as XML or plain text.
	if ct == "text/xml" || ct == "text/plain" {
		if strings.Contains(string(data[:min(len(data), 512)]), "<svg") {
			return "image/svg+xml"
		}
	}
	return ct
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8]) // 16 hex chars
}
