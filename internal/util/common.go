// internal/util/common.go

package util

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Timeouts shared by the signaling and storage layers.
const (
	DefaultSendTimeout    = 5 * time.Second
	DefaultConnectTimeout = 3 * time.Second
	ShutdownTimeout       = 5 * time.Second
)

// ResolvePath joins base and rel, but if rel is an absolute path it is returned
// directly (cleaned). filepath.Join("a", "/b") returns "a/b"; here an absolute
// rel overrides the base.
func ResolvePath(base, rel string) string {
	if filepath.IsAbs(rel) {
		return filepath.Clean(rel)
	}
	return filepath.Join(base, rel)
}

// WriteJSONFile writes v as indented JSON, creating parent directories if
// needed. The file is written to a temp sibling and renamed into place so a
// watcher never observes a half-written config.
func WriteJSONFile(path string, v any) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
