// Package storage holds source and enhanced audio blobs. Keys are slash
// separated and relative; each backend maps them onto its own namespace.
package storage

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrNotExist is returned by Open and Delete when the key is absent.
var ErrNotExist = eris.New("storage: object does not exist")

// Blob stores bytes by key.
type Blob interface {
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Name() string
}

// CleanKey rejects absolute keys and keys that escape the namespace.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	if key == "" || strings.HasPrefix(key, "/") {
		return "", eris.Errorf("storage: invalid key %q", key)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", eris.Errorf("storage: invalid key %q", key)
	}
	return cleaned, nil
}

func joinPrefix(prefix, key string) string {
	if strings.TrimSpace(prefix) == "" {
		return key
	}
	return path.Join(strings.Trim(prefix, "/"), key)
}
