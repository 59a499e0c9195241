// Package content fetches tile payloads for the tiles a frame requested.
package content

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/zhangxrk/cesium/internal/cache/keys"
	"github.com/zhangxrk/cesium/internal/tile"
)

// ErrNotFound is returned by a Store when a uri has no content. The tile is
// then treated as empty rather than failed.
var ErrNotFound = errors.New("content not found")

// Store returns the payload behind a tile content uri.
type Store interface {
	Get(ctx context.Context, uri string) ([]byte, error)
}

// Result is the outcome of one fetch, handed back to the frame goroutine.
type Result struct {
	ID      tile.ID
	URI     string
	Payload []byte
	Err     error
}

// DirStore serves content from a directory, resolving uris relative to it.
type DirStore struct {
	root string
}

func NewDirStore(root string) (*DirStore, error) {
	fi, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("content dir: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("content dir %q is not a directory", root)
	}
	return &DirStore{root: root}, nil
}

func (d *DirStore) Get(ctx context.Context, uri string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := keys.NormalizeURI(uri)
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	p = filepath.FromSlash(p)
	if !filepath.IsLocal(p) {
		return nil, fmt.Errorf("content uri %q escapes the content dir", uri)
	}

	b, err := os.ReadFile(filepath.Join(d.root, p))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", uri, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", uri, err)
	}
	return b, nil
}
