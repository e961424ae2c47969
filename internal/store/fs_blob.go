package store

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// FSBlob is a Blob backed by a local directory tree, one file per key. No
// object-storage client library appears anywhere in the example pack (the
// teacher and its peers are blockchain nodes with no S3/GCS dependency);
// this is the one persistence concern implemented directly on the
// standard library.
type FSBlob struct {
	root string
}

// NewFSBlob roots a blob store at dir, creating it if necessary.
func NewFSBlob(dir string) (*FSBlob, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "store: creating blob root %q", dir)
	}
	return &FSBlob{root: dir}, nil
}

func (b *FSBlob) path(key string) string {
	return filepath.Join(b.root, filepath.FromSlash(key))
}

func (b *FSBlob) Put(_ context.Context, key string, _ string, data []byte) error {
	p := b.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return errors.Wrapf(err, "store: creating blob dir for %q", key)
	}
	// Idempotent by construction: WriteFile truncates and rewrites, so a
	// retried write after a partial failure converges to the same bytes.
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return errors.Wrapf(err, "store: writing blob %q", key)
	}
	return nil
}

func (b *FSBlob) Get(_ context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(b.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "store: reading blob %q", key)
	}
	return data, true, nil
}

func (b *FSBlob) Delete(_ context.Context, key string) error {
	err := os.Remove(b.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "store: deleting blob %q", key)
	}
	return nil
}
