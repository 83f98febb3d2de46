package raster

import (
	"fmt"
	"os"
	"path"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// ErrNotFound marks an unknown raster reference.
var ErrNotFound = errors.New("snapshot not found")

// BlobStore persists rendered tile PNGs under opaque keys. Backed by
// an afero filesystem: the OS filesystem in deployments, MemMapFs in
// tests.
type BlobStore struct {
	fs   afero.Fs
	root string
}

// NewBlobStore roots a store at dir on fs.
func NewBlobStore(fs afero.Fs, dir string) *BlobStore {
	return &BlobStore{fs: fs, root: dir}
}

// SnapshotKey names a tile render. The version is embedded so keys are
// immutable: a newer render is a new object, never an overwrite.
func SnapshotKey(roomID string, tileX, tileY int, version int64) string {
	return fmt.Sprintf("room_%s/tile_%d_%d_%d.png", roomID, tileX, tileY, version)
}

// Put stores the PNG under key.
func (b *BlobStore) Put(key string, png []byte) error {
	p := path.Join(b.root, key)
	if err := b.fs.MkdirAll(path.Dir(p), 0o750); err != nil {
		return errors.Wrap(err, "create snapshot dir")
	}
	return errors.Wrap(afero.WriteFile(b.fs, p, png, 0o640), "write snapshot")
}

// Get returns the PNG stored under key, or ErrNotFound.
func (b *BlobStore) Get(key string) ([]byte, error) {
	data, err := afero.ReadFile(b.fs, path.Join(b.root, key))
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrNotFound, "key %s", key)
	}
	if err != nil {
		return nil, errors.Wrap(err, "read snapshot")
	}
	return data, nil
}
