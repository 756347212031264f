package hasher

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

type fileDigest struct {
	size    int64
	modTime time.Time
	hash    string
}

// FileHasher digests file content with xxhash. Digests are remembered in an
// LRU keyed by path and revalidated against size and modification time.
type FileHasher struct {
	cache *lru.Cache[string, fileDigest]
}

// NewFileHasher creates a FileHasher remembering up to size digests.
func NewFileHasher(size int) *FileHasher {
	if size <= 0 {
		size = 1
	}
	cache, _ := lru.New[string, fileDigest](size)
	return &FileHasher{cache: cache}
}

// HashFile returns the hex xxhash of the file's content.
func (f *FileHasher) HashFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %q: %w", path, err)
	}
	if d, ok := f.cache.Get(path); ok && d.size == info.Size() && d.modTime.Equal(info.ModTime()) {
		return d.hash, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %q: %w", path, err)
	}
	defer file.Close()

	digest := xxhash.New()
	if _, err := io.Copy(digest, file); err != nil {
		return "", fmt.Errorf("reading %q: %w", path, err)
	}
	sum := fmt.Sprintf("%016x", digest.Sum64())
	f.cache.Add(path, fileDigest{size: info.Size(), modTime: info.ModTime(), hash: sum})
	return sum, nil
}
