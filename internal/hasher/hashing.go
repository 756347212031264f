package hasher

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
)

// Hashing is the content hash primitive.
//
// HashArray is order-sensitive: every value is length-prefixed before it is
// folded, so ["ab", "c"] and ["a", "bc"] never collide.
type Hashing interface {
	HashArray(values []string) string
	HashFile(path string) (string, error)
}

// DefaultHashing folds arrays with sha256 and digests files with xxhash.
type DefaultHashing struct {
	files *FileHasher
}

// NewDefaultHashing creates the production hashing primitive.
func NewDefaultHashing() *DefaultHashing {
	return &DefaultHashing{files: NewFileHasher(4096)}
}

// HashArray folds values into one hex digest.
func (h *DefaultHashing) HashArray(values []string) string {
	return HashArray(values)
}

// HashFile digests a file's content.
func (h *DefaultHashing) HashFile(path string) (string, error) {
	return h.files.HashFile(path)
}

// HashArray folds values into one sha256 hex digest. Each value is written
// with an 8-byte big-endian length prefix.
func HashArray(values []string) string {
	hasher := sha256.New()
	var lengthBytes [8]byte
	for _, v := range values {
		binary.BigEndian.PutUint64(lengthBytes[:], uint64(len(v)))
		hasher.Write(lengthBytes[:])
		io.WriteString(hasher, v)
	}
	return hex.EncodeToString(hasher.Sum(nil))
}
