// Package cache stores task results by fingerprint so a task whose inputs
// have not changed can be replayed instead of run.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrEmptyHash is returned for entries without a fingerprint.
var ErrEmptyHash = errors.New("cache entry has no hash")

// Entry is the stored result of one task execution. The cache stores what
// it is given; callers decide which outcomes are worth keeping.
type Entry struct {
	Hash           string `json:"hash"`
	Code           int    `json:"code"`
	TerminalOutput string `json:"-"`
}

// Cache stores and retrieves entries by task fingerprint.
type Cache interface {
	// Get returns nil when no entry exists.
	Get(hash string) (*Entry, error)
	Put(entry *Entry) error
}

const (
	metadataFile       = "metadata.json"
	terminalOutputFile = "terminalOutput"
	terminalOutputsDir = "terminalOutputs"
)

// FileCache keeps entries on disk:
//
//	{Dir}/
//	  {hash[0:2]}/
//	    {hash}/
//	      metadata.json
//	      terminalOutput
//	  terminalOutputs/
//	    {hash}          live task logs
type FileCache struct {
	Dir string
}

// NewFileCache creates a cache rooted at dir.
func NewFileCache(dir string) *FileCache {
	return &FileCache{Dir: dir}
}

// TerminalOutputPath is where a running task with the given fingerprint
// writes its log.
func (c *FileCache) TerminalOutputPath(hash string) string {
	return filepath.Join(c.Dir, terminalOutputsDir, hash)
}

// Get reads the entry for hash.
func (c *FileCache) Get(hash string) (*Entry, error) {
	entryDir := c.entryPath(hash)
	data, err := os.ReadFile(filepath.Join(entryDir, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache metadata: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("parsing cache metadata: %w", err)
	}
	if entry.Hash != hash {
		return nil, fmt.Errorf("cache entry %s holds hash %q", hash, entry.Hash)
	}

	out, err := os.ReadFile(filepath.Join(entryDir, terminalOutputFile))
	if err != nil {
		return nil, fmt.Errorf("reading cached terminal output: %w", err)
	}
	entry.TerminalOutput = string(out)
	return &entry, nil
}

// Put stores entry, replacing any previous entry for the same hash.
func (c *FileCache) Put(entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry is nil")
	}
	if entry.Hash == "" {
		return ErrEmptyHash
	}

	entryDir := c.entryPath(entry.Hash)
	parentDir := filepath.Dir(entryDir)
	if err := os.MkdirAll(parentDir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	// The entry is assembled in a sibling temp dir and renamed into place,
	// so a reader never sees metadata without its output.
	tmpDir, err := os.MkdirTemp(parentDir, "tmp-entry-"+entry.Hash+"-")
	if err != nil {
		return fmt.Errorf("creating temp cache entry dir: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(tmpDir)
		}
	}()

	if err := os.WriteFile(filepath.Join(tmpDir, terminalOutputFile), []byte(entry.TerminalOutput), 0o644); err != nil {
		return fmt.Errorf("writing cached terminal output: %w", err)
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cache metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, metadataFile), data, 0o644); err != nil {
		return fmt.Errorf("writing cache metadata: %w", err)
	}

	// A crash between remove and rename yields a miss, not a torn entry.
	_ = os.RemoveAll(entryDir)
	if err := os.Rename(tmpDir, entryDir); err != nil {
		return fmt.Errorf("committing cache entry: %w", err)
	}
	committed = true
	return nil
}

func (c *FileCache) entryPath(hash string) string {
	if len(hash) < 2 {
		return filepath.Join(c.Dir, hash)
	}
	return filepath.Join(c.Dir, hash[:2], hash)
}

// MemoryCache keeps entries in memory.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]Entry)}
}

func (c *MemoryCache) Get(hash string) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[hash]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (c *MemoryCache) Put(entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry is nil")
	}
	if entry.Hash == "" {
		return ErrEmptyHash
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.Hash] = *entry
	return nil
}

// Len returns the number of stored entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
