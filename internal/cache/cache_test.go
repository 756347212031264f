package cache

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func caches(t *testing.T) map[string]Cache {
	return map[string]Cache{
		"file":   NewFileCache(filepath.Join(t.TempDir(), "cache")),
		"memory": NewMemoryCache(),
	}
}

func TestCache_SameHashReplays(t *testing.T) {
	for name, c := range caches(t) {
		t.Run(name, func(t *testing.T) {
			hash := "9f86d081884c7d659a2feaa0c55ad015"

			if e, err := c.Get(hash); err != nil || e != nil {
				t.Fatalf("expected miss, got %v, %v", e, err)
			}

			want := &Entry{Hash: hash, Code: 1, TerminalOutput: "exact output\nwith newlines\n\x00binary"}
			if err := c.Put(want); err != nil {
				t.Fatalf("Put failed: %v", err)
			}

			got, err := c.Get(hash)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if *got != *want {
				t.Fatalf("replay mismatch:\nwant %+v\ngot  %+v", want, got)
			}
		})
	}
}

func TestCache_PutReplaces(t *testing.T) {
	for name, c := range caches(t) {
		t.Run(name, func(t *testing.T) {
			if err := c.Put(&Entry{Hash: "abc", Code: 1, TerminalOutput: "first"}); err != nil {
				t.Fatal(err)
			}
			if err := c.Put(&Entry{Hash: "abc", Code: 0, TerminalOutput: "second"}); err != nil {
				t.Fatal(err)
			}
			got, err := c.Get("abc")
			if err != nil {
				t.Fatal(err)
			}
			if got.Code != 0 || got.TerminalOutput != "second" {
				t.Fatalf("unexpected entry %+v", got)
			}
		})
	}
}

func TestCache_RejectsInvalidEntries(t *testing.T) {
	for name, c := range caches(t) {
		t.Run(name, func(t *testing.T) {
			if err := c.Put(nil); err == nil {
				t.Fatal("expected error for nil entry")
			}
			if err := c.Put(&Entry{}); !errors.Is(err, ErrEmptyHash) {
				t.Fatalf("expected ErrEmptyHash, got %v", err)
			}
		})
	}
}

func TestFileCache_Layout(t *testing.T) {
	dir := t.TempDir()
	c := NewFileCache(dir)
	hash := "deadbeef"
	if err := c.Put(&Entry{Hash: hash, TerminalOutput: "out"}); err != nil {
		t.Fatal(err)
	}

	entryDir := filepath.Join(dir, "de", hash)
	for _, f := range []string{metadataFile, terminalOutputFile} {
		if _, err := os.Stat(filepath.Join(entryDir, f)); err != nil {
			t.Fatalf("expected %s: %v", f, err)
		}
	}
	meta, err := os.ReadFile(filepath.Join(entryDir, metadataFile))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(meta), "out") {
		t.Fatalf("terminal output must live outside metadata: %s", meta)
	}

	// No temp directories are left behind.
	siblings, err := os.ReadDir(filepath.Join(dir, "de"))
	if err != nil {
		t.Fatal(err)
	}
	if len(siblings) != 1 {
		t.Fatalf("expected only the committed entry, got %d entries", len(siblings))
	}

	if got := c.TerminalOutputPath(hash); got != filepath.Join(dir, "terminalOutputs", hash) {
		t.Fatalf("unexpected terminal output path %s", got)
	}
}

func TestFileCache_TornEntryIsAnError(t *testing.T) {
	dir := t.TempDir()
	c := NewFileCache(dir)
	if err := c.Put(&Entry{Hash: "abcd", TerminalOutput: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(dir, "ab", "abcd", terminalOutputFile)); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get("abcd"); err == nil {
		t.Fatal("expected error for entry without terminal output")
	}

	if err := os.WriteFile(filepath.Join(dir, "ab", "abcd", metadataFile), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get("abcd"); err == nil {
		t.Fatal("expected error for corrupt metadata")
	}
}
