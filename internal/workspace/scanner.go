// Package workspace lists the tracked files of a workspace and their content
// digests.
package workspace

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"taskweaver/internal/graph"
	"taskweaver/internal/hasher"
	"taskweaver/internal/logging"
)

// IgnoreFile is the workspace-level ignore file read alongside .gitignore.
const IgnoreFile = ".weaverignore"

// StateDir holds taskweaver's own state and is never scanned.
const StateDir = ".taskweaver"

var alwaysIgnored = []string{".git", StateDir}

// FileHasher digests one file.
type FileHasher interface {
	HashFile(path string) (string, error)
}

// Scanner walks a workspace honouring .gitignore files (at any depth) and the
// root .weaverignore.
type Scanner struct {
	Root   string
	Hasher FileHasher
	Logger logrus.FieldLogger
}

// NewScanner creates a Scanner for root.
func NewScanner(root string, h FileHasher, logger logrus.FieldLogger) *Scanner {
	if h == nil {
		h = hasher.NewDefaultHashing()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Scanner{Root: root, Hasher: h, Logger: logger}
}

// Matcher builds the ignore matcher for the workspace.
func (s *Scanner) Matcher() (gitignore.Matcher, error) {
	root := osfs.New(s.Root)
	patterns, err := gitignore.ReadPatterns(root, nil)
	if err != nil {
		return nil, fmt.Errorf("reading .gitignore patterns: %w", err)
	}
	extra, err := readIgnoreFile(root, IgnoreFile)
	if err != nil {
		return nil, err
	}
	patterns = append(patterns, extra...)
	for _, p := range alwaysIgnored {
		patterns = append(patterns, gitignore.ParsePattern(p, nil))
	}
	return gitignore.NewMatcher(patterns), nil
}

func readIgnoreFile(fsys billy.Filesystem, name string) ([]gitignore.Pattern, error) {
	f, err := fsys.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	defer f.Close()

	var ps []gitignore.Pattern
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), " \t\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ps = append(ps, gitignore.ParsePattern(line, nil))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return ps, nil
}

// Scan returns every non-ignored regular file under Root, sorted by path,
// with its content digest.
func (s *Scanner) Scan(ctx context.Context) ([]graph.FileData, error) {
	matcher, err := s.Matcher()
	if err != nil {
		return nil, err
	}

	var paths []string
	err = filepath.WalkDir(s.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == s.Root {
			return nil
		}
		rel, err := filepath.Rel(s.Root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if matcher.Match(strings.Split(rel, "/"), d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", s.Root, err)
	}
	slices.Sort(paths)

	files := make([]graph.FileData, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, rel := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			h, err := s.Hasher.HashFile(filepath.Join(s.Root, filepath.FromSlash(rel)))
			if err != nil {
				return err
			}
			files[i] = graph.FileData{File: rel, Hash: h}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	s.Logger.WithField("files", len(files)).Debug("workspace scanned")
	return files, nil
}

// FindRoot returns the root of the git worktree containing start, or start
// itself when it is not inside a repository.
func FindRoot(start string) (string, error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	repo, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return abs, nil
	}
	if err != nil {
		return "", fmt.Errorf("open git repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return abs, nil
	}
	return wt.Filesystem.Root(), nil
}
