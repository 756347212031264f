package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"taskweaver/internal/graph"
	"taskweaver/internal/hasher"
	"taskweaver/internal/workspace"
)

// DefaultGraphFile is the project graph location relative to the workspace.
var DefaultGraphFile = filepath.Join(workspace.StateDir, "project-graph.yaml")

// loadWorkspace reads the project graph snapshot. When the snapshot does not
// list the workspace files, the workspace is scanned and the files are
// assigned to projects by root.
func loadWorkspace(ctx context.Context, root, graphPath string, logger logrus.FieldLogger) (*graph.Snapshot, error) {
	if graphPath == "" {
		graphPath = filepath.Join(root, DefaultGraphFile)
	} else if !filepath.IsAbs(graphPath) {
		graphPath = filepath.Join(root, graphPath)
	}

	snap, err := graph.Load(graphPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, configError(fmt.Errorf("no project graph at %s", graphPath))
		}
		return nil, configError(err)
	}
	if len(snap.AllWorkspaceFiles) > 0 {
		return snap, nil
	}

	scanner := workspace.NewScanner(root, hasher.NewFileHasher(4096), logger)
	files, err := scanner.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanning workspace: %w", err)
	}
	snap.AssignFiles(files)
	logger.WithFields(logrus.Fields{"files": len(files), "projects": len(snap.Nodes)}).Debug("workspace scanned")
	return snap, nil
}

// resolveRoot returns the workspace root: the flag value when set, the
// enclosing git repository otherwise.
func resolveRoot(flag string) (string, error) {
	if flag != "" {
		abs, err := filepath.Abs(flag)
		if err != nil {
			return "", invalidInvocationf("invalid --workspace %q: %v", flag, err)
		}
		return abs, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return workspace.FindRoot(wd)
}
