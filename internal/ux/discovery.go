package ux

import (
	"fmt"
	"os"
	"path/filepath"
)

// stateDirName mirrors config.StateDirName; ux sits below config.
const stateDirName = ".batchguard"

// ManifestNames are tried in order when no manifest path is given
var ManifestNames = []string{"tasks.yaml", "tasks.yml", "tasks.json"}

// DiscoverRepoRoot walks up from start to the nearest directory holding a
// .batchguard state directory or, failing that, a .git directory. When
// neither is found start itself is returned.
func DiscoverRepoRoot(start string) (string, error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}

	gitRoot := ""
	for dir := abs; ; {
		if isDir(filepath.Join(dir, stateDirName)) {
			return dir, nil
		}
		if gitRoot == "" && exists(filepath.Join(dir, ".git")) {
			gitRoot = dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	if gitRoot != "" {
		return gitRoot, nil
	}
	return abs, nil
}

// DiscoverManifest returns the first of ManifestNames present in root
func DiscoverManifest(root string) (string, error) {
	for _, name := range ManifestNames {
		p := filepath.Join(root, name)
		if exists(p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("no task manifest found in %s (looked for %v)", root, ManifestNames)
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
