// Package cache implements the three-tier cache hierarchy (spec component
// C5): an LRU session store of PR data (L1), a distance-evicted prefetch
// store of highlighted diff caches (L2), and the single active diff cache
// the renderer reads (L3), together with the stale-message defence that
// keeps all three consistent under asynchronous builds and PR switches.
package cache

import (
	"fmt"
	"path/filepath"
	"strings"
)

// PRKey identifies a pull request: a repository slug plus a PR number.
// Both are opaque to the cache hierarchy beyond identity and, for Repo,
// the filesystem-sanitisation rule applied by SanitisedRepo.
type PRKey struct {
	Repo   string
	Number int
}

func (k PRKey) String() string {
	return fmt.Sprintf("%s#%d", k.Repo, k.Number)
}

// SanitisedRepo returns k.Repo made safe for use as a filesystem path
// component, or an error if the slug contains a path separator, a
// parent-directory element, or a non-printable byte.
func (k PRKey) SanitisedRepo() (string, error) {
	if strings.ContainsRune(k.Repo, filepath.Separator) || strings.Contains(k.Repo, "..") {
		return "", fmt.Errorf("cache: repository slug %q is not a valid filesystem path component", k.Repo)
	}
	for _, r := range k.Repo {
		if r < 0x20 || r == 0x7f {
			return "", fmt.Errorf("cache: repository slug %q contains a non-printable byte", k.Repo)
		}
	}
	return strings.ReplaceAll(k.Repo, "/", "_"), nil
}
