package source

import (
	"path/filepath"
	"strings"
)

// PathMap translates between the path spelling used by the host that
// configured a scope and the spelling visible to this process, for
// deployments where the indexer runs in a container with the source
// tree mounted under a different root.
type PathMap struct {
	HostRoot  string
	LocalRoot string
}

// enabled reports whether translation applies.
func (m *PathMap) enabled() bool {
	return m != nil && m.HostRoot != "" && m.LocalRoot != "" && m.HostRoot != m.LocalRoot
}

// Localize rewrites a host path to the local mount. Paths outside the
// host root pass through unchanged.
func (m *PathMap) Localize(path string) string {
	if !m.enabled() {
		return path
	}
	rel, err := filepath.Rel(m.HostRoot, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.Join(m.LocalRoot, rel)
}

// Hostize rewrites a local path back to the host spelling, so stored
// source paths stay meaningful to the user who configured the scope.
func (m *PathMap) Hostize(path string) string {
	if !m.enabled() {
		return path
	}
	rel, err := filepath.Rel(m.LocalRoot, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.Join(m.HostRoot, rel)
}
