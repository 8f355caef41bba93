// Package ids computes the deterministic identifiers that tie the
// metadata store and the vector store together.
//
// Every identifier is a sha256 hex digest over a canonical string, so
// the same source on the same device always maps to the same ids, and
// changed content yields new chunk ids without touching part identity.
package ids

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
)

// hash returns the sha256 hex digest of s.
func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// CanonicalPath resolves a path to its absolute, symlink-free,
// cleaned form. If symlink resolution fails (e.g. the path does not
// exist yet), the absolute cleaned path is used as-is.
func CanonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", path, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return filepath.Clean(abs), nil
}

// SourceInstanceID identifies one concrete source on one device:
// sha256("<kind>:<device>:<canonical path>").
func SourceInstanceID(kind, deviceID, path string) (string, error) {
	canonical, err := CanonicalPath(path)
	if err != nil {
		return "", err
	}
	return hash(fmt.Sprintf("%s:%s:%s", kind, deviceID, canonical)), nil
}

// MessageSourceID identifies one message within a mailbox on one
// device: sha256("mailbox:<device>:<mbox path>:<message id>").
func MessageSourceID(deviceID, mboxPath, messageID string) (string, error) {
	canonical, err := CanonicalPath(mboxPath)
	if err != nil {
		return "", err
	}
	return hash(fmt.Sprintf("mailbox:%s:%s:%s", deviceID, canonical, messageID)), nil
}

// DocumentPartID binds a source instance to one addressable unit
// within it: sha256("<source instance id>:<unit locator>"). The id is
// stable across content changes; only the checksum moves.
func DocumentPartID(sourceInstanceID, unitLocator string) string {
	return hash(fmt.Sprintf("%s:%s", sourceInstanceID, unitLocator))
}

// ChunkID is content-addressed: sha256("<part id>:<checksum>:<index>").
// Re-chunking unchanged content reproduces the same ids; changed
// content produces a disjoint set.
func ChunkID(documentPartID, checksum string, index int) string {
	return hash(fmt.Sprintf("%s:%s:%d", documentPartID, checksum, index))
}

// Checksum digests extracted text after trimming surrounding
// whitespace, so editor-added trailing newlines do not force a
// reindex.
func Checksum(text string) string {
	return hash(strings.TrimSpace(text))
}
