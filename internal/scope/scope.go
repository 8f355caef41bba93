// Package scope defines what an indexing run covers.
//
// A scope has a canonical JSON form: directories resolved to absolute
// symlink-free paths, lists sorted, keys in a fixed order. Two runs
// over the same logical scope therefore produce byte-identical scope
// JSON and equal hashes, which is what the stale-part cleanup keys on.
package scope

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"path"
	"sort"
	"strings"

	"github.com/loseme/loseme/internal/errors"
	"github.com/loseme/loseme/internal/ids"
)

// Kinds of scopes understood by the built-in registry.
const (
	KindFilesystem = "filesystem"
	KindMailbox    = "mailbox"
)

// Scope describes the extent of one indexing run.
type Scope interface {
	// Kind names the source type this scope belongs to.
	Kind() string

	// Locator is a stable human-readable handle, used as the display
	// locator of monitored sources.
	Locator() string

	// CanonicalJSON renders the scope in its canonical form.
	CanonicalJSON() ([]byte, error)

	// Hash digests the canonical form. Equal scopes hash equal.
	Hash() (string, error)

	// Validate checks the scope for structural problems. Returns a
	// validation-kind error on bad globs or empty extents.
	Validate() error
}

// Filesystem covers a set of directories with optional glob filters.
type Filesystem struct {
	Directories     []string `json:"directories"`
	Recursive       bool     `json:"recursive"`
	IncludePatterns []string `json:"include_patterns,omitempty"`
	ExcludePatterns []string `json:"exclude_patterns,omitempty"`
}

func (s *Filesystem) Kind() string { return KindFilesystem }

func (s *Filesystem) Locator() string {
	dirs := append([]string(nil), s.Directories...)
	sort.Strings(dirs)
	return KindFilesystem + ":" + strings.Join(dirs, ",")
}

// canonicalFilesystem fixes the key order of the canonical form.
// Fields are alphabetical so the rendered JSON keys are sorted.
type canonicalFilesystem struct {
	Directories     []string `json:"directories"`
	ExcludePatterns []string `json:"exclude_patterns"`
	IncludePatterns []string `json:"include_patterns"`
	Kind            string   `json:"kind"`
	Recursive       bool     `json:"recursive"`
}

func (s *Filesystem) CanonicalJSON() ([]byte, error) {
	dirs := make([]string, 0, len(s.Directories))
	for _, d := range s.Directories {
		canonical, err := ids.CanonicalPath(d)
		if err != nil {
			return nil, errors.Wrap(errors.KindValidation, err, "canonicalizing directory")
		}
		dirs = append(dirs, canonical)
	}
	sort.Strings(dirs)

	include := sortedCopy(s.IncludePatterns)
	exclude := sortedCopy(s.ExcludePatterns)

	return json.Marshal(canonicalFilesystem{
		Directories:     dirs,
		ExcludePatterns: exclude,
		IncludePatterns: include,
		Kind:            KindFilesystem,
		Recursive:       s.Recursive,
	})
}

func (s *Filesystem) Hash() (string, error) { return hashCanonical(s) }

func (s *Filesystem) Validate() error {
	if len(s.Directories) == 0 {
		return errors.Validation("filesystem scope requires at least one directory")
	}
	for _, d := range s.Directories {
		if strings.TrimSpace(d) == "" {
			return errors.Validation("filesystem scope contains an empty directory")
		}
	}
	for _, p := range append(append([]string(nil), s.IncludePatterns...), s.ExcludePatterns...) {
		if _, err := path.Match(p, ""); err != nil {
			return errors.Validation("invalid glob pattern %q", p)
		}
	}
	return nil
}

// HeaderPattern matches a mail header against a wildcard pattern,
// case-insensitively. Messages matching any ignore pattern are
// skipped during discovery.
type HeaderPattern struct {
	Field   string `json:"field"`
	Pattern string `json:"pattern"`
}

// Mailbox covers a single mbox file.
type Mailbox struct {
	MboxPath       string          `json:"mbox_path"`
	IgnorePatterns []HeaderPattern `json:"ignore_patterns,omitempty"`
}

func (s *Mailbox) Kind() string { return KindMailbox }

func (s *Mailbox) Locator() string {
	return KindMailbox + ":" + s.MboxPath
}

type canonicalMailbox struct {
	IgnorePatterns []HeaderPattern `json:"ignore_patterns"`
	Kind           string          `json:"kind"`
	MboxPath       string          `json:"mbox_path"`
}

func (s *Mailbox) CanonicalJSON() ([]byte, error) {
	mboxPath, err := ids.CanonicalPath(s.MboxPath)
	if err != nil {
		return nil, errors.Wrap(errors.KindValidation, err, "canonicalizing mbox path")
	}

	patterns := make([]HeaderPattern, 0, len(s.IgnorePatterns))
	for _, p := range s.IgnorePatterns {
		patterns = append(patterns, HeaderPattern{
			Field:   strings.ToLower(p.Field),
			Pattern: strings.ToLower(p.Pattern),
		})
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Field != patterns[j].Field {
			return patterns[i].Field < patterns[j].Field
		}
		return patterns[i].Pattern < patterns[j].Pattern
	})

	return json.Marshal(canonicalMailbox{
		IgnorePatterns: patterns,
		Kind:           KindMailbox,
		MboxPath:       mboxPath,
	})
}

func (s *Mailbox) Hash() (string, error) { return hashCanonical(s) }

func (s *Mailbox) Validate() error {
	if strings.TrimSpace(s.MboxPath) == "" {
		return errors.Validation("mailbox scope requires an mbox path")
	}
	for _, p := range s.IgnorePatterns {
		if strings.TrimSpace(p.Field) == "" {
			return errors.Validation("ignore pattern with empty header field")
		}
	}
	return nil
}

func hashCanonical(s Scope) (string, error) {
	data, err := s.CanonicalJSON()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
