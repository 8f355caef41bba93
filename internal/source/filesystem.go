package source

import (
	"context"
	stderrors "errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/IGLOU-EU/go-wildcard/v2"

	"github.com/loseme/loseme/internal/errors"
	"github.com/loseme/loseme/internal/extract"
	"github.com/loseme/loseme/internal/ids"
	"github.com/loseme/loseme/internal/scope"
)

// errStopWalk unwinds WalkDir when a stop was requested.
var errStopWalk = stderrors.New("walk stopped")

// FilesystemSource walks the directories of a filesystem scope in
// lexicographic order and emits one single-part document per file.
type FilesystemSource struct {
	scope     *scope.Filesystem
	scopeJSON string
	opts      Options
}

var _ Source = (*FilesystemSource)(nil)

// NewFilesystemSource builds the source for a filesystem scope.
func NewFilesystemSource(sc *scope.Filesystem, opts Options) (*FilesystemSource, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	scopeJSON, err := sc.CanonicalJSON()
	if err != nil {
		return nil, err
	}
	return &FilesystemSource{
		scope:     sc,
		scopeJSON: string(scopeJSON),
		opts:      opts.withDefaults(),
	}, nil
}

// Iter walks every scope directory. Per-file problems are logged and
// skipped so one bad file does not abort discovery; the stop
// predicate is polled between files.
func (s *FilesystemSource) Iter(ctx context.Context, fn func(*Document) error) error {
	dirs := make([]string, 0, len(s.scope.Directories))
	for _, d := range s.scope.Directories {
		canonical, err := ids.CanonicalPath(s.opts.PathMap.Localize(d))
		if err != nil {
			return errors.Wrap(errors.KindValidation, err, "resolving scope directory")
		}
		dirs = append(dirs, canonical)
	}
	sort.Strings(dirs)

	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil {
			s.opts.Logger.Warn("scope_directory_unreadable",
				slog.String("dir", dir), slog.String("error", err.Error()))
			continue
		}

		// A scope entry may point straight at a file
		if !info.IsDir() {
			if stopped, err := s.visit(ctx, dir, filepath.Base(dir), fn); stopped || err != nil {
				return err
			}
			continue
		}

		err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				s.opts.Logger.Warn("walk_error",
					slog.String("path", path), slog.String("error", err.Error()))
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				if !s.scope.Recursive && path != dir {
					return fs.SkipDir
				}
				return nil
			}
			rel, relErr := filepath.Rel(dir, path)
			if relErr != nil {
				rel = filepath.Base(path)
			}
			stopped, err := s.visit(ctx, path, filepath.ToSlash(rel), fn)
			if err != nil {
				return err
			}
			if stopped {
				return errStopWalk
			}
			return nil
		})
		if stderrors.Is(err, errStopWalk) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// visit handles one regular file. rel is the path relative to the
// scope root the walk started from; the bool result reports a stop
// request.
func (s *FilesystemSource) visit(ctx context.Context, path, rel string, fn func(*Document) error) (bool, error) {
	if err := ctx.Err(); err != nil {
		return true, err
	}
	if s.opts.ShouldStop() {
		return true, nil
	}
	if !s.matches(rel) {
		return false, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		s.opts.Logger.Warn("file_unreadable",
			slog.String("path", path), slog.String("error", err.Error()))
		return false, nil
	}
	if info.Size() > s.opts.MaxFileSize {
		s.opts.Logger.Warn("file_too_large",
			slog.String("path", path), slog.Int64("size", info.Size()))
		return false, nil
	}

	res, err := s.opts.Extractors.Extract(ctx, path)
	if err != nil {
		if errors.IsKind(err, errors.KindExtractionSkipped) {
			s.opts.Logger.Warn("no_extractor", slog.String("path", path))
		} else {
			s.opts.Logger.Warn("extraction_failed",
				slog.String("path", path), slog.String("error", err.Error()))
		}
		return false, nil
	}

	doc, err := s.buildDocument(path, info, res)
	if err != nil {
		s.opts.Logger.Warn("document_build_failed",
			slog.String("path", path), slog.String("error", err.Error()))
		return false, nil
	}

	if err := fn(doc); err != nil {
		return false, err
	}
	return false, nil
}

func (s *FilesystemSource) buildDocument(path string, info fs.FileInfo, res *extract.Result) (*Document, error) {
	hostPath := s.opts.PathMap.Hostize(path)
	sid, err := ids.SourceInstanceID(scope.KindFilesystem, s.opts.DeviceID, path)
	if err != nil {
		return nil, err
	}

	doc := &Document{SourceInstanceID: sid, SourcePath: hostPath}
	for i := 0; i < res.Len(); i++ {
		locator := res.UnitLocators[i]
		if locator == "" {
			locator = scope.KindFilesystem + ":" + path
		}
		doc.Parts = append(doc.Parts, &DocumentPart{
			DocumentPartID:   ids.DocumentPartID(sid, locator),
			SourceInstanceID: sid,
			DeviceID:         s.opts.DeviceID,
			Kind:             scope.KindFilesystem,
			SourcePath:       hostPath,
			UnitLocator:      locator,
			ContentType:      res.ContentTypes[i],
			ExtractorName:    res.ExtractorNames[i],
			ExtractorVersion: res.ExtractorVersions[i],
			Checksum:         ids.Checksum(res.Texts[i]),
			Metadata:         res.Metadata[i],
			ScopeJSON:        s.scopeJSON,
			Text:             res.Texts[i],
			CreatedAt:        info.ModTime().UTC(),
			UpdatedAt:        info.ModTime().UTC(),
		})
	}
	return doc, nil
}

// matches applies include and exclude globs to the root-relative
// path, so patterns like "sub/*" and "docs/*.md" address files by
// their place under the scope root. The wildcard matcher lets "*"
// cross separators, which keeps bare "*.txt" matching at any depth.
func (s *FilesystemSource) matches(rel string) bool {
	for _, p := range s.scope.ExcludePatterns {
		if wildcard.Match(p, rel) {
			return false
		}
	}
	if len(s.scope.IncludePatterns) == 0 {
		return true
	}
	for _, p := range s.scope.IncludePatterns {
		if wildcard.Match(p, rel) {
			return true
		}
	}
	return false
}
