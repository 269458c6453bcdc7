package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/gocontext-kb/pkg/types"
)

const binarySniffLen = 8000

var errFound = errors.New("found")

// unit is one indexable source tree paired with the area holding its artifacts
type unit struct {
	handlerType string
	root        string
	area        string
	matcher     *Matcher
	maxFileSize int64
	comparator  Comparator
}

func (u *unit) rel(sourcePath string) (string, error) {
	rel, err := filepath.Rel(u.root, sourcePath)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside %s", sourcePath, u.root)
	}
	return rel, nil
}

func (u *unit) knowledgePath(sourceDir string) (string, error) {
	rel, err := u.rel(sourceDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(u.area, rel, KnowledgeFileName), nil
}

func (u *unit) cachePath(sourceFile string) (string, error) {
	rel, err := u.rel(sourceFile)
	if err != nil {
		return "", err
	}
	if rel == "." {
		return "", fmt.Errorf("unit root %s is not a file", sourceFile)
	}
	return filepath.Join(u.area, rel+CacheSuffix), nil
}

func (u *unit) parent(sourcePath string) (string, bool) {
	rel, err := u.rel(sourcePath)
	if err != nil || rel == "." {
		return "", false
	}
	return filepath.Dir(filepath.Join(u.root, rel)), true
}

// sourceFor inverts knowledgePath/cachePath
func (u *unit) sourceFor(kf *types.KnowledgeFile) (string, error) {
	rel, err := filepath.Rel(u.area, kf.Path)
	if err != nil {
		return "", err
	}
	switch kf.FileType {
	case types.FileTypeKnowledge:
		return filepath.Join(u.root, filepath.Dir(rel)), nil
	case types.FileTypeCache:
		return filepath.Join(u.root, strings.TrimSuffix(rel, CacheSuffix)), nil
	default:
		return "", fmt.Errorf("unknown file type %q", kf.FileType)
	}
}

// scanArea walks the artifact area only. A missing area is an empty result.
func (u *unit) scanArea(ctx context.Context) ([]*types.KnowledgeFile, error) {
	info, err := os.Stat(u.area)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &types.DiscoveryError{Handler: u.handlerType, Path: u.area, Err: err}
	}
	if !info.IsDir() {
		return nil, &types.DiscoveryError{Handler: u.handlerType, Path: u.area, Err: errors.New("knowledge area is not a directory")}
	}

	var files []*types.KnowledgeFile
	err = filepath.WalkDir(u.area, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		var ft types.FileType
		switch name := d.Name(); {
		case name == KnowledgeFileName:
			ft = types.FileTypeKnowledge
		case strings.HasSuffix(name, CacheSuffix) && name != CacheSuffix:
			ft = types.FileTypeCache
		default:
			return nil
		}
		files = append(files, &types.KnowledgeFile{
			Path:        path,
			HandlerType: u.handlerType,
			FileType:    ft,
			Status:      types.StatusOrphaned,
			UnitRoot:    u.root,
		})
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &types.DiscoveryError{Handler: u.handlerType, Path: u.area, Err: err}
	}
	return files, nil
}

// scanSources returns every indexable file and every directory with indexable content
func (u *unit) scanSources(ctx context.Context) ([]types.SourceEntry, error) {
	var entries []types.SourceEntry
	has, err := u.collect(ctx, u.root, &entries)
	if err != nil {
		return nil, err
	}
	if has {
		entries = append(entries, types.SourceEntry{Path: u.root, IsDir: true, HandlerType: u.handlerType, UnitRoot: u.root})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func (u *unit) collect(ctx context.Context, dir string, out *[]types.SourceEntry) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	children, err := os.ReadDir(dir)
	if err != nil {
		// Unreadable directories contribute nothing; validation reports them.
		return false, nil
	}

	has := false
	for _, child := range children {
		path := filepath.Join(dir, child.Name())
		if child.Type()&fs.ModeSymlink != 0 || u.ignored(path, child.IsDir()) {
			continue
		}
		if child.IsDir() {
			sub, err := u.collect(ctx, path, out)
			if err != nil {
				return false, err
			}
			if sub {
				has = true
				*out = append(*out, types.SourceEntry{Path: path, IsDir: true, HandlerType: u.handlerType, UnitRoot: u.root})
			}
			continue
		}
		info, err := child.Info()
		if err != nil {
			continue
		}
		ok, _, err := u.indexableFile(path, info)
		if err != nil || ok {
			// Unreadable files stay candidates so the failure surfaces as a task error.
			has = true
			*out = append(*out, types.SourceEntry{Path: path, HandlerType: u.handlerType, UnitRoot: u.root})
		}
	}
	return has, nil
}

func (u *unit) ignored(path string, isDir bool) bool {
	rel, err := u.rel(path)
	if err != nil {
		return true
	}
	return u.matcher.ShouldIgnore(rel, isDir)
}

// indexableFile reports whether a regular file qualifies for analysis, with a reason when it does not
func (u *unit) indexableFile(path string, info fs.FileInfo) (bool, string, error) {
	if !info.Mode().IsRegular() {
		return false, "not a regular file", nil
	}
	if u.maxFileSize > 0 && info.Size() > u.maxFileSize {
		return false, fmt.Sprintf("larger than %d bytes", u.maxFileSize), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return false, "", err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, binarySniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return false, "", err
	}
	if bytes.IndexByte(buf[:n], 0) >= 0 {
		return false, "binary content", nil
	}
	return true, "", nil
}

// containsIndexable reports whether dir holds at least one indexable file anywhere below it
func (u *unit) containsIndexable(ctx context.Context, dir string) (bool, error) {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if u.ignored(path, d.IsDir()) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		ok, _, err := u.indexableFile(path, info)
		if err != nil || ok {
			return errFound
		}
		return nil
	})
	if errors.Is(err, errFound) {
		return true, nil
	}
	return false, err
}

// indexableChildren lists the direct children of dir that take part in its synthesis
func (u *unit) indexableChildren(ctx context.Context, dir string) ([]ChildEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var children []ChildEntry
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if e.Type()&fs.ModeSymlink != 0 || u.ignored(path, e.IsDir()) {
			continue
		}
		if e.IsDir() {
			ok, err := u.containsIndexable(ctx, path)
			if err != nil {
				return nil, err
			}
			if ok {
				children = append(children, ChildEntry{Name: e.Name(), Path: path, IsDir: true})
			}
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		ok, _, err := u.indexableFile(path, info)
		if err != nil || ok {
			children = append(children, ChildEntry{Name: e.Name(), Path: path})
		}
	}
	return children, nil
}

// ChildEntry is a direct child of a source directory
type ChildEntry struct {
	Name  string
	Path  string
	IsDir bool
}

// ChildNames returns the names in order; directories get a trailing slash
func ChildNames(children []ChildEntry) []string {
	names := make([]string, len(children))
	for i, c := range children {
		names[i] = c.Name
		if c.IsDir {
			names[i] += "/"
		}
	}
	return names
}

func (u *unit) validate(ctx context.Context, kf *types.KnowledgeFile) types.ValidationResult {
	source, err := u.sourceFor(kf)
	if err != nil {
		return types.ValidationResult{Reason: "artifact does not map to a source: " + err.Error()}
	}

	info, err := os.Lstat(source)
	if os.IsNotExist(err) {
		return types.ValidationResult{SourcePath: source, Reason: "source no longer exists"}
	}
	if err != nil {
		return u.unreadable(kf, source, err)
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		return types.ValidationResult{SourcePath: source, Reason: "source is a symlink; symlinks are not indexed"}
	}

	if kf.FileType == types.FileTypeCache {
		return u.validateCache(kf, source, info)
	}
	return u.validateKnowledge(ctx, kf, source, info)
}

func (u *unit) validateCache(kf *types.KnowledgeFile, source string, info fs.FileInfo) types.ValidationResult {
	if info.IsDir() {
		return types.ValidationResult{SourcePath: source, Reason: "source is now a directory"}
	}
	if u.ignored(source, false) {
		return types.ValidationResult{SourcePath: source, Reason: "source excluded by ignore rules"}
	}
	ok, why, err := u.indexableFile(source, info)
	if err != nil {
		return u.unreadable(kf, source, err)
	}
	if !ok {
		return types.ValidationResult{SourcePath: source, Reason: "source excluded: " + why}
	}

	rec, err := ReadCacheArtifact(kf.Path)
	if err != nil {
		return types.ValidationResult{SourceExists: true, SourcePath: source, IsStale: true, Reason: "artifact unreadable: " + err.Error()}
	}
	verdict, err := u.comparator.Compare(source, info, rec)
	if err != nil {
		return u.unreadable(kf, source, err)
	}
	return types.ValidationResult{SourceExists: true, SourcePath: source, IsStale: verdict.Stale, Reason: verdict.Reason}
}

func (u *unit) validateKnowledge(ctx context.Context, kf *types.KnowledgeFile, source string, info fs.FileInfo) types.ValidationResult {
	if !info.IsDir() {
		return types.ValidationResult{SourcePath: source, Reason: "source is no longer a directory"}
	}
	if source != u.root && u.ignored(source, true) {
		return types.ValidationResult{SourcePath: source, Reason: "source excluded by ignore rules"}
	}

	children, err := u.indexableChildren(ctx, source)
	if err != nil {
		return u.unreadable(kf, source, err)
	}
	if len(children) == 0 {
		return types.ValidationResult{SourcePath: source, Reason: "directory has no indexable content"}
	}

	rec, err := ReadKnowledgeArtifact(kf.Path)
	if err != nil {
		return types.ValidationResult{SourceExists: true, SourcePath: source, IsStale: true, Reason: "artifact unreadable: " + err.Error()}
	}
	if added, removed := diffNames(rec.Children, ChildNames(children)); len(added)+len(removed) > 0 {
		return types.ValidationResult{
			SourceExists: true,
			SourcePath:   source,
			IsStale:      true,
			Reason:       fmt.Sprintf("children changed: added %v, removed %v", added, removed),
		}
	}

	artInfo, err := os.Stat(kf.Path)
	if err != nil {
		return types.ValidationResult{SourceExists: true, SourcePath: source, IsStale: true, Reason: "artifact unreadable: " + err.Error()}
	}
	for _, c := range children {
		childArtifact, err := u.childArtifact(c)
		if err != nil {
			continue
		}
		ci, err := os.Stat(childArtifact)
		if err != nil {
			// Missing child artifacts get their own create decision, which propagates here.
			continue
		}
		if ci.ModTime().After(artInfo.ModTime()) {
			return types.ValidationResult{
				SourceExists: true,
				SourcePath:   source,
				IsStale:      true,
				Reason:       fmt.Sprintf("child artifact newer than synthesis: %s", c.Name),
			}
		}
	}
	return types.ValidationResult{SourceExists: true, SourcePath: source, Reason: "children unchanged and no child artifact is newer"}
}

func (u *unit) childArtifact(c ChildEntry) (string, error) {
	if c.IsDir {
		return u.knowledgePath(c.Path)
	}
	return u.cachePath(c.Path)
}

func (u *unit) unreadable(kf *types.KnowledgeFile, source string, err error) types.ValidationResult {
	return types.ValidationResult{
		SourceExists: true,
		SourcePath:   source,
		IsStale:      true,
		Reason:       "source unreadable, treated as stale: " + err.Error(),
		Err:          &types.ValidationError{Path: kf.Path, SourcePath: source, Err: err},
	}
}

func diffNames(old, current []string) (added, removed []string) {
	oldSet := make(map[string]struct{}, len(old))
	for _, n := range old {
		oldSet[n] = struct{}{}
	}
	curSet := make(map[string]struct{}, len(current))
	for _, n := range current {
		curSet[n] = struct{}{}
		if _, ok := oldSet[n]; !ok {
			added = append(added, n)
		}
	}
	for _, n := range old {
		if _, ok := curSet[n]; !ok {
			removed = append(removed, n)
		}
	}
	return added, removed
}
