package scanner

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/panbanda/embargo/pkg/config"
	"github.com/panbanda/embargo/pkg/parser"
)

// Scanner finds parseable source files under a set of paths.
type Scanner struct {
	config   *config.Config
	exts     map[string]bool
	matchers []rootedMatcher
}

// rootedMatcher applies gitignore patterns relative to root.
type rootedMatcher struct {
	root string
	m    gitignore.Matcher
}

// NewScanner creates a scanner that keeps files with the given extensions.
// Without extensions it keeps every built-in language.
func NewScanner(cfg *config.Config, extensions ...string) *Scanner {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if len(extensions) == 0 {
		for _, lang := range parser.BuiltinLanguages() {
			extensions = append(extensions, lang.Extensions()...)
		}
	}
	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		exts[strings.ToLower(e)] = true
	}
	return &Scanner{config: cfg, exts: exts}
}

// findGitRoot finds the root of the git repository by looking for .git directory.
// Returns empty string if not in a git repository.
func findGitRoot(start string) string {
	dir := start
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadExcludePatterns builds the matchers for root: config patterns are
// rooted at root, .gitignore files at the repository root.
func (s *Scanner) loadExcludePatterns(root string) {
	s.matchers = s.matchers[:0]

	var patterns []gitignore.Pattern
	for _, p := range s.config.Exclude.Patterns {
		patterns = append(patterns, gitignore.ParsePattern(p, nil))
	}
	if len(patterns) > 0 {
		s.matchers = append(s.matchers, rootedMatcher{root: root, m: gitignore.NewMatcher(patterns)})
	}

	if !s.config.Exclude.Gitignore {
		return
	}
	gitRoot := findGitRoot(root)
	if gitRoot == "" {
		return
	}
	gitPatterns, err := gitignore.ReadPatterns(osfs.New(gitRoot), nil)
	if err != nil || len(gitPatterns) == 0 {
		return
	}
	s.matchers = append(s.matchers, rootedMatcher{root: gitRoot, m: gitignore.NewMatcher(gitPatterns)})
}

// isExcluded checks an absolute path against the configured exclusions.
func (s *Scanner) isExcluded(path string, isDir bool) bool {
	for _, rm := range s.matchers {
		rel, err := filepath.Rel(rm.root, path)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		if rm.m.Match(strings.Split(rel, string(filepath.Separator)), isDir) {
			return true
		}
	}
	return false
}

func (s *Scanner) isExcludedDir(name string) bool {
	return slices.Contains(s.config.Exclude.Dirs, name)
}

// accepts applies extension routing and the config exclusions. rel is the
// path relative to the scan root.
func (s *Scanner) accepts(rel string) bool {
	if !s.exts[strings.ToLower(filepath.Ext(rel))] {
		return false
	}
	return !s.config.ShouldExclude(rel)
}

// ScanDir recursively scans a directory for source files. Symlinks that
// resolve outside root are not followed.
func (s *Scanner) ScanDir(root string) ([]string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	absRoot, err = filepath.EvalSymlinks(absRoot)
	if err != nil {
		return nil, err
	}

	s.loadExcludePatterns(absRoot)

	files := make([]string, 0, 1024)
	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			resolved, err := filepath.EvalSymlinks(path)
			if err != nil || !isWithinRoot(resolved, absRoot) {
				return nil
			}
		}

		if d.IsDir() {
			if path != absRoot && (s.isExcludedDir(d.Name()) || s.isExcluded(path, true)) {
				return filepath.SkipDir
			}
			return nil
		}

		rel, _ := filepath.Rel(absRoot, path)
		if s.isExcluded(path, false) || !s.accepts(rel) {
			return nil
		}
		files = append(files, path)
		return nil
	})

	return files, walkErr
}

// Filter returns the rules ScanDir applies under root. keepDir reports
// whether a directory should be descended into, keepFile whether a file
// would be scanned. Both take absolute paths.
func (s *Scanner) Filter(root string) (keepDir, keepFile func(path string) bool, err error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, nil, err
	}
	absRoot, err = filepath.EvalSymlinks(absRoot)
	if err != nil {
		return nil, nil, err
	}
	s.loadExcludePatterns(absRoot)

	keepDir = func(path string) bool {
		if path == absRoot {
			return true
		}
		return !s.isExcludedDir(filepath.Base(path)) && !s.isExcluded(path, true)
	}
	keepFile = func(path string) bool {
		rel, err := filepath.Rel(absRoot, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			return false
		}
		for dir := filepath.Dir(rel); dir != "."; dir = filepath.Dir(dir) {
			if s.isExcludedDir(filepath.Base(dir)) {
				return false
			}
		}
		return !s.isExcluded(path, false) && s.accepts(rel)
	}
	return keepDir, keepFile, nil
}

// ScanPaths expands directories and keeps parseable files, returning a
// sorted, deduplicated list. Files named explicitly bypass gitignore rules
// but not extension routing.
func (s *Scanner) ScanPaths(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			found, err := s.ScanDir(p)
			if err != nil {
				return nil, err
			}
			files = append(files, found...)
			continue
		}
		ok, err := s.ScanFile(p)
		if err != nil {
			return nil, err
		}
		if ok {
			abs, err := filepath.Abs(p)
			if err != nil {
				return nil, err
			}
			if resolved, err := filepath.EvalSymlinks(abs); err == nil {
				abs = resolved
			}
			files = append(files, abs)
		}
	}
	slices.Sort(files)
	return slices.Compact(files), nil
}

// isWithinRoot checks if a path is contained within the root directory.
// Returns false if the path escapes via symlinks or relative paths.
func isWithinRoot(path, root string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	absPath = filepath.Clean(absPath)
	root = filepath.Clean(root)

	// separator suffix keeps "/root2" from matching "/root"
	return absPath == root || strings.HasPrefix(absPath, root+string(filepath.Separator))
}

// ScanFile checks if a single file should be analyzed.
func (s *Scanner) ScanFile(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	if info.IsDir() {
		return false, nil
	}
	return s.accepts(filepath.Base(path)), nil
}

// GroupByLanguage groups files by their built-in language. Files handled
// only by external parsers are grouped under LangUnknown.
func GroupByLanguage(files []string) map[parser.Language][]string {
	groups := make(map[parser.Language][]string)
	for _, f := range files {
		lang := parser.DetectLanguage(f)
		groups[lang] = append(groups[lang], f)
	}
	return groups
}
