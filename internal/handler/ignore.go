package handler

import (
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultIgnoreRules are applied before user rules; user rules can negate them.
var DefaultIgnoreRules = []string{
	".git/",
	".hg/",
	".svn/",
	".idea/",
	".vscode/",
	"node_modules/",
	"vendor/",
	"__pycache__/",
	".venv/",
	"dist/",
	"build/",
	"target/",
	".DS_Store",
	"*.pyc",
}

type ignoreRule struct {
	re       *regexp.Regexp
	pattern  string
	negated  bool
	dirOnly  bool
	anchored bool
	hasSlash bool
}

// Matcher applies gitignore-like rules with "last rule wins" behavior.
type Matcher struct {
	rules []ignoreRule
}

// NewMatcher builds a matcher from the default rules followed by userRules.
func NewMatcher(userRules ...string) *Matcher {
	all := make([]string, 0, len(DefaultIgnoreRules)+len(userRules))
	all = append(all, DefaultIgnoreRules...)
	all = append(all, userRules...)

	m := &Matcher{rules: make([]ignoreRule, 0, len(all))}
	for _, line := range all {
		if r, ok := parseIgnoreRule(line); ok {
			m.rules = append(m.rules, r)
		}
	}
	return m
}

// ShouldIgnore reports whether relPath (relative to a unit root) is excluded.
func (m *Matcher) ShouldIgnore(relPath string, isDir bool) bool {
	relPath = normalizeRel(relPath)
	if relPath == "" || relPath == "." {
		return false
	}
	ignored := false
	for _, r := range m.rules {
		if r.matches(relPath, isDir) {
			ignored = !r.negated
		}
	}
	return ignored
}

func parseIgnoreRule(line string) (ignoreRule, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return ignoreRule{}, false
	}

	var r ignoreRule
	if strings.HasPrefix(line, "!") {
		r.negated = true
		line = line[1:]
	}
	if strings.HasPrefix(line, "/") {
		r.anchored = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	line = normalizeRel(line)
	if line == "" {
		return ignoreRule{}, false
	}

	re, err := regexp.Compile("^" + globToRegex(line) + "$")
	if err != nil {
		return ignoreRule{}, false
	}
	r.re = re
	r.pattern = line
	r.hasSlash = strings.Contains(line, "/")
	return r, true
}

func (r ignoreRule) matches(relPath string, isDir bool) bool {
	segments := strings.Split(relPath, "/")

	if r.dirOnly {
		// Any ancestor directory (or the path itself, when a directory) may match.
		last := len(segments) - 1
		if !isDir {
			last--
		}
		for i := 0; i <= last; i++ {
			if r.anchored || r.hasSlash {
				if r.re.MatchString(strings.Join(segments[:i+1], "/")) {
					return true
				}
				continue
			}
			if r.re.MatchString(segments[i]) {
				return true
			}
		}
		return false
	}

	if r.anchored {
		return r.re.MatchString(relPath)
	}

	if r.hasSlash {
		for i := range segments {
			if r.re.MatchString(strings.Join(segments[i:], "/")) {
				return true
			}
		}
		return false
	}

	for _, seg := range segments {
		if r.re.MatchString(seg) {
			return true
		}
	}
	return false
}

func globToRegex(pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		ch := pattern[i]
		switch {
		case ch == '*' && i+1 < len(pattern) && pattern[i+1] == '*':
			b.WriteString(".*")
			i++
		case ch == '*':
			b.WriteString("[^/]*")
		case ch == '?':
			b.WriteString("[^/]")
		case strings.ContainsRune(`.+()|[]{}^$\`, rune(ch)):
			b.WriteByte('\\')
			b.WriteByte(ch)
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

func normalizeRel(path string) string {
	path = filepath.ToSlash(path)
	path = strings.TrimPrefix(path, "./")
	path = strings.TrimPrefix(path, "/")
	return path
}
