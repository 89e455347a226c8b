package seed

import (
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
	log "github.com/sirupsen/logrus"
)

// Filter reports whether relPath (slash-separated, relative to the seed
// root) should be uploaded.
type Filter func(relPath string, isDir bool) bool

// BuildFilter creates a Filter that:
// 1. Always excludes .git
// 2. Checks excludes (force-exclude, highest priority)
// 3. Checks includes (force-include, overrides gitignore)
// 4. Applies .gitignore rules found under root when gitignore is set
func BuildFilter(root string, gitignore bool, includes, excludes []string) Filter {
	var matcher *gitignoreMatcher
	if gitignore {
		var err error
		matcher, err = newGitignoreMatcher(root)
		if err != nil {
			log.Warnf("[Seed] failed to build gitignore matcher: %v", err)
		}
	}

	return func(relPath string, isDir bool) bool {
		if hasPathPrefix(relPath, ".git") {
			return false
		}
		for _, exc := range excludes {
			if hasPathPrefix(relPath, exc) {
				return false
			}
		}
		for _, inc := range includes {
			if hasPathPrefix(relPath, inc) {
				return true
			}
		}
		if matcher != nil && matcher.isIgnored(relPath, isDir) {
			return false
		}
		return true
	}
}

func hasPathPrefix(p, prefix string) bool {
	prefix = strings.TrimSuffix(filepath.ToSlash(prefix), "/")
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

// gitignoreMatcher collects .gitignore rules from a tree
type gitignoreMatcher struct {
	matchers []scopedMatcher
}

type scopedMatcher struct {
	dirPrefix string
	ignore    *ignore.GitIgnore
}

func newGitignoreMatcher(root string) (*gitignoreMatcher, error) {
	m := &gitignoreMatcher{}

	err := filepath.WalkDir(root, func(path string, de os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if de.IsDir() {
			if de.Name() == ".git" && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if de.Name() != ".gitignore" {
			return nil
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		relDir, relErr := filepath.Rel(root, filepath.Dir(path))
		if relErr != nil {
			return nil
		}
		if relDir == "." {
			relDir = ""
		}

		m.matchers = append(m.matchers, scopedMatcher{
			dirPrefix: filepath.ToSlash(relDir),
			ignore:    ignore.CompileIgnoreLines(strings.Split(string(data), "\n")...),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *gitignoreMatcher) isIgnored(relPath string, isDir bool) bool {
	if m == nil || len(m.matchers) == 0 {
		return false
	}

	checkPath := relPath
	if isDir {
		checkPath = relPath + "/"
	}

	for _, sm := range m.matchers {
		pathToCheck := checkPath
		if sm.dirPrefix != "" {
			prefix := sm.dirPrefix + "/"
			if !strings.HasPrefix(relPath, prefix) {
				continue
			}
			pathToCheck = strings.TrimPrefix(checkPath, prefix)
		}
		if sm.ignore.MatchesPath(pathToCheck) {
			return true
		}
	}
	return false
}
