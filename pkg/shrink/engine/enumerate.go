package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"
	"github.com/gobwas/glob"
)

// enumerator lists the regular files a run considers.
type enumerator struct {
	root    string
	scope   Scope
	filter  glob.Glob
	skipDir string
	skip    map[string]struct{}
}

func newEnumerator(root string, settings Settings, skipDir string, skipFiles ...string) (*enumerator, error) {
	pattern := strings.TrimSpace(settings.SearchFilter)
	if pattern == "" {
		pattern = "*"
	}

	g, err := glob.Compile(strings.ToLower(pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid search filter %q: %w", settings.SearchFilter, err)
	}

	e := &enumerator{
		root:   root,
		scope:  settings.SearchScope,
		filter: g,
		skip:   make(map[string]struct{}, len(skipFiles)),
	}
	if skipDir != "" && skipDir != root && isWithin(root, skipDir) {
		e.skipDir = skipDir
	}
	for _, f := range skipFiles {
		e.skip[filepath.Clean(f)] = struct{}{}
	}
	return e, nil
}

func (e *enumerator) match(path string) bool {
	if _, ok := e.skip[path]; ok {
		return false
	}
	return e.filter.Match(strings.ToLower(filepath.Base(path)))
}

// list returns matching files sorted by path.
func (e *enumerator) list(ctx context.Context) ([]string, error) {
	var (
		files []string
		err   error
	)
	if e.scope == TopLevel {
		files, err = e.listTopLevel()
	} else {
		files, err = e.walk(ctx)
	}
	if err != nil {
		return nil, err
	}

	slices.Sort(files)
	return files, nil
}

func (e *enumerator) listTopLevel() ([]string, error) {
	entries, err := os.ReadDir(e.root)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(e.root, entry.Name())
		if e.match(path) {
			files = append(files, path)
		}
	}
	return files, nil
}

func (e *enumerator) walk(ctx context.Context) ([]string, error) {
	conf := fastwalk.Config{
		Follow: false,
	}

	var (
		mu    sync.Mutex
		files []string
	)

	err := fastwalk.Walk(&conf, e.root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			logger.Debug("walk error", "path", path, "error", err)
			return nil
		}

		if d.IsDir() {
			if e.skipDir != "" && path == e.skipDir {
				return fastwalk.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if !e.match(path) {
			return nil
		}

		mu.Lock()
		files = append(files, path)
		mu.Unlock()
		return nil
	})
	if err != nil && !errors.Is(err, fastwalk.ErrSkipFiles) {
		return nil, err
	}
	return files, nil
}

// isWithin reports whether path is root or below it.
func isWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
