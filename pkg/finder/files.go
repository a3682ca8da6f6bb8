package finder

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ritzau/assetpipe/pkg/model"
	"github.com/ritzau/assetpipe/pkg/paths"
)

// FindFiles walks a category's source root and returns the absolute paths of
// all files selected by its glob, in lexical order. A missing root yields no
// files.
func FindFiles(table *paths.Table, category model.Category) ([]string, error) {
	entry, ok := table.Entry(category)
	if !ok {
		return nil, nil
	}
	root := table.SourceDir(category)

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == root {
				return filepath.SkipDir
			}
			return err
		}

		if d.IsDir() {
			// Skip hidden directories (e.g., .git, .sass-cache)
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		rest, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if entry.MatchRemainder(filepath.ToSlash(rest)) {
			files = append(files, path)
		}
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	sort.Strings(files)
	return files, err
}
