package dirtree

import (
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Walk lists every regular file under the root of fs as slash-delimited
// relative paths. Directories named in ignore are not descended into.
func Walk(fs afero.Fs, ignore []string) ([]string, error) {
	skip := make(map[string]struct{}, len(ignore))
	for _, name := range ignore {
		skip[name] = struct{}{}
	}

	files := make([]string, 0)
	err := afero.Walk(fs, ".", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == "." {
			return nil
		}
		if _, ok := skip[info.Name()]; ok {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}
		files = append(files, filepath.ToSlash(path))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
