package fsutil

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultExtensions is the band-image extension set used when none is given.
var DefaultExtensions = []string{".tif"}

// ListImages returns every file under root whose extension matches one of
// exts (case-insensitive), sorted lexically so discovery order does not
// depend on directory enumeration order.
func ListImages(root string, exts ...string) ([]string, error) {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	want := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		e = strings.ToLower(e)
		if e != "" && e[0] != '.' {
			e = "." + e
		}
		want[e] = struct{}{}
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if _, ok := want[ext]; ok {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// Exists reports whether path exists. Stat errors other than not-exist count
// as existing so a caller never overwrites something it could not inspect.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}

// EnsureDir creates dir and any parents. An empty dir is a no-op.
func EnsureDir(dir string) error {
	if dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
