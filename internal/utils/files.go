package utils

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	kerrors "github.com/PolarWolf314/sett/internal/errors"
)

// InputFile is a regular file selected for packaging.
type InputFile struct {
	// Path is the absolute path on disk.
	Path string
	// ArchivePath is the slash-separated path relative to the common root.
	ArchivePath string
	Size        int64
}

// ExpandInputs turns paths, directories and glob patterns into a sorted
// list of readable regular files. Directories are walked recursively and
// patterns use doublestar syntax (e.g. "data/**/*.csv").
//
// Returns ErrNoFilesFound if nothing matches and ErrValidation if an input
// does not exist or cannot be read.
func ExpandInputs(inputs []string) ([]InputFile, error) {
	seen := make(map[string]bool)
	var paths []string

	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}

	for _, input := range inputs {
		abs, err := filepath.Abs(input)
		if err != nil {
			return nil, fmt.Errorf("%w: resolving %s: %v", kerrors.ErrValidation, input, err)
		}

		if _, err := os.Lstat(abs); err != nil {
			if !os.IsNotExist(err) || !hasMeta(input) {
				return nil, fmt.Errorf("%w: %s: %v", kerrors.ErrValidation, input, err)
			}
			matches, err := doublestar.FilepathGlob(abs, doublestar.WithFilesOnly())
			if err != nil {
				return nil, fmt.Errorf("%w: bad pattern %q: %v", kerrors.ErrValidation, input, err)
			}
			for _, m := range matches {
				add(m)
			}
			continue
		}

		err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type().IsRegular() {
				add(p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("%w: walking %s: %v", kerrors.ErrValidation, input, err)
		}
	}

	if len(paths) == 0 {
		return nil, kerrors.ErrNoFilesFound
	}
	sort.Strings(paths)

	root := CommonRoot(paths)
	files := make([]InputFile, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %s is not readable: %v", kerrors.ErrValidation, p, err)
		}
		info, err := f.Stat()
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", kerrors.ErrValidation, p, err)
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", kerrors.ErrValidation, p, err)
		}
		files = append(files, InputFile{Path: p, ArchivePath: filepath.ToSlash(rel), Size: info.Size()})
	}

	return files, nil
}

func hasMeta(p string) bool {
	return strings.ContainsAny(p, "*?[{")
}

// CommonRoot returns the deepest directory containing every file in paths.
func CommonRoot(paths []string) string {
	if len(paths) == 0 {
		return ""
	}

	root := filepath.Dir(paths[0])
	for _, p := range paths[1:] {
		for !isWithin(root, p) {
			parent := filepath.Dir(root)
			if parent == root {
				return root
			}
			root = parent
		}
	}
	return root
}

func isWithin(dir, p string) bool {
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

// UniqueDir creates a new directory at path, or at path_1, path_2, ... when
// the name is taken, and returns the path it created.
func UniqueDir(path string) (string, error) {
	candidate := path
	for i := 1; ; i++ {
		err := os.Mkdir(candidate, 0755)
		if err == nil {
			return candidate, nil
		}
		if !os.IsExist(err) {
			return "", err
		}
		candidate = fmt.Sprintf("%s_%d", path, i)
	}
}

// UniqueFile creates a new file named stem+ext in dir, or stem_1+ext,
// stem_2+ext, ... when the name is taken. The caller closes the file.
func UniqueFile(dir, stem, ext string) (*os.File, error) {
	name := stem + ext
	for i := 1; ; i++ {
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return f, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}
		name = fmt.Sprintf("%s_%d%s", stem, i, ext)
	}
}

// TotalSize sums the sizes of files.
func TotalSize(files []InputFile) int64 {
	var total int64
	for _, f := range files {
		total += f.Size
	}
	return total
}
