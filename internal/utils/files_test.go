package utils

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	kerrors "github.com/PolarWolf314/sett/internal/errors"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func TestExpandInputs_DirectoriesAreWalked(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "data", "a.csv"), "a")
	writeFile(t, filepath.Join(root, "data", "nested", "b.csv"), "bb")

	files, err := ExpandInputs([]string{filepath.Join(root, "data")})
	if err != nil {
		t.Fatalf("ExpandInputs failed: %v", err)
	}

	if len(files) != 2 {
		t.Fatalf("Expected 2 files, got %d", len(files))
	}
	if files[0].ArchivePath != "a.csv" || files[1].ArchivePath != "nested/b.csv" {
		t.Errorf("Unexpected archive paths: %q, %q", files[0].ArchivePath, files[1].ArchivePath)
	}
	if TotalSize(files) != 3 {
		t.Errorf("Expected total size 3, got %d", TotalSize(files))
	}
}

func TestExpandInputs_GlobPatterns(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "x", "keep.csv"), "1")
	writeFile(t, filepath.Join(root, "x", "y", "keep2.csv"), "2")
	writeFile(t, filepath.Join(root, "x", "skip.txt"), "3")

	files, err := ExpandInputs([]string{filepath.Join(root, "x", "**", "*.csv")})
	if err != nil {
		t.Fatalf("ExpandInputs failed: %v", err)
	}

	if len(files) != 2 {
		t.Fatalf("Expected 2 csv files, got %d", len(files))
	}
}

func TestExpandInputs_Errors(t *testing.T) {
	root := t.TempDir()

	_, err := ExpandInputs([]string{filepath.Join(root, "missing.txt")})
	if !errors.Is(err, kerrors.ErrValidation) {
		t.Errorf("Expected ErrValidation for missing file, got %v", err)
	}

	_, err = ExpandInputs([]string{filepath.Join(root, "*.none")})
	if !errors.Is(err, kerrors.ErrNoFilesFound) {
		t.Errorf("Expected ErrNoFilesFound for empty glob, got %v", err)
	}

	if err := os.Mkdir(filepath.Join(root, "empty"), 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	_, err = ExpandInputs([]string{filepath.Join(root, "empty")})
	if !errors.Is(err, kerrors.ErrNoFilesFound) {
		t.Errorf("Expected ErrNoFilesFound for empty dir, got %v", err)
	}
}

func TestExpandInputs_DeduplicatesOverlappingInputs(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "d", "f.bin")
	writeFile(t, file, "x")

	files, err := ExpandInputs([]string{filepath.Join(root, "d"), file})
	if err != nil {
		t.Fatalf("ExpandInputs failed: %v", err)
	}
	if len(files) != 1 {
		t.Errorf("Expected 1 file after dedup, got %d", len(files))
	}
}

func TestCommonRoot(t *testing.T) {
	sep := string(os.PathSeparator)
	tests := []struct {
		name  string
		paths []string
		want  string
	}{
		{"single file", []string{sep + filepath.Join("a", "b", "c.txt")}, sep + filepath.Join("a", "b")},
		{"siblings", []string{sep + filepath.Join("a", "b", "1"), sep + filepath.Join("a", "b", "2")}, sep + filepath.Join("a", "b")},
		{"divergent", []string{sep + filepath.Join("a", "b", "1"), sep + filepath.Join("a", "c", "d", "2")}, sep + "a"},
		{"prefix is not parent", []string{sep + filepath.Join("a", "bc", "1"), sep + filepath.Join("a", "b", "2")}, sep + "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CommonRoot(tt.paths); got != tt.want {
				t.Errorf("CommonRoot() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUniqueDir(t *testing.T) {
	base := filepath.Join(t.TempDir(), "out")

	want := []string{base, base + "_1", base + "_2"}
	for _, w := range want {
		got, err := UniqueDir(base)
		if err != nil {
			t.Fatalf("UniqueDir failed: %v", err)
		}
		if got != w {
			t.Errorf("UniqueDir() = %q, want %q", got, w)
		}
	}
}

func TestUniqueFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "pkg.tar"), []byte("package"), 0644); err != nil {
		t.Fatalf("Failed to write existing file: %v", err)
	}

	want := []string{"pkg_decrypted.tar", "pkg_decrypted_1.tar"}
	for _, w := range want {
		f, err := UniqueFile(dir, "pkg_decrypted", ".tar")
		if err != nil {
			t.Fatalf("UniqueFile failed: %v", err)
		}
		f.Close()
		if got := filepath.Base(f.Name()); got != w {
			t.Errorf("UniqueFile() = %q, want %q", got, w)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, "pkg.tar"))
	if err != nil || string(data) != "package" {
		t.Errorf("Existing file was modified: %q, %v", data, err)
	}
}
