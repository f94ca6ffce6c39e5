package container

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	kerrors "github.com/PolarWolf314/sett/internal/errors"
)

type unpackConfig struct {
	stripPrefix string
	control     func(name string, body io.Reader) error
}

// UnpackOption customises UnpackAll.
type UnpackOption func(*unpackConfig)

// WithStripPrefix removes prefix from content entry names; entries without
// it are rejected.
func WithStripPrefix(prefix string) UnpackOption {
	return func(c *unpackConfig) {
		c.stripPrefix = prefix
	}
}

// WithControlHandler receives the body of every reserved entry instead of
// it being skipped.
func WithControlHandler(fn func(name string, body io.Reader) error) UnpackOption {
	return func(c *unpackConfig) {
		c.control = fn
	}
}

// UnpackAll writes every non-reserved entry of r below dest and returns the
// relative paths it created. Entries that would resolve outside dest, and
// anything other than regular files and directories, are security errors;
// nothing is ever written outside dest.
func UnpackAll(r *Reader, dest string, opts ...UnpackOption) ([]string, error) {
	var cfg unpackConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	root, err := filepath.Abs(dest)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dest, err)
	}

	var written []string
	for {
		name, body, err := r.Next()
		if errors.Is(err, io.EOF) {
			return written, nil
		}
		if err != nil {
			return written, err
		}

		if IsReserved(name) {
			if cfg.control != nil {
				if err := cfg.control(name, body); err != nil {
					return written, err
				}
			}
			continue
		}

		rel, err := contentPath(name, cfg.stripPrefix)
		if err != nil {
			return written, err
		}
		if rel == "" {
			if r.Header().Typeflag == tar.TypeDir {
				continue
			}
			return written, fmt.Errorf("%w: empty entry name %q", kerrors.ErrFormat, name)
		}

		target := filepath.Join(root, filepath.FromSlash(rel))
		if !strings.HasPrefix(filepath.Clean(target), filepath.Clean(root)+string(os.PathSeparator)) {
			return written, fmt.Errorf("%w: entry %q resolves outside %s", kerrors.ErrSecurity, name, dest)
		}

		switch r.Header().Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return written, fmt.Errorf("creating %s: %w", rel, err)
			}
		case tar.TypeReg:
			if err := writeFile(target, body); err != nil {
				return written, fmt.Errorf("writing %s: %w", rel, err)
			}
			written = append(written, rel)
		default:
			return written, fmt.Errorf("%w: entry %q has unsupported type %q", kerrors.ErrSecurity, name, r.Header().Typeflag)
		}
	}
}

// contentPath validates an entry name and returns it relative to the
// unpack root. The prefix directory itself yields "".
func contentPath(name, prefix string) (string, error) {
	slashed := strings.ReplaceAll(name, `\`, "/")
	if path.IsAbs(slashed) || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("%w: absolute entry name %q", kerrors.ErrSecurity, name)
	}

	cleaned := path.Clean(slashed)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: entry %q escapes the destination", kerrors.ErrSecurity, name)
	}

	if prefix != "" {
		trimmed := strings.TrimSuffix(prefix, "/")
		if cleaned != trimmed && !strings.HasPrefix(cleaned, trimmed+"/") {
			return "", fmt.Errorf("%w: unexpected entry %q outside %s", kerrors.ErrFormat, name, prefix)
		}
		cleaned = strings.TrimPrefix(strings.TrimPrefix(cleaned, trimmed), "/")
	}

	if cleaned == "." {
		cleaned = ""
	}
	return cleaned, nil
}

func writeFile(target string, body io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
