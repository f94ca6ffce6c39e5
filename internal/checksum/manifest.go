package checksum

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"unicode"

	kerrors "github.com/PolarWolf314/sett/internal/errors"
)

// Entry is one manifest line.
type Entry struct {
	Digest string
	Path   string
}

// SerializeManifest renders entries as manifest lines.
//
// Backslashes are path separators only on Windows, where they are
// converted; anywhere else a path containing one is rejected.
func SerializeManifest(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer

	for _, e := range entries {
		p := e.Path
		if strings.Contains(p, `\`) {
			if runtime.GOOS != "windows" {
				return nil, fmt.Errorf("%w: path %q contains a backslash", kerrors.ErrValidation, p)
			}
			p = strings.ReplaceAll(p, `\`, "/")
		}

		if !IsDigest(e.Digest) {
			return nil, fmt.Errorf("%w: invalid digest %q for %s", kerrors.ErrValidation, e.Digest, p)
		}
		if p == "" || strings.ContainsAny(p, "\n\r") {
			return nil, fmt.Errorf("%w: invalid manifest path %q", kerrors.ErrValidation, p)
		}
		if r := []rune(p)[0]; unicode.IsSpace(r) {
			return nil, fmt.Errorf("%w: path %q starts with whitespace", kerrors.ErrValidation, p)
		}

		buf.WriteString(e.Digest)
		buf.WriteByte(' ')
		buf.WriteString(p)
		buf.WriteByte('\n')
	}

	return buf.Bytes(), nil
}

// ParseManifest reads manifest lines from r.
//
// Each line is split at its first run of whitespace; a line that does not
// yield a digest and a path is a format error. Absolute paths and paths
// leaving the root are security errors.
func ParseManifest(r io.Reader) ([]Entry, error) {
	var entries []Entry

	br := bufio.NewReader(r)
	for lineNo := 1; ; lineNo++ {
		line, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("reading manifest: %w", err)
		}
		if line == "" && err == io.EOF {
			break
		}
		line = strings.TrimSuffix(line, "\n")

		entry, perr := parseLine(line)
		if perr != nil {
			return nil, fmt.Errorf("manifest line %d: %w", lineNo, perr)
		}
		entries = append(entries, entry)

		if err == io.EOF {
			break
		}
	}

	return entries, nil
}

func parseLine(line string) (Entry, error) {
	idx := strings.IndexFunc(line, unicode.IsSpace)
	if idx < 0 {
		return Entry{}, fmt.Errorf("%w: expected \"<digest> <path>\", got %q", kerrors.ErrFormat, line)
	}

	digest := line[:idx]
	p := strings.TrimLeftFunc(line[idx:], unicode.IsSpace)
	if p == "" {
		return Entry{}, fmt.Errorf("%w: missing path after digest %q", kerrors.ErrFormat, digest)
	}
	if !IsDigest(digest) {
		return Entry{}, fmt.Errorf("%w: invalid digest %q", kerrors.ErrFormat, digest)
	}
	if err := checkRelative(p); err != nil {
		return Entry{}, err
	}

	return Entry{Digest: digest, Path: p}, nil
}

// checkRelative rejects absolute paths and paths that climb above the root.
func checkRelative(p string) error {
	slashed := strings.ReplaceAll(p, `\`, "/")
	if path.IsAbs(slashed) || filepath.IsAbs(p) || filepath.VolumeName(p) != "" {
		return fmt.Errorf("%w: absolute path %q", kerrors.ErrSecurity, p)
	}
	cleaned := path.Clean(slashed)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("%w: path %q escapes the root", kerrors.ErrSecurity, p)
	}
	return nil
}

// VerifyManifest recomputes the digest of every entry below basePath and
// returns an *IntegrityError for the first mismatch.
func VerifyManifest(entries []Entry, basePath string) error {
	for _, e := range entries {
		if err := checkRelative(e.Path); err != nil {
			return err
		}

		target := filepath.Join(basePath, filepath.FromSlash(e.Path))
		actual, err := FileDigest(target)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("%w: %s listed in manifest but missing", kerrors.ErrIntegrity, e.Path)
			}
			return fmt.Errorf("hashing %s: %w", e.Path, err)
		}

		if actual != e.Digest {
			return &kerrors.IntegrityError{Path: e.Path, Expected: e.Digest, Actual: actual}
		}
	}

	return nil
}
