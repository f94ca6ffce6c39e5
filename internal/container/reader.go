package container

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"

	kerrors "github.com/PolarWolf314/sett/internal/errors"
)

// MaxExtractSize caps entries read into memory by ExtractNamed.
const MaxExtractSize = 64 << 20

// Reader iterates over container entries lazily.
type Reader struct {
	tr     *tar.Reader
	closer io.Closer
	header *tar.Header
}

// NewReader reads a container compressed with algorithm (None for the
// outer container).
func NewReader(r io.Reader, algorithm string) (*Reader, error) {
	dr, err := decompressor(r, algorithm)
	if err != nil {
		return nil, err
	}
	return &Reader{tr: tar.NewReader(dr), closer: dr}, nil
}

// Next advances to the next entry. The body is valid until the next call.
// Returns io.EOF after the last entry.
func (r *Reader) Next() (string, io.Reader, error) {
	header, err := r.tr.Next()
	if err == io.EOF {
		return "", nil, io.EOF
	}
	if err != nil {
		return "", nil, fmt.Errorf("%w: reading container: %v", kerrors.ErrFormat, err)
	}
	r.header = header
	return header.Name, r.tr, nil
}

// Header returns the tar header of the current entry.
func (r *Reader) Header() *tar.Header {
	return r.header
}

// Close releases the decompressor.
func (r *Reader) Close() error {
	return r.closer.Close()
}

// ExtractNamed reads the named entries of an uncompressed container in a
// single pass and stops as soon as all of them have been seen. A missing
// name is a format error.
func ExtractNamed(r io.Reader, names ...string) (map[string][]byte, error) {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	cr, err := NewReader(r, None)
	if err != nil {
		return nil, err
	}
	defer cr.Close()

	found := make(map[string][]byte, len(names))
	for len(found) < len(wanted) {
		name, body, err := cr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if !wanted[name] {
			continue
		}
		if _, dup := found[name]; dup {
			return nil, fmt.Errorf("%w: duplicate entry %q", kerrors.ErrFormat, name)
		}

		var buf bytes.Buffer
		n, err := io.Copy(&buf, io.LimitReader(body, MaxExtractSize+1))
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", kerrors.ErrFormat, name, err)
		}
		if n > MaxExtractSize {
			return nil, fmt.Errorf("%w: entry %s exceeds %d bytes", kerrors.ErrFormat, name, MaxExtractSize)
		}
		found[name] = buf.Bytes()
	}

	for _, n := range names {
		if _, ok := found[n]; !ok {
			return nil, fmt.Errorf("%w: container has no %q entry", kerrors.ErrFormat, n)
		}
	}

	return found, nil
}

// OpenNamed advances an uncompressed container to the named entry and
// returns a stream over its body.
func OpenNamed(r io.Reader, name string) (io.Reader, error) {
	cr, err := NewReader(r, None)
	if err != nil {
		return nil, err
	}

	for {
		n, body, err := cr.Next()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: container has no %q entry", kerrors.ErrFormat, name)
		}
		if err != nil {
			return nil, err
		}
		if n == name {
			return body, nil
		}
	}
}

// Decompress copies the decompressed container stream from r to dst
// without interpreting it.
func Decompress(dst io.Writer, r io.Reader, algorithm string) (int64, error) {
	dr, err := decompressor(r, algorithm)
	if err != nil {
		return 0, err
	}
	defer dr.Close()

	n, err := io.Copy(dst, dr)
	if err != nil {
		return n, fmt.Errorf("%w: decompressing: %v", kerrors.ErrFormat, err)
	}
	return n, nil
}
