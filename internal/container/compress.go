package container

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	kerrors "github.com/PolarWolf314/sett/internal/errors"
)

// Compression algorithm names as recorded in metadata.
const (
	None = ""
	Gzip = "gzip"
	Zstd = "zstd"
)

// ValidAlgorithm reports whether name is a supported compression algorithm.
func ValidAlgorithm(name string) bool {
	switch name {
	case None, "none", Gzip, Zstd:
		return true
	}
	return false
}

// Algorithm resolves the algorithm actually used for a level: level 0 is
// always uncompressed and an empty name means gzip.
func Algorithm(name string, level int) string {
	if level == 0 || name == "none" {
		return None
	}
	if name == None {
		return Gzip
	}
	return name
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error {
	return nil
}

func compressor(w io.Writer, algorithm string, level int) (io.WriteCloser, error) {
	if level < 0 || level > 9 {
		return nil, fmt.Errorf("%w: compression level must be between 0 and 9, got %d", kerrors.ErrValidation, level)
	}

	switch Algorithm(algorithm, level) {
	case None:
		return nopWriteCloser{w}, nil
	case Gzip:
		return gzip.NewWriterLevel(w, level)
	case Zstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	default:
		return nil, fmt.Errorf("%w: unknown compression algorithm %q", kerrors.ErrValidation, algorithm)
	}
}

func decompressor(r io.Reader, algorithm string) (io.ReadCloser, error) {
	switch algorithm {
	case None, "none":
		return io.NopCloser(r), nil
	case Gzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: gzip stream: %v", kerrors.ErrFormat, err)
		}
		return zr, nil
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd stream: %v", kerrors.ErrFormat, err)
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("%w: unknown compression algorithm %q", kerrors.ErrValidation, algorithm)
	}
}
