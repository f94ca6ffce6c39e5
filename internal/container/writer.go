package container

import (
	"archive/tar"
	"fmt"
	"io"
	"time"

	kerrors "github.com/PolarWolf314/sett/internal/errors"
	"github.com/PolarWolf314/sett/internal/progress"
)

// WriteOptions controls how a container is serialized.
type WriteOptions struct {
	// Level is the compression level, 0 (none) to 9.
	Level int
	// Algorithm is Gzip or Zstd; ignored when Level is 0.
	Algorithm string
	// Progress receives the share of TotalBytes written so far.
	Progress   progress.Reporter
	TotalBytes int64
	// ModTime is stamped on every header; zero means now.
	ModTime time.Time
}

// Write serializes entries to w in order. Entry bodies are streamed.
// Duplicate names are rejected before anything is written.
func Write(w io.Writer, entries []Entry, opts WriteOptions) error {
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.Name() == "" {
			return fmt.Errorf("%w: empty entry name", kerrors.ErrValidation)
		}
		if seen[e.Name()] {
			return fmt.Errorf("%w: duplicate entry %q", kerrors.ErrValidation, e.Name())
		}
		seen[e.Name()] = true
	}

	cw, err := compressor(w, opts.Algorithm, opts.Level)
	if err != nil {
		return err
	}

	modTime := opts.ModTime
	if modTime.IsZero() {
		modTime = time.Now()
	}

	counter := progress.NewCounter(opts.TotalBytes, opts.Progress)
	tw := tar.NewWriter(cw)

	for _, e := range entries {
		if err := writeEntry(tw, e, modTime, counter); err != nil {
			cw.Close()
			return err
		}
	}

	if err := tw.Close(); err != nil {
		cw.Close()
		return fmt.Errorf("finishing tar stream: %w", err)
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("finishing compression: %w", err)
	}

	return nil
}

func writeEntry(tw *tar.Writer, e Entry, modTime time.Time, counter *progress.Counter) error {
	body, size, err := e.Open()
	if err != nil {
		return fmt.Errorf("opening %s: %w", e.Name(), err)
	}
	defer body.Close()

	header := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     e.Name(),
		Mode:     0644,
		Size:     size,
		ModTime:  modTime,
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("writing header for %s: %w", e.Name(), err)
	}

	n, err := io.Copy(tw, counter.Wrap(body))
	if err != nil {
		return fmt.Errorf("writing %s: %w", e.Name(), err)
	}
	if n != size {
		return fmt.Errorf("%s changed while being archived (expected %d bytes, read %d)", e.Name(), size, n)
	}

	return nil
}
