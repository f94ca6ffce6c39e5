package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	kerrors "github.com/PolarWolf314/sett/internal/errors"
	logger "github.com/PolarWolf314/sett/internal/logging"
	"github.com/PolarWolf314/sett/internal/progress"
)

const (
	// EnvelopeLayout names the per-upload directory.
	EnvelopeLayout = "20060102T150405"
	// DoneMarker is written last and signals a complete upload.
	DoneMarker = "done.txt"
	// PartSuffix marks a file that is still being written.
	PartSuffix = ".part"
	// DefaultChunkSize is the write size used when none is configured.
	DefaultChunkSize = 1 << 20
)

// UploadOptions configures Upload.
type UploadOptions struct {
	// Destination is the remote directory the envelope is created in.
	Destination string
	ChunkSize   int
	Progress    progress.Reporter
	Logger      logger.Logger
	// Now overrides the clock used to name the envelope.
	Now func() time.Time
}

// UploadResult describes a completed upload.
type UploadResult struct {
	Envelope string
	Files    []string
	Bytes    int64
}

// Upload copies files into a new envelope directory and writes the
// completion marker once every file has been renamed into place and its
// size confirmed.
func Upload(ctx context.Context, t Transport, files []string, opts UploadOptions) (*UploadResult, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: nothing to upload", kerrors.ErrNoFilesFound)
	}
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	// Files land flat in the envelope, so names must not collide.
	names := make(map[string]string, len(files))
	for _, f := range files {
		name := filepath.Base(f)
		if name == DoneMarker {
			return nil, fmt.Errorf("%w: %s clashes with the completion marker", kerrors.ErrValidation, f)
		}
		if prev, ok := names[name]; ok {
			return nil, fmt.Errorf("%w: %s and %s would both be uploaded as %s", kerrors.ErrValidation, prev, f, name)
		}
		names[name] = f
	}

	var total int64
	sizes := make([]int64, len(files))
	for i, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", kerrors.ErrFileNotFound, f)
		}
		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("%w: %s is not a regular file", kerrors.ErrValidation, f)
		}
		sizes[i] = info.Size()
		total += info.Size()
	}

	envelope := path.Join(opts.Destination, now().UTC().Format(EnvelopeLayout))
	if err := t.MkdirAll(envelope); err != nil {
		return nil, &kerrors.TransferError{Op: "create envelope", Path: envelope, Err: err}
	}
	opts.Logger.Infof("Uploading %d file(s) to %s", len(files), envelope)

	counter := progress.NewCounter(total, opts.Progress)
	result := &UploadResult{Envelope: envelope}

	for i, f := range files {
		remote := path.Join(envelope, filepath.Base(f))
		if err := uploadFile(ctx, t, f, remote, sizes[i], chunkSize, counter); err != nil {
			return nil, err
		}
		opts.Logger.Debugf("Uploaded %s (%d bytes)", remote, sizes[i])
		result.Files = append(result.Files, remote)
		result.Bytes += sizes[i]
	}

	marker := path.Join(envelope, DoneMarker)
	w, err := t.Create(marker)
	if err != nil {
		return nil, &kerrors.TransferError{Op: "create", Path: marker, Err: err}
	}
	if err := w.Close(); err != nil {
		return nil, &kerrors.TransferError{Op: "close", Path: marker, Err: err}
	}
	progress.OrNop(opts.Progress).Update(1)

	return result, nil
}

func uploadFile(ctx context.Context, t Transport, local, remote string, size int64, chunkSize int, counter *progress.Counter) error {
	src, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("opening %s: %w", local, err)
	}
	defer src.Close()

	part := remote + PartSuffix
	dst, err := t.Create(part)
	if err != nil {
		return &kerrors.TransferError{Op: "create", Path: part, Err: err}
	}

	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			dst.Close()
			return &kerrors.TransferError{Op: "write", Path: part, Err: err}
		}
		n, rerr := io.ReadFull(src, buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				dst.Close()
				return &kerrors.TransferError{Op: "write", Path: part, Err: err}
			}
			counter.Add(int64(n))
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			dst.Close()
			return fmt.Errorf("reading %s: %w", local, rerr)
		}
	}
	if err := dst.Close(); err != nil {
		return &kerrors.TransferError{Op: "close", Path: part, Err: err}
	}

	if err := t.Rename(part, remote); err != nil {
		return &kerrors.TransferError{Op: "rename", Path: part, Err: err}
	}

	remoteSize, err := t.Size(remote)
	if err != nil {
		return &kerrors.TransferError{Op: "stat", Path: remote, Err: err}
	}
	if remoteSize != size {
		return &kerrors.TransferError{
			Op:   "verify",
			Path: remote,
			Err:  fmt.Errorf("remote size %d, local size %d", remoteSize, size),
		}
	}
	return nil
}
