package workflows

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/PolarWolf314/sett/internal/audit"
	"github.com/PolarWolf314/sett/internal/container"
	kerrors "github.com/PolarWolf314/sett/internal/errors"
	logger "github.com/PolarWolf314/sett/internal/logging"
	"github.com/PolarWolf314/sett/internal/metadata"
	"github.com/PolarWolf314/sett/internal/portal"
	"github.com/PolarWolf314/sett/internal/progress"
	"github.com/PolarWolf314/sett/internal/transfer"
)

// TransferOptions configures the transfer workflow.
type TransferOptions struct {
	KeyOptions

	// Packages are the package files to upload.
	Packages []string

	// Destination is the remote directory the envelope is created in.
	Destination string

	// Connect opens the transport once every package has been checked.
	Connect func(ctx context.Context) (transfer.Transport, error)

	// Portal validates packages that carry a transfer id.
	Portal portal.Checker

	ChunkSize int
	Progress  progress.Reporter
	Logger    logger.Logger
	Now       func() time.Time
}

// TransferResult describes a completed transfer.
type TransferResult struct {
	Envelope string
	Packages []string
	Bytes    int64
}

// Transfer checks the signed metadata of every package and uploads them
// into a single envelope. Nothing is sent when any package fails its check.
func Transfer(ctx context.Context, opts TransferOptions) (*TransferResult, error) {
	log := opts.Logger

	if err := opts.KeyOptions.check(); err != nil {
		return nil, failed(StageInputCheck, err)
	}
	if len(opts.Packages) == 0 {
		return nil, failed(StageInputCheck, fmt.Errorf("%w: no packages given", kerrors.ErrNoFilesFound))
	}
	if opts.Connect == nil {
		return nil, failed(StageInputCheck, fmt.Errorf("%w: no destination configured", kerrors.ErrValidation))
	}

	log.Debugf("Stage: %s", StageSignatureCheck)
	checked := make([]*metadata.Metadata, 0, len(opts.Packages))
	for _, pkg := range opts.Packages {
		md, err := checkPackage(ctx, opts, pkg)
		if err != nil {
			return nil, failed(StageSignatureCheck, fmt.Errorf("%s: %w", pkg, err))
		}
		checked = append(checked, md)
	}

	if opts.Portal != nil && !opts.Offline {
		log.Debugf("Stage: %s", StagePortalCheck)
		for i, md := range checked {
			if md.TransferID == "" {
				continue
			}
			payload, err := md.Marshal()
			if err != nil {
				return nil, failed(StagePortalCheck, err)
			}
			result, err := opts.Portal.CheckPackage(ctx, filepath.Base(opts.Packages[i]), payload)
			if err != nil {
				return nil, failed(StagePortalCheck, fmt.Errorf("%s: %w", opts.Packages[i], err))
			}
			log.Infof("Transfer %s accepted for project %s", md.TransferID, result.ProjectCode)
		}
	}

	log.Debugf("Stage: %s", StageUpload)
	t, err := opts.Connect(ctx)
	if err != nil {
		return nil, failed(StageUpload, err)
	}
	defer func() {
		if err := t.Close(); err != nil {
			log.Warnf("Closing connection: %v", err)
		}
	}()

	uploaded, err := transfer.Upload(ctx, t, opts.Packages, transfer.UploadOptions{
		Destination: opts.Destination,
		ChunkSize:   opts.ChunkSize,
		Progress:    opts.Progress,
		Logger:      log,
		Now:         opts.Now,
	})
	if err != nil {
		return nil, failed(StageUpload, err)
	}
	entry := audit.Entry{
		Operation:   audit.OpTransfer,
		Files:       opts.Packages,
		Destination: uploaded.Envelope,
	}
	for _, md := range checked {
		if md.TransferID != "" {
			entry.TransferID = md.TransferID
		}
	}
	audit.Log(entry)

	return &TransferResult{
		Envelope: uploaded.Envelope,
		Packages: uploaded.Files,
		Bytes:    uploaded.Bytes,
	}, nil
}

// checkPackage verifies the metadata signature of a package without
// touching its payload.
func checkPackage(ctx context.Context, opts TransferOptions, path string) (*metadata.Metadata, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", kerrors.ErrFileNotFound, path)
	}
	layout, payload, signature, err := readControl(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := container.OpenNamed(f, layout.payload); err != nil {
		return nil, err
	}

	validate := opts.validateOptions()
	md, _, err := metadata.VerifySignature(ctx, payload, signature, opts.Gateway, metadata.VerifyOptions{
		Authority: validate.Authority,
		Keyserver: validate.Keyserver,
		MaxAge:    validate.MaxAge,
		Logger:    opts.Logger,
	})
	return md, err
}
