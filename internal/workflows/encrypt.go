package workflows

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/PolarWolf314/sett/internal/audit"
	"github.com/PolarWolf314/sett/internal/checksum"
	"github.com/PolarWolf314/sett/internal/container"
	kerrors "github.com/PolarWolf314/sett/internal/errors"
	logger "github.com/PolarWolf314/sett/internal/logging"
	"github.com/PolarWolf314/sett/internal/metadata"
	"github.com/PolarWolf314/sett/internal/portal"
	"github.com/PolarWolf314/sett/internal/progress"
	"github.com/PolarWolf314/sett/internal/secrets"
	"github.com/PolarWolf314/sett/internal/utils"
)

// PackageExt is the extension of packages written by Encrypt.
const PackageExt = ".tar"

// EncryptOptions configures the encrypt workflow.
type EncryptOptions struct {
	KeyOptions

	// Files are paths, directories or doublestar patterns to package.
	Files []string

	// Recipients are the fingerprints the package is encrypted for.
	Recipients []string

	// Sender is the fingerprint of the signing key. Required.
	Sender string

	// Passphrase unlocks the sender's private key. It is only called once
	// the inputs and keys have been validated.
	Passphrase PassphraseFunc

	// CompressionLevel is 0 (none) to 9.
	CompressionLevel int

	// CompressionAlgorithm is "gzip" (default) or "zstd".
	CompressionAlgorithm string

	// TransferID and Purpose register the package with the portal.
	TransferID string
	Purpose    string

	// OutputPath is the package file to write. When empty the package is
	// named after the current time and written to OutputDir.
	OutputPath string
	OutputDir  string

	// TrustOverride skips the authority check on recipients.
	TrustOverride bool

	// DryRun validates inputs and keys without writing anything.
	DryRun bool

	// Portal checks packages with a transfer id. Ignored when Offline.
	Portal portal.Checker

	// TempDir holds the intermediate ciphertext. Defaults to the output
	// directory.
	TempDir string

	Progress progress.Reporter
	Logger   logger.Logger
}

// EncryptResult contains the outcome of an encrypt operation.
type EncryptResult struct {
	// OutputPath is the package that was (or would be) written.
	OutputPath string

	// Files lists the archived files, relative to their common root.
	Files []string

	// Checksum is the SHA-256 digest of the encrypted payload.
	Checksum string

	Sender     string
	Recipients []string

	// ProjectCode is the portal's answer for packages with a transfer id.
	ProjectCode string

	// DryRun indicates whether this was a dry-run (no files written).
	DryRun bool
}

// Encrypt packages files for the recipients.
//
// Each file is checksummed into a manifest, archived with the manifest,
// compressed, encrypted for every recipient and signed by the sender. The
// digest of the ciphertext is recorded in metadata.json, which is signed
// separately, and the package is written as a container holding
// metadata.json, metadata.json.sig and data.encrypted.
//
// Returns ErrValidation for malformed options, ErrNoFilesFound when the
// inputs match nothing, ErrKeyResolution or ErrTrust when a key cannot be
// used and ErrAuthentication when the sender's key cannot be unlocked.
// Nothing is left on disk when an error is returned.
func Encrypt(ctx context.Context, opts EncryptOptions) (*EncryptResult, error) {
	log := opts.Logger
	report := progress.Monotonic(progress.OrNop(opts.Progress))

	// InputCheck
	log.Debugf("Stage: %s", StageInputCheck)
	algorithm, err := checkEncryptOptions(&opts)
	if err != nil {
		return nil, failed(StageInputCheck, err)
	}
	files, err := utils.ExpandInputs(opts.Files)
	if err != nil {
		return nil, failed(StageInputCheck, err)
	}
	outputPath, err := resolveOutputPath(opts, time.Now())
	if err != nil {
		return nil, failed(StageInputCheck, err)
	}
	log.Infof("Packaging %d file(s) into %s", len(files), outputPath)

	result := &EncryptResult{
		OutputPath: outputPath,
		Sender:     opts.Sender,
		Recipients: opts.Recipients,
		DryRun:     opts.DryRun,
	}
	for _, f := range files {
		result.Files = append(result.Files, f.ArchivePath)
	}

	// KeyResolution
	log.Debugf("Stage: %s", StageKeyResolution)
	if err := resolveEncryptKeys(ctx, opts); err != nil {
		return nil, failed(StageKeyResolution, err)
	}
	if opts.TransferID != "" && !opts.Offline && opts.Portal != nil {
		code, err := checkWithPortal(ctx, opts, algorithm, filepath.Base(outputPath))
		if err != nil {
			return nil, failed(StageKeyResolution, err)
		}
		result.ProjectCode = code
	}

	if opts.DryRun {
		return result, nil
	}

	passphrase, err := opts.Passphrase.get()
	if err != nil {
		return nil, failed(StageKeyResolution, fmt.Errorf("%w: reading passphrase: %v", kerrors.ErrAuthentication, err))
	}

	// ChecksumPass
	log.Debugf("Stage: %s", StageChecksumPass)
	total := utils.TotalSize(files)
	manifest, err := checksumFiles(ctx, files, progress.Sub(report, 0, checksumWeight))
	if err != nil {
		return nil, failed(StageChecksumPass, err)
	}

	// CompressEncryptSign
	log.Debugf("Stage: %s", StageCompressEncryptSign)
	tmp, err := os.CreateTemp(tempDir(opts, outputPath), ".sett-*.encrypted")
	if err != nil {
		return nil, failed(StageCompressEncryptSign, fmt.Errorf("creating temporary file: %w", err))
	}
	defer func() {
		tmp.Close()
		if err := os.Remove(tmp.Name()); err != nil && !os.IsNotExist(err) {
			log.Warnf("Could not remove temporary file %s: %v", tmp.Name(), err)
		}
	}()

	inner := []container.Entry{container.Bytes(container.ManifestName, manifest)}
	for _, f := range files {
		inner = append(inner, container.File(container.ContentPrefix+f.ArchivePath, f.Path))
	}
	digest, err := encryptContainer(ctx, tmp, inner, opts, passphrase, algorithm, total,
		progress.Sub(report, checksumWeight, checksumWeight+encryptWeight))
	if err != nil {
		return nil, failed(StageCompressEncryptSign, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, failed(StageCompressEncryptSign, fmt.Errorf("writing temporary file: %w", err))
	}
	result.Checksum = digest

	// MetadataSign
	log.Debugf("Stage: %s", StageMetadataSign)
	md, err := metadata.New(metadata.Metadata{
		TransferID:           opts.TransferID,
		Sender:               opts.Sender,
		Recipients:           opts.Recipients,
		Purpose:              metadata.Purpose(opts.Purpose),
		Checksum:             digest,
		CompressionAlgorithm: algorithm,
	})
	if err != nil {
		return nil, failed(StageMetadataSign, err)
	}
	payload, err := md.Marshal()
	if err != nil {
		return nil, failed(StageMetadataSign, err)
	}
	signature, err := metadata.Sign(payload, opts.Sender, passphrase, opts.Gateway)
	if err != nil {
		return nil, failed(StageMetadataSign, err)
	}

	// FinalAssembly
	log.Debugf("Stage: %s", StageFinalAssembly)
	outer := []container.Entry{
		container.Bytes(container.MetadataName, payload),
		container.Bytes(container.SignatureName, signature),
		container.File(container.PayloadName, tmp.Name()),
	}
	if err := writePackage(outputPath, outer, progress.Sub(report, checksumWeight+encryptWeight, 1), log); err != nil {
		return nil, failed(StageFinalAssembly, err)
	}
	report.Update(1)

	audit.Log(audit.Entry{
		Operation:  audit.OpEncrypt,
		Files:      result.Files,
		Output:     outputPath,
		Sender:     md.Sender,
		Recipients: md.Recipients,
		TransferID: md.TransferID,
	})

	result.Sender = md.Sender
	result.Recipients = md.Recipients
	return result, nil
}

// checkEncryptOptions validates everything that needs no keys or network
// and returns the effective compression algorithm.
func checkEncryptOptions(opts *EncryptOptions) (string, error) {
	if err := opts.KeyOptions.check(); err != nil {
		return "", err
	}
	if len(opts.Files) == 0 {
		return "", fmt.Errorf("%w: no input files", kerrors.ErrNoFilesFound)
	}
	if len(opts.Recipients) == 0 {
		return "", fmt.Errorf("%w: at least one recipient is required", kerrors.ErrValidation)
	}
	if opts.Sender == "" {
		return "", fmt.Errorf("%w: a sender is required", kerrors.ErrValidation)
	}

	sender, err := secrets.NormalizeFingerprint(opts.Sender)
	if err != nil {
		return "", fmt.Errorf("sender: %w", err)
	}
	opts.Sender = sender

	recipients := make([]string, 0, len(opts.Recipients))
	seen := make(map[string]bool)
	for _, r := range opts.Recipients {
		fpr, err := secrets.NormalizeFingerprint(r)
		if err != nil {
			return "", fmt.Errorf("recipient: %w", err)
		}
		if !seen[fpr] {
			seen[fpr] = true
			recipients = append(recipients, fpr)
		}
	}
	opts.Recipients = recipients

	if opts.CompressionLevel < 0 || opts.CompressionLevel > 9 {
		return "", fmt.Errorf("%w: compression level must be between 0 and 9, got %d", kerrors.ErrValidation, opts.CompressionLevel)
	}
	if !container.ValidAlgorithm(opts.CompressionAlgorithm) {
		return "", fmt.Errorf("%w: unknown compression algorithm %q", kerrors.ErrValidation, opts.CompressionAlgorithm)
	}
	if err := metadata.ValidateTransfer(opts.TransferID, metadata.Purpose(opts.Purpose)); err != nil {
		return "", err
	}

	return container.Algorithm(opts.CompressionAlgorithm, opts.CompressionLevel), nil
}

func resolveOutputPath(opts EncryptOptions, now time.Time) (string, error) {
	output := opts.OutputPath
	if output == "" {
		name := now.UTC().Format("20060102T150405") + PackageExt
		if opts.TransferID != "" {
			name = opts.TransferID + "_" + name
		}
		output = filepath.Join(opts.OutputDir, name)
	}

	abs, err := filepath.Abs(output)
	if err != nil {
		return "", fmt.Errorf("%w: resolving %s: %v", kerrors.ErrValidation, output, err)
	}
	if _, err := os.Stat(abs); err == nil {
		return "", fmt.Errorf("%w: output %s already exists", kerrors.ErrValidation, abs)
	}
	info, err := os.Stat(filepath.Dir(abs))
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: output directory %s does not exist", kerrors.ErrValidation, filepath.Dir(abs))
	}
	return abs, nil
}

func tempDir(opts EncryptOptions, outputPath string) string {
	if opts.TempDir != "" {
		return opts.TempDir
	}
	return filepath.Dir(outputPath)
}

func resolveEncryptKeys(ctx context.Context, opts EncryptOptions) error {
	validate := opts.validateOptions()

	sender, err := opts.Gateway.ValidateKeyChain(ctx, opts.Sender, validate)
	if err != nil {
		return fmt.Errorf("sender: %w", err)
	}
	opts.Logger.Infof("Sender: %s", describeKey(sender))

	if opts.TrustOverride {
		opts.Logger.WarnfAlways("Recipient keys are not checked against the authority")
		validate.Authority = ""
	}
	for _, r := range opts.Recipients {
		record, err := opts.Gateway.ValidateKeyChain(ctx, r, validate)
		if err != nil {
			return fmt.Errorf("recipient: %w", err)
		}
		opts.Logger.Infof("Recipient: %s", describeKey(record))
	}
	return nil
}

func describeKey(r *secrets.KeyRecord) string {
	if r == nil {
		return ""
	}
	if len(r.UserIDs) == 0 {
		return r.Fingerprint
	}
	return fmt.Sprintf("%s (%s)", r.UserIDs[0], r.Fingerprint)
}

func checkWithPortal(ctx context.Context, opts EncryptOptions, algorithm, fileName string) (string, error) {
	preliminary := metadata.Metadata{
		TransferID:           opts.TransferID,
		Sender:               opts.Sender,
		Recipients:           opts.Recipients,
		Purpose:              metadata.Purpose(opts.Purpose),
		ChecksumAlgorithm:    metadata.ChecksumAlgorithm,
		CompressionAlgorithm: algorithm,
		Timestamp:            time.Now().UTC().Truncate(time.Second),
		Version:              metadata.Version,
	}
	payload, err := preliminary.Marshal()
	if err != nil {
		return "", err
	}
	result, err := opts.Portal.CheckPackage(ctx, fileName, payload)
	if err != nil {
		return "", err
	}
	opts.Logger.Infof("Transfer %s accepted for project %s", opts.TransferID, result.ProjectCode)
	return result.ProjectCode, nil
}

func checksumFiles(ctx context.Context, files []utils.InputFile, report progress.Reporter) ([]byte, error) {
	counter := progress.NewCounter(utils.TotalSize(files), report)
	entries := make([]checksum.Entry, 0, len(files))

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		file, err := os.Open(f.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", kerrors.ErrValidation, err)
		}
		digest, err := checksum.ComputeDigest(counter.Wrap(file))
		file.Close()
		if err != nil {
			return nil, fmt.Errorf("hashing %s: %w", f.Path, err)
		}
		entries = append(entries, checksum.Entry{Digest: digest, Path: f.ArchivePath})
	}
	report.Update(1)

	return checksum.SerializeManifest(entries)
}

// encryptContainer streams the inner container through the gateway into
// dst and returns the digest of the ciphertext.
func encryptContainer(ctx context.Context, dst io.Writer, entries []container.Entry, opts EncryptOptions, passphrase []byte, algorithm string, total int64, report progress.Reporter) (string, error) {
	pr, pw := io.Pipe()

	ciphertext, err := opts.Gateway.EncryptAndSign(ctx, pr, secrets.EncryptOptions{
		Recipients:    opts.Recipients,
		Signer:        opts.Sender,
		Passphrase:    passphrase,
		TrustOverride: opts.TrustOverride,
	})
	if err != nil {
		pr.Close()
		return "", err
	}
	defer ciphertext.Close()

	written := make(chan error, 1)
	go func() {
		err := container.Write(pw, entries, container.WriteOptions{
			Level:      opts.CompressionLevel,
			Algorithm:  algorithm,
			Progress:   report,
			TotalBytes: total,
		})
		pw.CloseWithError(err)
		written <- err
	}()

	digest, err := checksum.ComputeDigestTee(dst, ciphertext)
	if err != nil {
		pr.CloseWithError(err)
		<-written
		return "", err
	}
	if err := <-written; err != nil {
		return "", err
	}
	return digest, nil
}

// writePackage writes the outer container to path and removes it again if
// anything fails.
func writePackage(path string, entries []container.Entry, report progress.Reporter, log logger.Logger) (err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if err == nil {
			return
		}
		f.Close()
		if rmErr := os.Remove(path); rmErr != nil {
			log.Warnf("Could not remove partial package %s: %v", path, rmErr)
		}
	}()

	var total int64
	for _, e := range entries {
		rc, size, openErr := e.Open()
		if openErr != nil {
			return openErr
		}
		rc.Close()
		total += size
	}

	if err = container.Write(f, entries, container.WriteOptions{Progress: report, TotalBytes: total}); err != nil {
		return err
	}
	return f.Close()
}
