package workflows

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/PolarWolf314/sett/internal/audit"
	"github.com/PolarWolf314/sett/internal/checksum"
	"github.com/PolarWolf314/sett/internal/container"
	kerrors "github.com/PolarWolf314/sett/internal/errors"
	logger "github.com/PolarWolf314/sett/internal/logging"
	"github.com/PolarWolf314/sett/internal/metadata"
	"github.com/PolarWolf314/sett/internal/progress"
	"github.com/PolarWolf314/sett/internal/utils"
)

// Progress weights of the decrypt stages.
const (
	checksumCheckWeight = 0.30
	decryptWeight       = 0.65
)

// decryptedSuffix keeps a decrypt-only archive from colliding with its
// package, which shares the .tar extension.
const decryptedSuffix = "_decrypted"

// DecryptOptions configures the decrypt workflow.
type DecryptOptions struct {
	KeyOptions

	// Package is the path of the package to open.
	Package string

	// OutputDir is where the package is unpacked. A directory named after
	// the package is created inside it. Defaults to the current directory.
	OutputDir string

	// DecryptOnly writes the decrypted inner archive as a single .tar file
	// instead of unpacking it. No post-decryption check is possible.
	DecryptOnly bool

	// Passphrase unlocks the recipient's private key.
	Passphrase PassphraseFunc

	Progress progress.Reporter
	Logger   logger.Logger
}

// DecryptResult contains the outcome of a decrypt operation.
type DecryptResult struct {
	// Output is the directory (or .tar file with DecryptOnly) written.
	Output string

	// Files lists the unpacked files relative to Output.
	Files []string

	// Sender is the verified signer of the metadata and payload.
	Sender string

	// Recipients are the keys the payload was encrypted for.
	Recipients []string

	Metadata    *metadata.Metadata
	DecryptOnly bool
}

// packageLayout names the control entries of a package.
type packageLayout struct {
	metadata  string
	signature string
	payload   string
}

var layouts = []packageLayout{
	{container.MetadataName, container.SignatureName, container.PayloadName},
	{container.LegacyMetadataName, container.LegacySignatureName, container.LegacyPayloadName},
}

// Decrypt verifies and opens a package.
//
// The metadata signature is verified first and nothing in the metadata is
// used before that. The recipients of the payload are then validated, the
// payload digest is compared with the signed checksum, and only then is the
// payload decrypted. Unpacked files are verified against the manifest that
// was encrypted with them.
//
// Returns ErrSignature for unsigned or tampered metadata, ErrIntegrity
// (an *IntegrityError for digest mismatches) for a modified payload or
// file, ErrKeyResolution when no private key can decrypt the payload and
// ErrSecurity for archive entries that would escape the output directory.
// Any output created by a failed run is removed.
func Decrypt(ctx context.Context, opts DecryptOptions) (result *DecryptResult, err error) {
	log := opts.Logger
	report := progress.Monotonic(progress.OrNop(opts.Progress))

	if err := opts.KeyOptions.check(); err != nil {
		return nil, failed(StageSignatureCheck, err)
	}
	info, err := os.Stat(opts.Package)
	if err != nil {
		return nil, failed(StageSignatureCheck, fmt.Errorf("%w: %s", kerrors.ErrFileNotFound, opts.Package))
	}

	// SignatureCheck
	log.Debugf("Stage: %s", StageSignatureCheck)
	layout, payload, signature, err := readControl(opts.Package)
	if err != nil {
		return nil, failed(StageSignatureCheck, err)
	}
	validate := opts.validateOptions()
	md, signer, err := metadata.VerifySignature(ctx, payload, signature, opts.Gateway, metadata.VerifyOptions{
		Authority: validate.Authority,
		Keyserver: validate.Keyserver,
		MaxAge:    validate.MaxAge,
		Logger:    opts.Logger,
	})
	if err != nil {
		return nil, failed(StageSignatureCheck, err)
	}
	log.Infof("Package signed by %s", describeKey(signer))

	// KeyValidation
	log.Debugf("Stage: %s", StageKeyValidation)
	recipients, err := validateRecipients(ctx, opts, layout)
	if err != nil {
		return nil, failed(StageKeyValidation, err)
	}

	// ChecksumCheck
	log.Debugf("Stage: %s", StageChecksumCheck)
	if err := checkPayloadDigest(opts.Package, layout, md.Checksum, info.Size(), progress.Sub(report, 0, checksumCheckWeight)); err != nil {
		return nil, failed(StageChecksumCheck, err)
	}

	// Decrypt
	log.Debugf("Stage: %s", StageDecrypt)
	passphrase, err := opts.Passphrase.get()
	if err != nil {
		return nil, failed(StageDecrypt, fmt.Errorf("%w: reading passphrase: %v", kerrors.ErrAuthentication, err))
	}

	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = "."
	}
	base := strings.TrimSuffix(filepath.Base(opts.Package), filepath.Ext(opts.Package))

	result = &DecryptResult{
		Sender:      md.Sender,
		Recipients:  recipients,
		Metadata:    md,
		DecryptOnly: opts.DecryptOnly,
	}

	var created string
	defer func() {
		if err == nil || created == "" {
			return
		}
		if rmErr := os.RemoveAll(created); rmErr != nil {
			log.Warnf("Could not remove %s: %v", created, rmErr)
		}
	}()

	f, err := os.Open(opts.Package)
	if err != nil {
		return nil, failed(StageDecrypt, err)
	}
	defer f.Close()
	ciphertext, err := container.OpenNamed(f, layout.payload)
	if err != nil {
		return nil, failed(StageDecrypt, err)
	}
	plaintext, err := opts.Gateway.Decrypt(ctx, progress.NewReader(ciphertext, info.Size(),
		progress.Sub(report, checksumCheckWeight, checksumCheckWeight+decryptWeight)), passphrase)
	if err != nil {
		return nil, failed(StageDecrypt, err)
	}

	var manifest []byte
	if opts.DecryptOnly {
		w, err := utils.UniqueFile(outputDir, base+decryptedSuffix, PackageExt)
		if err != nil {
			return nil, failed(StageDecrypt, fmt.Errorf("creating inner archive in %s: %w", outputDir, err))
		}
		out := w.Name()
		created = out
		_, err = container.Decompress(w, plaintext, md.CompressionAlgorithm)
		if cerr := w.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, failed(StageDecrypt, err)
		}
		result.Output = out
	} else {
		dest, err := utils.UniqueDir(filepath.Join(outputDir, base))
		if err != nil {
			return nil, failed(StageDecrypt, fmt.Errorf("creating output directory: %w", err))
		}
		created = dest
		result.Output = dest

		inner, err := container.NewReader(plaintext, md.CompressionAlgorithm)
		if err != nil {
			return nil, failed(StageDecrypt, err)
		}
		files, err := container.UnpackAll(inner, dest,
			container.WithStripPrefix(container.ContentPrefix),
			container.WithControlHandler(func(name string, body io.Reader) error {
				if name != container.ManifestName {
					return fmt.Errorf("%w: unexpected control entry %q in payload", kerrors.ErrFormat, name)
				}
				data, err := io.ReadAll(io.LimitReader(body, container.MaxExtractSize))
				manifest = data
				return err
			}))
		inner.Close()
		if err != nil {
			return nil, failed(StageDecrypt, err)
		}
		result.Files = files
	}

	// Signatures are only reported once the whole plaintext has been read.
	if _, err := io.Copy(io.Discard, plaintext); err != nil {
		return nil, failed(StageDecrypt, err)
	}
	if err := checkPayloadSigners(plaintext.Signers, md.Sender); err != nil {
		return nil, failed(StageDecrypt, err)
	}

	// PostChecksumCheck
	if !opts.DecryptOnly {
		log.Debugf("Stage: %s", StagePostChecksumCheck)
		if err := verifyUnpacked(manifest, result.Output, result.Files); err != nil {
			return nil, failed(StagePostChecksumCheck, err)
		}
	}
	report.Update(1)

	audit.Log(audit.Entry{
		Operation:  audit.OpDecrypt,
		Files:      result.Files,
		Output:     result.Output,
		Sender:     md.Sender,
		Recipients: recipients,
		TransferID: md.TransferID,
	})

	return result, nil
}

// readControl extracts the metadata and its signature in one pass and
// reports which layout the package uses.
func readControl(path string) (packageLayout, []byte, []byte, error) {
	var lastErr error
	for _, layout := range layouts {
		f, err := os.Open(path)
		if err != nil {
			return packageLayout{}, nil, nil, err
		}
		entries, err := container.ExtractNamed(f, layout.metadata, layout.signature)
		f.Close()
		if err == nil {
			return layout, entries[layout.metadata], entries[layout.signature], nil
		}
		if !errors.Is(err, kerrors.ErrFormat) {
			return packageLayout{}, nil, nil, err
		}
		lastErr = err
	}
	return packageLayout{}, nil, nil, lastErr
}

func validateRecipients(ctx context.Context, opts DecryptOptions, layout packageLayout) ([]string, error) {
	f, err := os.Open(opts.Package)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ciphertext, err := container.OpenNamed(f, layout.payload)
	if err != nil {
		return nil, err
	}
	ids, err := opts.Gateway.RecipientKeyIDs(ciphertext)
	if err != nil {
		return nil, err
	}

	validate := opts.validateOptions()
	for _, id := range ids {
		if len(id) <= 16 {
			opts.Logger.Infof("Recipient: unknown key %s", id)
			continue
		}
		record, err := opts.Gateway.ValidateKeyChain(ctx, id, validate)
		if err != nil {
			return nil, fmt.Errorf("recipient: %w", err)
		}
		opts.Logger.Infof("Recipient: %s", describeKey(record))
	}
	return ids, nil
}

func checkPayloadDigest(path string, layout packageLayout, want string, size int64, report progress.Reporter) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	ciphertext, err := container.OpenNamed(f, layout.payload)
	if err != nil {
		return err
	}
	got, err := checksum.ComputeDigest(progress.NewReader(ciphertext, size, report))
	if err != nil {
		return fmt.Errorf("%w: reading payload: %v", kerrors.ErrFormat, err)
	}
	if got != want {
		return &kerrors.IntegrityError{Path: layout.payload, Expected: want, Actual: got}
	}
	return nil
}

// checkPayloadSigners requires the payload to be signed by the sender of
// the metadata.
func checkPayloadSigners(signers func() ([]string, error), sender string) error {
	fprs, err := signers()
	if err != nil {
		return err
	}
	if len(fprs) == 0 {
		return fmt.Errorf("%w: payload is not signed", kerrors.ErrSignature)
	}
	for _, fpr := range fprs {
		if fpr == sender {
			return nil
		}
	}
	return fmt.Errorf("%w: payload signed by %s, not by sender %s", kerrors.ErrSignature, strings.Join(fprs, ", "), sender)
}

// verifyUnpacked checks every unpacked file against the manifest and
// rejects files the manifest does not list.
func verifyUnpacked(manifest []byte, dir string, files []string) error {
	if manifest == nil {
		return fmt.Errorf("%w: payload has no %s", kerrors.ErrFormat, container.ManifestName)
	}
	entries, err := checksum.ParseManifest(bytes.NewReader(manifest))
	if err != nil {
		return err
	}

	listed := make(map[string]bool, len(entries))
	for _, e := range entries {
		listed[e.Path] = true
	}
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)
	for _, f := range sorted {
		if !listed[f] {
			return fmt.Errorf("%w: %s is not listed in the manifest", kerrors.ErrIntegrity, f)
		}
	}

	return checksum.VerifyManifest(entries, dir)
}
