package workflows

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/PolarWolf314/sett/internal/checksum"
	"github.com/PolarWolf314/sett/internal/container"
	kerrors "github.com/PolarWolf314/sett/internal/errors"
	"github.com/PolarWolf314/sett/internal/metadata"
	"github.com/PolarWolf314/sett/internal/progress"
)

func TestEncrypt(t *testing.T) {
	t.Run("WritesSignedPackage", testWritesSignedPackage)
	t.Run("DefaultOutputName", testDefaultOutputName)
	t.Run("DryRunWritesNothing", testDryRunWritesNothing)
	t.Run("ExistingOutputRejected", testExistingOutputRejected)
	t.Run("WrongPassphraseLeavesNothing", testWrongPassphraseLeavesNothing)
	t.Run("UnknownRecipient", testUnknownRecipient)
	t.Run("UncertifiedRecipient", testUncertifiedRecipient)
	t.Run("InvalidOptions", testInvalidOptions)
	t.Run("ZstdRoundTrip", testZstdRoundTrip)
}

func testWritesSignedPackage(t *testing.T) {
	f := newFixture(t)
	opts := f.encryptOptions()

	var last float64
	opts.Progress = progress.Func(func(fraction float64) {
		if fraction < last {
			t.Errorf("Progress went backwards from %f to %f", last, fraction)
		}
		last = fraction
	})

	result, err := Encrypt(context.Background(), opts)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if last != 1 {
		t.Errorf("Expected progress to finish at 1, got %f", last)
	}

	entries, err := os.ReadDir(f.out)
	if err != nil {
		t.Fatalf("Failed to read output directory: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "package.tar" {
		t.Fatalf("Expected only package.tar in the output directory, got %v", entries)
	}

	pkg, err := os.Open(result.OutputPath)
	if err != nil {
		t.Fatalf("Failed to open package: %v", err)
	}
	defer pkg.Close()
	control, err := container.ExtractNamed(pkg, container.MetadataName, container.SignatureName, container.PayloadName)
	if err != nil {
		t.Fatalf("Failed to read package: %v", err)
	}

	md, err := metadata.Parse(control[container.MetadataName])
	if err != nil {
		t.Fatalf("Failed to parse metadata: %v", err)
	}
	if md.Sender != f.alice.fpr {
		t.Errorf("Expected sender %s, got %s", f.alice.fpr, md.Sender)
	}
	if len(md.Recipients) != 2 || md.Recipients[0] != f.bob.fpr || md.Recipients[1] != f.carol.fpr {
		t.Errorf("Expected recipients [%s %s], got %v", f.bob.fpr, f.carol.fpr, md.Recipients)
	}
	if md.CompressionAlgorithm != container.Gzip {
		t.Errorf("Expected gzip compression, got %q", md.CompressionAlgorithm)
	}

	digest, err := checksum.ComputeDigest(bytesReader(control[container.PayloadName]))
	if err != nil {
		t.Fatalf("Failed to hash payload: %v", err)
	}
	if digest != md.Checksum || digest != result.Checksum {
		t.Errorf("Expected payload digest %s, metadata has %s and result %s", digest, md.Checksum, result.Checksum)
	}
}

func testDefaultOutputName(t *testing.T) {
	f := newFixture(t)
	opts := f.encryptOptions()
	opts.OutputPath = ""
	opts.OutputDir = f.out
	opts.TransferID = "42"
	opts.Purpose = string(metadata.PurposeTest)

	result, err := Encrypt(context.Background(), opts)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	name := filepath.Base(result.OutputPath)
	matched, _ := filepath.Match("42_????????T??????.tar", name)
	if !matched {
		t.Errorf("Unexpected package name %s", name)
	}
}

func testDryRunWritesNothing(t *testing.T) {
	f := newFixture(t)
	opts := f.encryptOptions()
	opts.DryRun = true
	opts.Passphrase = func() ([]byte, error) {
		t.Error("Passphrase requested during a dry run")
		return nil, nil
	}

	result, err := Encrypt(context.Background(), opts)
	if err != nil {
		t.Fatalf("Dry run failed: %v", err)
	}
	if !result.DryRun {
		t.Error("Expected result to be marked as a dry run")
	}
	if len(result.Files) != 3 {
		t.Errorf("Expected 3 files in the dry run, got %v", result.Files)
	}
	assertEmptyDir(t, f.out)
}

func testExistingOutputRejected(t *testing.T) {
	f := newFixture(t)
	f.encrypt(t)

	_, err := Encrypt(context.Background(), f.encryptOptions())
	if !errors.Is(err, kerrors.ErrValidation) {
		t.Fatalf("Expected ErrValidation, got %v", err)
	}
	assertStage(t, err, StageInputCheck)
}

func testWrongPassphraseLeavesNothing(t *testing.T) {
	f := newFixture(t)
	opts := f.encryptOptions()
	opts.Passphrase = func() ([]byte, error) { return []byte("wrong"), nil }

	_, err := Encrypt(context.Background(), opts)
	if !errors.Is(err, kerrors.ErrAuthentication) {
		t.Fatalf("Expected ErrAuthentication, got %v", err)
	}
	assertEmptyDir(t, f.out)
}

func testUnknownRecipient(t *testing.T) {
	f := newFixture(t)
	opts := f.encryptOptions()
	opts.Recipients = append(opts.Recipients, f.mallory.fpr)

	_, err := Encrypt(context.Background(), opts)
	if !errors.Is(err, kerrors.ErrKeyResolution) {
		t.Fatalf("Expected ErrKeyResolution, got %v", err)
	}
	assertStage(t, err, StageKeyResolution)
	assertEmptyDir(t, f.out)
}

func testUncertifiedRecipient(t *testing.T) {
	f := newFixture(t)
	authority := newParty(t, "Authority", nil)
	for _, p := range []party{f.alice, f.bob} {
		entity := p.pub.GetEntity()
		for name := range entity.Identities {
			if err := entity.SignIdentity(name, authority.priv.GetEntity(), nil); err != nil {
				t.Fatalf("Failed to certify %s: %v", name, err)
			}
		}
	}

	// The sender's certified certificate is stored next to its private key.
	opts := f.encryptOptions()
	opts.Gateway = gatewayFor(f.alice, f.alice, f.bob, f.carol, authority)
	opts.Authority = authority.fpr

	_, err := Encrypt(context.Background(), opts)
	if !errors.Is(err, kerrors.ErrTrust) {
		t.Fatalf("Expected ErrTrust for the uncertified recipient, got %v", err)
	}

	opts.Recipients = []string{f.bob.fpr}
	if _, err := Encrypt(context.Background(), opts); err != nil {
		t.Fatalf("Expected certified recipient to be accepted, got %v", err)
	}
}

func testInvalidOptions(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		modify func(*EncryptOptions)
		want   error
	}{
		{"NoFiles", func(o *EncryptOptions) { o.Files = nil }, kerrors.ErrNoFilesFound},
		{"NoRecipients", func(o *EncryptOptions) { o.Recipients = nil }, kerrors.ErrValidation},
		{"NoSender", func(o *EncryptOptions) { o.Sender = "" }, kerrors.ErrValidation},
		{"MalformedRecipient", func(o *EncryptOptions) { o.Recipients = []string{"not-a-fingerprint"} }, kerrors.ErrValidation},
		{"CompressionLevelTooHigh", func(o *EncryptOptions) { o.CompressionLevel = 10 }, kerrors.ErrValidation},
		{"UnknownAlgorithm", func(o *EncryptOptions) { o.CompressionAlgorithm = "lzma" }, kerrors.ErrValidation},
		{"TransferIDWithoutPurpose", func(o *EncryptOptions) { o.TransferID = "42" }, kerrors.ErrValidation},
		{"MalformedTransferID", func(o *EncryptOptions) {
			o.TransferID = "not valid!"
			o.Purpose = string(metadata.PurposeProduction)
		}, kerrors.ErrValidation},
		{"MissingInput", func(o *EncryptOptions) { o.Files = []string{filepath.Join(f.input, "missing")} }, kerrors.ErrValidation},
		{"MissingOutputDirectory", func(o *EncryptOptions) { o.OutputPath = filepath.Join(f.out, "missing", "p.tar") }, kerrors.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := f.encryptOptions()
			tt.modify(&opts)
			_, err := Encrypt(context.Background(), opts)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, err)
			}
			assertStage(t, err, StageInputCheck)
		})
	}
	assertEmptyDir(t, f.out)
}

func testZstdRoundTrip(t *testing.T) {
	f := newFixture(t)
	opts := f.encryptOptions()
	opts.CompressionAlgorithm = container.Zstd
	opts.CompressionLevel = 3

	result, err := Encrypt(context.Background(), opts)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if err := os.MkdirAll(unpackDir(result.OutputPath), 0755); err != nil {
		t.Fatalf("Failed to create output directory: %v", err)
	}

	decrypted, err := Decrypt(context.Background(), f.decryptOptions(result.OutputPath, f.carol))
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if decrypted.Metadata.CompressionAlgorithm != container.Zstd {
		t.Errorf("Expected zstd in metadata, got %q", decrypted.Metadata.CompressionAlgorithm)
	}
	if len(decrypted.Files) != 3 {
		t.Errorf("Expected 3 unpacked files, got %v", decrypted.Files)
	}
}
