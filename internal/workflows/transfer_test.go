package workflows

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	kerrors "github.com/PolarWolf314/sett/internal/errors"
	"github.com/PolarWolf314/sett/internal/metadata"
	"github.com/PolarWolf314/sett/internal/portal"
	"github.com/PolarWolf314/sett/internal/transfer"
)

type fakePortal struct {
	calls []string
	err   error
}

func (p *fakePortal) CheckPackage(_ context.Context, fileName string, _ []byte) (*portal.CheckResult, error) {
	p.calls = append(p.calls, fileName)
	if p.err != nil {
		return nil, p.err
	}
	return &portal.CheckResult{ProjectCode: "demo"}, nil
}

func TestTransfer(t *testing.T) {
	t.Run("UploadsIntoEnvelope", testUploadsIntoEnvelope)
	t.Run("TamperedPackageNotSent", testTamperedPackageNotSent)
	t.Run("PortalRejection", testPortalRejection)
	t.Run("ConnectFailure", testConnectFailure)
}

func (f *fixture) transferOptions(remote string, packages ...string) TransferOptions {
	return TransferOptions{
		KeyOptions: KeyOptions{
			Gateway: gatewayFor(f.bob, f.alice),
			Offline: true,
		},
		Packages:    packages,
		Destination: "inbox",
		Connect: func(context.Context) (transfer.Transport, error) {
			return transfer.NewLocalTransport(remote), nil
		},
		Now: func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func testUploadsIntoEnvelope(t *testing.T) {
	f := newFixture(t)
	pkg := f.encrypt(t)
	remote := t.TempDir()

	result, err := Transfer(context.Background(), f.transferOptions(remote, pkg))
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if result.Envelope != "inbox/20240301T120000" {
		t.Errorf("Unexpected envelope %s", result.Envelope)
	}

	envelope := filepath.Join(remote, "inbox", "20240301T120000")
	for _, name := range []string{"package.tar", transfer.DoneMarker} {
		if _, err := os.Stat(filepath.Join(envelope, name)); err != nil {
			t.Errorf("Expected %s in the envelope: %v", name, err)
		}
	}

	local, _ := os.Stat(pkg)
	uploaded, _ := os.Stat(filepath.Join(envelope, "package.tar"))
	if local == nil || uploaded == nil || local.Size() != uploaded.Size() {
		t.Errorf("Uploaded package size does not match the local one")
	}
}

func testTamperedPackageNotSent(t *testing.T) {
	f := newFixture(t)
	pkg := f.encrypt(t)
	remote := t.TempDir()

	rewritePackage(t, pkg, func(entries map[string][]byte) {
		entries["metadata.json"] = append(entries["metadata.json"], ' ')
	})

	_, err := Transfer(context.Background(), f.transferOptions(remote, pkg))
	if !errors.Is(err, kerrors.ErrSignature) {
		t.Fatalf("Expected ErrSignature, got %v", err)
	}
	assertStage(t, err, StageSignatureCheck)
	assertEmptyDir(t, remote)
}

func testPortalRejection(t *testing.T) {
	f := newFixture(t)
	opts := f.encryptOptions()
	opts.TransferID = "42"
	opts.Purpose = string(metadata.PurposeProduction)
	encrypted, err := Encrypt(context.Background(), opts)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	remote := t.TempDir()

	checker := &fakePortal{err: fmt.Errorf("%w: transfer 42 is not active", kerrors.ErrPortal)}
	topts := f.transferOptions(remote, encrypted.OutputPath)
	topts.Offline = false
	topts.Portal = checker

	_, err = Transfer(context.Background(), topts)
	if !errors.Is(err, kerrors.ErrPortal) {
		t.Fatalf("Expected ErrPortal, got %v", err)
	}
	assertStage(t, err, StagePortalCheck)
	if len(checker.calls) != 1 || checker.calls[0] != "package.tar" {
		t.Errorf("Expected one portal check for package.tar, got %v", checker.calls)
	}
	assertEmptyDir(t, remote)

	checker.err = nil
	if _, err := Transfer(context.Background(), topts); err != nil {
		t.Fatalf("Expected accepted transfer to succeed, got %v", err)
	}
}

func testConnectFailure(t *testing.T) {
	f := newFixture(t)
	pkg := f.encrypt(t)

	opts := f.transferOptions(t.TempDir(), pkg)
	opts.Connect = func(context.Context) (transfer.Transport, error) {
		return nil, &kerrors.TransferError{Op: "connect", Path: "sftp.example.org:22", Err: errors.New("connection refused")}
	}

	_, err := Transfer(context.Background(), opts)
	if !errors.Is(err, kerrors.ErrTransfer) {
		t.Fatalf("Expected ErrTransfer, got %v", err)
	}
	assertStage(t, err, StageUpload)
}
