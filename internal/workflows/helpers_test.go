package workflows

import (
	"bytes"
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProtonMail/gopenpgp/v3/crypto"

	"github.com/PolarWolf314/sett/internal/container"
	logger "github.com/PolarWolf314/sett/internal/logging"
	"github.com/PolarWolf314/sett/internal/secrets"
)

var senderPassphrase = []byte("correct horse")

type party struct {
	fpr  string
	priv *crypto.Key
	pub  *crypto.Key
}

func newParty(t *testing.T, name string, passphrase []byte) party {
	t.Helper()

	pgp := crypto.PGP()
	key, err := pgp.KeyGeneration().AddUserId(name, strings.ToLower(name)+"@example.org").New().GenerateKey()
	if err != nil {
		t.Fatalf("Failed to generate key for %s: %v", name, err)
	}
	pub, err := key.ToPublic()
	if err != nil {
		t.Fatalf("Failed to extract public key for %s: %v", name, err)
	}
	if len(passphrase) > 0 {
		if key, err = pgp.LockKey(key, passphrase); err != nil {
			t.Fatalf("Failed to lock key for %s: %v", name, err)
		}
	}
	return party{fpr: strings.ToUpper(pub.GetFingerprint()), priv: key, pub: pub}
}

// gatewayFor returns a gateway holding the private key of owner and the
// public keys of everyone else. Listing owner among others stores its
// public certificate as given.
func gatewayFor(owner party, others ...party) secrets.Gateway {
	store := secrets.NewKeyStore()
	store.Add(owner.priv)
	for _, p := range others {
		store.Add(p.pub)
	}
	return secrets.NewPGPGateway(store, logger.Logger{})
}

type fixture struct {
	alice, bob, carol, mallory party
	input                      string
	out                        string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		alice:   newParty(t, "Alice", senderPassphrase),
		bob:     newParty(t, "Bob", nil),
		carol:   newParty(t, "Carol", nil),
		mallory: newParty(t, "Mallory", nil),
		input:   t.TempDir(),
		out:     t.TempDir(),
	}

	random := make([]byte, 10*1024)
	if _, err := rand.Read(random); err != nil {
		t.Fatalf("Failed to generate content: %v", err)
	}
	writeFile(t, filepath.Join(f.input, "data.bin"), random)
	writeFile(t, filepath.Join(f.input, "empty.txt"), nil)
	writeFile(t, filepath.Join(f.input, "nested", "notes.txt"), []byte("results are preliminary\n"))
	return f
}

func (f *fixture) encryptOptions() EncryptOptions {
	return EncryptOptions{
		KeyOptions: KeyOptions{
			Gateway: gatewayFor(f.alice, f.bob, f.carol),
			Offline: true,
		},
		Files:            []string{f.input},
		Recipients:       []string{f.bob.fpr, f.carol.fpr},
		Sender:           f.alice.fpr,
		Passphrase:       func() ([]byte, error) { return senderPassphrase, nil },
		CompressionLevel: 6,
		OutputPath:       filepath.Join(f.out, "package.tar"),
	}
}

func (f *fixture) decryptOptions(pkg string, recipient party) DecryptOptions {
	return DecryptOptions{
		KeyOptions: KeyOptions{
			Gateway: gatewayFor(recipient, f.alice),
			Offline: true,
		},
		Package:   pkg,
		OutputDir: unpackDir(pkg),
	}
}

func unpackDir(pkg string) string {
	return filepath.Join(filepath.Dir(pkg), "unpacked")
}

func (f *fixture) encrypt(t *testing.T) string {
	t.Helper()

	result, err := Encrypt(context.Background(), f.encryptOptions())
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if err := os.MkdirAll(unpackDir(result.OutputPath), 0755); err != nil {
		t.Fatalf("Failed to create output directory: %v", err)
	}
	return result.OutputPath
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

// rewritePackage rebuilds pkg after passing its control entries through
// modify.
func rewritePackage(t *testing.T, pkg string, modify func(entries map[string][]byte)) {
	t.Helper()

	f, err := os.Open(pkg)
	if err != nil {
		t.Fatalf("Failed to open package: %v", err)
	}
	entries, err := container.ExtractNamed(f, container.MetadataName, container.SignatureName, container.PayloadName)
	f.Close()
	if err != nil {
		t.Fatalf("Failed to read package: %v", err)
	}

	modify(entries)

	var buf bytes.Buffer
	err = container.Write(&buf, []container.Entry{
		container.Bytes(container.MetadataName, entries[container.MetadataName]),
		container.Bytes(container.SignatureName, entries[container.SignatureName]),
		container.Bytes(container.PayloadName, entries[container.PayloadName]),
	}, container.WriteOptions{})
	if err != nil {
		t.Fatalf("Failed to rebuild package: %v", err)
	}
	if err := os.WriteFile(pkg, buf.Bytes(), 0644); err != nil {
		t.Fatalf("Failed to write package: %v", err)
	}
}

func bytesReader(data []byte) *bytes.Reader {
	return bytes.NewReader(data)
}
