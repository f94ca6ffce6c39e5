package secrets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/ProtonMail/gopenpgp/v3/constants"
	"github.com/ProtonMail/gopenpgp/v3/crypto"

	kerrors "github.com/PolarWolf314/sett/internal/errors"
	logger "github.com/PolarWolf314/sett/internal/logging"
)

// Gateway performs every cryptographic operation of the package pipeline.
type Gateway interface {
	EncryptAndSign(ctx context.Context, plaintext io.Reader, opts EncryptOptions) (io.ReadCloser, error)
	Decrypt(ctx context.Context, ciphertext io.Reader, passphrase []byte) (*DecryptReader, error)
	ValidateKeyChain(ctx context.Context, fingerprint string, opts ValidateOptions) (*KeyRecord, error)
	RecipientKeyIDs(ciphertext io.Reader) ([]string, error)
	SignDetached(data []byte, signer string, passphrase []byte) ([]byte, error)
	VerifyDetached(data, signature []byte) (*KeyRecord, error)
}

// EncryptOptions configures EncryptAndSign.
type EncryptOptions struct {
	// Recipients are the fingerprints the payload is encrypted for.
	Recipients []string

	// Signer is the fingerprint of the signing key. Empty disables signing.
	Signer string

	// Passphrase unlocks the signer's private key.
	Passphrase []byte

	// TrustOverride skips the authority check on recipients.
	TrustOverride bool
}

// PGPGateway implements Gateway with gopenpgp over a KeyStore.
type PGPGateway struct {
	Store *KeyStore

	// Authority, when set, is the fingerprint every recipient must be
	// certified by unless EncryptOptions.TrustOverride is set.
	Authority string

	Logger logger.Logger

	pgp *crypto.PGPHandle
}

func NewPGPGateway(store *KeyStore, log logger.Logger) *PGPGateway {
	return &PGPGateway{
		Store:  store,
		Logger: log,
		pgp:    crypto.PGP(),
	}
}

var _ Gateway = (*PGPGateway)(nil)

// EncryptAndSign returns a stream of the encrypted and signed plaintext.
// Recipients and signer are resolved before the stream is returned, so a
// key problem never yields a partial ciphertext. The caller must read the
// stream to EOF or close it.
func (g *PGPGateway) EncryptAndSign(ctx context.Context, plaintext io.Reader, opts EncryptOptions) (io.ReadCloser, error) {
	if len(opts.Recipients) == 0 {
		return nil, fmt.Errorf("%w: at least one recipient is required", kerrors.ErrValidation)
	}

	recipients, err := g.recipientRing(opts)
	if err != nil {
		return nil, err
	}

	builder := g.pgp.Encryption().Recipients(recipients)

	var signer *crypto.Key
	if opts.Signer != "" {
		signer, err = g.unlockPrivate(opts.Signer, opts.Passphrase)
		if err != nil {
			return nil, err
		}
		builder = builder.SigningKey(signer)
	}

	handle, err := builder.New()
	if err != nil {
		if signer != nil {
			signer.ClearPrivateParams()
		}
		return nil, fmt.Errorf("creating encryption handle: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		if signer != nil {
			defer signer.ClearPrivateParams()
		}

		wc, err := handle.EncryptingWriter(pw, crypto.Bytes)
		if err != nil {
			pw.CloseWithError(fmt.Errorf("starting encryption: %w", err))
			return
		}
		if _, err := io.Copy(wc, &contextReader{ctx: ctx, r: plaintext}); err != nil {
			pw.CloseWithError(err)
			return
		}
		if err := wc.Close(); err != nil {
			pw.CloseWithError(fmt.Errorf("finishing encryption: %w", err))
			return
		}
		pw.Close()
	}()

	return pr, nil
}

func (g *PGPGateway) recipientRing(opts EncryptOptions) (*crypto.KeyRing, error) {
	ring, err := crypto.NewKeyRing(nil)
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	for _, r := range opts.Recipients {
		fpr, err := NormalizeFingerprint(r)
		if err != nil {
			return nil, err
		}
		key := g.Store.Get(fpr)
		switch {
		case key == nil:
			return nil, fmt.Errorf("%w: no key for recipient %s", kerrors.ErrKeyResolution, fpr)
		case key.IsRevoked(now):
			return nil, fmt.Errorf("%w: key %s is revoked", kerrors.ErrKeyResolution, fpr)
		case key.IsExpired(now):
			return nil, fmt.Errorf("%w: key %s is expired", kerrors.ErrKeyResolution, fpr)
		case !key.CanEncrypt(now):
			return nil, fmt.Errorf("%w: key %s cannot encrypt", kerrors.ErrKeyResolution, fpr)
		}

		if g.Authority != "" && !opts.TrustOverride {
			if err := g.checkCertified(fpr, g.Authority); err != nil {
				return nil, err
			}
		}

		if err := ring.AddKey(key); err != nil {
			return nil, fmt.Errorf("adding recipient %s: %w", fpr, err)
		}
	}
	return ring, nil
}

// unlockPrivate returns an unlocked copy of the private key for fpr. The
// caller clears it when done.
func (g *PGPGateway) unlockPrivate(fpr string, passphrase []byte) (*crypto.Key, error) {
	fpr, err := NormalizeFingerprint(fpr)
	if err != nil {
		return nil, err
	}
	key := g.Store.Private(fpr)
	if key == nil {
		return nil, fmt.Errorf("%w: no private key for %s", kerrors.ErrAuthentication, fpr)
	}

	locked, err := key.IsLocked()
	if err != nil {
		return nil, fmt.Errorf("%w: inspecting private key %s: %v", kerrors.ErrAuthentication, fpr, err)
	}
	if !locked {
		return key.Copy()
	}
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("%w: private key %s is locked: %w", kerrors.ErrAuthentication, fpr, kerrors.ErrPassphraseRequired)
	}
	unlocked, err := key.Unlock(passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: wrong passphrase for %s", kerrors.ErrAuthentication, fpr)
	}
	return unlocked, nil
}

// Decrypt returns the plaintext of ciphertext. Signers are available once
// the returned reader has been read to EOF.
func (g *PGPGateway) Decrypt(ctx context.Context, ciphertext io.Reader, passphrase []byte) (*DecryptReader, error) {
	var header bytes.Buffer
	ids, err := readRecipientIDs(io.TeeReader(ciphertext, &header))
	if err != nil {
		return nil, err
	}
	stream := io.MultiReader(&header, ciphertext)

	ring, err := crypto.NewKeyRing(nil)
	if err != nil {
		return nil, err
	}
	var unlockErr error
	var unlocked []*crypto.Key
	for _, id := range ids {
		fpr, ok := g.Store.Lookup(id)
		if !ok || g.Store.Private(fpr) == nil {
			continue
		}
		key, err := g.unlockPrivate(fpr, passphrase)
		if err != nil {
			unlockErr = err
			continue
		}
		if err := ring.AddKey(key); err != nil {
			key.ClearPrivateParams()
			return nil, err
		}
		unlocked = append(unlocked, key)
	}
	if len(unlocked) == 0 {
		if unlockErr != nil {
			return nil, unlockErr
		}
		return nil, fmt.Errorf("%w: no private key for any of the %d recipients", kerrors.ErrKeyResolution, len(ids))
	}

	verifiers, err := g.Store.Ring()
	if err != nil {
		return nil, err
	}

	handle, err := g.pgp.Decryption().DecryptionKeys(ring).VerificationKeys(verifiers).New()
	if err != nil {
		ring.ClearPrivateParams()
		return nil, fmt.Errorf("creating decryption handle: %w", err)
	}
	reader, err := handle.DecryptingReader(&contextReader{ctx: ctx, r: stream}, crypto.Bytes)
	if err != nil {
		ring.ClearPrivateParams()
		return nil, fmt.Errorf("%w: cannot decrypt: %v", kerrors.ErrFormat, err)
	}

	return &DecryptReader{r: reader, store: g.Store, keys: ring}, nil
}

// DecryptReader streams decrypted plaintext.
type DecryptReader struct {
	r       *crypto.VerifyDataReader
	store   *KeyStore
	keys    *crypto.KeyRing
	done    bool
	signers []string
	sigErr  error
}

// Read keeps returning io.EOF once the plaintext is exhausted; the
// underlying reader must not be read past its end.
func (d *DecryptReader) Read(p []byte) (int, error) {
	if d.done {
		return 0, io.EOF
	}
	n, err := d.r.Read(p)
	if err == io.EOF && !d.done {
		d.done = true
		d.keys.ClearPrivateParams()
		d.signers, d.sigErr = d.verify()
	}
	if err != nil && err != io.EOF && !errors.Is(err, context.Canceled) {
		return n, fmt.Errorf("%w: decrypting payload: %v", kerrors.ErrIntegrity, err)
	}
	return n, err
}

// Signers returns the fingerprints that signed the plaintext. It is empty
// for unsigned messages and fails until the reader reaches EOF.
func (d *DecryptReader) Signers() ([]string, error) {
	if !d.done {
		return nil, fmt.Errorf("%w: plaintext not fully read", kerrors.ErrSignature)
	}
	return d.signers, d.sigErr
}

func (d *DecryptReader) verify() ([]string, error) {
	result, err := d.r.VerifySignature()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrSignature, err)
	}
	if sigErr := result.SignatureError(); sigErr != nil {
		if signatureStatus(sigErr) == constants.SIGNATURE_NOT_SIGNED {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", kerrors.ErrSignature, sigErr)
	}

	if key := result.SignedByKey(); key != nil {
		return []string{strings.ToUpper(key.GetFingerprint())}, nil
	}
	if fpr, ok := d.store.Lookup(result.SignedByKeyId()); ok {
		return []string{fpr}, nil
	}
	return nil, fmt.Errorf("%w: signed by unknown key", kerrors.ErrSignature)
}

func signatureStatus(err error) int {
	var value crypto.SignatureVerificationError
	if errors.As(err, &value) {
		return value.Status
	}
	var ptr *crypto.SignatureVerificationError
	if errors.As(err, &ptr) {
		return ptr.Status
	}
	return constants.SIGNATURE_FAILED
}

// RecipientKeyIDs lists who ciphertext is encrypted for without decrypting
// it. Ids of known keys are reported as primary fingerprints, the others as
// 16-character key ids.
func (g *PGPGateway) RecipientKeyIDs(ciphertext io.Reader) ([]string, error) {
	ids, err := readRecipientIDs(ciphertext)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(ids))
	seen := make(map[string]bool)
	for _, id := range ids {
		name := KeyID(id)
		if fpr, ok := g.Store.Lookup(id); ok {
			name = fpr
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out, nil
}

// readRecipientIDs consumes the leading public-key encrypted session key
// packets of an OpenPGP message.
func readRecipientIDs(r io.Reader) ([]uint64, error) {
	packets := packet.NewReader(r)
	var ids []uint64
	for {
		p, err := packets.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading ciphertext header: %v", kerrors.ErrFormat, err)
		}
		ek, ok := p.(*packet.EncryptedKey)
		if !ok {
			break
		}
		ids = append(ids, ek.KeyId)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: ciphertext has no recipients", kerrors.ErrFormat)
	}
	return ids, nil
}

// SignDetached returns an armored detached signature over data.
func (g *PGPGateway) SignDetached(data []byte, signer string, passphrase []byte) ([]byte, error) {
	key, err := g.unlockPrivate(signer, passphrase)
	if err != nil {
		return nil, err
	}
	defer key.ClearPrivateParams()

	handle, err := g.pgp.Sign().SigningKey(key).Detached().New()
	if err != nil {
		return nil, fmt.Errorf("creating signing handle: %w", err)
	}
	defer handle.ClearPrivateParams()

	sig, err := handle.Sign(data, crypto.Armor)
	if err != nil {
		return nil, fmt.Errorf("%w: signing: %v", kerrors.ErrAuthentication, err)
	}
	return sig, nil
}

// VerifyDetached checks signature over data against every key in the store
// and describes the signer.
func (g *PGPGateway) VerifyDetached(data, signature []byte) (*KeyRecord, error) {
	if len(bytes.TrimSpace(signature)) == 0 {
		return nil, fmt.Errorf("%w: signature is empty", kerrors.ErrSignature)
	}

	ring, err := g.Store.Ring()
	if err != nil {
		return nil, err
	}
	if ring.CountEntities() == 0 {
		return nil, fmt.Errorf("%w: no keys to verify against", kerrors.ErrSignature)
	}
	handle, err := g.pgp.Verify().VerificationKeys(ring).New()
	if err != nil {
		return nil, fmt.Errorf("%w: creating verification handle: %v", kerrors.ErrSignature, err)
	}

	encoding := crypto.Bytes
	if bytes.HasPrefix(bytes.TrimSpace(signature), []byte("-----BEGIN")) {
		encoding = crypto.Armor
	}
	result, err := handle.VerifyDetached(data, signature, encoding)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrSignature, err)
	}
	if sigErr := result.SignatureError(); sigErr != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrSignature, sigErr)
	}

	fpr, ok := g.Store.Lookup(result.SignedByKeyId())
	if key := result.SignedByKey(); key != nil {
		fpr, ok = strings.ToUpper(key.GetFingerprint()), true
	}
	if !ok {
		return nil, fmt.Errorf("%w: signed by unknown key", kerrors.ErrSignature)
	}
	return g.Store.Record(fpr), nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
