package metadata

import (
	"bytes"
	"context"
	"fmt"
	"time"

	kerrors "github.com/PolarWolf314/sett/internal/errors"
	logger "github.com/PolarWolf314/sett/internal/logging"
	"github.com/PolarWolf314/sett/internal/secrets"
)

// Sign returns a detached signature over the exact payload bytes.
func Sign(payload []byte, signer string, passphrase []byte, gw secrets.Gateway) ([]byte, error) {
	return gw.SignDetached(payload, signer, passphrase)
}

// VerifyOptions configures VerifySignature.
type VerifyOptions struct {
	// Authority must certify the sender. Empty skips the check.
	Authority string
	// Keyserver refreshes the sender key. Nil keeps local keys.
	Keyserver secrets.KeyFetcher
	MaxAge    time.Duration
	Logger    logger.Logger
}

// VerifySignature checks signature over payload and returns the parsed
// metadata with the signer's key. The signer must be the sender named in
// the metadata and, when an authority is configured, certified by it.
func VerifySignature(ctx context.Context, payload, signature []byte, gw secrets.Gateway, opts VerifyOptions) (*Metadata, *secrets.KeyRecord, error) {
	if len(bytes.TrimSpace(signature)) == 0 {
		return nil, nil, fmt.Errorf("%w: metadata is not signed", kerrors.ErrSignature)
	}

	// The claimed sender is only used to fetch a key to verify against. A
	// failure here surfaces as a signature error below.
	if opts.Keyserver != nil {
		if claimed, err := Parse(payload); err == nil {
			if _, err := gw.ValidateKeyChain(ctx, claimed.Sender, secrets.ValidateOptions{
				Keyserver: opts.Keyserver,
				MaxAge:    opts.MaxAge,
			}); err != nil {
				opts.Logger.Warnf("Sender key %s not resolved before verification: %v", claimed.Sender, err)
			}
		}
	}

	signer, err := gw.VerifyDetached(payload, signature)
	if err != nil {
		return nil, nil, fmt.Errorf("verifying metadata: %w", err)
	}

	md, err := Parse(payload)
	if err != nil {
		return nil, nil, err
	}
	if signer.Fingerprint != md.Sender {
		return nil, nil, fmt.Errorf("%w: metadata signed by %s but sender is %s", kerrors.ErrSignature, signer.Fingerprint, md.Sender)
	}

	record, err := gw.ValidateKeyChain(ctx, md.Sender, secrets.ValidateOptions{
		Authority: opts.Authority,
		MaxAge:    opts.MaxAge,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("validating sender: %w", err)
	}

	return md, record, nil
}
