package workflows

import (
	"fmt"
	"time"

	kerrors "github.com/PolarWolf314/sett/internal/errors"
	"github.com/PolarWolf314/sett/internal/secrets"
)

// KeyOptions selects how keys are resolved and trusted. It is embedded in
// the options of every workflow.
type KeyOptions struct {
	// Gateway performs all cryptographic operations.
	Gateway secrets.Gateway

	// Authority is the fingerprint that must certify every key involved.
	// Empty disables the certification check.
	Authority string

	// Keyserver refreshes stale keys. Ignored when Offline is set.
	Keyserver secrets.KeyFetcher

	// MaxKeyAge is how long a refreshed key stays fresh.
	MaxKeyAge time.Duration

	// Offline disables every network call.
	Offline bool
}

func (k KeyOptions) validateOptions() secrets.ValidateOptions {
	opts := secrets.ValidateOptions{
		Authority: k.Authority,
		MaxAge:    k.MaxKeyAge,
	}
	if !k.Offline {
		opts.Keyserver = k.Keyserver
	}
	return opts
}

func (k KeyOptions) check() error {
	if k.Gateway == nil {
		return fmt.Errorf("%w: no crypto gateway configured", kerrors.ErrValidation)
	}
	return nil
}

// PassphraseFunc supplies the passphrase of a private key on demand.
type PassphraseFunc func() ([]byte, error)

func (p PassphraseFunc) get() ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return p()
}
