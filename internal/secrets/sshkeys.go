package secrets

import (
	"crypto/dsa" //nolint:staticcheck // legacy DSA keys are still accepted for SFTP logins
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"

	kerrors "github.com/PolarWolf314/sett/internal/errors"
)

type keyStrategy struct {
	name   string
	accept func(raw any) (any, bool)
}

// sshKeyStrategies are tried in order; the first that accepts the parsed
// key wins.
var sshKeyStrategies = []keyStrategy{
	{"rsa", func(raw any) (any, bool) {
		k, ok := raw.(*rsa.PrivateKey)
		return k, ok
	}},
	{"dsa", func(raw any) (any, bool) {
		k, ok := raw.(*dsa.PrivateKey)
		return k, ok
	}},
	{"ecdsa", func(raw any) (any, bool) {
		k, ok := raw.(*ecdsa.PrivateKey)
		return k, ok
	}},
	{"ed25519", func(raw any) (any, bool) {
		switch k := raw.(type) {
		case ed25519.PrivateKey:
			return k, true
		case *ed25519.PrivateKey:
			return *k, true
		}
		return nil, false
	}},
}

// LoadSSHKey reads the private key at path and returns a signer for SSH
// authentication.
func LoadSSHKey(path string, passphrase []byte) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", kerrors.ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("reading SSH key %s: %w", path, err)
	}
	return parseSSHKey(path, data, passphrase)
}

// parseSSHKey parses pemBytes once and runs every strategy against the
// result. A parse failure is reported as a single attempt; otherwise the
// returned *KeyLoadError carries one attempt per rejecting strategy.
func parseSSHKey(path string, pemBytes, passphrase []byte) (ssh.Signer, error) {
	loadErr := &kerrors.KeyLoadError{Path: path}

	raw, err := parseRawSSHKey(pemBytes, passphrase)
	if err != nil {
		loadErr.Attempts = append(loadErr.Attempts, kerrors.KeyAttempt{Strategy: "parse", Err: err})
		return nil, loadErr
	}
	for _, strategy := range sshKeyStrategies {
		key, ok := strategy.accept(raw)
		if !ok {
			loadErr.Attempts = append(loadErr.Attempts, kerrors.KeyAttempt{
				Strategy: strategy.name,
				Err:      fmt.Errorf("key is %T", raw),
			})
			continue
		}
		signer, err := ssh.NewSignerFromKey(key)
		if err != nil {
			loadErr.Attempts = append(loadErr.Attempts, kerrors.KeyAttempt{Strategy: strategy.name, Err: err})
			continue
		}
		return signer, nil
	}

	return nil, loadErr
}

func parseRawSSHKey(pemBytes, passphrase []byte) (any, error) {
	if len(passphrase) == 0 {
		raw, err := ssh.ParseRawPrivateKey(pemBytes)
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, kerrors.ErrPassphraseRequired
		}
		return raw, err
	}

	raw, err := ssh.ParseRawPrivateKeyWithPassphrase(pemBytes, passphrase)
	if err != nil {
		if errors.Is(err, x509.IncorrectPasswordError) {
			return nil, fmt.Errorf("%w: wrong passphrase", kerrors.ErrAuthentication)
		}
		// Unencrypted keys reject a passphrase; accept them anyway.
		if raw, plainErr := ssh.ParseRawPrivateKey(pemBytes); plainErr == nil {
			return raw, nil
		}
		return nil, err
	}
	return raw, nil
}
