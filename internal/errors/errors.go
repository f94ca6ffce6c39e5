package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Input errors indicate malformed arguments or package contents.
var (
	// ErrValidation indicates a malformed input argument or metadata field.
	ErrValidation = errors.New("validation failed")

	// ErrFormat indicates a container or manifest does not follow the expected layout.
	ErrFormat = errors.New("invalid format")

	// ErrSecurity indicates a path that attempts to escape its destination root.
	ErrSecurity = errors.New("security violation")

	// ErrNoFilesFound indicates no files matched the provided patterns.
	ErrNoFilesFound = errors.New("no matching files found")

	// ErrFileNotFound indicates a specific file could not be located.
	ErrFileNotFound = errors.New("file not found")
)

// Key errors indicate missing, unparsable or untrusted key material.
var (
	// ErrKeyResolution indicates a fingerprint could not be resolved to a usable key.
	ErrKeyResolution = errors.New("key resolution failed")

	// ErrKeyLoad indicates key material could not be parsed with any supported algorithm.
	ErrKeyLoad = errors.New("failed to load key")

	// ErrTrust indicates a key is not certified by the required authority.
	ErrTrust = errors.New("key is not trusted")

	// ErrAuthentication indicates a private key could not be unlocked or a login failed.
	ErrAuthentication = errors.New("authentication failed")

	// ErrPassphraseRequired indicates an encrypted private key was given without a passphrase.
	ErrPassphraseRequired = errors.New("passphrase required")
)

// Verification errors indicate tampered or corrupted data.
var (
	// ErrIntegrity indicates a checksum mismatch.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrSignature indicates a signature is missing, unreadable or invalid.
	ErrSignature = errors.New("signature verification failed")
)

// Network errors indicate a failure talking to a remote service.
var (
	// ErrTransfer indicates an upload did not complete.
	ErrTransfer = errors.New("transfer failed")

	// ErrSuspensionTimeout indicates a blocking callback did not answer in time.
	ErrSuspensionTimeout = errors.New("timed out waiting for response")

	// ErrPortal indicates the portal rejected a package or could not be reached.
	ErrPortal = errors.New("portal check failed")
)

// IntegrityError reports a file whose digest differs from the recorded one.
type IntegrityError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: checksum mismatch for %s (expected %s, got %s)",
		ErrIntegrity, e.Path, e.Expected, e.Actual)
}

func (e *IntegrityError) Unwrap() error {
	return ErrIntegrity
}

// KeyAttempt records one failed strategy while loading key material.
type KeyAttempt struct {
	Strategy string
	Err      error
}

// KeyLoadError aggregates every failed attempt to load a key file.
type KeyLoadError struct {
	Path     string
	Attempts []KeyAttempt
}

func (e *KeyLoadError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Strategy, a.Err))
	}
	return fmt.Sprintf("%s %s (%s)", ErrKeyLoad, e.Path, strings.Join(parts, "; "))
}

// Unwrap exposes the sentinel and every attempt so errors.Is can see
// ErrPassphraseRequired from a single strategy.
func (e *KeyLoadError) Unwrap() []error {
	errs := []error{ErrKeyLoad}
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// TransferError describes the remote operation that failed during an upload.
type TransferError struct {
	Op   string
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s %s", ErrTransfer, e.Op, e.Path)
	}
	return fmt.Sprintf("%s: %s %s: %v", ErrTransfer, e.Op, e.Path, e.Err)
}

func (e *TransferError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTransfer}
	}
	return []error{ErrTransfer, e.Err}
}

var userFacing = []error{
	ErrValidation, ErrFormat, ErrSecurity, ErrNoFilesFound, ErrFileNotFound,
	ErrKeyResolution, ErrKeyLoad, ErrTrust, ErrAuthentication, ErrPassphraseRequired,
	ErrIntegrity, ErrSignature, ErrTransfer, ErrSuspensionTimeout, ErrPortal,
}

// IsUserFacing reports whether err belongs to the taxonomy above.
func IsUserFacing(err error) bool {
	for _, target := range userFacing {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// UserMessage returns the text shown to the end user for err.
// Errors outside the taxonomy are reported generically.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if IsUserFacing(err) {
		return err.Error()
	}
	return "unexpected error (run with --debug for details)"
}
