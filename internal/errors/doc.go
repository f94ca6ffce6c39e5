// Package errors provides typed error values for the sett package pipeline.
//
// Using sentinel errors allows callers to handle specific error conditions
// programmatically with errors.Is() rather than string matching.
//
// # Error Categories
//
// Errors are grouped by category:
//
//   - Input errors: malformed arguments or containers (ErrValidation, ErrFormat, ErrSecurity)
//   - Key errors: missing or untrusted keys (ErrKeyResolution, ErrKeyLoad, ErrTrust, ErrAuthentication)
//   - Verification errors: tampered data (ErrIntegrity, ErrSignature)
//   - Network errors: remote failures (ErrTransfer, ErrSuspensionTimeout, ErrPortal)
//
// IntegrityError, KeyLoadError and TransferError carry the details of a
// failure and unwrap to their category sentinel.
//
// # Usage
//
// Wrap errors with additional context:
//
//	return fmt.Errorf("%w: recipient %s is expired", errors.ErrKeyResolution, fpr)
//
// Handle errors in the CLI layer:
//
//	result, err := workflows.Decrypt(ctx, opts)
//	if errors.Is(err, kerrors.ErrSignature) {
//	    // Refuse to trust the package
//	}
//
// UserMessage converts any error into the text shown to the end user; errors
// outside the taxonomy are reported without internal detail.
package errors
