// Package workflows provides high-level orchestration for sett commands.
//
// Workflows coordinate the pipeline packages (checksum, container,
// secrets, metadata, transfer, audit) to implement complete user-facing
// features. Each workflow handles a single command's business logic,
// independent of CLI concerns like flag parsing, spinners, and output
// formatting.
//
// # Design Philosophy
//
// The cmd/ package should be a thin layer that:
//   - Parses command-line flags and arguments
//   - Builds the key store, gateway and network clients from configuration
//   - Calls the appropriate workflow function
//   - Formats the result for display
//
// Workflows handle everything else:
//   - Validating inputs before any network or cryptographic work starts
//   - Resolving and validating keys
//   - Performing the core operation with progress reporting
//   - Cleaning up partial output on failure
//   - Recording audit trail entries
//
// # Available Workflows
//
//   - Encrypt: checksums files, archives them with a manifest, encrypts and
//     signs the archive, and writes a package with signed metadata
//   - Decrypt: verifies the metadata signature and payload checksum,
//     decrypts, unpacks, and re-verifies every file against the manifest
//   - Transfer: verifies packages and uploads them with a completion marker
//
// # Stages
//
// Each workflow runs a fixed sequence of stages. The first failure ends the
// run; the returned error is a *StageError naming the stage, and whatever
// the run wrote is removed. Encrypt runs InputCheck, KeyResolution,
// ChecksumPass, CompressEncryptSign, MetadataSign and FinalAssembly.
// Decrypt runs SignatureCheck, KeyValidation, ChecksumCheck, Decrypt and
// PostChecksumCheck. Metadata is never trusted before its signature has
// been verified.
//
// # Error Handling
//
// Workflows return typed errors from the internal/errors package, allowing
// the CLI layer to provide appropriate user-facing messages without string
// matching. Use errors.Is() to check for specific error conditions:
//
//	result, err := workflows.Decrypt(ctx, opts)
//	if errors.Is(err, kerrors.ErrIntegrity) {
//	    // The package was modified after it was created
//	}
//
// # Context Usage
//
// All workflow functions accept a context.Context as their first parameter.
// Cancelling it stops streaming stages at the next block.
package workflows
