// Package checksum computes SHA-256 digests of streams and reads and writes
// checksum manifests.
//
// A manifest is a UTF-8 text file with one line per archived file:
//
//	<64 lowercase hex digits> <slash-separated relative path>
//
// exactly one space separates the digest from the path. Manifests travel
// inside encrypted packages and are re-verified against the unpacked files
// after decryption, so ParseManifest refuses any path that could resolve
// outside the directory it is verified against.
package checksum
