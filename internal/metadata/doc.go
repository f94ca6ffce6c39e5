// Package metadata defines the signed record that travels with every sett
// package.
//
// metadata.json names the sender, the recipients and the SHA-256 digest of
// the encrypted payload. It is written once when the package is created
// and protected by a detached OpenPGP signature in metadata.json.sig. The
// signature covers the exact serialized bytes, so receivers must verify
// the bytes they read rather than a re-encoded form.
//
// Decryption and transfer verify the signature before any other field is
// trusted:
//
//	md, signer, err := metadata.VerifySignature(ctx, payload, sig, gw, metadata.VerifyOptions{
//		Authority: cfg.Keys.AuthorityFingerprint,
//	})
package metadata
