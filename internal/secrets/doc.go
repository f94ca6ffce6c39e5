// Package secrets is sett's crypto gateway: it owns the local OpenPGP key
// store and performs every encryption, decryption, signature and trust
// decision of the package pipeline.
//
// # Key Store
//
// KeyStore indexes OpenPGP keys by fingerprint and by the key id of every
// (sub)key. Keys live as armored files in the user's data directory
// (~/.local/share/sett/keys by default):
//
//   - <FINGERPRINT>.asc      public certificate
//   - <FINGERPRINT>.key.asc  private key, normally passphrase-locked
//
// The modification time of a public certificate records when it was last
// refreshed from a keyserver.
//
// # Gateway
//
// Gateway is the capability the workflows depend on. PGPGateway implements
// it with gopenpgp; tests may substitute their own implementation.
//
//   - EncryptAndSign resolves every recipient and unlocks the signer
//     before the first ciphertext byte is produced
//   - Decrypt reports the signers once the plaintext has been read to EOF
//   - ValidateKeyChain refreshes stale keys from a keyserver and checks
//     that a key is certified by the authority key
//   - RecipientKeyIDs lists the key ids a ciphertext was encrypted for
//     without decrypting it
//
// # SSH Keys
//
// LoadSSHKey loads the private key used to authenticate SFTP transfers. It
// tries each supported algorithm in turn and reports every failed attempt
// when none succeeds.
package secrets
