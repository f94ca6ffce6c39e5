package secrets

import (
	"strings"
	"testing"

	"github.com/ProtonMail/gopenpgp/v3/crypto"
	"github.com/stretchr/testify/require"

	logger "github.com/PolarWolf314/sett/internal/logging"
)

type testKey struct {
	fpr  string
	priv *crypto.Key
	pub  *crypto.Key
}

func newTestKey(t *testing.T, name string, passphrase []byte) testKey {
	t.Helper()

	pgp := crypto.PGP()
	key, err := pgp.KeyGeneration().AddUserId(name, strings.ToLower(name)+"@example.org").New().GenerateKey()
	require.NoError(t, err)

	pub, err := key.ToPublic()
	require.NoError(t, err)

	if len(passphrase) > 0 {
		key, err = pgp.LockKey(key, passphrase)
		require.NoError(t, err)
	}

	return testKey{fpr: strings.ToUpper(pub.GetFingerprint()), priv: key, pub: pub}
}

// certify adds a certification by authority to every user id of target.
func certify(t *testing.T, target, authority testKey) {
	t.Helper()

	entity := target.pub.GetEntity()
	for name := range entity.Identities {
		require.NoError(t, entity.SignIdentity(name, authority.priv.GetEntity(), nil))
	}
}

func newTestGateway(keys ...*crypto.Key) *PGPGateway {
	store := NewKeyStore()
	for _, k := range keys {
		store.Add(k)
	}
	return NewPGPGateway(store, logger.Logger{})
}
