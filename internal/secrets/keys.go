package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ProtonMail/gopenpgp/v3/crypto"

	kerrors "github.com/PolarWolf314/sett/internal/errors"
)

var fingerprintPattern = regexp.MustCompile(`^([0-9A-F]{40}|[0-9A-F]{64})$`)

// NormalizeFingerprint upper-cases fpr and strips spaces and an optional
// 0x prefix. It returns ErrValidation for anything that is not a v4 or v6
// fingerprint.
func NormalizeFingerprint(fpr string) (string, error) {
	n := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(fpr), " ", ""))
	n = strings.TrimPrefix(n, "0X")
	if !fingerprintPattern.MatchString(n) {
		return "", fmt.Errorf("%w: %q is not a key fingerprint", kerrors.ErrValidation, fpr)
	}
	return n, nil
}

// KeyID formats a 64-bit OpenPGP key id.
func KeyID(id uint64) string {
	return fmt.Sprintf("%016X", id)
}

// KeyRecord describes a key held by the store.
type KeyRecord struct {
	Fingerprint string
	// KeyID is the last 16 hex characters of Fingerprint.
	KeyID   string
	UserIDs []string
	// SignaturesBy lists the key ids of third parties that certified one of
	// the user ids.
	SignaturesBy []string
	HasPrivate   bool
	Expired      bool
	Revoked      bool
	RefreshedAt  time.Time
}

// Stale reports whether the key was never refreshed or was refreshed
// longer than maxAge ago.
func (r *KeyRecord) Stale(maxAge time.Duration) bool {
	return r.RefreshedAt.IsZero() || time.Since(r.RefreshedAt) > maxAge
}

// KeyStore is an in-memory index of OpenPGP keys, optionally backed by a
// directory. It is safe for concurrent use.
type KeyStore struct {
	mu        sync.RWMutex
	dir       string
	public    map[string]*crypto.Key
	private   map[string]*crypto.Key
	byKeyID   map[uint64]string
	refreshed map[string]time.Time
}

func NewKeyStore() *KeyStore {
	return &KeyStore{
		public:    make(map[string]*crypto.Key),
		private:   make(map[string]*crypto.Key),
		byKeyID:   make(map[uint64]string),
		refreshed: make(map[string]time.Time),
	}
}

// OpenKeyStore creates a store backed by dir and loads every key file in
// it. A missing directory yields an empty store that is created on first
// Save.
func OpenKeyStore(dir string) (*KeyStore, error) {
	s := NewKeyStore()
	s.dir = dir
	if err := s.LoadDir(dir); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadDir adds every *.asc, *.gpg and *.pgp file in dir to the store.
func (s *KeyStore) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading key directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !isKeyFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		key, err := parseKey(data)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", kerrors.ErrKeyLoad, path, err)
		}
		fpr := s.Add(key)

		if !key.IsPrivate() {
			if info, err := entry.Info(); err == nil {
				s.MarkRefreshed(fpr, info.ModTime())
			}
		}
	}

	return nil
}

// Import parses armored or binary key material and adds it to the store.
func (s *KeyStore) Import(data []byte) (string, error) {
	key, err := parseKey(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", kerrors.ErrKeyLoad, err)
	}
	return s.Add(key), nil
}

func isKeyFile(name string) bool {
	switch filepath.Ext(name) {
	case ".asc", ".gpg", ".pgp":
		return true
	}
	return false
}

// parseKey accepts armored and binary key material.
func parseKey(data []byte) (*crypto.Key, error) {
	key, err := crypto.NewKeyFromArmored(string(data))
	if err == nil {
		return key, nil
	}
	key, err = crypto.NewKey(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key (tried both armored and binary formats): %w", err)
	}
	return key, nil
}

// Add indexes key and returns its fingerprint. Adding a public certificate
// for a key whose private half is known keeps the private half, and adding
// a private key keeps an already stored public certificate with its
// third-party certifications.
func (s *KeyStore) Add(key *crypto.Key) string {
	fpr := strings.ToUpper(key.GetFingerprint())

	s.mu.Lock()
	defer s.mu.Unlock()

	if key.IsPrivate() {
		s.private[fpr] = key
		if _, ok := s.public[fpr]; !ok {
			if pub, err := key.ToPublic(); err == nil {
				s.public[fpr] = pub
			}
		}
	} else {
		s.public[fpr] = key
	}

	entity := key.GetEntity()
	s.byKeyID[entity.PrimaryKey.KeyId] = fpr
	for _, sub := range entity.Subkeys {
		s.byKeyID[sub.PublicKey.KeyId] = fpr
	}

	return fpr
}

// Get returns the public certificate for fpr, or nil.
func (s *KeyStore) Get(fpr string) *crypto.Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.public[strings.ToUpper(fpr)]
}

// Private returns the (possibly locked) private key for fpr, or nil.
func (s *KeyStore) Private(fpr string) *crypto.Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.private[strings.ToUpper(fpr)]
}

// Lookup maps a primary or subkey id to the primary fingerprint.
func (s *KeyStore) Lookup(keyID uint64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fpr, ok := s.byKeyID[keyID]
	return fpr, ok
}

// MarkRefreshed records when fpr was last fetched from a keyserver.
func (s *KeyStore) MarkRefreshed(fpr string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshed[strings.ToUpper(fpr)] = at
}

// Stale reports whether fpr is unknown or was refreshed longer than maxAge ago.
func (s *KeyStore) Stale(fpr string, maxAge time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fpr = strings.ToUpper(fpr)
	if _, ok := s.public[fpr]; !ok {
		return true
	}
	at, ok := s.refreshed[fpr]
	return !ok || time.Since(at) > maxAge
}

// Record describes fpr, or returns nil if the store does not hold it.
func (s *KeyStore) Record(fpr string) *KeyRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fpr = strings.ToUpper(fpr)
	key, ok := s.public[fpr]
	if !ok {
		return nil
	}
	_, hasPrivate := s.private[fpr]
	return newRecord(key, hasPrivate, s.refreshed[fpr])
}

// Records describes every key, sorted by first user id.
func (s *KeyStore) Records() []KeyRecord {
	s.mu.RLock()
	fprs := make([]string, 0, len(s.public))
	for fpr := range s.public {
		fprs = append(fprs, fpr)
	}
	s.mu.RUnlock()

	records := make([]KeyRecord, 0, len(fprs))
	for _, fpr := range fprs {
		if r := s.Record(fpr); r != nil {
			records = append(records, *r)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return firstUserID(records[i]) < firstUserID(records[j])
	})
	return records
}

func firstUserID(r KeyRecord) string {
	if len(r.UserIDs) == 0 {
		return r.Fingerprint
	}
	return r.UserIDs[0]
}

// Ring returns a key ring with every public certificate in the store.
func (s *KeyStore) Ring() (*crypto.KeyRing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ring, err := crypto.NewKeyRing(nil)
	if err != nil {
		return nil, err
	}
	for _, key := range s.public {
		if err := ring.AddKey(key); err != nil {
			return nil, err
		}
	}
	return ring, nil
}

// Save writes the public certificate of fpr, and its private key if held,
// to the store directory. Stores without a directory ignore Save.
func (s *KeyStore) Save(fpr string) error {
	if s.dir == "" {
		return nil
	}
	fpr = strings.ToUpper(fpr)

	pub := s.Get(fpr)
	if pub == nil {
		return fmt.Errorf("%w: %s", kerrors.ErrKeyResolution, fpr)
	}
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}

	armored, err := pub.Armor()
	if err != nil {
		return fmt.Errorf("failed to armor public key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, fpr+".asc"), []byte(armored), 0644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}

	if priv := s.Private(fpr); priv != nil {
		armored, err := priv.Armor()
		if err != nil {
			return fmt.Errorf("failed to armor private key: %w", err)
		}
		if err := os.WriteFile(filepath.Join(s.dir, fpr+".key.asc"), []byte(armored), 0600); err != nil {
			return fmt.Errorf("failed to write private key: %w", err)
		}
	}

	return nil
}

func newRecord(key *crypto.Key, hasPrivate bool, refreshed time.Time) *KeyRecord {
	fpr := strings.ToUpper(key.GetFingerprint())
	now := time.Now().Unix()

	record := &KeyRecord{
		Fingerprint: fpr,
		KeyID:       fpr[len(fpr)-16:],
		HasPrivate:  hasPrivate,
		Expired:     key.IsExpired(now),
		Revoked:     key.IsRevoked(now),
		RefreshedAt: refreshed,
	}

	entity := key.GetEntity()
	signers := make(map[string]bool)
	for name, ident := range entity.Identities {
		record.UserIDs = append(record.UserIDs, name)
		for _, cert := range ident.OtherCertifications {
			if cert == nil || cert.Packet == nil || cert.Packet.IssuerKeyId == nil {
				continue
			}
			signers[KeyID(*cert.Packet.IssuerKeyId)] = true
		}
	}
	sort.Strings(record.UserIDs)
	for id := range signers {
		record.SignaturesBy = append(record.SignaturesBy, id)
	}
	sort.Strings(record.SignaturesBy)

	return record
}
