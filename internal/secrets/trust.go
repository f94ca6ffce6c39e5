package secrets

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	kerrors "github.com/PolarWolf314/sett/internal/errors"
)

// DefaultMaxKeyAge is how long a keyserver copy is considered fresh.
const DefaultMaxKeyAge = 24 * time.Hour

// ValidateOptions configures ValidateKeyChain.
type ValidateOptions struct {
	// Authority is the fingerprint that must certify the key. Empty skips
	// the certification check.
	Authority string

	// Keyserver refreshes stale or missing keys. Nil keeps the local copy.
	Keyserver KeyFetcher

	// MaxAge defaults to DefaultMaxKeyAge.
	MaxAge time.Duration
}

// ValidateKeyChain resolves fingerprint, refreshing it first when it is
// missing or stale, and checks its certification by the authority.
func (g *PGPGateway) ValidateKeyChain(ctx context.Context, fingerprint string, opts ValidateOptions) (*KeyRecord, error) {
	fpr, err := NormalizeFingerprint(fingerprint)
	if err != nil {
		return nil, err
	}
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxKeyAge
	}

	if opts.Keyserver != nil && g.Store.Stale(fpr, maxAge) {
		if err := g.refresh(ctx, opts.Keyserver, fpr); err != nil {
			g.Logger.WarnfAlways("Could not refresh key %s, using local copy: %v", fpr, err)
		}
	}

	record := g.Store.Record(fpr)
	if record == nil {
		return nil, fmt.Errorf("%w: key %s not found", kerrors.ErrKeyResolution, fpr)
	}
	if record.Revoked {
		return nil, fmt.Errorf("%w: key %s is revoked", kerrors.ErrKeyResolution, fpr)
	}
	if record.Expired {
		return nil, fmt.Errorf("%w: key %s is expired", kerrors.ErrKeyResolution, fpr)
	}

	if opts.Authority != "" {
		authority, err := NormalizeFingerprint(opts.Authority)
		if err != nil {
			return nil, err
		}
		if authority != fpr {
			if opts.Keyserver != nil && g.Store.Stale(authority, maxAge) {
				if err := g.refresh(ctx, opts.Keyserver, authority); err != nil {
					g.Logger.WarnfAlways("Could not refresh authority key %s: %v", authority, err)
				}
			}
			if err := g.checkCertified(fpr, authority); err != nil {
				return nil, err
			}
		}
	}

	g.Logger.Debugf("Validated key %s (%s)", fpr, strings.Join(record.UserIDs, ", "))
	return record, nil
}

// Refresh fetches fpr from the keyserver and stores the result.
func (g *PGPGateway) Refresh(ctx context.Context, ks KeyFetcher, fingerprint string) (*KeyRecord, error) {
	fpr, err := NormalizeFingerprint(fingerprint)
	if err != nil {
		return nil, err
	}
	if err := g.refresh(ctx, ks, fpr); err != nil {
		return nil, err
	}
	return g.Store.Record(fpr), nil
}

func (g *PGPGateway) refresh(ctx context.Context, ks KeyFetcher, fpr string) error {
	data, err := ks.Fetch(ctx, fpr)
	if err != nil {
		return err
	}
	key, err := parseKey(data)
	if err != nil {
		return fmt.Errorf("%w: keyserver returned unreadable key: %v", kerrors.ErrKeyLoad, err)
	}
	if key.IsPrivate() {
		return fmt.Errorf("%w: keyserver returned private key material", kerrors.ErrSecurity)
	}
	if got := strings.ToUpper(key.GetFingerprint()); got != fpr {
		return fmt.Errorf("%w: keyserver returned key %s for %s", kerrors.ErrKeyResolution, got, fpr)
	}

	g.Store.Add(key)
	g.Store.MarkRefreshed(fpr, time.Now())
	if err := g.Store.Save(fpr); err != nil {
		g.Logger.Warnf("Could not save refreshed key %s: %v", fpr, err)
	}
	return nil
}

// checkCertified requires a valid certification of one of fpr's user ids
// made by the authority's primary key.
func (g *PGPGateway) checkCertified(fpr, authorityFpr string) error {
	key := g.Store.Get(fpr)
	if key == nil {
		return fmt.Errorf("%w: key %s not found", kerrors.ErrKeyResolution, fpr)
	}
	authority := g.Store.Get(authorityFpr)
	if authority == nil {
		return fmt.Errorf("%w: authority key %s not found", kerrors.ErrKeyResolution, authorityFpr)
	}

	authPrimary := authority.GetEntity().PrimaryKey
	entity := key.GetEntity()
	for _, ident := range entity.Identities {
		for _, cert := range ident.OtherCertifications {
			if cert == nil || cert.Packet == nil {
				continue
			}
			sig := cert.Packet
			issuedByAuthority := (sig.IssuerKeyId != nil && *sig.IssuerKeyId == authPrimary.KeyId) ||
				bytes.Equal(sig.IssuerFingerprint, authPrimary.Fingerprint)
			if !issuedByAuthority {
				continue
			}
			if err := authPrimary.VerifyUserIdSignature(ident.Name, entity.PrimaryKey, sig); err == nil {
				return nil
			}
		}
	}

	return fmt.Errorf("%w: key %s is not certified by %s", kerrors.ErrTrust, fpr, authorityFpr)
}
