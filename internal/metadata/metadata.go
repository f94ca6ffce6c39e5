package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/PolarWolf314/sett/internal/checksum"
	"github.com/PolarWolf314/sett/internal/container"
	kerrors "github.com/PolarWolf314/sett/internal/errors"
	"github.com/PolarWolf314/sett/internal/secrets"
)

// Version is the metadata format version written by this release.
const Version = "1"

// ChecksumAlgorithm is the only digest algorithm recorded in metadata.
const ChecksumAlgorithm = "SHA256"

// Purpose tags a package registered with the portal.
type Purpose string

const (
	PurposeProduction Purpose = "PRODUCTION"
	PurposeTest       Purpose = "TEST"
)

// ParsePurpose accepts the purposes case-sensitively. Empty is allowed.
func ParsePurpose(s string) (Purpose, error) {
	switch p := Purpose(s); p {
	case "", PurposeProduction, PurposeTest:
		return p, nil
	}
	return "", fmt.Errorf("%w: purpose must be %s or %s, got %q", kerrors.ErrValidation, PurposeProduction, PurposeTest, s)
}

var transferIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{1,32}$`)

// Metadata describes an encrypted package.
type Metadata struct {
	TransferID           string    `json:"transfer_id,omitempty"`
	Sender               string    `json:"sender"`
	Recipients           []string  `json:"recipients"`
	Purpose              Purpose   `json:"purpose,omitempty"`
	Checksum             string    `json:"checksum"`
	ChecksumAlgorithm    string    `json:"checksum_algorithm"`
	CompressionAlgorithm string    `json:"compression_algorithm"`
	Timestamp            time.Time `json:"timestamp"`
	Version              string    `json:"version"`
}

// New validates fields and fills in the timestamp, checksum algorithm and
// version. Fingerprints are normalized to uppercase hex.
func New(fields Metadata) (*Metadata, error) {
	md := fields
	md.Recipients = append([]string(nil), fields.Recipients...)
	if md.Timestamp.IsZero() {
		md.Timestamp = time.Now().UTC().Truncate(time.Second)
	}
	if md.ChecksumAlgorithm == "" {
		md.ChecksumAlgorithm = ChecksumAlgorithm
	}
	if md.Version == "" {
		md.Version = Version
	}

	if err := md.normalize(); err != nil {
		return nil, err
	}
	if err := md.Validate(); err != nil {
		return nil, err
	}
	return &md, nil
}

func (m *Metadata) normalize() error {
	if m.Sender != "" {
		fpr, err := secrets.NormalizeFingerprint(m.Sender)
		if err != nil {
			return fmt.Errorf("sender: %w", err)
		}
		m.Sender = fpr
	}
	for i, r := range m.Recipients {
		fpr, err := secrets.NormalizeFingerprint(r)
		if err != nil {
			return fmt.Errorf("recipient: %w", err)
		}
		m.Recipients[i] = fpr
	}
	return nil
}

// Validate checks every field. All failures wrap ErrValidation.
func (m *Metadata) Validate() error {
	if !checksum.IsDigest(m.Checksum) {
		return fmt.Errorf("%w: checksum must be 64 lowercase hex characters", kerrors.ErrValidation)
	}
	if m.ChecksumAlgorithm != ChecksumAlgorithm {
		return fmt.Errorf("%w: unsupported checksum algorithm %q", kerrors.ErrValidation, m.ChecksumAlgorithm)
	}
	if len(m.Recipients) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", kerrors.ErrValidation)
	}
	for _, r := range m.Recipients {
		if _, err := secrets.NormalizeFingerprint(r); err != nil {
			return fmt.Errorf("recipient: %w", err)
		}
	}
	if m.Sender == "" {
		return fmt.Errorf("%w: sender is required", kerrors.ErrValidation)
	}
	if _, err := secrets.NormalizeFingerprint(m.Sender); err != nil {
		return fmt.Errorf("sender: %w", err)
	}
	if err := ValidateTransfer(m.TransferID, m.Purpose); err != nil {
		return err
	}
	if !container.ValidAlgorithm(m.CompressionAlgorithm) {
		return fmt.Errorf("%w: unknown compression algorithm %q", kerrors.ErrValidation, m.CompressionAlgorithm)
	}
	if m.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", kerrors.ErrValidation)
	}
	return nil
}

// ValidateTransfer checks a transfer id and purpose pair. Both may be
// empty; a transfer id requires a purpose.
func ValidateTransfer(transferID string, purpose Purpose) error {
	if transferID != "" && !transferIDPattern.MatchString(transferID) {
		return fmt.Errorf("%w: transfer id must be 1-32 letters or digits, got %q", kerrors.ErrValidation, transferID)
	}
	if _, err := ParsePurpose(string(purpose)); err != nil {
		return err
	}
	if transferID != "" && purpose == "" {
		return fmt.Errorf("%w: purpose is required with a transfer id", kerrors.ErrValidation)
	}
	return nil
}

// Marshal returns the indented JSON form that is signed and archived.
func (m *Metadata) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	return append(data, '\n'), nil
}

// Parse decodes and validates metadata.json.
func Parse(data []byte) (*Metadata, error) {
	var md Metadata
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&md); err != nil {
		return nil, fmt.Errorf("%w: metadata is not valid JSON: %v", kerrors.ErrFormat, err)
	}
	if md.ChecksumAlgorithm == "" {
		md.ChecksumAlgorithm = ChecksumAlgorithm
	}
	if err := md.Validate(); err != nil {
		return nil, err
	}
	return &md, nil
}
