package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"regexp"
)

// BlockSize is the read size used when hashing streams.
const BlockSize = 64 * 1024

var digestPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// IsDigest reports whether s is a lowercase hex SHA-256 digest.
func IsDigest(s string) bool {
	return digestPattern.MatchString(s)
}

// ComputeDigest hashes r in BlockSize reads until EOF.
func ComputeDigest(r io.Reader) (string, error) {
	return ComputeDigestTee(io.Discard, r)
}

// ComputeDigestTee forwards every block read from src to dst unchanged
// while hashing it, so a payload can be checksummed as it is written.
// src is drained completely.
func ComputeDigestTee(dst io.Writer, src io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, BlockSize)

	for {
		n, err := src.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return "", fmt.Errorf("writing block: %w", werr)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("reading block: %w", err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// FileDigest hashes the file at path.
func FileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return ComputeDigest(f)
}
