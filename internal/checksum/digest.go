// Package checksum implements the integrity primitives shared by the
// download pipeline and the manifest repair engine: tagged digests over
// the two supported algorithms, streaming content hashing, and the
// checksum manifest wire format.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Algorithm identifies a supported digest algorithm.
type Algorithm string

const (
	SHA256  Algorithm = "sha256"
	SHA3256 Algorithm = "sha3-256"
)

// ParseAlgorithm normalizes an algorithm token. The underscore spelling is
// accepted because the source registry uses it as a JSON field name.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(s) {
	case "sha256", "sha-256":
		return SHA256, nil
	case "sha3-256", "sha3_256":
		return SHA3256, nil
	}
	return "", fmt.Errorf("unsupported digest algorithm %q", s)
}

// NewHasher returns a fresh hash state for the algorithm.
func (a Algorithm) NewHasher() hash.Hash {
	if a == SHA3256 {
		return sha3.New256()
	}
	return sha256.New()
}

// Digest pairs an algorithm with a lowercase hex value. Both supported
// algorithms produce 32-byte sums, so the hex form is always 64 characters.
type Digest struct {
	Algorithm Algorithm
	Hex       string
}

// NewDigest builds a tagged digest from an algorithm and a bare hex sum.
func NewDigest(algo Algorithm, hexSum string) (Digest, error) {
	hexSum = strings.ToLower(hexSum)
	if !isHex64(hexSum) {
		return Digest{}, fmt.Errorf("digest %q is not a 64-character hex string", hexSum)
	}
	return Digest{Algorithm: algo, Hex: hexSum}, nil
}

// ParseDigest accepts "<algorithm>:<hex>" or a bare hex string, which
// defaults to SHA-256. Hex is normalized to lowercase.
func ParseDigest(s string) (Digest, error) {
	algo := SHA256
	hexPart := s
	if i := strings.IndexByte(s, ':'); i >= 0 {
		a, err := ParseAlgorithm(s[:i])
		if err != nil {
			return Digest{}, err
		}
		algo = a
		hexPart = s[i+1:]
	}
	hexPart = strings.ToLower(hexPart)
	if !isHex64(hexPart) {
		return Digest{}, fmt.Errorf("digest %q is not a 64-character hex string", s)
	}
	return Digest{Algorithm: algo, Hex: hexPart}, nil
}

// String renders the canonical "<algorithm>:<hex>" form.
func (d Digest) String() string {
	return string(d.Algorithm) + ":" + d.Hex
}

// IsZero reports whether the digest is unset.
func (d Digest) IsZero() bool {
	return d.Hex == ""
}

// Matches compares d against a computed hex value for the same algorithm.
func (d Digest) Matches(hexSum string) bool {
	return !d.IsZero() && d.Hex == strings.ToLower(hexSum)
}

// HashReader streams r through the algorithm and returns the lowercase hex
// sum. Memory use is constant regardless of input size.
func HashReader(algo Algorithm, r io.Reader) (string, error) {
	h := algo.NewHasher()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile computes the hex sum of a file's content.
func HashFile(algo Algorithm, path string) (string, error) {
	f, err := os.Open(path) // #nosec G304 - callers pass paths they own
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	return HashReader(algo, f)
}

func isHex64(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
