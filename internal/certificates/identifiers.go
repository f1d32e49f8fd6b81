package certificates

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"io"
	"math/big"
)

const (
	// codeAlphabet covers the human-typable verification code: uppercase
	// letters and digits only, so the code survives being read aloud.
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// tokenAlphabet is the mixed alphanumeric alphabet for share tokens.
	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	// VerificationCodeLength is the fixed length of the human-typable code.
	VerificationCodeLength = 8

	// ShareTokenLength is the length of generated share tokens.
	ShareTokenLength = 40
)

// IdentifierService generates verification codes, verification IDs and share
// tokens from a cryptographically secure random source.
type IdentifierService struct {
	rand io.Reader
}

// NewIdentifierService returns a service backed by crypto/rand.
func NewIdentifierService() *IdentifierService {
	return &IdentifierService{rand: rand.Reader}
}

// NewIdentifierServiceWithSource injects an alternate random source.
func NewIdentifierServiceWithSource(r io.Reader) *IdentifierService {
	return &IdentifierService{rand: r}
}

// VerificationCode produces the 8-character [A-Z0-9] verification key.
func (s *IdentifierService) VerificationCode() (string, error) {
	return s.randomString(codeAlphabet, VerificationCodeLength)
}

// VerificationID produces a short URL-safe identifier derived from 128
// random bits, upper-cased (unpadded base32).
func (s *IdentifierService) VerificationID() (string, error) {
	buf := make([]byte, 16)
	if _, err := io.ReadFull(s.rand, buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}

// ShareToken produces an opaque bearer token. At 40 characters over a
// 62-symbol alphabet collisions are negligible, but the store still enforces
// token uniqueness with an index.
func (s *IdentifierService) ShareToken() (string, error) {
	return s.randomString(tokenAlphabet, ShareTokenLength)
}

// randomString draws characters uniformly from alphabet. rand.Int performs
// rejection sampling, so no modulo bias is introduced.
func (s *IdentifierService) randomString(alphabet string, length int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(s.rand, max)
		if err != nil {
			return "", fmt.Errorf("reading random index: %w", err)
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}
