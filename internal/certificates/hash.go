package certificates

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// IntegrityHasher produces the tamper-seal stored on each certificate. The
// seal binds the certificate identifiers and title to the instant of
// creation; it is generated once and stored verbatim. It is NOT meant to be
// recomputed by verifiers: the sampled creation time is not guaranteed to
// equal any persisted timestamp field.
type IntegrityHasher struct{}

// Seal digests certificateID, verificationID, title and the creation instant
// into a hex-encoded SHA-256 value.
func (IntegrityHasher) Seal(certificateID, verificationID, title string, createdAt time.Time) string {
	input := strings.Join([]string{
		certificateID,
		verificationID,
		title,
		strconv.FormatInt(createdAt.UnixNano(), 10),
	}, "|")
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// QRPayload is the machine-readable payload embedded in a certificate's QR
// code. Decoding happens at the verification entry point.
type QRPayload struct {
	VerifyURL      string `json:"url"`
	CertificateID  string `json:"certificate_id"`
	VerificationID string `json:"verification_id"`
}

// EncodeQRPayload builds the QR payload string for a certificate.
func EncodeQRPayload(baseVerifyURL, certificateID, verificationID string) (string, error) {
	payload := QRPayload{
		VerifyURL:      fmt.Sprintf("%s/%s", strings.TrimRight(baseVerifyURL, "/"), verificationID),
		CertificateID:  certificateID,
		VerificationID: verificationID,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding qr payload: %w", err)
	}
	return string(data), nil
}

// DecodeQRPayload parses a QR payload string.
func DecodeQRPayload(raw string) (*QRPayload, error) {
	var payload QRPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("decoding qr payload: %w", err)
	}
	if payload.CertificateID == "" || payload.VerificationID == "" {
		return nil, fmt.Errorf("qr payload missing identifiers")
	}
	return &payload, nil
}
