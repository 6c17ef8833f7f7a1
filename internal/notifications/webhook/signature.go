package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SignatureHeader carries the HMAC signature of every webhook body.
//
// Format: t=<unix>,v1=<hmac>[,v1_old=<hmac>]
const SignatureHeader = "X-Escalarm-Signature"

// ErrMissingSecret is returned when signing is attempted without a secret.
var ErrMissingSecret = errors.New("webhook signature: missing signing secret")

// Signer produces HMAC-SHA256 signatures over "{unix_timestamp}.{payload}".
// During secret rotation the previous secret is also used until
// PreviousExpiresAt passes, so receivers can roll over without downtime.
type Signer struct {
	Secret            string
	PreviousSecret    string
	PreviousExpiresAt time.Time
}

// NewSigner returns a Signer for the current secret.
func NewSigner(secret string) *Signer {
	return &Signer{Secret: secret}
}

// WithPrevious returns a copy of s that also signs with prev until expiresAt.
func (s Signer) WithPrevious(prev string, expiresAt time.Time) *Signer {
	s.PreviousSecret = prev
	s.PreviousExpiresAt = expiresAt
	return &s
}

// Sign returns the header value for payload at time now.
//
// v1_old is included only when a previous secret is configured with an
// expiry that has not yet passed. A previous secret without an expiry is
// never used.
func (s *Signer) Sign(payload []byte, now time.Time) (string, error) {
	if s == nil || s.Secret == "" {
		return "", ErrMissingSecret
	}

	timestamp := now.Unix()
	signedContent := fmt.Sprintf("%d.%s", timestamp, string(payload))
	header := fmt.Sprintf("t=%d,v1=%s", timestamp, computeHMAC(signedContent, s.Secret))

	if s.PreviousSecret != "" && !s.PreviousExpiresAt.IsZero() && !now.After(s.PreviousExpiresAt) {
		header = fmt.Sprintf("%s,v1_old=%s", header, computeHMAC(signedContent, s.PreviousSecret))
	}
	return header, nil
}

// VerifySignature checks payload against header using the current secret and,
// when non-empty, the previous one. Receivers embed this to authenticate
// Escalarm deliveries. Signatures older than tolerance are rejected; a zero
// tolerance disables the age check.
func VerifySignature(payload []byte, header, current, previous string, now time.Time, tolerance time.Duration) bool {
	parts := parseSignatureHeader(header)
	if parts.timestamp == "" || parts.v1 == "" {
		return false
	}

	if tolerance > 0 {
		var ts int64
		if _, err := fmt.Sscanf(parts.timestamp, "%d", &ts); err != nil {
			return false
		}
		age := now.Sub(time.Unix(ts, 0))
		if age < 0 {
			age = -age
		}
		if age > tolerance {
			return false
		}
	}

	signedContent := fmt.Sprintf("%s.%s", parts.timestamp, string(payload))

	for _, secret := range []string{current, previous} {
		if secret == "" {
			continue
		}
		expected := computeHMAC(signedContent, secret)
		if hmac.Equal([]byte(parts.v1), []byte(expected)) {
			return true
		}
		if parts.v1Old != "" && hmac.Equal([]byte(parts.v1Old), []byte(expected)) {
			return true
		}
	}
	return false
}

type signatureParts struct {
	timestamp string
	v1        string
	v1Old     string
}

// parseSignatureHeader breaks a signature header into its component parts.
func parseSignatureHeader(header string) signatureParts {
	var parts signatureParts
	for _, segment := range strings.Split(header, ",") {
		kv := strings.SplitN(segment, "=", 2)
		if len(kv) != 2 {
			continue
		}
		value := strings.TrimSpace(kv[1])
		switch strings.TrimSpace(kv[0]) {
		case "t":
			parts.timestamp = value
		case "v1":
			parts.v1 = value
		case "v1_old":
			parts.v1Old = value
		}
	}
	return parts
}

// computeHMAC returns the lowercase hex HMAC-SHA256 of content.
func computeHMAC(content, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(content))
	return hex.EncodeToString(mac.Sum(nil))
}
