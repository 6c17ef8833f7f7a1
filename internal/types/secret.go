package types

import (
	"encoding/json"
	"log/slog"
)

const (
	redacted = "[redacted]"
	unset    = "[unset]"
)

// SecretString holds a credential (API key hash, webhook secret, DSN) and
// refuses to print it. fmt verbs, JSON and slog all see a placeholder that
// only says whether the value is set. Call Unmask at the point of use.
type SecretString string

func (s SecretString) placeholder() string {
	if s == "" {
		return unset
	}
	return redacted
}

func (s SecretString) String() string   { return s.placeholder() }
func (s SecretString) GoString() string { return s.placeholder() }

// LogValue keeps the secret out of structured logs even when a whole config
// section is logged as a group.
func (s SecretString) LogValue() slog.Value { return slog.StringValue(s.placeholder()) }

func (s SecretString) MarshalJSON() ([]byte, error) { return json.Marshal(s.placeholder()) }

// IsSet reports whether a value was configured.
func (s SecretString) IsSet() bool { return s != "" }

// Unmask returns the plaintext.
func (s SecretString) Unmask() string { return string(s) }
