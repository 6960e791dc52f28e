// Package txid generates and validates the charge identifiers (TXIDs) the
// PIX gateway requires. A predictable txid would let an attacker correlate
// or race a real payer's charge, so generation always uses crypto/rand.
package txid

import (
	"crypto/rand"
	"math/big"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

const (
	// GeneratedLength is the length of every txid this service issues.
	GeneratedLength = 32
	// MinLength and MaxLength bound what the gateway accepts on input.
	MinLength = 26
	MaxLength = 35
)

// Generate returns a new 32-character alphanumeric txid. It never returns a
// value that fails Validate.
func Generate() string {
	for {
		b := make([]byte, GeneratedLength)
		for i := 0; i < GeneratedLength; {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
			if err != nil {
				// crypto/rand only fails if the OS entropy source is broken;
				// retry this character rather than weaken the draw.
				continue
			}
			b[i] = alphabet[n.Int64()]
			i++
		}
		s := string(b)
		if Validate(s) {
			return s
		}
	}
}

// Validate reports whether s is a txid the gateway accepts: 26 to 35
// characters, all from [A-Za-z0-9].
func Validate(s string) bool {
	if len(s) < MinLength || len(s) > MaxLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isAlphanumeric(s[i]) {
			return false
		}
	}
	return true
}

// Sanitize strips every character outside [A-Za-z0-9]. It exists for reading
// legacy identifiers that predate validation; new txids are never sanitized.
func Sanitize(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if isAlphanumeric(s[i]) {
			out = append(out, s[i])
		}
	}
	return string(out)
}

func isAlphanumeric(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}
