package logging

import (
	"encoding/hex"
	"log/slog"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

var redactionAllowlist = map[string]struct{}{
	"service":   {},
	"env":       {},
	"message":   {},
	"severity":  {},
	"timestamp": {},
	"error":     {},
	"reason":    {},
	"component": {},
	"round":     {},
	"project":   {},
	"schedule":  {},
	"pool":      {},
	"status":    {},
}

func allowlisted(key string) bool {
	_, ok := redactionAllowlist[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskField returns a slog.Attr that redacts the supplied value unless the key is
// explicitly allowlisted. The original key casing is preserved for readability.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || allowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// Address renders an account address with its middle bytes elided so that
// beneficiaries and contributors can be correlated in logs without being
// printed in full.
func Address(key string, addr [20]byte) slog.Attr {
	encoded := hex.EncodeToString(addr[:])
	return slog.String(key, "0x"+encoded[:6]+"…"+encoded[len(encoded)-4:])
}

// ID renders a 32-byte identifier as 0x-prefixed hex.
func ID(key string, id [32]byte) slog.Attr {
	return slog.String(key, "0x"+hex.EncodeToString(id[:]))
}
