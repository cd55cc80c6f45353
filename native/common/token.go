package common

import (
	"errors"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// BurnAddress is the irrecoverable sink receiving burned sale tokens.
var BurnAddress = [20]byte{18: 0xde, 19: 0xad}

var ErrInvalidToken = errors.New("token symbol invalid")

const maxTokenSymbolLength = 32

// NormalizeToken canonicalises a token symbol to upper case and rejects
// empty or non-alphanumeric symbols.
func NormalizeToken(symbol string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" || len(normalized) > maxTokenSymbolLength {
		return "", ErrInvalidToken
	}
	for _, r := range normalized {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return "", ErrInvalidToken
		}
	}
	return normalized, nil
}

// ModuleAddress derives the deterministic account that holds a module's
// funds. Parts are joined with '/' before hashing, e.g.
// ModuleAddress("escrow", "vault", "USDC").
func ModuleAddress(parts ...string) [20]byte {
	hash := ethcrypto.Keccak256([]byte("module/" + strings.Join(parts, "/")))
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}
