package state

import (
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	balancePrefix     = []byte("balance:")
	rolePrefix        = []byte("role:")
	escrowPrefix      = []byte("escrow/deposit/")
	roundPrefix       = []byte("sale/round/")
	contribListPrefix = []byte("sale/contributions/")
	contributedPrefix = []byte("sale/contributed/")
	saleQuotaPrefix   = []byte("sale/quota/")
	schedulePrefix    = []byte("vesting/schedule/")
	claimedPrefix     = []byte("vesting/claimed/")
	poolPrefix        = []byte("bonding/pool/")
	resultPrefix      = []byte("finalize/result/")
)

func hashKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, p := range parts {
		size += len(p) + 1
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for i, p := range parts {
		if i > 0 {
			buf = append(buf, ':')
		}
		buf = append(buf, p...)
	}
	return ethcrypto.Keccak256(buf)
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func balanceKey(addr [20]byte, symbol string) []byte {
	return hashKey(balancePrefix, []byte(normalizeSymbol(symbol)), addr[:])
}

func roleKey(role string) []byte {
	return hashKey(rolePrefix, []byte(strings.TrimSpace(role)))
}

func escrowKey(id [32]byte) []byte { return hashKey(escrowPrefix, id[:]) }

func roundKey(id [32]byte) []byte { return hashKey(roundPrefix, id[:]) }

func contributionsKey(id [32]byte) []byte { return hashKey(contribListPrefix, id[:]) }

func contributedKey(id [32]byte, who [20]byte) []byte {
	return hashKey(contributedPrefix, id[:], who[:])
}

func saleQuotaKey(id [32]byte, who [20]byte) []byte {
	return hashKey(saleQuotaPrefix, id[:], who[:])
}

func scheduleKey(id [32]byte) []byte { return hashKey(schedulePrefix, id[:]) }

func claimedKey(id [32]byte, who [20]byte) []byte {
	return hashKey(claimedPrefix, id[:], who[:])
}

func poolKey(id [32]byte) []byte { return hashKey(poolPrefix, id[:]) }

func resultKey(id [32]byte) []byte { return hashKey(resultPrefix, id[:]) }
