package common

import (
	"errors"
	"testing"
)

func TestNormalizeToken(t *testing.T) {
	got, err := NormalizeToken("  usdc ")
	if err != nil || got != "USDC" {
		t.Fatalf("unexpected normalize result %q %v", got, err)
	}
	for _, bad := range []string{"", "   ", "US DC", "tok$"} {
		if _, err := NormalizeToken(bad); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%q: expected ErrInvalidToken, got %v", bad, err)
		}
	}
}

func TestModuleAddressDeterministic(t *testing.T) {
	a := ModuleAddress("escrow", "vault", "USDC")
	b := ModuleAddress("escrow", "vault", "USDC")
	c := ModuleAddress("escrow", "vault", "LAUNCH")
	if a != b {
		t.Fatalf("module address must be deterministic")
	}
	if a == c {
		t.Fatalf("distinct labels must yield distinct addresses")
	}
	if BurnAddress[18] != 0xde || BurnAddress[19] != 0xad {
		t.Fatalf("unexpected burn address %x", BurnAddress)
	}
}
