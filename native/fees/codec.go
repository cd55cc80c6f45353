package fees

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

type bucketJSON struct {
	Name   string `json:"name"`
	Bps    uint32 `json:"bps"`
	Wallet string `json:"wallet,omitempty"`
}

type profileJSON struct {
	Name    string       `json:"name"`
	Buckets []bucketJSON `json:"buckets"`
}

// MarshalJSON renders wallets as 0x-prefixed hex.
func (b Bucket) MarshalJSON() ([]byte, error) {
	out := bucketJSON{Name: b.Name, Bps: b.Bps}
	if b.Wallet != ([20]byte{}) {
		out.Wallet = "0x" + hex.EncodeToString(b.Wallet[:])
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts hex wallets with or without the 0x prefix.
func (b *Bucket) UnmarshalJSON(data []byte) error {
	var raw bucketJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	wallet, err := parseWallet(raw.Wallet)
	if err != nil {
		return err
	}
	*b = Bucket{Name: NormalizeName(raw.Name), Bps: raw.Bps, Wallet: wallet}
	return nil
}

// UnmarshalTOML converts snake_case TOML keys into the JSON structure used by
// the profile codec so both configuration formats share one decoder.
func (p *Profile) UnmarshalTOML(data interface{}) error {
	table, ok := data.(map[string]interface{})
	if !ok {
		return fmt.Errorf("fees: profile must decode from a table")
	}
	normalized := normalizeProfileTable(table)
	blob, err := json.Marshal(normalized)
	if err != nil {
		return err
	}
	var decoded profileJSON
	if err := json.Unmarshal(blob, &decoded); err != nil {
		return err
	}
	out := Profile{Name: NormalizeName(decoded.Name), Buckets: make([]Bucket, 0, len(decoded.Buckets))}
	for _, raw := range decoded.Buckets {
		wallet, err := parseWallet(raw.Wallet)
		if err != nil {
			return err
		}
		out.Buckets = append(out.Buckets, Bucket{Name: NormalizeName(raw.Name), Bps: raw.Bps, Wallet: wallet})
	}
	*p = out
	return nil
}

func normalizeProfileTable(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for key, value := range in {
		switch {
		case strings.EqualFold(key, "buckets"), strings.EqualFold(key, "bucket"):
			out["buckets"] = normalizeBuckets(value)
		default:
			out[strings.ToLower(key)] = value
		}
	}
	return out
}

func normalizeBuckets(value interface{}) interface{} {
	var list []interface{}
	switch typed := value.(type) {
	case []interface{}:
		list = typed
	case []map[string]interface{}:
		list = make([]interface{}, len(typed))
		for i := range typed {
			list[i] = typed[i]
		}
	default:
		return value
	}
	converted := make([]interface{}, len(list))
	for i, item := range list {
		table, ok := item.(map[string]interface{})
		if !ok {
			converted[i] = item
			continue
		}
		entry := make(map[string]interface{}, len(table))
		for key, v := range table {
			switch {
			case strings.EqualFold(key, "basis_points"), strings.EqualFold(key, "bps"):
				entry["bps"] = v
			case strings.EqualFold(key, "wallet"), strings.EqualFold(key, "owner_wallet"):
				entry["wallet"] = v
			default:
				entry[strings.ToLower(key)] = v
			}
		}
		converted[i] = entry
	}
	return converted
}

func parseWallet(value string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return out, nil
	}
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("fees: invalid wallet %q: %w", value, err)
	}
	if len(decoded) != len(out) {
		return out, fmt.Errorf("fees: wallet %q must be 20 bytes", value)
	}
	copy(out[:], decoded)
	return out, nil
}
