package fees

import "math/big"

// ApplyResult summarises the fee carved out of a gross amount.
type ApplyResult struct {
	Fee *big.Int
	Net *big.Int
}

// Apply computes fee = floor(gross * bps / 10000) and the remaining net so
// that Fee + Net == Gross. Fees above 100% are clamped to the gross amount.
func Apply(gross *big.Int, bps uint32) ApplyResult {
	result := ApplyResult{Fee: big.NewInt(0), Net: cloneBig(gross)}
	if result.Net.Sign() <= 0 || bps == 0 {
		return result
	}
	fee := new(big.Int).Mul(result.Net, big.NewInt(int64(bps)))
	fee.Quo(fee, big.NewInt(BpsDenominator))
	if fee.Cmp(result.Net) >= 0 {
		result.Fee = new(big.Int).Set(result.Net)
		result.Net = big.NewInt(0)
		return result
	}
	result.Fee = fee
	result.Net = new(big.Int).Sub(result.Net, fee)
	return result
}
