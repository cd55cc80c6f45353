package params

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"launchpad/native/bonding"
	"launchpad/native/sale"
)

// CurrentVersion is the envelope version produced by Encode.
const CurrentVersion uint32 = 1

// Parameter kinds carried by an envelope.
const (
	KindPresale    = "presale"
	KindFairlaunch = "fairlaunch"
	KindBonding    = "bonding"
)

var (
	ErrUnsupportedVersion = errors.New("params: unsupported version")
	ErrUnknownKind        = errors.New("params: unknown kind")
	ErrMissingField       = errors.New("params: required field missing")
	ErrInvalidField       = errors.New("params: invalid field")
)

// Envelope is the versioned wire form of sale and pool parameters.
type Envelope struct {
	Version uint32          `json:"version"`
	Kind    string          `json:"kind"`
	Params  json.RawMessage `json:"params"`
}

// Params is implemented by every decoded parameter set.
type Params interface {
	Kind() string
	Validate() error
}

// PresaleParams configure a fixed-price round with a hardcap.
type PresaleParams struct {
	Owner           string `json:"owner"`
	ProjectID       string `json:"projectId"`
	QuoteToken      string `json:"quoteToken"`
	SaleToken       string `json:"saleToken"`
	QuoteDecimals   uint8  `json:"quoteDecimals"`
	TokenDecimals   uint8  `json:"tokenDecimals"`
	Softcap         string `json:"softcap"`
	Hardcap         string `json:"hardcap"`
	MinContribution string `json:"minContribution"`
	MaxContribution string `json:"maxContribution"`
	StartTime       int64  `json:"startTime"`
	EndTime         int64  `json:"endTime"`
	TokensForSale   string `json:"tokensForSale"`
	Price           string `json:"price"`
	FeeProfile      string `json:"feeProfile,omitempty"`
}

// FairlaunchParams configure a round whose price is discovered from the
// final raise. Hardcap is optional.
type FairlaunchParams struct {
	Owner           string `json:"owner"`
	ProjectID       string `json:"projectId"`
	QuoteToken      string `json:"quoteToken"`
	SaleToken       string `json:"saleToken"`
	QuoteDecimals   uint8  `json:"quoteDecimals"`
	TokenDecimals   uint8  `json:"tokenDecimals"`
	Softcap         string `json:"softcap"`
	Hardcap         string `json:"hardcap,omitempty"`
	MinContribution string `json:"minContribution"`
	MaxContribution string `json:"maxContribution"`
	StartTime       int64  `json:"startTime"`
	EndTime         int64  `json:"endTime"`
	TokensForSale   string `json:"tokensForSale"`
	FeeProfile      string `json:"feeProfile,omitempty"`
}

// BondingParams configure a bonding curve pool.
type BondingParams struct {
	BaseToken           string `json:"baseToken"`
	QuoteToken          string `json:"quoteToken"`
	VirtualBase         string `json:"virtualBase"`
	VirtualQuote        string `json:"virtualQuote"`
	SeedBase            string `json:"seedBase"`
	GraduationThreshold string `json:"graduationThreshold"`
	FeeBps              uint32 `json:"feeBps"`
	FeeProfile          string `json:"feeProfile,omitempty"`
}

func (*PresaleParams) Kind() string    { return KindPresale }
func (*FairlaunchParams) Kind() string { return KindFairlaunch }
func (*BondingParams) Kind() string    { return KindBonding }

// Decode parses an envelope and its parameters. Unknown fields are rejected
// at both levels.
func Decode(data []byte) (Params, error) {
	var env Envelope
	if err := decodeStrict(data, &env); err != nil {
		return nil, fmt.Errorf("params: decode envelope: %w", err)
	}
	if env.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version)
	}
	if len(bytes.TrimSpace(env.Params)) == 0 {
		return nil, fmt.Errorf("%w: params", ErrMissingField)
	}
	var out Params
	switch strings.ToLower(strings.TrimSpace(env.Kind)) {
	case KindPresale:
		out = new(PresaleParams)
	case KindFairlaunch:
		out = new(FairlaunchParams)
	case KindBonding:
		out = new(BondingParams)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
	if err := decodeStrict(env.Params, out); err != nil {
		return nil, fmt.Errorf("params: decode %s: %w", out.Kind(), err)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// Encode wraps p in an envelope at CurrentVersion.
func Encode(p Params) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: params", ErrMissingField)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("params: encode %s: %w", p.Kind(), err)
	}
	return json.Marshal(Envelope{Version: CurrentVersion, Kind: p.Kind(), Params: raw})
}

func decodeStrict(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("trailing data after object")
	}
	return nil
}

// Validate checks required fields and that the round they describe is
// valid.
func (p *PresaleParams) Validate() error {
	_, err := p.Round()
	return err
}

// Round converts the parameters into a sale round ready for CreateRound.
func (p *PresaleParams) Round() (*sale.Round, error) {
	r := roundFields{
		owner: p.Owner, projectID: p.ProjectID, quote: p.QuoteToken, token: p.SaleToken,
		softcap: p.Softcap, hardcap: p.Hardcap, min: p.MinContribution, max: p.MaxContribution,
		tokensForSale: p.TokensForSale, hardcapRequired: true,
	}
	round, err := r.build(sale.KindPresale)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Price) == "" {
		return nil, fmt.Errorf("%w: price", ErrMissingField)
	}
	round.QuoteDecimals, round.TokenDecimals = p.QuoteDecimals, p.TokenDecimals
	round.StartTime, round.EndTime = p.StartTime, p.EndTime
	round.Price = strings.TrimSpace(p.Price)
	round.FeeProfile = p.FeeProfile
	if err := round.Validate(); err != nil {
		return nil, err
	}
	return round, nil
}

// Validate checks required fields and that the round they describe is
// valid.
func (p *FairlaunchParams) Validate() error {
	_, err := p.Round()
	return err
}

// Round converts the parameters into a sale round ready for CreateRound.
func (p *FairlaunchParams) Round() (*sale.Round, error) {
	r := roundFields{
		owner: p.Owner, projectID: p.ProjectID, quote: p.QuoteToken, token: p.SaleToken,
		softcap: p.Softcap, hardcap: p.Hardcap, min: p.MinContribution, max: p.MaxContribution,
		tokensForSale: p.TokensForSale,
	}
	round, err := r.build(sale.KindFairlaunch)
	if err != nil {
		return nil, err
	}
	round.QuoteDecimals, round.TokenDecimals = p.QuoteDecimals, p.TokenDecimals
	round.StartTime, round.EndTime = p.StartTime, p.EndTime
	round.FeeProfile = p.FeeProfile
	if err := round.Validate(); err != nil {
		return nil, err
	}
	return round, nil
}

type roundFields struct {
	owner, projectID, quote, token string
	softcap, hardcap, min, max     string
	tokensForSale                  string
	hardcapRequired                bool
}

func (f roundFields) build(kind sale.Kind) (*sale.Round, error) {
	owner, err := parseAddress("owner", f.owner)
	if err != nil {
		return nil, err
	}
	projectID, err := parseID("projectId", f.projectID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(f.quote) == "" {
		return nil, fmt.Errorf("%w: quoteToken", ErrMissingField)
	}
	if strings.TrimSpace(f.token) == "" {
		return nil, fmt.Errorf("%w: saleToken", ErrMissingField)
	}
	round := &sale.Round{
		Kind:       kind,
		Owner:      owner,
		ProjectID:  projectID,
		QuoteToken: f.quote,
		SaleToken:  f.token,
	}
	if round.Softcap, err = parseAmount("softcap", f.softcap, true); err != nil {
		return nil, err
	}
	if round.Hardcap, err = parseAmount("hardcap", f.hardcap, f.hardcapRequired); err != nil {
		return nil, err
	}
	if round.MinContribution, err = parseAmount("minContribution", f.min, true); err != nil {
		return nil, err
	}
	if round.MaxContribution, err = parseAmount("maxContribution", f.max, true); err != nil {
		return nil, err
	}
	if round.TokensForSale, err = parseAmount("tokensForSale", f.tokensForSale, true); err != nil {
		return nil, err
	}
	return round, nil
}

// Validate checks required fields and pool bounds.
func (p *BondingParams) Validate() error {
	_, err := p.Pool()
	return err
}

// Pool converts the parameters into pool creation parameters.
func (p *BondingParams) Pool() (bonding.PoolParams, error) {
	out := bonding.PoolParams{
		BaseToken:  p.BaseToken,
		QuoteToken: p.QuoteToken,
		FeeBps:     p.FeeBps,
		FeeProfile: p.FeeProfile,
	}
	fields := []struct {
		name  string
		value string
		dst   **uint256.Int
	}{
		{"virtualBase", p.VirtualBase, &out.VirtualBase},
		{"virtualQuote", p.VirtualQuote, &out.VirtualQuote},
		{"seedBase", p.SeedBase, &out.SeedBase},
		{"graduationThreshold", p.GraduationThreshold, &out.GraduationThreshold},
	}
	for _, field := range fields {
		if strings.TrimSpace(field.value) == "" {
			return bonding.PoolParams{}, fmt.Errorf("%w: %s", ErrMissingField, field.name)
		}
		value, err := bonding.ParseAmount(field.value)
		if err != nil {
			return bonding.PoolParams{}, fmt.Errorf("%w: %s: %v", ErrInvalidField, field.name, err)
		}
		*field.dst = value
	}
	if err := out.Validate(); err != nil {
		return bonding.PoolParams{}, err
	}
	return out, nil
}

func parseAddress(name, value string) ([20]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	if !ethcommon.IsHexAddress(trimmed) {
		return [20]byte{}, fmt.Errorf("%w: %s: not a hex address", ErrInvalidField, name)
	}
	return ethcommon.HexToAddress(trimmed), nil
}

func parseID(name, value string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return out, fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	raw, err := hexutil.Decode(trimmed)
	if err != nil || len(raw) != len(out) {
		return out, fmt.Errorf("%w: %s: expected 0x-prefixed 32 byte hex", ErrInvalidField, name)
	}
	copy(out[:], raw)
	return out, nil
}

func parseAmount(name, value string, required bool) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		if required {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, name)
		}
		return nil, nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s: %q is not a non-negative integer", ErrInvalidField, name, value)
	}
	return amount, nil
}
