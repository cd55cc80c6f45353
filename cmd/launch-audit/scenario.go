package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"launchpad/core/params"
	"launchpad/core/pricing"
)

// scenario is the YAML description of a launch replayed by the audit.
type scenario struct {
	Name          string         `yaml:"name"`
	Round         envelope       `yaml:"round"`
	Deposit       depositSpec    `yaml:"deposit"`
	Contributions []contribution `yaml:"contributions"`
	Outcome       string         `yaml:"outcome"`
	CancelAt      int64          `yaml:"cancelAt"`
	FinalizeAt    int64          `yaml:"finalizeAt"`
	Vesting       vestingSpec    `yaml:"vesting"`
	Bonding       *bondingSpec   `yaml:"bonding"`
}

type envelope struct {
	Version uint32         `yaml:"version"`
	Kind    string         `yaml:"kind"`
	Params  map[string]any `yaml:"params"`
}

type depositSpec struct {
	Depositor string `yaml:"depositor"`
	Amount    string `yaml:"amount"`
}

type contribution struct {
	Contributor string `yaml:"contributor"`
	Amount      string `yaml:"amount"`
	At          int64  `yaml:"at"`
}

type vestingSpec struct {
	TGEPercentage   *uint8  `yaml:"tgePercentage"`
	CliffSeconds    int64   `yaml:"cliffSeconds"`
	DurationSeconds int64   `yaml:"durationSeconds"`
	Interval        string  `yaml:"interval"`
	ChainID         uint64  `yaml:"chainId"`
	Checkpoints     []int64 `yaml:"checkpoints"`
}

type bondingSpec struct {
	Creator string   `yaml:"creator"`
	Pool    envelope `yaml:"pool"`
	Trades  []trade  `yaml:"trades"`
}

type trade struct {
	Trader      string `yaml:"trader"`
	Direction   string `yaml:"direction"`
	Input       string `yaml:"input"`
	SlippageBps uint32 `yaml:"slippageBps"`
}

// Outcomes a scenario may request.
const (
	outcomeAuto    = "auto"
	outcomeSuccess = "success"
	outcomeFailed  = "failed"
	outcomeCancel  = "cancel"
)

var errInvalidScenario = errors.New("launch-audit: invalid scenario")

func loadScenario(path string) (*scenario, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	var sc scenario
	if err := decoder.Decode(&sc); err != nil {
		return nil, fmt.Errorf("decode scenario %s: %w", path, err)
	}
	if err := sc.validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (sc *scenario) validate() error {
	sc.Outcome = strings.ToLower(strings.TrimSpace(sc.Outcome))
	if sc.Outcome == "" {
		sc.Outcome = outcomeAuto
	}
	switch sc.Outcome {
	case outcomeAuto, outcomeSuccess, outcomeFailed:
	case outcomeCancel:
		if sc.CancelAt == 0 {
			return fmt.Errorf("%w: cancelAt required for outcome cancel", errInvalidScenario)
		}
	default:
		return fmt.Errorf("%w: unknown outcome %q", errInvalidScenario, sc.Outcome)
	}
	if sc.FinalizeAt == 0 {
		return fmt.Errorf("%w: finalizeAt required", errInvalidScenario)
	}
	if _, err := address("deposit.depositor", sc.Deposit.Depositor); err != nil {
		return err
	}
	if _, err := amount("deposit.amount", sc.Deposit.Amount); err != nil {
		return err
	}
	for i, c := range sc.Contributions {
		if _, err := address(fmt.Sprintf("contributions[%d].contributor", i), c.Contributor); err != nil {
			return err
		}
		if _, err := amount(fmt.Sprintf("contributions[%d].amount", i), c.Amount); err != nil {
			return err
		}
	}
	if sc.Bonding != nil {
		if _, err := address("bonding.creator", sc.Bonding.Creator); err != nil {
			return err
		}
		for i, t := range sc.Bonding.Trades {
			if _, err := address(fmt.Sprintf("bonding.trades[%d].trader", i), t.Trader); err != nil {
				return err
			}
		}
	}
	return nil
}

// decode converts the YAML envelope into its JSON wire form and decodes it
// with the same rules applied to submitted parameters.
func (e envelope) decode() (params.Params, error) {
	raw, err := json.Marshal(e.Params)
	if err != nil {
		return nil, err
	}
	version := e.Version
	if version == 0 {
		version = params.CurrentVersion
	}
	body, err := json.Marshal(params.Envelope{Version: version, Kind: e.Kind, Params: raw})
	if err != nil {
		return nil, err
	}
	return params.Decode(body)
}

func address(field, value string) ([20]byte, error) {
	trimmed := strings.TrimSpace(value)
	if !ethcommon.IsHexAddress(trimmed) {
		return [20]byte{}, fmt.Errorf("%w: %s: invalid address %q", errInvalidScenario, field, value)
	}
	return ethcommon.HexToAddress(trimmed), nil
}

// amount parses a positive whole amount in smallest units. Exponent forms
// such as 7e6 are accepted.
func amount(field, value string) (*big.Int, error) {
	v, err := pricing.ParseUnits(value, 0)
	if err != nil || v.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s: invalid amount %q", errInvalidScenario, field, value)
	}
	return v, nil
}
