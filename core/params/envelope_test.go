package params

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"launchpad/native/sale"
)

const projectHex = "0x0101010101010101010101010101010101010101010101010101010101010101"

const presaleJSON = `{
  "version": 1,
  "kind": "presale",
  "params": {
    "owner": "0x00000000000000000000000000000000000000aa",
    "projectId": "` + projectHex + `",
    "quoteToken": "usdc",
    "saleToken": "launch",
    "quoteDecimals": 6,
    "tokenDecimals": 18,
    "softcap": "5000000",
    "hardcap": "10000000",
    "minContribution": "100",
    "maxContribution": "1000000",
    "startTime": 100,
    "endTime": 200,
    "tokensForSale": "200000000000000000000",
    "price": "0.05"
  }
}`

func TestDecodePresale(t *testing.T) {
	decoded, err := Decode([]byte(presaleJSON))
	require.NoError(t, err)
	presale, ok := decoded.(*PresaleParams)
	require.True(t, ok)

	round, err := presale.Round()
	require.NoError(t, err)
	require.Equal(t, sale.KindPresale, round.Kind)
	require.Equal(t, byte(0xaa), round.Owner[19])
	require.Equal(t, byte(0x01), round.ProjectID[0])
	require.Equal(t, "10000000", round.Hardcap.String())
	require.Equal(t, "0.05", round.Price)
	require.Equal(t, uint8(18), round.TokenDecimals)
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	withExtra := strings.Replace(presaleJSON, `"price": "0.05"`, `"price": "0.05", "bonus": "1"`, 1)
	_, err := Decode([]byte(withExtra))
	require.Error(t, err)
	require.Contains(t, err.Error(), "bonus")

	_, err = Decode([]byte(strings.Replace(presaleJSON, `"version": 1`, `"version": 1, "extra": true`, 1)))
	require.Error(t, err)
}

func TestDecodeEnforcesEnvelope(t *testing.T) {
	_, err := Decode([]byte(strings.Replace(presaleJSON, `"version": 1`, `"version": 2`, 1)))
	require.ErrorIs(t, err, ErrUnsupportedVersion)

	_, err = Decode([]byte(strings.Replace(presaleJSON, `"kind": "presale"`, `"kind": "auction"`, 1)))
	require.ErrorIs(t, err, ErrUnknownKind)

	_, err = Decode([]byte(`{"version":1,"kind":"presale"}`))
	require.ErrorIs(t, err, ErrMissingField)

	_, err = Decode([]byte(presaleJSON + `{}`))
	require.Error(t, err)
}

func TestDecodeRequiresFields(t *testing.T) {
	for _, field := range []string{"owner", "projectId", "softcap", "hardcap", "tokensForSale", "price"} {
		t.Run(field, func(t *testing.T) {
			var env map[string]any
			require.NoError(t, json.Unmarshal([]byte(presaleJSON), &env))
			delete(env["params"].(map[string]any), field)
			payload, err := json.Marshal(env)
			require.NoError(t, err)

			_, err = Decode(payload)
			require.Error(t, err)
		})
	}
}

func TestDecodeRejectsMalformedAmounts(t *testing.T) {
	payload := strings.Replace(presaleJSON, `"softcap": "5000000"`, `"softcap": "-5"`, 1)
	_, err := Decode([]byte(payload))
	require.ErrorIs(t, err, ErrInvalidField)

	payload = strings.Replace(presaleJSON, projectHex, "0x01", 1)
	_, err = Decode([]byte(payload))
	require.ErrorIs(t, err, ErrInvalidField)
}

func TestFairlaunchHardcapOptional(t *testing.T) {
	payload := `{"version":1,"kind":"fairlaunch","params":{
	  "owner":"0x00000000000000000000000000000000000000aa",
	  "projectId":"` + projectHex + `",
	  "quoteToken":"USDC","saleToken":"LAUNCH",
	  "softcap":"0","minContribution":"1","maxContribution":"100",
	  "startTime":1,"endTime":2,"tokensForSale":"1000"}}`
	decoded, err := Decode([]byte(payload))
	require.NoError(t, err)
	round, err := decoded.(*FairlaunchParams).Round()
	require.NoError(t, err)
	require.False(t, round.Capped())
}

func TestBondingRoundTrip(t *testing.T) {
	in := &BondingParams{
		BaseToken:           "MEME",
		QuoteToken:          "USDC",
		VirtualBase:         "1000000",
		VirtualQuote:        "1000000",
		SeedBase:            "500000",
		GraduationThreshold: "1000",
		FeeBps:              100,
	}
	encoded, err := Encode(in)
	require.NoError(t, err)
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, in, decoded)

	pool, err := decoded.(*BondingParams).Pool()
	require.NoError(t, err)
	require.Equal(t, uint64(500000), pool.SeedBase.Uint64())

	in.FeeBps = 10_001
	_, err = Encode(in)
	require.Error(t, err)
	in.FeeBps = 100
	in.VirtualQuote = ""
	_, err = Encode(in)
	require.True(t, errors.Is(err, ErrMissingField))
}
