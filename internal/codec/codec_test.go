package codec

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temi0x/chainguard/pkg/models"
)

func TestDecodeFullTuple(t *testing.T) {
	in := Assessment{
		RiskScore:  2850,
		Confidence: 9200,
		Components: models.ComponentScores{
			Security:   1500,
			Financial:  2500,
			Governance: 4000,
			Sentiment:  9500,
		},
		Explanation: "ipfs://QmReportHash",
	}
	payload, err := Encode(in)
	require.NoError(t, err)

	out, err := Decoder{}.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decoder{}.Decode([]byte{0xde, 0xad, 0xbe, 0xef})
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestDecodeRejectsEmptyPayload(t *testing.T) {
	_, err := Decoder{}.Decode(nil)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestDecodeRejectsWrongArity(t *testing.T) {
	// A legacy single-value payload must not decode under the full
	// 7-field contract.
	payload, err := EncodeLegacy(42)
	require.NoError(t, err)

	_, err = Decoder{}.Decode(payload)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestDecodeRejectsOversizedValue(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 200)
	payload, err := fullArgs.Pack(
		huge, big.NewInt(1), big.NewInt(1), big.NewInt(1),
		big.NewInt(1), big.NewInt(1), "",
	)
	require.NoError(t, err)

	_, err = Decoder{}.Decode(payload)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestDecodeLegacySynthesizesFields(t *testing.T) {
	payload, err := EncodeLegacy(6400)
	require.NoError(t, err)

	out, err := Decoder{Legacy: true}.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, int64(6400), out.RiskScore)
	assert.Equal(t, int64(5000), out.Confidence)
	assert.Equal(t, models.ComponentScores{
		Security:   6400,
		Financial:  6400,
		Governance: 6400,
		Sentiment:  6400,
	}, out.Components)
	assert.Empty(t, out.Explanation)
}
