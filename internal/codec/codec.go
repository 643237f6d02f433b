// Package codec decodes the ABI-encoded assessment payload delivered by
// the compute provider. The canonical wire shape is the 7-field tuple
// (uint256 riskScore, uint256 confidence, uint256 security,
// uint256 financial, uint256 governance, uint256 sentiment,
// string explanation). A legacy single-uint256 variant is kept for
// producers that only report an aggregate score.
package codec

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/temi0x/chainguard/pkg/models"
)

// ErrMalformedPayload is returned for any payload that does not decode to
// the expected tuple. Decoding never stores partial data.
var ErrMalformedPayload = errors.New("malformed assessment payload")

// Assessment is the decoded fulfillment payload.
type Assessment struct {
	RiskScore   int64
	Confidence  int64
	Components  models.ComponentScores
	Explanation string
}

var (
	uint256Type = mustType("uint256")
	stringType  = mustType("string")

	fullArgs = abi.Arguments{
		{Name: "riskScore", Type: uint256Type},
		{Name: "confidence", Type: uint256Type},
		{Name: "security", Type: uint256Type},
		{Name: "financial", Type: uint256Type},
		{Name: "governance", Type: uint256Type},
		{Name: "sentiment", Type: uint256Type},
		{Name: "explanation", Type: stringType},
	}

	legacyArgs = abi.Arguments{
		{Name: "riskScore", Type: uint256Type},
	}
)

func mustType(s string) abi.Type {
	t, err := abi.NewType(s, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

// Decoder unpacks fulfillment payloads. Legacy selects the
// single-uint256 contract; synthesized confidence and component values
// fill the missing fields so downstream readers see a complete record.
type Decoder struct {
	Legacy bool
}

// Decode unpacks payload into an Assessment. Any shape, arity or range
// problem is reported as ErrMalformedPayload.
func (d Decoder) Decode(payload []byte) (Assessment, error) {
	if d.Legacy {
		return decodeLegacy(payload)
	}
	return decodeFull(payload)
}

func decodeFull(payload []byte) (Assessment, error) {
	vals, err := fullArgs.Unpack(payload)
	if err != nil {
		return Assessment{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(vals) != 7 {
		return Assessment{}, fmt.Errorf("%w: got %d fields, want 7", ErrMalformedPayload, len(vals))
	}

	nums := make([]int64, 6)
	for i := 0; i < 6; i++ {
		n, err := toInt64(vals[i])
		if err != nil {
			return Assessment{}, err
		}
		nums[i] = n
	}
	expl, ok := vals[6].(string)
	if !ok {
		return Assessment{}, fmt.Errorf("%w: explanation is not a string", ErrMalformedPayload)
	}

	return Assessment{
		RiskScore:  nums[0],
		Confidence: nums[1],
		Components: models.ComponentScores{
			Security:   nums[2],
			Financial:  nums[3],
			Governance: nums[4],
			Sentiment:  nums[5],
		},
		Explanation: expl,
	}, nil
}

// decodeLegacy accepts the older aggregate-only payload. Confidence is
// synthesized at 5000 bps and every component mirrors the aggregate,
// so callers see the same shape either way.
func decodeLegacy(payload []byte) (Assessment, error) {
	vals, err := legacyArgs.Unpack(payload)
	if err != nil {
		return Assessment{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(vals) != 1 {
		return Assessment{}, fmt.Errorf("%w: got %d fields, want 1", ErrMalformedPayload, len(vals))
	}
	score, err := toInt64(vals[0])
	if err != nil {
		return Assessment{}, err
	}

	return Assessment{
		RiskScore:  score,
		Confidence: 5000,
		Components: models.ComponentScores{
			Security:   score,
			Financial:  score,
			Governance: score,
			Sentiment:  score,
		},
		Explanation: "",
	}, nil
}

func toInt64(v interface{}) (int64, error) {
	n, ok := v.(*big.Int)
	if !ok {
		return 0, fmt.Errorf("%w: field is not uint256", ErrMalformedPayload)
	}
	if !n.IsInt64() || n.Sign() < 0 {
		return 0, fmt.Errorf("%w: value %s out of range", ErrMalformedPayload, n)
	}
	return n.Int64(), nil
}

// Encode packs an Assessment into the canonical 7-field payload. Used by
// the simulated provider and by tests.
func Encode(a Assessment) ([]byte, error) {
	return fullArgs.Pack(
		big.NewInt(a.RiskScore),
		big.NewInt(a.Confidence),
		big.NewInt(a.Components.Security),
		big.NewInt(a.Components.Financial),
		big.NewInt(a.Components.Governance),
		big.NewInt(a.Components.Sentiment),
		a.Explanation,
	)
}

// EncodeLegacy packs the aggregate-only variant.
func EncodeLegacy(score int64) ([]byte, error) {
	return legacyArgs.Pack(big.NewInt(score))
}
