package oracle

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/temi0x/chainguard/internal/codec"
	"github.com/temi0x/chainguard/internal/compute"
	"github.com/temi0x/chainguard/pkg/models"
)

// fakeProvider hands out sequential request ids and lets tests deliver
// fulfillments manually, in any order.
type fakeProvider struct {
	mu        sync.Mutex
	handler   compute.Handler
	submitErr error
	tasks     []compute.Task
	nextID    byte
}

func (p *fakeProvider) RegisterCallback(h compute.Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

func (p *fakeProvider) Submit(ctx context.Context, task compute.Task) (common.Hash, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.submitErr != nil {
		return common.Hash{}, p.submitErr
	}
	p.nextID++
	p.tasks = append(p.tasks, task)
	return common.BytesToHash([]byte{p.nextID}), nil
}

func (p *fakeProvider) lastTask() compute.Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tasks[len(p.tasks)-1]
}

type fakeStore struct {
	mu     sync.Mutex
	saved  []models.RiskRecord
	loaded []models.RiskRecord
}

func (s *fakeStore) SaveRecord(_ context.Context, record models.RiskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, record)
	return nil
}

func (s *fakeStore) LoadRecords(context.Context) ([]models.RiskRecord, error) {
	return s.loaded, nil
}

func newTestRegistry(t *testing.T, cfg Config) (*Registry, *fakeProvider) {
	t.Helper()
	provider := &fakeProvider{}
	r := NewRegistry(zap.NewNop(), provider, nil, nil, cfg)
	return r, provider
}

func mustEncode(t *testing.T, a codec.Assessment) []byte {
	t.Helper()
	payload, err := codec.Encode(a)
	require.NoError(t, err)
	return payload
}

func TestGetRiskScoreSentinelForUnknownProtocol(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})

	score, confidence, updated := r.GetRiskScore("unknown-protocol")
	assert.Zero(t, score)
	assert.Zero(t, confidence)
	assert.True(t, updated.IsZero())

	// Reads are idempotent: repeated calls with no intervening
	// fulfillment return identical results.
	for i := 0; i < 3; i++ {
		s2, c2, u2 := r.GetRiskScore("unknown-protocol")
		assert.Equal(t, score, s2)
		assert.Equal(t, confidence, c2)
		assert.Equal(t, updated, u2)
	}
}

func TestRequestAndFulfill(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	id, err := r.RequestAssessment(context.Background(), "aave-v3")
	require.NoError(t, err)
	assert.Equal(t, 1, r.PendingCount())

	payload := mustEncode(t, codec.Assessment{
		RiskScore:  2850,
		Confidence: 9200,
		Components: models.ComponentScores{Security: 1500, Financial: 2500, Governance: 4000, Sentiment: 9500},
	})
	require.NoError(t, r.HandleFulfillment(context.Background(), id, payload, ""))

	score, confidence, updated := r.GetRiskScore("aave-v3")
	assert.Equal(t, int64(2850), score)
	assert.Equal(t, int64(9200), confidence)
	assert.Equal(t, now, updated)
	assert.Zero(t, r.PendingCount())
}

func TestFulfillmentFullyReplacesRecord(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	ctx := context.Background()

	id1, err := r.RequestAssessment(ctx, "curve")
	require.NoError(t, err)
	require.NoError(t, r.HandleFulfillment(ctx, id1, mustEncode(t, codec.Assessment{
		RiskScore:   9000,
		Confidence:  5000,
		Components:  models.ComponentScores{Security: 9000, Financial: 9000, Governance: 9000, Sentiment: 9000},
		Explanation: "ipfs://old-report",
	}), ""))

	id2, err := r.RequestAssessment(ctx, "curve")
	require.NoError(t, err)
	require.NoError(t, r.HandleFulfillment(ctx, id2, mustEncode(t, codec.Assessment{
		RiskScore:  1200,
		Confidence: 8000,
		Components: models.ComponentScores{Security: 1000, Financial: 1100, Governance: 1300, Sentiment: 1500},
	}), ""))

	rec := r.GetRiskBreakdown("curve")
	assert.Equal(t, int64(1200), rec.RiskScore)
	assert.Equal(t, int64(8000), rec.Confidence)
	assert.Equal(t, models.ComponentScores{Security: 1000, Financial: 1100, Governance: 1300, Sentiment: 1500}, rec.Components)
	assert.Empty(t, rec.Explanation, "no residue from the prior record")
}

func TestConcurrentRequestsCorrelateIndependently(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	ctx := context.Background()

	protocols := []string{"aave-v3", "uniswap-v3", "compound", "maker"}
	ids := make(map[string]common.Hash, len(protocols))
	for _, p := range protocols {
		id, err := r.RequestAssessment(ctx, p)
		require.NoError(t, err)
		ids[p] = id
	}
	assert.Equal(t, len(protocols), r.PendingCount())

	// Fulfill in reverse submission order; each callback must land on
	// exactly the protocol bound to its request id.
	for i := len(protocols) - 1; i >= 0; i-- {
		p := protocols[i]
		score := int64(1000 * (i + 1))
		require.NoError(t, r.HandleFulfillment(ctx, ids[p], mustEncode(t, codec.Assessment{
			RiskScore:  score,
			Confidence: 9000,
		}), ""))
	}

	for i, p := range protocols {
		score, _, updated := r.GetRiskScore(p)
		assert.Equal(t, int64(1000*(i+1)), score, p)
		assert.False(t, updated.IsZero())
	}
}

func TestLastFulfilledWins(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	ctx := context.Background()

	r1, err := r.RequestAssessment(ctx, "uniswap-v3")
	require.NoError(t, err)
	r2, err := r.RequestAssessment(ctx, "uniswap-v3")
	require.NoError(t, err)
	assert.Equal(t, 2, r.PendingCount(), "no in-flight dedup per protocol")

	payloadA := mustEncode(t, codec.Assessment{RiskScore: 1111, Confidence: 9000})
	payloadB := mustEncode(t, codec.Assessment{RiskScore: 2222, Confidence: 9000})

	// r2 (submitted second) fulfills first; r1's later callback wins.
	require.NoError(t, r.HandleFulfillment(ctx, r2, payloadB, ""))
	require.NoError(t, r.HandleFulfillment(ctx, r1, payloadA, ""))

	score, _, _ := r.GetRiskScore("uniswap-v3")
	assert.Equal(t, int64(1111), score, "final state follows fulfillment order, not submission order")
}

func TestDuplicateFulfillmentRejected(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	ctx := context.Background()

	id, err := r.RequestAssessment(ctx, "balancer")
	require.NoError(t, err)

	payload := mustEncode(t, codec.Assessment{RiskScore: 4200, Confidence: 8800})
	require.NoError(t, r.HandleFulfillment(ctx, id, payload, ""))

	err = r.HandleFulfillment(ctx, id, mustEncode(t, codec.Assessment{RiskScore: 9999}), "")
	assert.ErrorIs(t, err, ErrUnknownRequest)

	score, _, _ := r.GetRiskScore("balancer")
	assert.Equal(t, int64(4200), score, "duplicate callback must not mutate the record")
}

func TestProviderErrorLeavesRecordUntouched(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	ctx := context.Background()

	id, err := r.RequestAssessment(ctx, "curve")
	require.NoError(t, err)

	require.NoError(t, r.HandleFulfillment(ctx, id, nil, "timeout"))
	score, confidence, updated := r.GetRiskScore("curve")
	assert.Zero(t, score)
	assert.Zero(t, confidence)
	assert.True(t, updated.IsZero())

	// The pending entry was consumed on the failure path.
	assert.Zero(t, r.PendingCount())
	err = r.HandleFulfillment(ctx, id, mustEncode(t, codec.Assessment{RiskScore: 100}), "")
	assert.ErrorIs(t, err, ErrUnknownRequest)
}

func TestDecodeErrorFollowsFailurePath(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	ctx := context.Background()

	// Seed a prior record.
	seed, err := r.RequestAssessment(ctx, "aave-v3")
	require.NoError(t, err)
	require.NoError(t, r.HandleFulfillment(ctx, seed, mustEncode(t, codec.Assessment{RiskScore: 2850, Confidence: 9200}), ""))

	id, err := r.RequestAssessment(ctx, "aave-v3")
	require.NoError(t, err)

	err = r.HandleFulfillment(ctx, id, []byte{0x01, 0x02, 0x03}, "")
	assert.ErrorIs(t, err, codec.ErrMalformedPayload)

	score, _, _ := r.GetRiskScore("aave-v3")
	assert.Equal(t, int64(2850), score, "malformed payload must not overwrite the record")
	assert.Zero(t, r.PendingCount(), "failed fulfillment consumes the pending entry")
}

func TestSubmissionErrorLeavesStateUnchanged(t *testing.T) {
	r, provider := newTestRegistry(t, Config{})
	provider.submitErr = fmt.Errorf("quota exceeded")

	_, err := r.RequestAssessment(context.Background(), "aave-v3")
	assert.ErrorIs(t, err, ErrSubmission)
	assert.Zero(t, r.PendingCount())
	assert.Empty(t, r.Snapshot(), "rejected submissions must not track the protocol")
}

func TestEmptyProtocolIDRejected(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	_, err := r.RequestAssessment(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyProtocolID)
}

func TestSetAssessmentProgram(t *testing.T) {
	r, provider := newTestRegistry(t, Config{})
	ctx := context.Background()

	_, err := r.RequestAssessment(ctx, "aave-v3")
	require.NoError(t, err)
	assert.Equal(t, DefaultProgram, provider.lastTask().Source)
	assert.Equal(t, []string{"aave-v3"}, provider.lastTask().Args)

	r.SetAssessmentProgram("return abi.encode(['uint256'],[0]);")
	_, err = r.RequestAssessment(ctx, "aave-v3")
	require.NoError(t, err)
	assert.Equal(t, "return abi.encode(['uint256'],[0]);", provider.lastTask().Source)
}

func TestLegacyDecodeSynthesizesComponents(t *testing.T) {
	r, _ := newTestRegistry(t, Config{LegacyDecode: true})
	ctx := context.Background()

	id, err := r.RequestAssessment(ctx, "compound")
	require.NoError(t, err)

	payload, err := codec.EncodeLegacy(6400)
	require.NoError(t, err)
	require.NoError(t, r.HandleFulfillment(ctx, id, payload, ""))

	rec := r.GetRiskBreakdown("compound")
	assert.Equal(t, int64(6400), rec.RiskScore)
	assert.Equal(t, int64(5000), rec.Confidence)
	assert.Equal(t, models.ComponentScores{Security: 6400, Financial: 6400, Governance: 6400, Sentiment: 6400}, rec.Components)
}

func TestSweepPendingEvictsExpiredRequests(t *testing.T) {
	r, _ := newTestRegistry(t, Config{PendingTTL: time.Hour})
	ctx := context.Background()

	base := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }
	stale, err := r.RequestAssessment(ctx, "maker")
	require.NoError(t, err)

	r.now = func() time.Time { return base.Add(30 * time.Minute) }
	fresh, err := r.RequestAssessment(ctx, "maker")
	require.NoError(t, err)

	r.now = func() time.Time { return base.Add(90 * time.Minute) }
	assert.Equal(t, 1, r.SweepPending(ctx))
	assert.Equal(t, 1, r.PendingCount())

	err = r.HandleFulfillment(ctx, stale, mustEncode(t, codec.Assessment{RiskScore: 1}), "")
	assert.ErrorIs(t, err, ErrUnknownRequest, "expired entries behave like consumed ones")
	require.NoError(t, r.HandleFulfillment(ctx, fresh, mustEncode(t, codec.Assessment{RiskScore: 2}), ""))
}

func TestSweepPendingDisabledByZeroTTL(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	ctx := context.Background()

	base := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }
	_, err := r.RequestAssessment(ctx, "maker")
	require.NoError(t, err)

	r.now = func() time.Time { return base.Add(1000 * time.Hour) }
	assert.Zero(t, r.SweepPending(ctx), "reference behavior: pending entries leak without a TTL")
	assert.Equal(t, 1, r.PendingCount())
}

func TestLoadRestoresPersistedRecords(t *testing.T) {
	provider := &fakeProvider{}
	store := &fakeStore{loaded: []models.RiskRecord{{
		ProtocolID:  "aave-v3",
		RiskScore:   2850,
		Confidence:  9200,
		LastUpdated: time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC),
	}}}
	r := NewRegistry(zap.NewNop(), provider, store, nil, Config{})
	require.NoError(t, r.Load(context.Background()))

	score, confidence, updated := r.GetRiskScore("aave-v3")
	assert.Equal(t, int64(2850), score)
	assert.Equal(t, int64(9200), confidence)
	assert.False(t, updated.IsZero())

	statuses := r.Snapshot()
	require.Len(t, statuses, 1)
	assert.Equal(t, "aave-v3", statuses[0].ProtocolID)
}

func TestFulfillmentWritesThroughToStore(t *testing.T) {
	provider := &fakeProvider{}
	store := &fakeStore{}
	r := NewRegistry(zap.NewNop(), provider, store, nil, Config{})
	ctx := context.Background()

	id, err := r.RequestAssessment(ctx, "lido")
	require.NoError(t, err)
	require.NoError(t, r.HandleFulfillment(ctx, id, mustEncode(t, codec.Assessment{RiskScore: 3100, Confidence: 8700}), ""))

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.saved, 1)
	assert.Equal(t, "lido", store.saved[0].ProtocolID)
	assert.Equal(t, int64(3100), store.saved[0].RiskScore)
}

func TestSnapshotReportsPendingPerProtocol(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	ctx := context.Background()

	_, err := r.RequestAssessment(ctx, "uniswap-v3")
	require.NoError(t, err)
	_, err = r.RequestAssessment(ctx, "uniswap-v3")
	require.NoError(t, err)
	_, err = r.RequestAssessment(ctx, "aave-v3")
	require.NoError(t, err)

	statuses := r.Snapshot()
	require.Len(t, statuses, 2)
	assert.Equal(t, "aave-v3", statuses[0].ProtocolID)
	assert.Equal(t, 1, statuses[0].Pending)
	assert.Equal(t, "uniswap-v3", statuses[1].ProtocolID)
	assert.Equal(t, 2, statuses[1].Pending)
}
