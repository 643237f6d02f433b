// Package oracle implements the risk registry and request correlator:
// it owns the per-protocol risk records, issues asynchronous assessment
// requests to the compute provider and reconciles fulfillment callbacks
// back to the protocol that requested them.
package oracle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/temi0x/chainguard/internal/codec"
	"github.com/temi0x/chainguard/internal/compute"
	"github.com/temi0x/chainguard/internal/events"
	"github.com/temi0x/chainguard/pkg/metrics"
	"github.com/temi0x/chainguard/pkg/models"
)

// DefaultProgram is the task source submitted with every assessment
// request until SetAssessmentProgram replaces it. The provider treats it
// as an opaque string; this default targets a Functions-style JavaScript
// runtime fetching the assessment from the analysis backend.
const DefaultProgram = `const protocolId = args[0];
const res = await Functions.makeHttpRequest({
  url: "https://api.chainguard.dev/v1/assess",
  method: "POST",
  data: { protocol: protocolId },
});
if (res.error) throw Error("assessment backend unreachable");
const a = res.data;
return abi.encode(
  ["uint256","uint256","uint256","uint256","uint256","uint256","string"],
  [a.riskScore, a.confidence, a.security, a.financial, a.governance, a.sentiment, a.explanation]
);`

// Store persists risk records across restarts. Pending requests are
// intentionally not persisted: in-flight state dies with the process.
type Store interface {
	SaveRecord(ctx context.Context, record models.RiskRecord) error
	LoadRecords(ctx context.Context) ([]models.RiskRecord, error)
}

// Config tunes a Registry instance.
type Config struct {
	// Program overrides DefaultProgram when non-empty.
	Program string
	// LegacyDecode selects the aggregate-only payload contract.
	LegacyDecode bool
	// PendingTTL bounds how long a request may stay pending before the
	// sweep evicts it. Zero disables eviction (the reference behavior:
	// lost callbacks leak pending entries forever).
	PendingTTL time.Duration
}

type pendingRequest struct {
	protocolID  string
	submittedAt time.Time
}

// Registry is the risk registry and request correlator. All state lives
// behind one RWMutex; every mutation is a single all-or-nothing critical
// section, so readers never observe a half-applied fulfillment.
type Registry struct {
	logger   *zap.Logger
	provider compute.Provider
	store    Store // may be nil
	bus      *events.Bus
	decoder  codec.Decoder

	pendingTTL time.Duration
	now        func() time.Time

	mu      sync.RWMutex
	program string
	records map[string]models.RiskRecord
	pending map[common.Hash]pendingRequest
	tracked map[string]struct{}
}

// NewRegistry builds a registry and registers its fulfillment handler
// with the provider. store and bus may be nil.
func NewRegistry(logger *zap.Logger, provider compute.Provider, store Store, bus *events.Bus, cfg Config) *Registry {
	program := cfg.Program
	if program == "" {
		program = DefaultProgram
	}
	r := &Registry{
		logger:     logger,
		provider:   provider,
		store:      store,
		bus:        bus,
		decoder:    codec.Decoder{Legacy: cfg.LegacyDecode},
		pendingTTL: cfg.PendingTTL,
		now:        time.Now,
		program:    program,
		records:    make(map[string]models.RiskRecord),
		pending:    make(map[common.Hash]pendingRequest),
		tracked:    make(map[string]struct{}),
	}
	provider.RegisterCallback(r.HandleFulfillment)
	return r
}

// Load restores persisted records into memory. Call once before serving.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	records, err := r.store.LoadRecords(ctx)
	if err != nil {
		return fmt.Errorf("load risk records: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		r.records[rec.ProtocolID] = rec
		r.tracked[rec.ProtocolID] = struct{}{}
	}
	r.logger.Info("risk records loaded", zap.Int("count", len(records)))
	return nil
}

// RequestAssessment submits a new assessment task for protocolID and
// records the pending request before returning. Concurrent requests for
// the same protocol are tracked independently; there is no dedup and no
// at-most-one-in-flight constraint.
func (r *Registry) RequestAssessment(ctx context.Context, protocolID string) (common.Hash, error) {
	if protocolID == "" {
		return common.Hash{}, ErrEmptyProtocolID
	}

	r.mu.RLock()
	program := r.program
	r.mu.RUnlock()

	id, err := r.provider.Submit(ctx, compute.Task{
		Source: program,
		Args:   []string{protocolID},
	})
	if err != nil {
		metrics.AssessmentRequests.WithLabelValues("error").Inc()
		return common.Hash{}, fmt.Errorf("%w: %v", ErrSubmission, err)
	}

	r.mu.Lock()
	r.pending[id] = pendingRequest{protocolID: protocolID, submittedAt: r.now()}
	r.tracked[protocolID] = struct{}{}
	pendingCount := len(r.pending)
	r.mu.Unlock()

	metrics.AssessmentRequests.WithLabelValues("ok").Inc()
	metrics.PendingRequests.Set(float64(pendingCount))
	r.logger.Info("assessment requested",
		zap.String("protocol", protocolID),
		zap.String("request_id", id.Hex()))
	r.publish(ctx, models.NewAssessmentEvent(models.EventAssessmentRequested, protocolID, id.Hex()))

	return id, nil
}

// HandleFulfillment is the single fulfillment entry point, invoked by
// the in-process provider callback or the gateway webhook. Exactly one
// of payload / provErr is set by well-behaved providers.
//
// An unknown request id is rejected hard with ErrUnknownRequest and no
// state is touched. A provider-reported error or an undecodable payload
// consumes the pending entry, leaves the prior record untouched and is
// surfaced only as an AssessmentFailed event.
func (r *Registry) HandleFulfillment(ctx context.Context, requestID common.Hash, payload []byte, provErr string) error {
	if provErr != "" {
		return r.failFulfillment(ctx, requestID, provErr, "provider_error")
	}

	decoded, decodeErr := r.decoder.Decode(payload)
	if decodeErr != nil {
		if err := r.failFulfillment(ctx, requestID, decodeErr.Error(), "decode_error"); err != nil {
			return err
		}
		return decodeErr
	}

	r.mu.Lock()
	req, ok := r.pending[requestID]
	if !ok {
		r.mu.Unlock()
		metrics.Fulfillments.WithLabelValues("unknown_request").Inc()
		return fmt.Errorf("%w: %s", ErrUnknownRequest, requestID.Hex())
	}

	now := r.now()
	record := models.RiskRecord{
		ProtocolID:  req.protocolID,
		RiskScore:   decoded.RiskScore,
		Confidence:  decoded.Confidence,
		LastUpdated: now,
		Explanation: decoded.Explanation,
		Components:  decoded.Components,
	}
	r.records[req.protocolID] = record
	delete(r.pending, requestID)
	pendingCount := len(r.pending)
	r.mu.Unlock()

	metrics.Fulfillments.WithLabelValues("success").Inc()
	metrics.PendingRequests.Set(float64(pendingCount))
	metrics.FulfillmentLatency.Observe(now.Sub(req.submittedAt).Seconds())

	if r.store != nil {
		// Persistence is write-through but non-fatal: the in-memory record
		// is already authoritative for readers.
		if err := r.store.SaveRecord(ctx, record); err != nil {
			r.logger.Error("risk record persistence failed",
				zap.String("protocol", req.protocolID), zap.Error(err))
		}
	}

	r.logger.Info("assessment fulfilled",
		zap.String("protocol", req.protocolID),
		zap.String("request_id", requestID.Hex()),
		zap.Int64("risk_score", decoded.RiskScore),
		zap.Int64("confidence", decoded.Confidence))

	evt := models.NewAssessmentEvent(models.EventAssessmentUpdated, req.protocolID, requestID.Hex())
	evt.RiskScore = decoded.RiskScore
	evt.Confidence = decoded.Confidence
	r.publish(ctx, evt)

	return nil
}

// failFulfillment consumes the pending entry on the failure path without
// touching the protocol's record.
func (r *Registry) failFulfillment(ctx context.Context, requestID common.Hash, reason, outcome string) error {
	r.mu.Lock()
	req, ok := r.pending[requestID]
	if !ok {
		r.mu.Unlock()
		metrics.Fulfillments.WithLabelValues("unknown_request").Inc()
		return fmt.Errorf("%w: %s", ErrUnknownRequest, requestID.Hex())
	}
	delete(r.pending, requestID)
	pendingCount := len(r.pending)
	r.mu.Unlock()

	metrics.Fulfillments.WithLabelValues(outcome).Inc()
	metrics.PendingRequests.Set(float64(pendingCount))
	r.logger.Warn("assessment failed",
		zap.String("protocol", req.protocolID),
		zap.String("request_id", requestID.Hex()),
		zap.String("reason", reason))

	evt := models.NewAssessmentEvent(models.EventAssessmentFailed, req.protocolID, requestID.Hex())
	evt.Error = reason
	r.publish(ctx, evt)

	return nil
}

// GetRiskScore returns the aggregate score, confidence and last update
// time for a protocol. A zero LastUpdated means never assessed; readers
// must not interpret the zero tuple as a genuine low score.
func (r *Registry) GetRiskScore(protocolID string) (int64, int64, time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec := r.records[protocolID]
	return rec.RiskScore, rec.Confidence, rec.LastUpdated
}

// GetRiskBreakdown returns the full record, zero-valued when the
// protocol has never been assessed.
func (r *Registry) GetRiskBreakdown(protocolID string) models.RiskRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec := r.records[protocolID]
	rec.ProtocolID = protocolID
	return rec
}

// SetAssessmentProgram swaps the task source used by future requests.
// The content is not validated; this is an operational hook.
func (r *Registry) SetAssessmentProgram(source string) {
	r.mu.Lock()
	r.program = source
	r.mu.Unlock()
	r.logger.Info("assessment program replaced", zap.Int("bytes", len(source)))
}

// Snapshot lists every tracked protocol (requested at least once or
// restored from the store) ordered by protocol id.
func (r *Registry) Snapshot() []models.ProtocolStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pendingPerProtocol := make(map[string]int, len(r.pending))
	for _, req := range r.pending {
		pendingPerProtocol[req.protocolID]++
	}

	out := make([]models.ProtocolStatus, 0, len(r.tracked))
	for id := range r.tracked {
		rec := r.records[id]
		out = append(out, models.ProtocolStatus{
			ProtocolID:  id,
			RiskScore:   rec.RiskScore,
			Confidence:  rec.Confidence,
			LastUpdated: rec.LastUpdated,
			Pending:     pendingPerProtocol[id],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProtocolID < out[j].ProtocolID })
	return out
}

// PendingCount reports the number of in-flight requests.
func (r *Registry) PendingCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pending)
}

// SweepPending evicts pending entries older than the configured TTL and
// reports each as a failed assessment. Returns the number evicted. A
// zero TTL disables the sweep.
func (r *Registry) SweepPending(ctx context.Context) int {
	if r.pendingTTL <= 0 {
		return 0
	}

	cutoff := r.now().Add(-r.pendingTTL)
	type expired struct {
		id  common.Hash
		req pendingRequest
	}

	r.mu.Lock()
	var victims []expired
	for id, req := range r.pending {
		if req.submittedAt.Before(cutoff) {
			victims = append(victims, expired{id: id, req: req})
		}
	}
	for _, v := range victims {
		delete(r.pending, v.id)
	}
	pendingCount := len(r.pending)
	r.mu.Unlock()

	if len(victims) == 0 {
		return 0
	}

	metrics.PendingRequests.Set(float64(pendingCount))
	for _, v := range victims {
		metrics.Fulfillments.WithLabelValues("expired").Inc()
		r.logger.Warn("pending request expired",
			zap.String("protocol", v.req.protocolID),
			zap.String("request_id", v.id.Hex()),
			zap.Time("submitted_at", v.req.submittedAt))
		evt := models.NewAssessmentEvent(models.EventAssessmentFailed, v.req.protocolID, v.id.Hex())
		evt.Error = "request expired without fulfillment"
		r.publish(ctx, evt)
	}
	return len(victims)
}

func (r *Registry) publish(ctx context.Context, evt models.AssessmentEvent) {
	if r.bus != nil {
		r.bus.Publish(ctx, evt)
	}
}
