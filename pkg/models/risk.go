// Package models defines the risk domain types shared across the service.
package models

import (
	"time"
)

// BasisPointsMax is the upper bound of the fixed-point score scale
// (10000 basis points = 100.00%).
const BasisPointsMax = 10000

// RiskLevel buckets a basis-point risk score into coarse bands.
type RiskLevel int

const (
	RiskLevelLow RiskLevel = iota
	RiskLevelMedium
	RiskLevelHigh
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLevelLow:
		return "low"
	case RiskLevelMedium:
		return "medium"
	case RiskLevelHigh:
		return "high"
	}
	return "unknown"
}

// LevelForScore maps a basis-point score onto a RiskLevel band.
// Bands follow the scoring methodology: 0-3000 low, 3001-7000 medium,
// above 7000 high.
func LevelForScore(score int64) RiskLevel {
	switch {
	case score <= 3000:
		return RiskLevelLow
	case score <= 7000:
		return RiskLevelMedium
	default:
		return RiskLevelHigh
	}
}

// ComponentScores holds the four assessment sub-scores, each on the
// 0-10000 basis-point scale.
type ComponentScores struct {
	Security   int64 `json:"security"`
	Financial  int64 `json:"financial"`
	Governance int64 `json:"governance"`
	Sentiment  int64 `json:"sentiment"`
}

// RiskRecord is the current assessment state for one protocol.
// A zero LastUpdated means the protocol has never received a successful
// fulfillment and readers must treat the record as absent, not as a
// genuine zero score.
type RiskRecord struct {
	ProtocolID  string          `json:"protocol_id"`
	RiskScore   int64           `json:"risk_score"`
	Confidence  int64           `json:"confidence"`
	LastUpdated time.Time       `json:"last_updated"`
	Explanation string          `json:"explanation"`
	Components  ComponentScores `json:"components"`
}

// Exists reports whether the record has received at least one fulfillment.
func (r RiskRecord) Exists() bool {
	return !r.LastUpdated.IsZero()
}

// Level returns the risk band for the record's score.
func (r RiskRecord) Level() RiskLevel {
	return LevelForScore(r.RiskScore)
}

// ProtocolStatus is a summary row used by the staleness monitor and the
// protocol listing endpoint.
type ProtocolStatus struct {
	ProtocolID  string    `json:"protocol_id"`
	RiskScore   int64     `json:"risk_score"`
	Confidence  int64     `json:"confidence"`
	LastUpdated time.Time `json:"last_updated"`
	Pending     int       `json:"pending_requests"`
}

// Assessed reports whether the protocol has ever been scored.
func (p ProtocolStatus) Assessed() bool {
	return !p.LastUpdated.IsZero()
}
