package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"

	"github.com/temi0x/chainguard/internal/oracle"
	"github.com/temi0x/chainguard/pkg/models"
)

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type assessmentRequest struct {
	ProtocolID string `json:"protocol_id" binding:"required"`
}

// requestAssessment submits a new assessment task. 202: the computation
// is asynchronous; the caller correlates the eventual update through the
// returned request id.
func (s *Server) requestAssessment(c *gin.Context) {
	var req assessmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := s.registry.RequestAssessment(c.Request.Context(), req.ProtocolID)
	if err != nil {
		switch {
		case errors.Is(err, oracle.ErrEmptyProtocolID):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, oracle.ErrSubmission):
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"protocol_id": req.ProtocolID,
		"request_id":  id.Hex(),
	})
}

func (s *Server) listProtocols(c *gin.Context) {
	statuses := s.registry.Snapshot()
	out := make([]gin.H, 0, len(statuses))
	for _, p := range statuses {
		entry := gin.H{
			"protocol_id":      p.ProtocolID,
			"assessed":         p.Assessed(),
			"pending_requests": p.Pending,
		}
		if p.Assessed() {
			entry["risk_score"] = p.RiskScore
			entry["confidence"] = p.Confidence
			entry["risk_level"] = models.LevelForScore(p.RiskScore).String()
			entry["last_updated"] = p.LastUpdated.UTC().Format(time.RFC3339)
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"protocols": out})
}

// getRiskScore never fails: absence is encoded as assessed=false with
// zero values, mirroring the registry's sentinel convention.
func (s *Server) getRiskScore(c *gin.Context) {
	protocolID := c.Param("id")
	score, confidence, updated := s.registry.GetRiskScore(protocolID)

	resp := gin.H{
		"protocol_id": protocolID,
		"assessed":    !updated.IsZero(),
		"risk_score":  score,
		"confidence":  confidence,
	}
	if !updated.IsZero() {
		resp["risk_level"] = models.LevelForScore(score).String()
		resp["last_updated"] = updated.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getRiskBreakdown(c *gin.Context) {
	protocolID := c.Param("id")
	rec := s.registry.GetRiskBreakdown(protocolID)

	resp := gin.H{
		"protocol_id": protocolID,
		"assessed":    rec.Exists(),
		"risk_score":  rec.RiskScore,
		"confidence":  rec.Confidence,
		"components":  rec.Components,
		"explanation": rec.Explanation,
	}
	if rec.Exists() {
		resp["risk_level"] = rec.Level().String()
		resp["last_updated"] = rec.LastUpdated.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

type programRequest struct {
	Source string `json:"source" binding:"required"`
}

func (s *Server) setProgram(c *gin.Context) {
	var req programRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.registry.SetAssessmentProgram(req.Source)
	c.Status(http.StatusNoContent)
}

type fulfillmentRequest struct {
	Payload string `json:"payload"`
	Error   string `json:"error"`
}

// handleFulfillment is the webhook the gateway provider targets. The
// payload is the 0x-hex ABI tuple; error carries a provider-reported
// computation failure instead.
func (s *Server) handleFulfillment(c *gin.Context) {
	raw := c.Param("requestId")
	idBytes, err := hexutil.Decode(raw)
	if err != nil || len(idBytes) != common.HashLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request id must be a 32-byte hex string"})
		return
	}
	requestID := common.BytesToHash(idBytes)

	var req fulfillmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Payload == "" && req.Error == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "either payload or error is required"})
		return
	}

	var payload []byte
	if req.Payload != "" {
		payload, err = hexutil.Decode(req.Payload)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "payload must be 0x-hex encoded"})
			return
		}
	}

	if err := s.registry.HandleFulfillment(c.Request.Context(), requestID, payload, req.Error); err != nil {
		switch {
		case errors.Is(err, oracle.ErrUnknownRequest):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			// Decode failures: the pending entry is already consumed, the
			// prior record untouched. 422 tells the gateway not to retry.
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"request_id": requestID.Hex()})
}
