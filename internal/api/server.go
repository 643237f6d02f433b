// Package api exposes the risk registry over HTTP: request and read
// endpoints, the fulfillment webhook used by the gateway provider, a
// websocket event stream and Prometheus metrics.
package api

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/temi0x/chainguard/internal/events"
	"github.com/temi0x/chainguard/pkg/models"
)

// Registry is the slice of the oracle registry the API serves.
type Registry interface {
	RequestAssessment(ctx context.Context, protocolID string) (common.Hash, error)
	HandleFulfillment(ctx context.Context, requestID common.Hash, payload []byte, provErr string) error
	GetRiskScore(protocolID string) (int64, int64, time.Time)
	GetRiskBreakdown(protocolID string) models.RiskRecord
	SetAssessmentProgram(source string)
	Snapshot() []models.ProtocolStatus
}

// Config holds the API server settings.
type Config struct {
	AllowedOrigins []string
}

// Server is the HTTP API server.
type Server struct {
	router   *gin.Engine
	logger   *zap.Logger
	registry Registry
	bus      *events.Bus
}

// NewServer wires the router. bus may be nil, in which case the event
// stream endpoint reports unavailable.
func NewServer(logger *zap.Logger, registry Registry, bus *events.Bus, cfg Config) *Server {
	s := &Server{
		logger:   logger,
		registry: registry,
		bus:      bus,
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(otelgin.Middleware("chainguard-api"))

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	s.router = router
	s.registerRoutes()
	return s
}

// Router returns the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", s.healthCheck)
		v1.GET("/metrics", gin.WrapH(promhttp.Handler()))

		v1.POST("/assessments", s.requestAssessment)
		v1.GET("/protocols", s.listProtocols)
		v1.GET("/protocols/:id/risk", s.getRiskScore)
		v1.GET("/protocols/:id/breakdown", s.getRiskBreakdown)
		v1.PUT("/program", s.setProgram)

		v1.POST("/fulfillments/:requestId", s.handleFulfillment)

		v1.GET("/events/ws", s.streamEvents)
	}
}
