package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// GatewayProvider submits tasks to a Functions-style HTTP gateway. The
// gateway computes the assessment off-process and delivers the result by
// POSTing to the service's fulfillment webhook, so no in-process callback
// fires for gateway submissions; RegisterCallback is kept to satisfy the
// Provider contract.
type GatewayProvider struct {
	url         string
	apiKey      string
	callbackURL string
	client      *http.Client
	logger      *zap.Logger
}

// GatewayConfig carries the gateway endpoint settings.
type GatewayConfig struct {
	URL           string
	APIKey        string
	CallbackURL   string
	SubmitTimeout time.Duration
}

// NewGatewayProvider builds an HTTP provider for the given gateway.
func NewGatewayProvider(cfg GatewayConfig, logger *zap.Logger) *GatewayProvider {
	timeout := cfg.SubmitTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GatewayProvider{
		url:         cfg.URL,
		apiKey:      cfg.APIKey,
		callbackURL: cfg.CallbackURL,
		client:      &http.Client{Timeout: timeout},
		logger:      logger,
	}
}

// RegisterCallback is a no-op for the gateway transport; fulfillments
// arrive over the webhook instead.
func (p *GatewayProvider) RegisterCallback(Handler) {}

type submitRequest struct {
	RequestID   string   `json:"request_id"`
	Source      string   `json:"source"`
	Args        []string `json:"args"`
	CallbackURL string   `json:"callback_url"`
}

// Submit posts the task to the gateway. Any transport failure or non-2xx
// response is a submission error; the caller records no pending state.
func (p *GatewayProvider) Submit(ctx context.Context, task Task) (common.Hash, error) {
	id := newRequestID(task)

	body, err := json.Marshal(submitRequest{
		RequestID:   id.Hex(),
		Source:      task.Source,
		Args:        task.Args,
		CallbackURL: p.callbackURL,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("marshal gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return common.Hash{}, fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return common.Hash{}, fmt.Errorf("gateway submit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return common.Hash{}, fmt.Errorf("gateway rejected task: status %d: %s", resp.StatusCode, snippet)
	}

	p.logger.Debug("task submitted to gateway",
		zap.String("request_id", id.Hex()),
		zap.Strings("args", task.Args))
	return id, nil
}
