// Package compute abstracts the external assessment compute provider.
// The registry only depends on the narrow Provider contract: synchronous
// task submission returning a request id, plus a single asynchronous
// result callback per request.
package compute

import (
	"context"
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Task is the unit of work handed to the provider: a source program and
// its arguments (for assessments, the single protocol id).
type Task struct {
	Source string   `json:"source"`
	Args   []string `json:"args"`
}

// Handler receives exactly one result callback per request id. Either
// payload carries the ABI-encoded assessment, or provErr carries the
// provider-reported failure; never both.
type Handler func(ctx context.Context, requestID common.Hash, payload []byte, provErr string) error

// Provider is the external compute collaborator. Submit is synchronous
// and returns a fresh, globally unique request id; the computation
// itself completes later via the registered Handler (or, for gateway
// providers, via the service's fulfillment webhook).
type Provider interface {
	Submit(ctx context.Context, task Task) (common.Hash, error)
	RegisterCallback(h Handler)
}

var requestNonce uint64

// newRequestID derives a unique 32-byte request id from a process-local
// nonce, the first task argument and the submission time.
func newRequestID(task Task) common.Hash {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], atomic.AddUint64(&requestNonce, 1))
	binary.BigEndian.PutUint64(buf[8:], uint64(time.Now().UnixNano()))
	arg := ""
	if len(task.Args) > 0 {
		arg = task.Args[0]
	}
	return crypto.Keccak256Hash(buf[:], []byte(arg))
}
