package oracle

import "errors"

var (
	// ErrEmptyProtocolID rejects assessment requests without a protocol id.
	ErrEmptyProtocolID = errors.New("protocol id must not be empty")

	// ErrSubmission wraps provider rejections at submit time. No pending
	// state is recorded when it is returned.
	ErrSubmission = errors.New("assessment submission rejected")

	// ErrUnknownRequest rejects fulfillment callbacks whose request id has
	// no pending entry (duplicate callback, forged id, or an entry already
	// consumed). The callback is rejected outright; nothing is mutated.
	ErrUnknownRequest = errors.New("unknown assessment request")
)
