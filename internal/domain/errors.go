package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrMalformedInput = errors.New("malformed input")
	ErrStaleWrite     = errors.New("stale write")
	ErrLockHeld       = errors.New("lock already held")

	// ErrDeliveryInFlight is returned while another consumer is delivering
	// the same request.
	ErrDeliveryInFlight = errors.New("delivery in flight")

	// ErrUnsupportedUpdate is returned for transaction updates that move a
	// transaction to another wallet or asset.
	ErrUnsupportedUpdate = fmt.Errorf("%w: transaction re-keyed to another wallet or asset", ErrMalformedInput)
)
