package escrow

import "errors"

// Error taxonomy for the payment lifecycle. Callers branch on these with
// errors.Is; everything else is an internal failure.
var (
	// ErrNotFound means the contract code is unknown.
	ErrNotFound = errors.New("deposit contract not found")

	// ErrInvalidTransition means the requested event does not apply to the
	// contract's current status (already paid, already terminal, expired).
	// Webhook callers swallow this as a no-op.
	ErrInvalidTransition = errors.New("invalid contract transition")

	// ErrUnauthorized means the acting user may not fire this event on
	// this contract. Nothing is mutated.
	ErrUnauthorized = errors.New("actor not allowed for this transition")

	// ErrUnverifiedPayload means a webhook body failed its signature
	// check and never reached the state machine.
	ErrUnverifiedPayload = errors.New("webhook payload failed verification")
)
