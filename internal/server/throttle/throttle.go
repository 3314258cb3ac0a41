// Package throttle tracks failed login attempts per client address and
// imposes temporary lockouts.
//
// The state machine per address is clear → warming → locked: the 5th failure
// within 15 minutes of the first recorded failure locks the address for
// 15 minutes, and while locked every attempt is rejected before any
// credential check. The failure window is deliberately not pruned on success
// or time passage; only lock expiry clears an address (see DESIGN.md).
//
// State lives behind the AttemptStore interface so single-process
// deployments can use the in-memory store and multi-process ones the Redis
// store, without process-wide singletons.
package throttle

import (
	"context"
	"time"
)

// Config tunes the lockout state machine.
type Config struct {
	// Threshold is the number of failures that triggers a lockout.
	Threshold int
	// Window is the maximum spread between the first and the latest failure
	// for the threshold to count.
	Window time.Duration
	// LockDuration is how long a locked address stays locked.
	LockDuration time.Duration
}

// DefaultConfig returns the production defaults: 5 failures within
// 15 minutes lock the address for 15 minutes.
func DefaultConfig() Config {
	return Config{Threshold: 5, Window: 15 * time.Minute, LockDuration: 15 * time.Minute}
}

// AttemptStore records login failures per client address and answers
// whether an address is currently locked out.
//
// RecordFailure appends a failure for addr and reports whether the address
// is locked after recording (either it just crossed the threshold or was
// locked already). IsLocked must be checked before any credential work.
type AttemptStore interface {
	RecordFailure(ctx context.Context, addr string) (locked bool, err error)
	IsLocked(ctx context.Context, addr string) (bool, error)
	Reset(ctx context.Context, addr string) error
}
