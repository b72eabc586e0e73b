package boxhousekeeping

import (
	"errors"
	"time"
)

// ErrAccountBusy is returned by AccountLock.Acquire when the writer
// slot could not be obtained before the caller's deadline (spec §5).
var ErrAccountBusy = errors.New("boxhousekeeping: account busy")

// AccountLock is the single writer slot an account's mutating
// operations (object-id allocation, directory rewrites, account-info
// writes) and its housekeeping pass all contend for, per spec §5.
// It is a one-slot buffered channel rather than a plain sync.Mutex,
// which gives Acquire a bounded wait, since a blocking Lock() has no
// way to give up and report AccountBusy.
type AccountLock struct {
	slot chan struct{}
}

// NewAccountLock returns an unlocked lock.
func NewAccountLock() *AccountLock {
	return &AccountLock{slot: make(chan struct{}, 1)}
}

// Acquire blocks until the writer slot is free or deadline elapses,
// returning ErrAccountBusy on timeout. Release must be called exactly
// once per successful Acquire.
func (l *AccountLock) Acquire(deadline time.Duration) error {
	select {
	case l.slot <- struct{}{}:
		return nil
	case <-time.After(deadline):
		return ErrAccountBusy
	}
}

// Release frees the writer slot.
func (l *AccountLock) Release() {
	<-l.slot
}
