package boxserver

import (
	"sync"
	"time"

	"github.com/vorteil/boxbackup/pkg/boxhousekeeping"
)

// ErrAccountBusy is returned when a writer or reader slot could not be
// obtained before the caller's deadline. Re-exported from
// boxhousekeeping rather than declared fresh here, so a caller that
// sees it from either package's lock can check it with a single
// sentinel.
var ErrAccountBusy = boxhousekeeping.ErrAccountBusy

// AccountLock is the per-account writer/reader slot pair from spec §5:
// exactly one writer at a time (object-id allocation, directory
// rewrites, account-info writes, and a housekeeping pass), any number
// of concurrent readers otherwise, and readers and the writer are
// mutually exclusive. boxhousekeeping.AccountLock only models the
// writer side (a housekeeping pass has no concept of a shared read);
// this type generalizes that channel-semaphore idiom to the
// reader/writer split the server's request handlers need, rather than
// composing two independent locks that could never agree on mutual
// exclusion.
type AccountLock struct {
	mu      sync.Mutex
	writer  bool
	readers int
	waitCh  chan struct{}
}

// NewAccountLock returns an unlocked lock.
func NewAccountLock() *AccountLock {
	return &AccountLock{waitCh: make(chan struct{})}
}

// wake unblocks every goroutine currently parked in AcquireWriter/
// AcquireReader, who will each re-check the condition that woke them
// for. Must be called with mu held.
func (l *AccountLock) wake() {
	close(l.waitCh)
	l.waitCh = make(chan struct{})
}

// AcquireWriter blocks until no writer and no reader holds the lock,
// or deadline elapses, returning ErrAccountBusy on timeout.
// ReleaseWriter must be called exactly once per successful call.
func (l *AccountLock) AcquireWriter(deadline time.Duration) error {
	timeout := time.After(deadline)
	for {
		l.mu.Lock()
		if !l.writer && l.readers == 0 {
			l.writer = true
			l.mu.Unlock()
			return nil
		}
		ch := l.waitCh
		l.mu.Unlock()
		select {
		case <-ch:
		case <-timeout:
			return ErrAccountBusy
		}
	}
}

// ReleaseWriter frees the writer slot.
func (l *AccountLock) ReleaseWriter() {
	l.mu.Lock()
	l.writer = false
	l.wake()
	l.mu.Unlock()
}

// AcquireReader blocks until no writer holds the lock, or deadline
// elapses, returning ErrAccountBusy on timeout. ReleaseReader must be
// called exactly once per successful call.
func (l *AccountLock) AcquireReader(deadline time.Duration) error {
	timeout := time.After(deadline)
	for {
		l.mu.Lock()
		if !l.writer {
			l.readers++
			l.mu.Unlock()
			return nil
		}
		ch := l.waitCh
		l.mu.Unlock()
		select {
		case <-ch:
		case <-timeout:
			return ErrAccountBusy
		}
	}
}

// ReleaseReader frees one reader slot, waking any parked writer once
// the last reader has left.
func (l *AccountLock) ReleaseReader() {
	l.mu.Lock()
	l.readers--
	if l.readers == 0 {
		l.wake()
	}
	l.mu.Unlock()
}

// LockRegistry hands out one AccountLock per account-id, creating it
// lazily on first use.
type LockRegistry struct {
	mu    sync.Mutex
	locks map[uint32]*AccountLock
}

// NewLockRegistry returns an empty registry.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{locks: make(map[uint32]*AccountLock)}
}

// For returns the AccountLock for accountID, creating one if this is
// its first use.
func (r *LockRegistry) For(accountID uint32) *AccountLock {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[accountID]
	if !ok {
		l = NewAccountLock()
		r.locks[accountID] = l
	}
	return l
}
