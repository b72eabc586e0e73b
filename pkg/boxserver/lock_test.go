package boxserver

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountLockWriterExcludesWriter(t *testing.T) {
	l := NewAccountLock()
	require.NoError(t, l.AcquireWriter(50*time.Millisecond))
	defer l.ReleaseWriter()

	err := l.AcquireWriter(20 * time.Millisecond)
	assert.Equal(t, ErrAccountBusy, err)
}

func TestAccountLockWriterExcludesReader(t *testing.T) {
	l := NewAccountLock()
	require.NoError(t, l.AcquireWriter(50*time.Millisecond))
	defer l.ReleaseWriter()

	err := l.AcquireReader(20 * time.Millisecond)
	assert.Equal(t, ErrAccountBusy, err)
}

func TestAccountLockReaderExcludesWriter(t *testing.T) {
	l := NewAccountLock()
	require.NoError(t, l.AcquireReader(50*time.Millisecond))
	defer l.ReleaseReader()

	err := l.AcquireWriter(20 * time.Millisecond)
	assert.Equal(t, ErrAccountBusy, err)
}

func TestAccountLockMultipleReaders(t *testing.T) {
	l := NewAccountLock()
	require.NoError(t, l.AcquireReader(50*time.Millisecond))
	require.NoError(t, l.AcquireReader(50*time.Millisecond))
	l.ReleaseReader()
	l.ReleaseReader()
}

func TestAccountLockWriterUnblocksAfterRelease(t *testing.T) {
	l := NewAccountLock()
	require.NoError(t, l.AcquireWriter(time.Second))

	done := make(chan error, 1)
	go func() {
		done <- l.AcquireWriter(time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	l.ReleaseWriter()

	select {
	case err := <-done:
		require.NoError(t, err)
		l.ReleaseWriter()
	case <-time.After(time.Second):
		t.Fatal("writer never unblocked after release")
	}
}

func TestAccountLockReaderUnblocksAfterWriterRelease(t *testing.T) {
	l := NewAccountLock()
	require.NoError(t, l.AcquireWriter(time.Second))

	done := make(chan error, 1)
	go func() {
		done <- l.AcquireReader(time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	l.ReleaseWriter()

	select {
	case err := <-done:
		require.NoError(t, err)
		l.ReleaseReader()
	case <-time.After(time.Second):
		t.Fatal("reader never unblocked after writer release")
	}
}

func TestAccountLockNoGoroutineLeakOnTimeout(t *testing.T) {
	l := NewAccountLock()
	require.NoError(t, l.AcquireWriter(time.Second))
	defer l.ReleaseWriter()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.AcquireReader(10 * time.Millisecond)
			assert.Equal(t, ErrAccountBusy, err)
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed-out acquirers never returned")
	}
}

func TestLockRegistryReturnsSameLockPerAccount(t *testing.T) {
	r := NewLockRegistry()
	a := r.For(1)
	b := r.For(1)
	c := r.For(2)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}
