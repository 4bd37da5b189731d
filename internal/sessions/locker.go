package sessions

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockTimeout is returned when a conversation lock cannot be acquired
// within the configured wait.
var ErrLockTimeout = errors.New("timed out waiting for conversation lock")

// Locker serializes turn loops per conversation: no two decodes may write
// into the same conversation's turn state concurrently.
type Locker interface {
	Lock(ctx context.Context, conversationID string) error
	Unlock(conversationID string)
}

// convLock is one conversation's lock channel plus a count of the
// goroutines holding or waiting on it. The map entry lives only as long
// as refs is positive, so idle conversations cost nothing.
type convLock struct {
	ch   chan struct{}
	refs int
}

// LocalLocker is an in-process Locker backed by per-conversation channels.
type LocalLocker struct {
	timeout time.Duration

	mu    sync.Mutex
	locks map[string]*convLock
}

// NewLocalLocker creates a LocalLocker. A non-positive timeout waits
// indefinitely (bounded only by the caller's context).
func NewLocalLocker(timeout time.Duration) *LocalLocker {
	return &LocalLocker{
		timeout: timeout,
		locks:   make(map[string]*convLock),
	}
}

// Lock acquires the conversation's lock, waiting until it is free, the
// context is canceled, or the configured timeout elapses.
func (l *LocalLocker) Lock(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return errors.New("conversation id is required")
	}
	ch := l.acquireRef(conversationID)

	var timeout <-chan time.Time
	if l.timeout > 0 {
		timer := time.NewTimer(l.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.releaseRef(conversationID)
		return ctx.Err()
	case <-timeout:
		l.releaseRef(conversationID)
		return ErrLockTimeout
	}
}

// Unlock releases the conversation's lock. Unlocking an unheld lock is a
// no-op.
func (l *LocalLocker) Unlock(conversationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.locks[conversationID]
	if !ok {
		return
	}
	select {
	case <-entry.ch:
		entry.refs--
		if entry.refs <= 0 {
			delete(l.locks, conversationID)
		}
	default:
		// Unheld: no token to drain, no ref to drop.
	}
}

// acquireRef returns the conversation's channel with one ref taken; the
// ref is held until releaseRef (failed acquisition) or Unlock.
func (l *LocalLocker) acquireRef(conversationID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.locks[conversationID]
	if !ok {
		entry = &convLock{ch: make(chan struct{}, 1)}
		l.locks[conversationID] = entry
	}
	entry.refs++
	return entry.ch
}

func (l *LocalLocker) releaseRef(conversationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.locks[conversationID]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(l.locks, conversationID)
	}
}
