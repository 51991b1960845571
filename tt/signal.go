package tt

import (
	"sync"
	"time"
)

// flag is a resettable one-shot signal. Login, logout and correlated-send
// waiters block on one of these while the watcher goroutine sets it.
type flag struct {
	mu  sync.Mutex
	ch  chan struct{}
	set bool
}

func newFlag() *flag {
	return &flag{ch: make(chan struct{})}
}

func (f *flag) Set() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.set {
		f.set = true
		close(f.ch)
	}
}

func (f *flag) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.set {
		f.set = false
		f.ch = make(chan struct{})
	}
}

func (f *flag) IsSet() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set
}

// Wait blocks until the flag is set or the timeout elapses, and reports
// whether the flag fired.
func (f *flag) Wait(timeout time.Duration) bool {
	f.mu.Lock()
	ch := f.ch
	set := f.set
	f.mu.Unlock()
	if set {
		return true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return f.IsSet()
	}
}
