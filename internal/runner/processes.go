package runner

import (
	"os"
	"sync"
	"syscall"
	"time"
)

// ProcessTracker records the live child process groups of this process.
// A nil tracker tracks nothing.
//
// Once closed, the tracker admits no new children: a process tracked after
// Close is killed on the spot.
type ProcessTracker struct {
	mu     sync.Mutex
	procs  map[int]*os.Process
	empty  chan struct{}
	closed bool
}

// NewProcessTracker creates an empty tracker.
func NewProcessTracker() *ProcessTracker {
	empty := make(chan struct{})
	close(empty)
	return &ProcessTracker{procs: make(map[int]*os.Process), empty: empty}
}

// Track records p and returns the func that forgets it.
func (t *ProcessTracker) Track(p *os.Process) func() {
	if t == nil || p == nil {
		return func() {}
	}
	t.mu.Lock()
	if len(t.procs) == 0 {
		t.empty = make(chan struct{})
	}
	t.procs[p.Pid] = p
	if t.closed {
		syscall.Kill(-p.Pid, syscall.SIGKILL)
	}
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, ok := t.procs[p.Pid]; !ok {
			return
		}
		delete(t.procs, p.Pid)
		if len(t.procs) == 0 {
			close(t.empty)
		}
	}
}

// Len returns the number of tracked processes.
func (t *ProcessTracker) Len() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.procs)
}

// Signal sends sig to every tracked process group and returns how many were
// signalled.
func (t *ProcessTracker) Signal(sig syscall.Signal) int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for pid := range t.procs {
		if err := syscall.Kill(-pid, sig); err == nil {
			n++
		}
	}
	return n
}

// Close stops admitting children and sends sig to every tracked process
// group. It returns how many were signalled.
func (t *ProcessTracker) Close(sig syscall.Signal) int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return t.Signal(sig)
}

// Closed reports whether Close was called.
func (t *ProcessTracker) Closed() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Wait blocks until no process is tracked or timeout elapses, and reports
// whether the tracker drained.
func (t *ProcessTracker) Wait(timeout time.Duration) bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	empty := t.empty
	t.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-empty:
		return true
	case <-timer.C:
		return false
	}
}
