package trace

import "sync"

// Sink receives trace events. Record must not block and may be a no-op.
type Sink interface {
	Record(event TraceEvent)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Record(TraceEvent) {}

// SafeRecord hands event to s. A nil or panicking sink never affects the
// run.
func SafeRecord(s Sink, event TraceEvent) {
	if s == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	s.Record(event)
}

// Recorder collects events in memory. It is safe for concurrent use; the
// order of Record calls does not matter since Trace canonicalizes.
type Recorder struct {
	mu     sync.Mutex
	events []TraceEvent
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Record(event TraceEvent) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Trace returns the canonical trace of the events recorded so far.
func (r *Recorder) Trace(graphHash string) ExecutionTrace {
	tr := ExecutionTrace{GraphHash: graphHash}
	if r != nil {
		r.mu.Lock()
		tr.Events = make([]TraceEvent, len(r.events))
		copy(tr.Events, r.events)
		r.mu.Unlock()
	}
	tr.Canonicalize()
	return tr
}
