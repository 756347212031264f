// Package trace records what a run decided for each task: replayed from
// cache, executed, failed, or skipped. The record is canonical, so two runs
// that made the same decisions produce the same bytes.
package trace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ExecutionTrace is the record of one run over a task graph. It holds no
// timestamps, durations or error text.
type ExecutionTrace struct {
	GraphHash string       `json:"graphHash"`
	Events    []TraceEvent `json:"events"`
}

// TraceEventKind names a decision. The values are part of the canonical
// bytes; do not rename.
type TraceEventKind string

const (
	EventTaskCached   TraceEventKind = "TaskCached"
	EventTaskExecuted TraceEventKind = "TaskExecuted"
	EventTaskFailed   TraceEventKind = "TaskFailed"
	EventTaskSkipped  TraceEventKind = "TaskSkipped"
)

// Reason codes.
const (
	ReasonCacheHit         = "CacheHit"
	ReasonCacheMiss        = "CacheMiss"
	ReasonCacheSkipped     = "CacheSkipped"
	ReasonNonZeroExit      = "NonZeroExit"
	ReasonDependencyFailed = "DependencyFailed"
)

// TraceEvent is a single decision about one task. Field order is the
// encoding order.
type TraceEvent struct {
	Kind   TraceEventKind `json:"kind"`
	TaskID string         `json:"taskId"`
	// Hash is the task fingerprint. Skipped tasks may have none.
	Hash   string `json:"hash,omitempty"`
	Code   int    `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Validate checks that the trace can be encoded.
func (t *ExecutionTrace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	if t.GraphHash == "" {
		return errors.New("graphHash is required")
	}
	for i, e := range t.Events {
		if kindOrder(e.Kind) < 0 {
			return fmt.Errorf("events[%d]: unknown kind %q", i, e.Kind)
		}
		if e.TaskID == "" {
			return fmt.Errorf("events[%d].taskId is required", i)
		}
		if e.Kind != EventTaskSkipped && e.Hash == "" {
			return fmt.Errorf("events[%d].hash is required for kind %q", i, e.Kind)
		}
	}
	return nil
}

// Canonicalize sorts the events by (taskId, kind, hash, code, reason), so
// the order never depends on execution timing.
func (t *ExecutionTrace) Canonicalize() {
	if t == nil {
		return
	}
	slices.SortStableFunc(t.Events, func(a, b TraceEvent) int {
		if c := strings.Compare(a.TaskID, b.TaskID); c != 0 {
			return c
		}
		if a.Kind != b.Kind {
			return kindOrder(a.Kind) - kindOrder(b.Kind)
		}
		if c := strings.Compare(a.Hash, b.Hash); c != 0 {
			return c
		}
		if a.Code != b.Code {
			return a.Code - b.Code
		}
		return strings.Compare(a.Reason, b.Reason)
	})
}

func kindOrder(k TraceEventKind) int {
	switch k {
	case EventTaskCached:
		return 10
	case EventTaskExecuted:
		return 20
	case EventTaskFailed:
		return 30
	case EventTaskSkipped:
		return 40
	default:
		return -1
	}
}

// CanonicalJSON returns the canonical encoding of the trace. The receiver is
// not modified.
func (t ExecutionTrace) CanonicalJSON() ([]byte, error) {
	cp := ExecutionTrace{GraphHash: t.GraphHash, Events: slices.Clone(t.Events)}
	if cp.Events == nil {
		cp.Events = []TraceEvent{}
	}
	cp.Canonicalize()
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(cp)
}

// Hash returns the digest of the canonical encoding.
func (t ExecutionTrace) Hash() (string, error) {
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return ComputeTraceHash(b), nil
}

// WriteFile writes the canonical encoding to path, creating its directory.
func (t ExecutionTrace) WriteFile(path string) error {
	b, err := t.CanonicalJSON()
	if err != nil {
		return fmt.Errorf("encoding trace: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating trace directory: %w", err)
	}
	if err := os.WriteFile(path, append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing trace: %w", err)
	}
	return nil
}
