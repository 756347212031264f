package runner

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

type stream int

const (
	streamStdout stream = iota
	streamStderr
)

// OutputOptions configures a Multiplexer.
type OutputOptions struct {
	// LogPath is the persisted log. Empty disables it.
	LogPath string
	// Stream forwards output to the terminal writers and callbacks.
	Stream bool
	// Prefix is written at the start of every terminal line, e.g. "[app] ".
	Prefix string

	TerminalStdout io.Writer
	TerminalStderr io.Writer

	OnStdout func([]byte)
	OnStderr func([]byte)
}

// Multiplexer fans out one task's output. Every write, in order, is appended
// to the log file; when streaming it is also forwarded to the terminal and
// handed to the caller's callback. Stdout bytes are additionally kept in
// memory so that a clean success can rewrite the log to stdout only.
//
// Writes from both streams are serialized, so the log holds them in write
// order.
type Multiplexer struct {
	mu   sync.Mutex
	opts OutputOptions

	log        *os.File
	logErr     error
	stdoutOnly bytes.Buffer
	closed     bool

	termOut io.Writer
	termErr io.Writer
}

// NewMultiplexer creates a Multiplexer. The log file is opened by Open, or
// on the first write when Open was not called or failed.
func NewMultiplexer(opts OutputOptions) *Multiplexer {
	m := &Multiplexer{opts: opts, termOut: opts.TerminalStdout, termErr: opts.TerminalStderr}
	if m.termOut == nil {
		m.termOut = io.Discard
	}
	if m.termErr == nil {
		m.termErr = io.Discard
	}
	if opts.Prefix != "" {
		m.termOut = NewLinePrefixer(m.termOut, opts.Prefix)
		m.termErr = NewLinePrefixer(m.termErr, opts.Prefix)
	}
	return m
}

// Open creates or truncates the log before the task runs, so a task that
// writes nothing leaves an empty log rather than an earlier run's.
func (m *Multiplexer) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return os.ErrClosed
	}
	if m.opts.LogPath == "" || m.log != nil {
		return nil
	}
	f, err := openLog(m.opts.LogPath)
	if err != nil {
		return err
	}
	m.log = f
	return nil
}

// Stdout returns the writer for the task's standard output.
func (m *Multiplexer) Stdout() io.Writer { return streamWriter{m: m, s: streamStdout} }

// Stderr returns the writer for the task's standard error.
func (m *Multiplexer) Stderr() io.Writer { return streamWriter{m: m, s: streamStderr} }

type streamWriter struct {
	m *Multiplexer
	s stream
}

func (w streamWriter) Write(p []byte) (int, error) { return w.m.write(w.s, p) }

func (m *Multiplexer) write(s stream, p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, os.ErrClosed
	}

	if s == streamStdout {
		m.stdoutOnly.Write(p)
	}
	if m.opts.LogPath != "" && m.logErr == nil {
		if m.log == nil {
			m.log, m.logErr = openLog(m.opts.LogPath)
		}
		if m.logErr == nil {
			_, m.logErr = m.log.Write(p)
		}
	}
	if !m.opts.Stream {
		return len(p), nil
	}

	chunk := bytes.Clone(p)
	switch s {
	case streamStdout:
		m.termOut.Write(p)
		if m.opts.OnStdout != nil {
			m.opts.OnStdout(chunk)
		}
	case streamStderr:
		m.termErr.Write(p)
		if m.opts.OnStderr != nil {
			m.opts.OnStderr(chunk)
		}
	}
	return len(p), nil
}

func openLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}

// Finish closes the log. A task that exited 0 without stderr capture has
// its log rewritten to exactly the stdout bytes written; every other outcome
// keeps the interleaved log.
func (m *Multiplexer) Finish(code int, captureStderr bool) error {
	if err := m.Close(); err != nil {
		return err
	}
	if code != 0 || captureStderr || m.opts.LogPath == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(m.opts.LogPath), 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	if err := os.WriteFile(m.opts.LogPath, m.stdoutOnly.Bytes(), 0o644); err != nil {
		return fmt.Errorf("rewriting log: %w", err)
	}
	return nil
}

// Close closes the log handle. It is safe to call more than once.
func (m *Multiplexer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.log != nil {
		if err := m.log.Close(); err != nil && m.logErr == nil {
			m.logErr = err
		}
		m.log = nil
	}
	return m.logErr
}
