package runner

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"taskweaver/internal/logging"
)

// ExitInterrupted is the process exit code after SIGINT.
const ExitInterrupted = 130

// ErrInterrupted is returned by SignalHandler.Run after SIGINT when Exit
// did not end the process.
var ErrInterrupted = errors.New("interrupted")

// SignalHandler tears child processes down on process signals.
//
// SIGINT kills every tracked process group and exits without persisting
// anything. SIGTERM and SIGHUP ask the children to terminate and keep
// waiting for them, so their results are still recorded.
type SignalHandler struct {
	Tracker *ProcessTracker
	// Exit ends the process. Defaults to os.Exit.
	Exit   func(code int)
	Logger logrus.FieldLogger
	// KillTimeout bounds the wait for killed children to be reaped.
	KillTimeout time.Duration
	// Cancel, when set, stops the run from dispatching more tasks.
	Cancel func()
}

// Interrupt stops dispatch, kills every tracked process group, waits for
// them to be reaped and exits. No child started after Interrupt survives.
func (h *SignalHandler) Interrupt() {
	if h.Cancel != nil {
		h.Cancel()
	}
	n := h.Tracker.Close(syscall.SIGKILL)
	h.logger().WithField("processes", n).Warn("interrupted, killing child processes")
	if !h.Tracker.Wait(h.killTimeout()) {
		h.logger().Warn("child processes still running after kill")
	}
	h.exit(ExitInterrupted)
}

// Terminate forwards SIGTERM to every tracked process group.
func (h *SignalHandler) Terminate(sig os.Signal) {
	n := h.Tracker.Signal(syscall.SIGTERM)
	h.logger().WithFields(logrus.Fields{"signal": sig.String(), "processes": n}).Info("terminating child processes")
}

// Run handles signals until ctx is done.
func (h *SignalHandler) Run(ctx context.Context) error {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-ch:
			if sig == syscall.SIGINT {
				h.Interrupt()
				return ErrInterrupted
			}
			h.Terminate(sig)
		}
	}
}

func (h *SignalHandler) exit(code int) {
	if h.Exit != nil {
		h.Exit(code)
		return
	}
	os.Exit(code)
}

func (h *SignalHandler) logger() logrus.FieldLogger {
	if h.Logger == nil {
		return logging.Discard()
	}
	return h.Logger
}

func (h *SignalHandler) killTimeout() time.Duration {
	if h.KillTimeout <= 0 {
		return 5 * time.Second
	}
	return h.KillTimeout
}
