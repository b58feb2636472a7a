// Package lifetime carries the process-wide stopping and stopped signals.
//
// StopApplication moves the process into the stopping phase. Whoever owns
// the process (the serve command) watches ApplicationStopping, tears down its
// servers and background workers, then calls NotifyStopped.
package lifetime

import (
	"context"
	"sync"

	"github.com/smallnest/releasedash/internal/logger"
	"go.uber.org/zap"
)

// Lifetime is created once per process.
type Lifetime struct {
	stopping     context.Context
	stopStopping context.CancelCauseFunc
	stopped      context.Context
	stopStopped  context.CancelFunc

	mu     sync.Mutex
	reason error
}

// New creates a lifetime in the running phase.
func New() *Lifetime {
	l := &Lifetime{}
	l.stopping, l.stopStopping = context.WithCancelCause(context.Background())
	l.stopped, l.stopStopped = context.WithCancel(context.Background())
	return l
}

// ApplicationStopping is done once a stop has been requested.
func (l *Lifetime) ApplicationStopping() context.Context {
	return l.stopping
}

// ApplicationStopped is done once the owner has finished tearing down.
func (l *Lifetime) ApplicationStopped() context.Context {
	return l.stopped
}

// StopApplication requests a process stop. cause is nil for an orderly stop
// and the triggering error otherwise. Only the first call has an effect.
func (l *Lifetime) StopApplication(cause error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopping.Err() != nil {
		return
	}
	l.reason = cause
	if cause != nil {
		logger.Error("Application stop requested", zap.Error(cause))
	} else {
		logger.Info("Application stop requested")
	}
	l.stopStopping(cause)
}

// NotifyStopped marks teardown as complete. It implies StopApplication.
func (l *Lifetime) NotifyStopped() {
	l.StopApplication(nil)
	l.stopStopped()
}

// Err returns the error that caused the stop, or nil when the stop was
// orderly or has not happened.
func (l *Lifetime) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reason
}

// Stopping reports whether a stop has been requested.
func (l *Lifetime) Stopping() bool {
	return l.stopping.Err() != nil
}
