package care

import (
	"context"
	"time"

	"github.com/villagehq/village-core/core/session"
)

// Archiver receives terminal sessions as a fire-and-forget side effect,
// off the event hot path.
type Archiver interface {
	ArchiveSession(ctx context.Context, s session.CallSession) error
}

type OrchestratorOption func(*Orchestrator)

// WithEscalationWindow sets the village mobilization deadline.
func WithEscalationWindow(window time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if window > 0 {
			o.escalationWindow = window
		}
	}
}

// WithSubscriberQueueSize bounds each observer's delivery queue.
func WithSubscriberQueueSize(size int) OrchestratorOption {
	return func(o *Orchestrator) {
		if size > 0 {
			o.queueSize = size
		}
	}
}

// WithRetention sets how long terminal sessions stay in the store before
// eviction.
func WithRetention(retention time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if retention > 0 {
			o.retention = retention
		}
	}
}

// WithSweepInterval sets how often the store is swept for expired terminal
// sessions.
func WithSweepInterval(interval time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if interval > 0 {
			o.sweepInterval = interval
		}
	}
}

// WithTimerInterval sets the cadence of timer_update events for live
// calls. Zero disables the elapsed-time ticker.
func WithTimerInterval(interval time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.timerInterval = interval }
}

// WithArchiver wires the terminal-session archive sink.
func WithArchiver(archiver Archiver) OrchestratorOption {
	return func(o *Orchestrator) { o.archiver = archiver }
}
