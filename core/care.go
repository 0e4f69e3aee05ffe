// Package care is the real-time care-session orchestrator. It tracks the
// lifecycle of companion calls, ingests the live event stream produced by
// the telephony and analysis collaborators, broadcasts canonical state to
// observers, and mobilizes the elder's village when an actionable concern
// is detected.
package care

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/villagehq/village-core/core/bus"
	"github.com/villagehq/village-core/core/escalation"
	"github.com/villagehq/village-core/core/events"
	"github.com/villagehq/village-core/core/session"
	"github.com/villagehq/village-core/core/village"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultRetention     = 15 * time.Minute
	defaultSweepInterval = time.Minute
)

type Orchestrator struct {
	store      *session.Store
	machine    *session.Machine
	broadcast  *bus.Bus
	escalation *escalation.Orchestrator
	archiver   Archiver

	escalationWindow time.Duration
	queueSize        int
	retention        time.Duration
	sweepInterval    time.Duration
	timerInterval    time.Duration

	baseCtx    context.Context
	cancelBase context.CancelFunc

	tickersMu sync.Mutex
	tickers   map[string]context.CancelFunc

	archivedMu sync.Mutex
	archived   map[string]struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewOrchestrator(roster *village.Roster, notifier escalation.Notifier, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		store:            session.NewStore(),
		escalationWindow: escalation.DefaultWindow,
		retention:        defaultRetention,
		sweepInterval:    defaultSweepInterval,
		tickers:          make(map[string]context.CancelFunc),
		archived:         make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}

	o.baseCtx, o.cancelBase = context.WithCancel(context.Background())
	o.machine = session.NewMachine(o.store)

	busOpts := []bus.Option{}
	if o.queueSize > 0 {
		busOpts = append(busOpts, bus.WithQueueSize(o.queueSize))
	}
	o.broadcast = bus.New(busOpts...)

	o.escalation = escalation.NewOrchestrator(o.store, roster, notifier, o.publish,
		escalation.WithWindow(o.escalationWindow))

	o.wg.Add(1)
	go o.janitor()

	return o
}

// HandleRaw decodes and applies one wire event from an external
// collaborator. Malformed and unknown events are dropped with a diagnostic
// and no mutation.
func (o *Orchestrator) HandleRaw(ctx context.Context, raw []byte) error {
	event, err := events.Decode(raw)
	if err != nil {
		if errors.Is(err, events.ErrUnknownEventType) {
			logger.Debug("dropped unknown event", "error", err.Error())
		} else {
			logger.Warn("dropped malformed event", "error", err.Error())
		}
		return err
	}
	return o.Handle(ctx, event)
}

// Handle validates one intake event, applies it to the session store, and
// fans the canonical result out to every observer of the session's topics.
// A qualifying concern additionally opens the escalation window.
func (o *Orchestrator) Handle(ctx context.Context, event events.Event) error {
	ctx, span := tracer.Start(ctx, "handle session event")
	defer span.End()
	span.SetAttributes(attribute.String("event.kind", string(event.Kind())))

	emitted, err := o.machine.Reduce(ctx, event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to apply %s: %w", event.Kind(), err)
	}

	for _, out := range emitted {
		sessionID, ok := events.SessionOf(out)
		if !ok {
			continue
		}
		o.publish(sessionID, out)

		switch t := out.(type) {
		case events.CallStatus:
			o.onStatus(sessionID, session.CallStatus(t.Status))
		case events.ConcernDetected:
			if t.ActionRequired {
				o.escalation.HandleConcern(ctx, sessionID, session.Concern{
					ID:             t.ConcernID,
					Dimension:      t.Dimension,
					Severity:       t.Severity,
					Description:    t.Description,
					ActionRequired: true,
					DetectedAt:     t.Timestamp(),
				})
			}
		}
	}
	return nil
}

// HandleVillageResponse records an out-of-band response from a notified
// village member.
func (o *Orchestrator) HandleVillageResponse(ctx context.Context, sessionID, actionID, response string) {
	o.escalation.HandleResponse(ctx, sessionID, actionID, response)
}

// Subscribe registers an observer for the given session keys. There is no
// backlog replay; observers needing history fetch a snapshot.
func (o *Orchestrator) Subscribe(handler func(events.Event), keys ...string) *bus.Subscriber {
	return o.broadcast.Subscribe(handler, keys...)
}

// Snapshot returns a deep copy of the session's full current state,
// resolved through aliases.
func (o *Orchestrator) Snapshot(key string) (session.CallSession, error) {
	return o.store.Snapshot(key)
}

// EscalationActive reports whether a mobilization window is open for the
// session.
func (o *Orchestrator) EscalationActive(sessionID string) bool {
	return o.escalation.Active(sessionID)
}

// publish fans one event out to every key the session is addressable by,
// so observers subscribed under the transport room name see the same
// stream as observers subscribed under the session id.
func (o *Orchestrator) publish(sessionID string, event events.Event) {
	for _, key := range o.store.AliasesOf(o.store.Resolve(sessionID)) {
		o.broadcast.Publish(key, event)
	}
}

// onStatus reacts to canonical status transitions: live calls get an
// elapsed-time ticker, terminal calls stop it and are archived. Ending a
// call deliberately leaves any open escalation running.
func (o *Orchestrator) onStatus(sessionID string, status session.CallStatus) {
	switch {
	case status == session.StatusInProgress:
		o.startTicker(sessionID)
	case status.Terminal():
		o.stopTicker(sessionID)
		o.archive(sessionID)
	}
}

func (o *Orchestrator) startTicker(sessionID string) {
	if o.timerInterval <= 0 {
		return
	}

	o.tickersMu.Lock()
	defer o.tickersMu.Unlock()
	if _, running := o.tickers[sessionID]; running {
		return
	}
	tickerCtx, cancel := context.WithCancel(o.baseCtx)
	o.tickers[sessionID] = cancel

	started := time.Now()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(o.timerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-tickerCtx.Done():
				return
			case now := <-ticker.C:
				o.publish(sessionID, events.NewTimerUpdate(sessionID, int(now.Sub(started).Seconds())))
			}
		}
	}()
}

func (o *Orchestrator) stopTicker(sessionID string) {
	o.tickersMu.Lock()
	defer o.tickersMu.Unlock()
	if cancel, running := o.tickers[sessionID]; running {
		cancel()
		delete(o.tickers, sessionID)
	}
}

func (o *Orchestrator) archive(sessionID string) {
	if o.archiver == nil {
		return
	}
	o.archivedMu.Lock()
	if _, done := o.archived[sessionID]; done {
		o.archivedMu.Unlock()
		return
	}
	o.archived[sessionID] = struct{}{}
	o.archivedMu.Unlock()

	snapshot, err := o.store.Snapshot(sessionID)
	if err != nil {
		return
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		// Close waits for this write, so shutdown must not cancel it.
		if err := o.archiver.ArchiveSession(context.WithoutCancel(o.baseCtx), snapshot); err != nil {
			logger.Warn("failed to archive terminal session",
				"session_id", snapshot.ID, "error", err.Error())
		}
	}()
}

// janitor evicts terminal sessions once their retention elapses.
func (o *Orchestrator) janitor() {
	defer o.wg.Done()
	ticker := time.NewTicker(o.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.baseCtx.Done():
			return
		case <-ticker.C:
			for _, id := range o.store.Sweep(time.Now().Add(-o.retention)) {
				o.stopTicker(id)
				o.archivedMu.Lock()
				delete(o.archived, id)
				o.archivedMu.Unlock()
				logger.Debug("evicted idle terminal session", "session_id", id)
			}
		}
	}
}

// Close tears the orchestrator down: escalation timers are abandoned,
// tickers cancelled, and the broadcast layer closed. Safe to call more
// than once.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.cancelBase()

		o.tickersMu.Lock()
		for id, cancel := range o.tickers {
			cancel()
			delete(o.tickers, id)
		}
		o.tickersMu.Unlock()

		o.escalation.Close()
		o.wg.Wait()
		o.broadcast.Close()
	})
}
