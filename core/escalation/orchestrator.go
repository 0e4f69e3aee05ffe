// Package escalation runs the time-boxed village mobilization triggered by
// an actionable concern: one deadline window per session, concurrent
// notification dispatch to every enabled member, asynchronous response
// intake, and a timed-out sweep when the deadline elapses.
package escalation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/villagehq/village-core/core/events"
	"github.com/villagehq/village-core/core/session"
	"github.com/villagehq/village-core/core/village"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultWindow is the response deadline for immediate-urgency concerns.
const DefaultWindow = 78 * time.Second

// Publisher receives every action transition the moment it happens; the
// orchestrator holds no silent state.
type Publisher func(sessionID string, event events.Event)

type Option func(*Orchestrator)

// WithWindow overrides the escalation deadline window.
func WithWindow(window time.Duration) Option {
	return func(o *Orchestrator) {
		if window > 0 {
			o.window = window
		}
	}
}

type run struct {
	sessionID string
	deadline  time.Time
	timer     *time.Timer
	cancel    context.CancelFunc
	actionIDs []string
}

// Orchestrator drives escalations. Its lifecycle is decoupled from call
// lifecycles: a concern can outlive the call that raised it, and ending a
// call cancels no pending escalation.
type Orchestrator struct {
	store    *session.Store
	roster   *village.Roster
	notifier Notifier
	publish  Publisher
	window   time.Duration

	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu     sync.Mutex
	active map[string]*run
	closed bool

	wg sync.WaitGroup
}

func NewOrchestrator(store *session.Store, roster *village.Roster, notifier Notifier, publish Publisher, opts ...Option) *Orchestrator {
	baseCtx, cancelBase := context.WithCancel(context.Background())
	o := &Orchestrator{
		store:      store,
		roster:     roster,
		notifier:   notifier,
		publish:    publish,
		window:     DefaultWindow,
		baseCtx:    baseCtx,
		cancelBase: cancelBase,
		active:     make(map[string]*run),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Active reports whether an escalation window is open for the session.
func (o *Orchestrator) Active(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[o.store.Resolve(sessionID)]
	return ok
}

// HandleConcern starts the escalation for an actionable concern. Only one
// window runs per session: a second qualifying concern joins the window
// already open instead of starting a parallel timer, so one bad stretch of
// conversation cannot produce a notification storm.
func (o *Orchestrator) HandleConcern(ctx context.Context, sessionID string, concern session.Concern) {
	if !concern.ActionRequired {
		return
	}
	canonical := o.store.Resolve(sessionID)

	_, span := tracer.Start(ctx, "escalate concern")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", canonical),
		attribute.String("concern.severity", concern.Severity),
	)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	if _, open := o.active[canonical]; open {
		o.mu.Unlock()
		span.AddEvent("escalation window already open, concern joins it")
		return
	}

	members := o.roster.Enabled()
	if len(members) == 0 {
		o.mu.Unlock()
		logger.Warn("no enabled village members, concern cannot be escalated",
			"session_id", canonical, "concern_id", concern.ID)
		span.AddEvent("no enabled members, no window opened")
		return
	}

	// The run context is rooted in the orchestrator, not the call: call
	// teardown and escalation teardown are independent cancellation domains.
	runCtx, cancel := context.WithCancel(o.baseCtx)
	r := &run{
		sessionID: canonical,
		deadline:  time.Now().Add(o.window),
		cancel:    cancel,
	}
	o.active[canonical] = r

	for _, member := range members {
		actionID := uuid.NewString()
		r.actionIDs = append(r.actionIDs, actionID)

		action := session.VillageAction{
			ID:         actionID,
			SessionID:  canonical,
			MemberID:   member.ID,
			MemberName: member.Name,
			Status:     session.ActionPending,
			CreatedAt:  time.Now(),
			UpdatedAt:  time.Now(),
		}
		seq := o.store.Apply(canonical, func(s *session.CallSession) {
			s.UpsertAction(action)
		})
		o.publish(canonical, events.NewVillageActionStarted(
			canonical, actionID, member.ID, member.Name, string(session.ActionPending), events.WithSeq(seq)))

		o.wg.Add(1)
		go o.dispatch(runCtx, canonical, actionID, member, concern)
	}

	r.timer = time.AfterFunc(o.window, func() { o.sweepDeadline(canonical) })
	o.mu.Unlock()
}

// dispatch notifies one member. Failures stay isolated to this member's
// action; every other dispatch proceeds regardless.
func (o *Orchestrator) dispatch(ctx context.Context, sessionID, actionID string, member village.Member, concern session.Concern) {
	defer o.wg.Done()

	ctx, span := tracer.Start(ctx, "dispatch village notification")
	defer span.End()
	span.SetAttributes(attribute.String("member.id", member.ID))

	if err := o.notifier.Notify(ctx, member, concern); err != nil {
		recordedErr := fmt.Errorf("failed to notify %s: %w", member.ID, err)
		span.RecordError(recordedErr)
		span.SetStatus(codes.Error, recordedErr.Error())
		o.transition(sessionID, actionID, session.ActionFailed, "")
		return
	}
	o.transition(sessionID, actionID, session.ActionNotified, "")
}

// HandleResponse records an out-of-band response from a notified member.
// Responses for unknown actions or already-terminal actions are dropped
// with a diagnostic.
func (o *Orchestrator) HandleResponse(ctx context.Context, sessionID, actionID, response string) {
	canonical := o.store.Resolve(sessionID)

	snapshot, err := o.store.Snapshot(canonical)
	if err != nil {
		logger.Warn("response for unknown session dropped", "session_id", canonical, "action_id", actionID)
		return
	}
	if _, ok := snapshot.ActionByID(actionID); !ok {
		logger.Warn("response for unknown action dropped", "session_id", canonical, "action_id", actionID)
		return
	}

	if o.transition(canonical, actionID, session.ActionAcknowledged, response) {
		o.maybeFinish(canonical)
	}
}

// transition moves one action forward under the session lock and publishes
// the result. Terminal statuses never regress; a late acknowledgment after
// the deadline is dropped.
func (o *Orchestrator) transition(sessionID, actionID string, next session.ActionStatus, response string) bool {
	var (
		applied bool
		result  session.VillageAction
	)
	seq := o.store.Apply(sessionID, func(s *session.CallSession) {
		action, ok := s.ActionByID(actionID)
		if !ok {
			return
		}
		if action.Status.Terminal() {
			return
		}
		// notified is only reachable from pending; a response may have
		// landed while the dispatch acknowledgment was in flight.
		if next == session.ActionNotified && action.Status != session.ActionPending {
			return
		}
		action.Status = next
		if response != "" {
			action.Response = response
		}
		action.UpdatedAt = time.Now()
		s.UpsertAction(action)
		applied = true
		result = action
	})
	if !applied {
		return false
	}

	o.publish(sessionID, events.NewVillageActionUpdate(
		sessionID, actionID, string(result.Status), result.Response, events.WithSeq(seq)))
	return true
}

// sweepDeadline times out every action still awaiting a response once the
// window elapses. Timed-out is terminal and never retried automatically.
func (o *Orchestrator) sweepDeadline(sessionID string) {
	o.mu.Lock()
	r, ok := o.active[sessionID]
	if ok {
		delete(o.active, sessionID)
	}
	o.mu.Unlock()
	if !ok {
		return
	}
	defer r.cancel()

	snapshot, err := o.store.Snapshot(sessionID)
	if err != nil {
		return
	}
	for _, actionID := range r.actionIDs {
		action, ok := snapshot.ActionByID(actionID)
		if !ok || action.Status.Terminal() {
			continue
		}
		o.transition(sessionID, actionID, session.ActionTimedOut, "")
	}
}

// maybeFinish closes the window early once every action reached a terminal
// state, releasing the deadline timer.
func (o *Orchestrator) maybeFinish(sessionID string) {
	o.mu.Lock()
	r, open := o.active[sessionID]
	o.mu.Unlock()
	if !open {
		return
	}

	snapshot, err := o.store.Snapshot(sessionID)
	if err != nil {
		return
	}
	for _, actionID := range r.actionIDs {
		action, ok := snapshot.ActionByID(actionID)
		if !ok || !action.Status.Terminal() {
			return
		}
	}

	o.mu.Lock()
	if current, still := o.active[sessionID]; still && current == r {
		delete(o.active, sessionID)
	}
	o.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.cancel()
}

// Close abandons in-flight timers and dispatches and waits for their
// goroutines to drain. Actions left pending stay pending only because no
// further writes occur; nothing leaks.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	runs := make([]*run, 0, len(o.active))
	for id, r := range o.active {
		runs = append(runs, r)
		delete(o.active, id)
	}
	o.mu.Unlock()

	o.cancelBase()
	for _, r := range runs {
		if r.timer != nil {
			r.timer.Stop()
		}
		r.cancel()
	}
	o.wg.Wait()
}
