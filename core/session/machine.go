package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/villagehq/village-core/core/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Machine validates intake events, applies them to the store under the
// session's lock, and returns the canonical events to re-publish. Observers
// always see the post-mutation value, never the raw input.
type Machine struct {
	store *Store
}

func NewMachine(store *Store) *Machine {
	return &Machine{store: store}
}

// Reduce applies one intake event. A nil event slice with a nil error means
// the event was absorbed (duplicate delivery, or not addressed to the state
// machine at all).
func (m *Machine) Reduce(ctx context.Context, event events.Event) ([]events.Event, error) {
	_, span := tracer.Start(ctx, "reduce session event")
	defer span.End()
	span.SetAttributes(attribute.String("event.kind", string(event.Kind())))

	emitted, err := m.reduce(event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return emitted, err
}

func (m *Machine) reduce(event events.Event) ([]events.Event, error) {
	key, ok := events.SessionOf(event)
	if !ok || key == "" {
		return nil, fmt.Errorf("event %s carries no session id", event.Kind())
	}
	canonical := m.store.Resolve(key)

	switch t := event.(type) {
	case events.SubscribeCall:
		// Subscription requests are transport concerns, not state.
		return nil, nil

	case events.CallStarted:
		var status CallStatus
		seq := m.store.Apply(canonical, func(s *CallSession) {
			if t.ElderID != "" {
				s.ElderID = t.ElderID
			}
			if t.RoomName != "" {
				s.RoomName = t.RoomName
			}
			status = s.Status
		})
		m.store.Alias(t.RoomName, canonical)
		return []events.Event{
			events.NewCallStarted(canonical, t.ElderID, t.RoomName, events.WithSeq(seq)),
			events.NewCallStatus(canonical, string(status), events.WithSeq(seq)),
		}, nil

	case events.CallStatus:
		next := CallStatus(t.Status)
		switch next {
		case StatusRinging, StatusInProgress, StatusCompleted, StatusFailed:
		default:
			return nil, fmt.Errorf("unknown call status %q", t.Status)
		}
		var status CallStatus
		seq := m.store.Apply(canonical, func(s *CallSession) {
			advanceStatus(s, next)
			status = s.Status
		})
		return []events.Event{events.NewCallStatus(canonical, string(status), events.WithSeq(seq))}, nil

	case events.TranscriptUpdate:
		if t.LineID == "" {
			return nil, fmt.Errorf("transcript line carries no id")
		}
		var (
			duplicate     bool
			statusChanged bool
		)
		seq := m.store.Apply(canonical, func(s *CallSession) {
			if s.HasTranscriptLine(t.LineID) {
				duplicate = true
				return
			}
			statusChanged = markContentObserved(s)
			s.Transcript = append(s.Transcript, TranscriptLine{
				ID:       t.LineID,
				Speaker:  t.Speaker,
				Text:     t.Text,
				SpokenAt: t.SpokenAt,
			})
		})
		if duplicate {
			return nil, nil
		}
		emitted := []events.Event{
			events.NewTranscriptUpdate(canonical, t.LineID, t.Speaker, t.Text, t.SpokenAt, events.WithSeq(seq)),
		}
		if statusChanged {
			emitted = append(emitted, events.NewCallStatus(canonical, string(StatusInProgress), events.WithSeq(seq)))
		}
		return emitted, nil

	case events.WellbeingUpdate:
		if t.Patch.IsEmpty() {
			return nil, nil
		}
		var statusChanged bool
		seq := m.store.Apply(canonical, func(s *CallSession) {
			statusChanged = markContentObserved(s)
			if s.Wellbeing == nil {
				s.Wellbeing = &WellbeingAssessment{}
			}
			s.Wellbeing.Apply(t.Patch)
		})
		emitted := []events.Event{events.NewWellbeingUpdate(canonical, t.Patch, events.WithSeq(seq))}
		if statusChanged {
			emitted = append(emitted, events.NewCallStatus(canonical, string(StatusInProgress), events.WithSeq(seq)))
		}
		return emitted, nil

	case events.ProfileUpdate:
		factID := t.FactID
		if factID == "" {
			factID = uuid.NewString()
		}
		var (
			duplicate     bool
			statusChanged bool
		)
		seq := m.store.Apply(canonical, func(s *CallSession) {
			if s.HasProfileFact(factID) {
				duplicate = true
				return
			}
			statusChanged = markContentObserved(s)
			s.Profile = append(s.Profile, ProfileFact{ID: factID, Fact: t.Fact, Category: t.Category, LearnedAt: time.Now()})
		})
		if duplicate {
			return nil, nil
		}
		emitted := []events.Event{events.NewProfileUpdate(canonical, factID, t.Fact, t.Category, events.WithSeq(seq))}
		if statusChanged {
			emitted = append(emitted, events.NewCallStatus(canonical, string(StatusInProgress), events.WithSeq(seq)))
		}
		return emitted, nil

	case events.ConcernDetected:
		concernID := t.ConcernID
		if concernID == "" {
			concernID = uuid.NewString()
		}
		var (
			duplicate     bool
			statusChanged bool
		)
		seq := m.store.Apply(canonical, func(s *CallSession) {
			if s.HasConcern(concernID) {
				duplicate = true
				return
			}
			statusChanged = markContentObserved(s)
			s.Concerns = append(s.Concerns, Concern{
				ID:             concernID,
				Dimension:      t.Dimension,
				Severity:       t.Severity,
				Description:    t.Description,
				ActionRequired: t.ActionRequired,
				DetectedAt:     time.Now(),
			})
		})
		if duplicate {
			return nil, nil
		}
		emitted := []events.Event{
			events.NewConcernDetected(canonical, concernID, t.Dimension, t.Severity, t.Description, t.ActionRequired, events.WithSeq(seq)),
		}
		if statusChanged {
			emitted = append(emitted, events.NewCallStatus(canonical, string(StatusInProgress), events.WithSeq(seq)))
		}
		return emitted, nil

	case events.CallEnded:
		next := StatusCompleted
		if t.Failed {
			next = StatusFailed
		}
		var status CallStatus
		seq := m.store.Apply(canonical, func(s *CallSession) {
			advanceStatus(s, next)
			if t.Summary != "" && s.Summary == "" {
				s.Summary = t.Summary
			}
			status = s.Status
		})
		return []events.Event{
			events.NewCallEnded(canonical, t.Summary, status == StatusFailed, events.WithSeq(seq)),
			events.NewCallStatus(canonical, string(status), events.WithSeq(seq)),
		}, nil

	case events.TimerUpdate:
		// No mutation; stamped and passed through.
		seq := m.store.NextSeq(canonical)
		return []events.Event{events.NewTimerUpdate(canonical, t.ElapsedSeconds, events.WithSeq(seq))}, nil

	case events.VillageActionStarted:
		seq := m.store.Apply(canonical, func(s *CallSession) {
			upsertActionGuarded(s, VillageAction{
				ID:         t.ActionID,
				SessionID:  canonical,
				MemberID:   t.MemberID,
				MemberName: t.MemberName,
				Status:     ActionStatus(t.Status),
				CreatedAt:  time.Now(),
				UpdatedAt:  time.Now(),
			})
		})
		return []events.Event{
			events.NewVillageActionStarted(canonical, t.ActionID, t.MemberID, t.MemberName, t.Status, events.WithSeq(seq)),
		}, nil

	case events.VillageActionUpdate:
		var status ActionStatus
		seq := m.store.Apply(canonical, func(s *CallSession) {
			action, ok := s.ActionByID(t.ActionID)
			if !ok {
				action = VillageAction{ID: t.ActionID, SessionID: canonical, CreatedAt: time.Now()}
			}
			action.Status = guardedActionStatus(action.Status, ActionStatus(t.Status))
			if t.Response != "" {
				action.Response = t.Response
			}
			action.UpdatedAt = time.Now()
			s.UpsertAction(action)
			status = action.Status
		})
		return []events.Event{
			events.NewVillageActionUpdate(canonical, t.ActionID, string(status), t.Response, events.WithSeq(seq)),
		}, nil
	}

	return nil, fmt.Errorf("unhandled event type %T", event)
}

// markContentObserved advances ringing sessions to in_progress on the first
// content event and reports whether the status changed. Terminal sessions
// still record late content but never change status.
func markContentObserved(s *CallSession) bool {
	if s.Status == StatusRinging {
		s.Status = StatusInProgress
		return true
	}
	return false
}

// advanceStatus moves the session forward when the transition is legal and
// leaves it untouched otherwise. Reaching a terminal status stamps EndedAt.
func advanceStatus(s *CallSession, next CallStatus) {
	if s.Status.Terminal() || !s.Status.CanAdvanceTo(next) {
		return
	}
	if s.Status == next {
		return
	}
	s.Status = next
	if next.Terminal() && s.EndedAt == nil {
		now := time.Now()
		s.EndedAt = &now
	}
}

func upsertActionGuarded(s *CallSession, action VillageAction) {
	if existing, ok := s.ActionByID(action.ID); ok {
		action.Status = guardedActionStatus(existing.Status, action.Status)
		action.CreatedAt = existing.CreatedAt
		if action.Response == "" {
			action.Response = existing.Response
		}
	}
	s.UpsertAction(action)
}

// guardedActionStatus refuses to regress a terminal action status, so a
// redelivered notified update cannot undo an acknowledgment.
func guardedActionStatus(current, next ActionStatus) ActionStatus {
	if current.Terminal() && !next.Terminal() {
		return current
	}
	if next == "" {
		return current
	}
	return next
}
