package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownEventType reports an envelope whose type has no typed variant.
// Intake drops such events with a diagnostic instead of failing the stream.
var ErrUnknownEventType = errors.New("unknown event type")

type envelope struct {
	Type Kind            `json:"type"`
	Seq  uint64          `json:"seq,omitempty"`
	Data json.RawMessage `json:"data"`
}

type callStartedPayload struct {
	CallID   string `json:"call_id"`
	ElderID  string `json:"elder_id,omitempty"`
	RoomName string `json:"room_name,omitempty"`
}

type callStatusPayload struct {
	CallID string `json:"call_id"`
	Status string `json:"status"`
}

type callEndedPayload struct {
	CallID  string `json:"call_id"`
	Summary string `json:"summary,omitempty"`
	Failed  bool   `json:"failed,omitempty"`
}

type timerUpdatePayload struct {
	CallID         string `json:"call_id"`
	ElapsedSeconds int    `json:"elapsed_seconds"`
}

type transcriptUpdatePayload struct {
	CallID    string `json:"call_id"`
	ID        string `json:"id"`
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp,omitempty"`
}

type wellbeingUpdatePayload struct {
	CallID    string  `json:"call_id"`
	Emotional *int    `json:"emotional,omitempty"`
	Mental    *int    `json:"mental,omitempty"`
	Social    *int    `json:"social,omitempty"`
	Physical  *int    `json:"physical,omitempty"`
	Cognitive *int    `json:"cognitive,omitempty"`
	Notes     *string `json:"notes,omitempty"`
}

type profileUpdatePayload struct {
	CallID   string `json:"call_id"`
	ID       string `json:"id"`
	Fact     string `json:"fact"`
	Category string `json:"category,omitempty"`
}

type concernDetectedPayload struct {
	CallID         string `json:"call_id"`
	ID             string `json:"id"`
	Dimension      string `json:"dimension"`
	Severity       string `json:"severity"`
	Description    string `json:"description"`
	ActionRequired bool   `json:"action_required"`
}

type villageActionStartedPayload struct {
	CallID     string `json:"call_id"`
	ID         string `json:"id"`
	MemberID   string `json:"member_id"`
	MemberName string `json:"member_name,omitempty"`
	Status     string `json:"status"`
}

type villageActionUpdatePayload struct {
	CallID   string `json:"call_id"`
	ID       string `json:"id"`
	Status   string `json:"status"`
	Response string `json:"response,omitempty"`
}

type subscribeCallPayload struct {
	CallID string `json:"call_id"`
}

// Decode parses a wire envelope into its typed event. It returns
// ErrUnknownEventType (wrapped) for envelope types outside the contract and
// a plain error for malformed JSON; callers drop both without mutation.
func Decode(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to parse event envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("event envelope has no type")
	}

	baseOpts := []BaseOption{}
	if env.Seq != 0 {
		baseOpts = append(baseOpts, WithSeq(env.Seq))
	}

	switch env.Type {
	case KindCallStarted:
		var p callStartedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("failed to parse %s payload: %w", env.Type, err)
		}
		return NewCallStarted(p.CallID, p.ElderID, p.RoomName, baseOpts...), nil

	case KindCallStatus:
		var p callStatusPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("failed to parse %s payload: %w", env.Type, err)
		}
		return NewCallStatus(p.CallID, p.Status, baseOpts...), nil

	case KindCallEnded:
		var p callEndedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("failed to parse %s payload: %w", env.Type, err)
		}
		return NewCallEnded(p.CallID, p.Summary, p.Failed, baseOpts...), nil

	case KindTimerUpdate:
		var p timerUpdatePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("failed to parse %s payload: %w", env.Type, err)
		}
		return NewTimerUpdate(p.CallID, p.ElapsedSeconds, baseOpts...), nil

	case KindTranscriptUpdate:
		var p transcriptUpdatePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("failed to parse %s payload: %w", env.Type, err)
		}
		spokenAt := time.Now()
		if p.Timestamp != "" {
			parsed, err := time.Parse(time.RFC3339Nano, p.Timestamp)
			if err != nil {
				return nil, fmt.Errorf("failed to parse transcript timestamp: %w", err)
			}
			spokenAt = parsed
		}
		return NewTranscriptUpdate(p.CallID, p.ID, p.Speaker, p.Text, spokenAt, baseOpts...), nil

	case KindWellbeingUpdate:
		var p wellbeingUpdatePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("failed to parse %s payload: %w", env.Type, err)
		}
		patch := WellbeingPatch{
			Emotional: p.Emotional,
			Mental:    p.Mental,
			Social:    p.Social,
			Physical:  p.Physical,
			Cognitive: p.Cognitive,
			Notes:     p.Notes,
		}
		return NewWellbeingUpdate(p.CallID, patch, baseOpts...), nil

	case KindProfileUpdate:
		var p profileUpdatePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("failed to parse %s payload: %w", env.Type, err)
		}
		return NewProfileUpdate(p.CallID, p.ID, p.Fact, p.Category, baseOpts...), nil

	case KindConcernDetected:
		var p concernDetectedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("failed to parse %s payload: %w", env.Type, err)
		}
		return NewConcernDetected(p.CallID, p.ID, p.Dimension, p.Severity, p.Description, p.ActionRequired, baseOpts...), nil

	case KindVillageActionStarted:
		var p villageActionStartedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("failed to parse %s payload: %w", env.Type, err)
		}
		return NewVillageActionStarted(p.CallID, p.ID, p.MemberID, p.MemberName, p.Status, baseOpts...), nil

	case KindVillageActionUpdate:
		var p villageActionUpdatePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("failed to parse %s payload: %w", env.Type, err)
		}
		return NewVillageActionUpdate(p.CallID, p.ID, p.Status, p.Response, baseOpts...), nil

	case KindSubscribeCall:
		var p subscribeCallPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("failed to parse %s payload: %w", env.Type, err)
		}
		return NewSubscribeCall(p.CallID, baseOpts...), nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.Type)
}

// Encode marshals a typed event into its wire envelope.
func Encode(event Event) ([]byte, error) {
	var payload any

	switch t := event.(type) {
	case CallStarted:
		payload = callStartedPayload{CallID: t.CallID, ElderID: t.ElderID, RoomName: t.RoomName}
	case CallStatus:
		payload = callStatusPayload{CallID: t.CallID, Status: t.Status}
	case CallEnded:
		payload = callEndedPayload{CallID: t.CallID, Summary: t.Summary, Failed: t.Failed}
	case TimerUpdate:
		payload = timerUpdatePayload{CallID: t.CallID, ElapsedSeconds: t.ElapsedSeconds}
	case TranscriptUpdate:
		payload = transcriptUpdatePayload{
			CallID:    t.CallID,
			ID:        t.LineID,
			Speaker:   t.Speaker,
			Text:      t.Text,
			Timestamp: t.SpokenAt.Format(time.RFC3339Nano),
		}
	case WellbeingUpdate:
		payload = wellbeingUpdatePayload{
			CallID:    t.CallID,
			Emotional: t.Patch.Emotional,
			Mental:    t.Patch.Mental,
			Social:    t.Patch.Social,
			Physical:  t.Patch.Physical,
			Cognitive: t.Patch.Cognitive,
			Notes:     t.Patch.Notes,
		}
	case ProfileUpdate:
		payload = profileUpdatePayload{CallID: t.CallID, ID: t.FactID, Fact: t.Fact, Category: t.Category}
	case ConcernDetected:
		payload = concernDetectedPayload{
			CallID:         t.CallID,
			ID:             t.ConcernID,
			Dimension:      t.Dimension,
			Severity:       t.Severity,
			Description:    t.Description,
			ActionRequired: t.ActionRequired,
		}
	case VillageActionStarted:
		payload = villageActionStartedPayload{CallID: t.CallID, ID: t.ActionID, MemberID: t.MemberID, MemberName: t.MemberName, Status: t.Status}
	case VillageActionUpdate:
		payload = villageActionUpdatePayload{CallID: t.CallID, ID: t.ActionID, Status: t.Status, Response: t.Response}
	case SubscribeCall:
		payload = subscribeCallPayload{CallID: t.CallID}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEventType, event)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", event.Kind(), err)
	}
	return json.Marshal(envelope{Type: event.Kind(), Seq: event.Seq(), Data: data})
}

// SessionOf extracts the session identifier an event is addressed to, and
// whether it carries one at all.
func SessionOf(event Event) (string, bool) {
	switch t := event.(type) {
	case CallStarted:
		return t.CallID, true
	case CallStatus:
		return t.CallID, true
	case CallEnded:
		return t.CallID, true
	case TimerUpdate:
		return t.CallID, true
	case TranscriptUpdate:
		return t.CallID, true
	case WellbeingUpdate:
		return t.CallID, true
	case ProfileUpdate:
		return t.CallID, true
	case ConcernDetected:
		return t.CallID, true
	case VillageActionStarted:
		return t.CallID, true
	case VillageActionUpdate:
		return t.CallID, true
	case SubscribeCall:
		return t.CallID, true
	}
	return "", false
}
