package session

import (
	"time"

	"github.com/villagehq/village-core/core/events"
)

type CallStatus string

const (
	StatusRinging    CallStatus = "ringing"
	StatusInProgress CallStatus = "in_progress"
	StatusCompleted  CallStatus = "completed"
	StatusFailed     CallStatus = "failed"
)

// Terminal reports whether no further status transitions are allowed.
func (s CallStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanAdvanceTo reports whether the forward-only state machine allows moving
// from s to next. Self-transitions are allowed and mean "no change".
func (s CallStatus) CanAdvanceTo(next CallStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusRinging:
		return next == StatusInProgress || next == StatusFailed
	case StatusInProgress:
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

type ActionStatus string

const (
	ActionPending      ActionStatus = "pending"
	ActionNotified     ActionStatus = "notified"
	ActionAcknowledged ActionStatus = "acknowledged"
	ActionFailed       ActionStatus = "failed"
	ActionTimedOut     ActionStatus = "timed_out"
)

// Terminal reports whether the action can no longer change state.
func (s ActionStatus) Terminal() bool {
	return s == ActionAcknowledged || s == ActionFailed || s == ActionTimedOut
}

// TranscriptLine is one utterance, immutable once recorded. ID is assigned
// by the source and deduplicates redelivery.
type TranscriptLine struct {
	ID       string    `json:"id"`
	Speaker  string    `json:"speaker"`
	Text     string    `json:"text"`
	SpokenAt time.Time `json:"timestamp"`
}

// WellbeingAssessment holds the five dimension scores plus free-form notes.
// Nil scores were never reported; patches only overwrite fields they carry.
type WellbeingAssessment struct {
	Emotional *int   `json:"emotional,omitempty"`
	Mental    *int   `json:"mental,omitempty"`
	Social    *int   `json:"social,omitempty"`
	Physical  *int   `json:"physical,omitempty"`
	Cognitive *int   `json:"cognitive,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// Apply merges a partial update field by field, preserving fields the patch
// does not carry.
func (a *WellbeingAssessment) Apply(patch events.WellbeingPatch) {
	if patch.Emotional != nil {
		a.Emotional = patch.Emotional
	}
	if patch.Mental != nil {
		a.Mental = patch.Mental
	}
	if patch.Social != nil {
		a.Social = patch.Social
	}
	if patch.Physical != nil {
		a.Physical = patch.Physical
	}
	if patch.Cognitive != nil {
		a.Cognitive = patch.Cognitive
	}
	if patch.Notes != nil {
		a.Notes = *patch.Notes
	}
}

// Concern is a detected anomaly, append-only per session.
type Concern struct {
	ID             string    `json:"id"`
	Dimension      string    `json:"dimension"`
	Severity       string    `json:"severity"`
	Description    string    `json:"description"`
	ActionRequired bool      `json:"action_required"`
	DetectedAt     time.Time `json:"detected_at"`
}

// ProfileFact is one learned fact about the elder, append-only.
type ProfileFact struct {
	ID        string    `json:"id"`
	Fact      string    `json:"fact"`
	Category  string    `json:"category,omitempty"`
	LearnedAt time.Time `json:"learned_at"`
}

// VillageAction is one escalation dispatch to one member. Created by the
// escalation orchestrator and mutated only by it as responses arrive or the
// deadline elapses.
type VillageAction struct {
	ID         string       `json:"id"`
	SessionID  string       `json:"session_id"`
	MemberID   string       `json:"member_id"`
	MemberName string       `json:"member_name,omitempty"`
	Status     ActionStatus `json:"status"`
	Response   string       `json:"response,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// CallSession is one companion call's full lifecycle record, together with
// its derived collections. The store owns it for the session's lifetime.
type CallSession struct {
	ID       string     `json:"id"`
	ElderID  string     `json:"elder_id,omitempty"`
	RoomName string     `json:"room_name,omitempty"`
	Status   CallStatus `json:"status"`

	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Summary   string     `json:"summary,omitempty"`

	Transcript []TranscriptLine     `json:"transcript"`
	Wellbeing  *WellbeingAssessment `json:"wellbeing,omitempty"`
	Concerns   []Concern            `json:"concerns"`
	Profile    []ProfileFact        `json:"profile_updates"`
	Actions    []VillageAction      `json:"village_actions"`

	// LastSeq is the highest server-side sequence number stamped on an
	// event derived from this session.
	LastSeq uint64 `json:"last_seq"`
}

// HasTranscriptLine reports whether a line with the given id was already
// recorded.
func (s *CallSession) HasTranscriptLine(id string) bool {
	for _, line := range s.Transcript {
		if line.ID == id {
			return true
		}
	}
	return false
}

// HasConcern reports whether a concern with the given id was already
// recorded.
func (s *CallSession) HasConcern(id string) bool {
	for _, concern := range s.Concerns {
		if concern.ID == id {
			return true
		}
	}
	return false
}

// HasProfileFact reports whether a fact with the given id was already
// recorded.
func (s *CallSession) HasProfileFact(id string) bool {
	for _, fact := range s.Profile {
		if fact.ID == id {
			return true
		}
	}
	return false
}

// UpsertAction replaces the action with the same id or appends it.
func (s *CallSession) UpsertAction(action VillageAction) {
	for i := range s.Actions {
		if s.Actions[i].ID == action.ID {
			s.Actions[i] = action
			return
		}
	}
	s.Actions = append(s.Actions, action)
}

// ActionByID returns a copy of the action with the given id.
func (s *CallSession) ActionByID(id string) (VillageAction, bool) {
	for _, action := range s.Actions {
		if action.ID == id {
			return action, true
		}
	}
	return VillageAction{}, false
}
