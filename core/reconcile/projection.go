// Package reconcile turns an unordered, at-least-once, possibly-gapped
// event stream into a consistent local view of one call session. Incoming
// events are applied idempotently; after a delivery gap the view is rebuilt
// from an authoritative snapshot, since incremental replay alone would
// under-report terminal states reached during the gap.
package reconcile

import (
	"sort"
	"sync"
	"time"

	"github.com/villagehq/village-core/core/events"
	"github.com/villagehq/village-core/core/session"
)

// Projection is the observer-side state of one call session.
type Projection struct {
	mu   sync.RWMutex
	view session.CallSession

	lineIDs    map[string]struct{}
	concernIDs map[string]struct{}
	factIDs    map[string]struct{}
}

func NewProjection(callID string) *Projection {
	return &Projection{
		view: session.CallSession{
			ID:         callID,
			Status:     session.StatusRinging,
			Transcript: []session.TranscriptLine{},
			Concerns:   []session.Concern{},
			Profile:    []session.ProfileFact{},
			Actions:    []session.VillageAction{},
		},
		lineIDs:    make(map[string]struct{}),
		concernIDs: make(map[string]struct{}),
		factIDs:    make(map[string]struct{}),
	}
}

// View returns a copy of the current projection state.
func (p *Projection) View() session.CallSession {
	p.mu.RLock()
	defer p.mu.RUnlock()

	view := p.view
	view.Transcript = append([]session.TranscriptLine{}, p.view.Transcript...)
	view.Concerns = append([]session.Concern{}, p.view.Concerns...)
	view.Profile = append([]session.ProfileFact{}, p.view.Profile...)
	view.Actions = append([]session.VillageAction{}, p.view.Actions...)
	if p.view.Wellbeing != nil {
		wellbeing := *p.view.Wellbeing
		view.Wellbeing = &wellbeing
	}
	return view
}

// Apply merges one event into the view. Duplicates and out-of-order
// deliveries are absorbed silently, never surfaced as errors.
func (p *Projection) Apply(event events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if seq := event.Seq(); seq > p.view.LastSeq {
		p.view.LastSeq = seq
	}

	switch t := event.(type) {
	case events.CallStarted:
		if t.ElderID != "" {
			p.view.ElderID = t.ElderID
		}
		if t.RoomName != "" {
			p.view.RoomName = t.RoomName
		}

	case events.CallStatus:
		p.advanceStatus(session.CallStatus(t.Status))

	case events.CallEnded:
		if t.Summary != "" {
			p.view.Summary = t.Summary
		}
		if t.Failed {
			p.advanceStatus(session.StatusFailed)
		} else {
			p.advanceStatus(session.StatusCompleted)
		}

	case events.TranscriptUpdate:
		if _, seen := p.lineIDs[t.LineID]; seen {
			return
		}
		p.lineIDs[t.LineID] = struct{}{}
		p.view.Transcript = append(p.view.Transcript, session.TranscriptLine{
			ID:       t.LineID,
			Speaker:  t.Speaker,
			Text:     t.Text,
			SpokenAt: t.SpokenAt,
		})
		sort.SliceStable(p.view.Transcript, func(i, j int) bool {
			return p.view.Transcript[i].SpokenAt.Before(p.view.Transcript[j].SpokenAt)
		})

	case events.WellbeingUpdate:
		if p.view.Wellbeing == nil {
			p.view.Wellbeing = &session.WellbeingAssessment{}
		}
		p.view.Wellbeing.Apply(t.Patch)

	case events.ConcernDetected:
		if _, seen := p.concernIDs[t.ConcernID]; seen {
			return
		}
		p.concernIDs[t.ConcernID] = struct{}{}
		p.view.Concerns = append(p.view.Concerns, session.Concern{
			ID:             t.ConcernID,
			Dimension:      t.Dimension,
			Severity:       t.Severity,
			Description:    t.Description,
			ActionRequired: t.ActionRequired,
			DetectedAt:     t.Timestamp(),
		})

	case events.ProfileUpdate:
		if _, seen := p.factIDs[t.FactID]; seen {
			return
		}
		p.factIDs[t.FactID] = struct{}{}
		p.view.Profile = append(p.view.Profile, session.ProfileFact{
			ID:        t.FactID,
			Fact:      t.Fact,
			Category:  t.Category,
			LearnedAt: t.Timestamp(),
		})

	case events.VillageActionStarted:
		p.upsertAction(session.VillageAction{
			ID:         t.ActionID,
			SessionID:  p.view.ID,
			MemberID:   t.MemberID,
			MemberName: t.MemberName,
			Status:     session.ActionStatus(t.Status),
			CreatedAt:  t.Timestamp(),
			UpdatedAt:  t.Timestamp(),
		})

	case events.VillageActionUpdate:
		p.upsertActionStatus(t.ActionID, session.ActionStatus(t.Status), t.Response, t.Timestamp())

	case events.TimerUpdate:
		// Transient; not part of the reconciled state.
	}
}

// Replace rebuilds the projection from an authoritative snapshot, used
// after reconnecting across a delivery gap.
func (p *Projection) Replace(snapshot session.CallSession) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.view = snapshot
	if p.view.Transcript == nil {
		p.view.Transcript = []session.TranscriptLine{}
	}
	if p.view.Concerns == nil {
		p.view.Concerns = []session.Concern{}
	}
	if p.view.Profile == nil {
		p.view.Profile = []session.ProfileFact{}
	}
	if p.view.Actions == nil {
		p.view.Actions = []session.VillageAction{}
	}

	p.lineIDs = make(map[string]struct{}, len(p.view.Transcript))
	for _, line := range p.view.Transcript {
		p.lineIDs[line.ID] = struct{}{}
	}
	p.concernIDs = make(map[string]struct{}, len(p.view.Concerns))
	for _, concern := range p.view.Concerns {
		p.concernIDs[concern.ID] = struct{}{}
	}
	p.factIDs = make(map[string]struct{}, len(p.view.Profile))
	for _, fact := range p.view.Profile {
		p.factIDs[fact.ID] = struct{}{}
	}
}

func (p *Projection) advanceStatus(next session.CallStatus) {
	if p.view.Status.Terminal() || !p.view.Status.CanAdvanceTo(next) {
		return
	}
	if p.view.Status == next {
		return
	}
	p.view.Status = next
	if next.Terminal() && p.view.EndedAt == nil {
		now := time.Now()
		p.view.EndedAt = &now
	}
}

func (p *Projection) upsertAction(action session.VillageAction) {
	if existing, ok := p.view.ActionByID(action.ID); ok {
		if existing.Status.Terminal() && !action.Status.Terminal() {
			action.Status = existing.Status
		}
		if action.Response == "" {
			action.Response = existing.Response
		}
		action.CreatedAt = existing.CreatedAt
	}
	p.view.UpsertAction(action)
}

func (p *Projection) upsertActionStatus(actionID string, next session.ActionStatus, response string, at time.Time) {
	action, ok := p.view.ActionByID(actionID)
	if !ok {
		action = session.VillageAction{ID: actionID, SessionID: p.view.ID, CreatedAt: at}
	}
	if action.Status.Terminal() && !next.Terminal() {
		next = action.Status
	}
	if next != "" {
		action.Status = next
	}
	if response != "" {
		action.Response = response
	}
	action.UpdatedAt = at
	p.view.UpsertAction(action)
}
