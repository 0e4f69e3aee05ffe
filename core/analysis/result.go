// Package analysis defines the contract between the orchestrator and the
// conversation-analysis collaborator. The collaborator listens to the call
// and periodically returns a structured Result; this package derives the
// JSON schema that constrains the collaborator's output and translates a
// Result into intake events.
package analysis

import (
	"github.com/google/uuid"
	"github.com/invopop/jsonschema"

	"github.com/villagehq/village-core/core/events"
)

// Result is one round of conversation analysis.
type Result struct {
	Wellbeing *WellbeingScores `json:"wellbeing,omitempty" jsonschema:"title=Wellbeing,description=Updated wellbeing scores; omit dimensions that have not changed"`
	Concerns  []Concern        `json:"concerns,omitempty" jsonschema:"title=Concerns,description=Concerns detected since the last analysis round"`
	Facts     []Fact           `json:"facts,omitempty" jsonschema:"title=Facts,description=New facts learned about the elder"`
}

// WellbeingScores carries partial wellbeing dimension updates on a 1-10
// scale. Pointer fields distinguish "unchanged" from an explicit score.
type WellbeingScores struct {
	Emotional *int   `json:"emotional,omitempty" jsonschema:"title=Emotional,minimum=1,maximum=10"`
	Mental    *int   `json:"mental,omitempty" jsonschema:"title=Mental,minimum=1,maximum=10"`
	Social    *int   `json:"social,omitempty" jsonschema:"title=Social,minimum=1,maximum=10"`
	Physical  *int   `json:"physical,omitempty" jsonschema:"title=Physical,minimum=1,maximum=10"`
	Cognitive *int   `json:"cognitive,omitempty" jsonschema:"title=Cognitive,minimum=1,maximum=10"`
	Notes     string `json:"notes,omitempty" jsonschema:"title=Notes,description=Short free-form observation"`
}

// Concern is one detected concern. ActionRequired marks concerns that
// should mobilise the village right away.
type Concern struct {
	Dimension      string `json:"dimension" jsonschema:"title=Dimension,enum=emotional,enum=mental,enum=social,enum=physical,enum=cognitive"`
	Severity       string `json:"severity" jsonschema:"title=Severity,enum=low,enum=moderate,enum=high,enum=critical"`
	Description    string `json:"description" jsonschema:"title=Description"`
	ActionRequired bool   `json:"action_required" jsonschema:"title=ActionRequired,description=Whether someone should check on the elder right away"`
}

// Fact is one new profile fact.
type Fact struct {
	Fact     string `json:"fact" jsonschema:"title=Fact"`
	Category string `json:"category,omitempty" jsonschema:"title=Category,enum=health,enum=family,enum=interests,enum=routine,enum=other"`
}

// ResponseFormat derives the JSON schema the collaborator's structured
// output must satisfy.
func ResponseFormat() *jsonschema.Schema {
	reflector := jsonschema.Reflector{DoNotReference: true}
	return reflector.Reflect(&Result{})
}

// Events translates a Result into intake events for one call. Concern and
// fact ids are minted here so redelivery of the same translated batch stays
// deduplicatable downstream.
func (r Result) Events(callID string) []events.Event {
	var out []events.Event

	if r.Wellbeing != nil {
		patch := events.WellbeingPatch{
			Emotional: r.Wellbeing.Emotional,
			Mental:    r.Wellbeing.Mental,
			Social:    r.Wellbeing.Social,
			Physical:  r.Wellbeing.Physical,
			Cognitive: r.Wellbeing.Cognitive,
		}
		if r.Wellbeing.Notes != "" {
			notes := r.Wellbeing.Notes
			patch.Notes = &notes
		}
		if !patch.IsEmpty() {
			out = append(out, events.NewWellbeingUpdate(callID, patch))
		}
	}

	for _, concern := range r.Concerns {
		out = append(out, events.NewConcernDetected(
			callID,
			uuid.NewString(),
			concern.Dimension,
			concern.Severity,
			concern.Description,
			concern.ActionRequired,
		))
	}

	for _, fact := range r.Facts {
		out = append(out, events.NewProfileUpdate(callID, uuid.NewString(), fact.Fact, fact.Category))
	}

	return out
}
