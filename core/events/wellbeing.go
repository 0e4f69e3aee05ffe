package events

const (
	// KindWellbeingUpdate identifies a partial wellbeing assessment patch.
	KindWellbeingUpdate Kind = "wellbeing_update"
)

// WellbeingPatch is a partial update over the five assessment dimensions.
// Nil fields leave the stored value untouched; set fields overwrite it.
type WellbeingPatch struct {
	Emotional *int
	Mental    *int
	Social    *int
	Physical  *int
	Cognitive *int
	Notes     *string
}

// IsEmpty reports whether the patch touches no field at all.
func (p WellbeingPatch) IsEmpty() bool {
	return p.Emotional == nil && p.Mental == nil && p.Social == nil &&
		p.Physical == nil && p.Cognitive == nil && p.Notes == nil
}

// WellbeingUpdate carries a wellbeing assessment patch for one session.
type WellbeingUpdate struct {
	Base
	CallID string
	Patch  WellbeingPatch
}

// NewWellbeingUpdate creates a wellbeing patch event.
func NewWellbeingUpdate(callID string, patch WellbeingPatch, opts ...BaseOption) WellbeingUpdate {
	return WellbeingUpdate{Base: NewBase(KindWellbeingUpdate, opts...), CallID: callID, Patch: patch}
}
