package events

const (
	// KindProfileUpdate identifies a newly learned fact about the elder.
	KindProfileUpdate Kind = "profile_update"
)

// ProfileUpdate carries one learned fact, append-only and deduplicated by
// fact id.
type ProfileUpdate struct {
	Base
	CallID   string
	FactID   string
	Fact     string
	Category string
}

// NewProfileUpdate creates a profile fact event.
func NewProfileUpdate(callID, factID, fact, category string, opts ...BaseOption) ProfileUpdate {
	return ProfileUpdate{Base: NewBase(KindProfileUpdate, opts...), CallID: callID, FactID: factID, Fact: fact, Category: category}
}
