package events

const (
	// KindVillageActionStarted identifies the creation of one escalation
	// dispatch record.
	KindVillageActionStarted Kind = "village_action_started"
	// KindVillageActionUpdate identifies a status/response change of one
	// dispatch record.
	KindVillageActionUpdate Kind = "village_action_update"
)

// VillageActionStarted announces a new dispatch record for one village
// member.
type VillageActionStarted struct {
	Base
	CallID     string
	ActionID   string
	MemberID   string
	MemberName string
	Status     string
}

// NewVillageActionStarted creates a village action started event.
func NewVillageActionStarted(callID, actionID, memberID, memberName, status string, opts ...BaseOption) VillageActionStarted {
	return VillageActionStarted{
		Base:       NewBase(KindVillageActionStarted, opts...),
		CallID:     callID,
		ActionID:   actionID,
		MemberID:   memberID,
		MemberName: memberName,
		Status:     status,
	}
}

// VillageActionUpdate carries a dispatch record transition. Observers upsert
// by action id; the record is never removed.
type VillageActionUpdate struct {
	Base
	CallID   string
	ActionID string
	Status   string
	Response string
}

// NewVillageActionUpdate creates a village action update event.
func NewVillageActionUpdate(callID, actionID, status, response string, opts ...BaseOption) VillageActionUpdate {
	return VillageActionUpdate{
		Base:     NewBase(KindVillageActionUpdate, opts...),
		CallID:   callID,
		ActionID: actionID,
		Status:   status,
		Response: response,
	}
}
