package events

const (
	// KindCallStarted identifies the creation of a call room and dial start.
	KindCallStarted Kind = "call_started"
	// KindCallStatus identifies a point-in-time call status snapshot.
	KindCallStatus Kind = "call_status"
	// KindCallEnded identifies a call reaching a terminal state.
	KindCallEnded Kind = "call_ended"
	// KindTimerUpdate identifies periodic elapsed-seconds ticks for a live call.
	KindTimerUpdate Kind = "timer_update"
)

// CallStarted announces that a call room was created and dialing began.
type CallStarted struct {
	Base
	CallID   string
	ElderID  string
	RoomName string
}

// NewCallStarted creates a call started event.
func NewCallStarted(callID, elderID, roomName string, opts ...BaseOption) CallStarted {
	return CallStarted{Base: NewBase(KindCallStarted, opts...), CallID: callID, ElderID: elderID, RoomName: roomName}
}

// CallStatus carries a call status snapshot. The state machine re-emits this
// event with the canonical post-transition status, so observers always see
// the stored value rather than the raw upstream report.
type CallStatus struct {
	Base
	CallID string
	Status string
}

// NewCallStatus creates a call status event.
func NewCallStatus(callID, status string, opts ...BaseOption) CallStatus {
	return CallStatus{Base: NewBase(KindCallStatus, opts...), CallID: callID, Status: status}
}

// CallEnded marks the end of a call, with an optional summary.
type CallEnded struct {
	Base
	CallID  string
	Summary string
	Failed  bool
}

// NewCallEnded creates a call ended event.
func NewCallEnded(callID, summary string, failed bool, opts ...BaseOption) CallEnded {
	return CallEnded{Base: NewBase(KindCallEnded, opts...), CallID: callID, Summary: summary, Failed: failed}
}

// TimerUpdate carries the elapsed call duration in whole seconds.
type TimerUpdate struct {
	Base
	CallID         string
	ElapsedSeconds int
}

// NewTimerUpdate creates a timer update event.
func NewTimerUpdate(callID string, elapsedSeconds int, opts ...BaseOption) TimerUpdate {
	return TimerUpdate{Base: NewBase(KindTimerUpdate, opts...), CallID: callID, ElapsedSeconds: elapsedSeconds}
}
