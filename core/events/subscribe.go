package events

const (
	// KindSubscribeCall identifies an observer's request to receive a call's
	// events.
	KindSubscribeCall Kind = "subscribe_call"
)

// SubscribeCall is a client-to-orchestrator request to join a call's topic.
// A client may send several of these, one per identifier it knows the call
// by (session id, transport room name).
type SubscribeCall struct {
	Base
	CallID string
}

// NewSubscribeCall creates a subscription request event.
func NewSubscribeCall(callID string, opts ...BaseOption) SubscribeCall {
	return SubscribeCall{Base: NewBase(KindSubscribeCall, opts...), CallID: callID}
}
