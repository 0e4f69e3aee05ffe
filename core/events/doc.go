// Package events defines the typed care-session event contract and its wire
// codec.
//
// Event kinds match the wire-level type names used by external collaborators
// and observers, so no mapping table sits between the codec and the typed
// variants:
//
//   - call_started: a call room was created and dialing began.
//   - call_status: point-in-time call status snapshot; also the canonical
//     form re-emitted by the state machine after a validated transition.
//   - transcript_update: one immutable utterance, identified by line id.
//     Delivery order is not guaranteed; consumers deduplicate by id.
//   - wellbeing_update: partial patch over the session's wellbeing
//     assessment. Absent fields leave existing values untouched.
//   - profile_update: a newly learned fact about the elder, append-only.
//   - concern_detected: a detected anomaly; action_required marks concerns
//     that mobilize the village.
//   - call_ended: call reached a terminal state, with an optional summary.
//   - timer_update: elapsed call seconds, emitted periodically while a call
//     is in progress.
//   - village_action_started: an escalation dispatch record was created for
//     one village member.
//   - village_action_update: status/response change of one dispatch record.
//   - subscribe_call: observer request to receive a call's events; a client
//     may subscribe under several ids (session id and transport room name).
//
// Events embed Base, which carries the kind, a timestamp, and the
// server-side sequence number stamped by the state machine on re-emission.
// Sequence zero means the event has not passed through the state machine.
package events
