package events

import (
	"errors"
	"testing"
	"time"
)

func TestDecodeTranscriptUpdate(t *testing.T) {
	raw := []byte(`{"type":"transcript_update","data":{"call_id":"c1","id":"t1","speaker":"agent","text":"Hello","timestamp":"2026-01-19T10:00:00Z"}}`)

	event, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	line, ok := event.(TranscriptUpdate)
	if !ok {
		t.Fatalf("expected TranscriptUpdate, got %T", event)
	}
	if line.CallID != "c1" || line.LineID != "t1" || line.Speaker != "agent" || line.Text != "Hello" {
		t.Fatalf("unexpected decoded line: %+v", line)
	}
	if want := time.Date(2026, 1, 19, 10, 0, 0, 0, time.UTC); !line.SpokenAt.Equal(want) {
		t.Fatalf("expected spoken-at %v, got %v", want, line.SpokenAt)
	}
}

func TestDecodeConcernDetectedCarriesActionRequired(t *testing.T) {
	raw := []byte(`{"type":"concern_detected","data":{"call_id":"c1","id":"cn1","dimension":"physical","severity":"critical","description":"chest pain mentioned","action_required":true}}`)

	event, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	concern, ok := event.(ConcernDetected)
	if !ok {
		t.Fatalf("expected ConcernDetected, got %T", event)
	}
	if !concern.ActionRequired {
		t.Fatal("expected action required to survive decoding")
	}
	if concern.Severity != "critical" {
		t.Fatalf("expected severity critical, got %q", concern.Severity)
	}
}

func TestDecodeWellbeingUpdateKeepsAbsentFieldsNil(t *testing.T) {
	raw := []byte(`{"type":"wellbeing_update","data":{"call_id":"c1","social":4,"notes":"talked about Harold"}}`)

	event, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	update, ok := event.(WellbeingUpdate)
	if !ok {
		t.Fatalf("expected WellbeingUpdate, got %T", event)
	}
	if update.Patch.Social == nil || *update.Patch.Social != 4 {
		t.Fatalf("expected social score 4, got %+v", update.Patch.Social)
	}
	if update.Patch.Notes == nil || *update.Patch.Notes != "talked about Harold" {
		t.Fatalf("expected notes to be set, got %+v", update.Patch.Notes)
	}
	if update.Patch.Emotional != nil || update.Patch.Mental != nil || update.Patch.Physical != nil || update.Patch.Cognitive != nil {
		t.Fatalf("expected untouched dimensions to stay nil, got %+v", update.Patch)
	}
}

func TestDecodeUnknownTypeReturnsSentinel(t *testing.T) {
	_, err := Decode([]byte(`{"type":"biometric_meltdown","data":{}}`))

	if !errors.Is(err, ErrUnknownEventType) {
		t.Fatalf("expected ErrUnknownEventType, got %v", err)
	}
}

func TestDecodeMalformedJSONFails(t *testing.T) {
	if _, err := Decode([]byte(`{"type":`)); err == nil {
		t.Fatal("expected error for malformed envelope")
	}
	if _, err := Decode([]byte(`{"data":{}}`)); err == nil {
		t.Fatal("expected error for envelope without type")
	}
}

func TestEncodeDecodePreservesSequence(t *testing.T) {
	raw, err := Encode(NewCallStatus("c1", "completed", WithSeq(7)))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	event, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Seq() != 7 {
		t.Fatalf("expected sequence 7 after round trip, got %d", event.Seq())
	}
	status, ok := event.(CallStatus)
	if !ok {
		t.Fatalf("expected CallStatus, got %T", event)
	}
	if status.Status != "completed" {
		t.Fatalf("expected status completed, got %q", status.Status)
	}
}

func TestSessionOfCoversAllAddressedEvents(t *testing.T) {
	addressed := []Event{
		NewCallStarted("c1", "e1", "room-1"),
		NewCallStatus("c1", "ringing"),
		NewCallEnded("c1", "", false),
		NewTimerUpdate("c1", 1),
		NewTranscriptUpdate("c1", "t1", "user", "hi", time.Now()),
		NewWellbeingUpdate("c1", WellbeingPatch{}),
		NewProfileUpdate("c1", "pf1", "fact", ""),
		NewConcernDetected("c1", "cn1", "social", "low", "", false),
		NewVillageActionStarted("c1", "a1", "vm1", "", "pending"),
		NewVillageActionUpdate("c1", "a1", "notified", ""),
		NewSubscribeCall("c1"),
	}

	for _, event := range addressed {
		id, ok := SessionOf(event)
		if !ok {
			t.Fatalf("expected %s to carry a session id", event.Kind())
		}
		if id != "c1" {
			t.Fatalf("expected session c1 for %s, got %q", event.Kind(), id)
		}
	}
}
