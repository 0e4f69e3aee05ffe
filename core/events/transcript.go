package events

import "time"

const (
	// KindTranscriptUpdate identifies a single immutable transcript line.
	KindTranscriptUpdate Kind = "transcript_update"
)

// TranscriptUpdate carries one utterance. LineID is assigned by the source
// and is the deduplication key; SpokenAt orders lines regardless of delivery
// order.
type TranscriptUpdate struct {
	Base
	CallID   string
	LineID   string
	Speaker  string
	Text     string
	SpokenAt time.Time
}

// NewTranscriptUpdate creates a transcript line event.
func NewTranscriptUpdate(callID, lineID, speaker, text string, spokenAt time.Time, opts ...BaseOption) TranscriptUpdate {
	return TranscriptUpdate{
		Base:     NewBase(KindTranscriptUpdate, opts...),
		CallID:   callID,
		LineID:   lineID,
		Speaker:  speaker,
		Text:     text,
		SpokenAt: spokenAt,
	}
}
