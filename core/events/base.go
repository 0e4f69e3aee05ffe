package events

import "time"

type Kind string

type Event interface {
	Kind() Kind
	Timestamp() time.Time
	Seq() uint64
}

type Base struct {
	kind      Kind
	timestamp time.Time
	seq       uint64
}

type BaseOption func(*Base)

// WithTimestamp overrides the creation timestamp, used when decoding events
// whose source already stamped one.
func WithTimestamp(t time.Time) BaseOption {
	return func(b *Base) { b.timestamp = t }
}

// WithSeq stamps the server-side sequence number assigned by the state
// machine on re-emission.
func WithSeq(seq uint64) BaseOption {
	return func(b *Base) { b.seq = seq }
}

func NewBase(kind Kind, opts ...BaseOption) Base {
	base := Base{kind: kind, timestamp: time.Now()}
	for _, opt := range opts {
		opt(&base)
	}
	return base
}

func (b Base) Kind() Kind {
	return b.kind
}

func (b Base) Timestamp() time.Time {
	return b.timestamp
}

func (b Base) Seq() uint64 {
	return b.seq
}
