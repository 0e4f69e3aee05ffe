package events

const (
	// KindConcernDetected identifies a detected anomaly on a session.
	KindConcernDetected Kind = "concern_detected"
)

// ConcernDetected carries a detected anomaly. ActionRequired marks concerns
// that mobilize the village.
type ConcernDetected struct {
	Base
	CallID         string
	ConcernID      string
	Dimension      string
	Severity       string
	Description    string
	ActionRequired bool
}

// NewConcernDetected creates a concern detected event.
func NewConcernDetected(callID, concernID, dimension, severity, description string, actionRequired bool, opts ...BaseOption) ConcernDetected {
	return ConcernDetected{
		Base:           NewBase(KindConcernDetected, opts...),
		CallID:         callID,
		ConcernID:      concernID,
		Dimension:      dimension,
		Severity:       severity,
		Description:    description,
		ActionRequired: actionRequired,
	}
}
