package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/jinzhu/copier"
)

// ErrUnknownSession reports a lookup for a session id the store has never
// seen.
var ErrUnknownSession = fmt.Errorf("unknown session")

type entry struct {
	mu      sync.Mutex
	session *CallSession
	seq     uint64
}

// Store is the in-memory registry of active call sessions. Each session has
// its own lock, so mutations of one session serialize while unrelated
// sessions proceed in parallel. Transport-layer room names map onto the
// canonical session id through aliases.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	aliases  map[string]string
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*entry),
		aliases:  make(map[string]string),
	}
}

// Resolve maps a session id or room-name alias onto the canonical session
// id. Unknown keys resolve to themselves, since the first event for a key
// implicitly creates the session under it.
func (s *Store) Resolve(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if canonical, ok := s.aliases[key]; ok {
		return canonical
	}
	return key
}

// Alias registers an alternate key (typically the transport room name) for
// a canonical session id. Content may already have landed under the alias
// key when the transport announced the call late; that orphan record is
// folded into the canonical session so nothing stays stranded under the
// alias.
func (s *Store) Alias(alias, canonical string) {
	if alias == "" || alias == canonical {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if orphan, ok := s.sessions[alias]; ok {
		if target, exists := s.sessions[canonical]; exists {
			mergeEntries(target, orphan)
		} else {
			orphan.mu.Lock()
			orphan.session.ID = canonical
			orphan.mu.Unlock()
			s.sessions[canonical] = orphan
		}
		delete(s.sessions, alias)
	}

	s.aliases[alias] = canonical
}

// mergeEntries folds an orphan record into the canonical one. Collections
// merge by id, status only advances, and the seq counter takes the higher
// watermark so either key's observers keep a monotonic stream.
func mergeEntries(target, orphan *entry) {
	target.mu.Lock()
	defer target.mu.Unlock()
	orphan.mu.Lock()
	defer orphan.mu.Unlock()

	dst, src := target.session, orphan.session
	for _, line := range src.Transcript {
		if !dst.HasTranscriptLine(line.ID) {
			dst.Transcript = append(dst.Transcript, line)
		}
	}
	for _, concern := range src.Concerns {
		if !dst.HasConcern(concern.ID) {
			dst.Concerns = append(dst.Concerns, concern)
		}
	}
	for _, fact := range src.Profile {
		if !dst.HasProfileFact(fact.ID) {
			dst.Profile = append(dst.Profile, fact)
		}
	}
	for _, action := range src.Actions {
		if _, ok := dst.ActionByID(action.ID); !ok {
			dst.UpsertAction(action)
		}
	}
	if dst.Status.CanAdvanceTo(src.Status) {
		dst.Status = src.Status
	}
	if dst.Wellbeing == nil {
		dst.Wellbeing = src.Wellbeing
	}
	if src.StartedAt.Before(dst.StartedAt) {
		dst.StartedAt = src.StartedAt
	}
	if target.seq < orphan.seq {
		target.seq = orphan.seq
	}
	if dst.LastSeq < target.seq {
		dst.LastSeq = target.seq
	}
}

// AliasesOf returns every key the session is addressable by, canonical id
// first.
func (s *Store) AliasesOf(canonical string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := []string{canonical}
	for alias, target := range s.aliases {
		if target == canonical {
			keys = append(keys, alias)
		}
	}
	return keys
}

func (s *Store) ensure(id string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.sessions[id]; ok {
		return e
	}
	e := &entry{session: &CallSession{
		ID:         id,
		Status:     StatusRinging,
		StartedAt:  time.Now(),
		Transcript: []TranscriptLine{},
		Concerns:   []Concern{},
		Profile:    []ProfileFact{},
		Actions:    []VillageAction{},
	}}
	s.sessions[id] = e
	return e
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[id]
	return e, ok
}

// Apply runs fn under the session's own lock, creating the session in
// ringing if it does not exist yet. It returns the sequence number assigned
// to this mutation.
func (s *Store) Apply(id string, fn func(*CallSession)) uint64 {
	e := s.ensure(s.Resolve(id))

	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	e.session.LastSeq = e.seq
	fn(e.session)
	return e.seq
}

// NextSeq assigns a sequence number without mutating the session, used when
// an accepted event produces no state change but must still be stamped.
func (s *Store) NextSeq(id string) uint64 {
	return s.Apply(id, func(*CallSession) {})
}

// Snapshot returns a deep copy of the session, safe to hand to observers
// while the live record keeps changing.
func (s *Store) Snapshot(id string) (CallSession, error) {
	e, ok := s.lookup(s.Resolve(id))
	if !ok {
		return CallSession{}, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var copied CallSession
	if err := copier.CopyWithOption(&copied, e.session, copier.Option{DeepCopy: true}); err != nil {
		return CallSession{}, fmt.Errorf("failed to copy session %s: %w", id, err)
	}
	return copied, nil
}

// Has reports whether the key resolves to a known session.
func (s *Store) Has(key string) bool {
	_, ok := s.lookup(s.Resolve(key))
	return ok
}

// Len returns the number of active sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Evict drops a session and all aliases pointing at it.
func (s *Store) Evict(id string) {
	canonical := s.Resolve(id)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, canonical)
	for alias, target := range s.aliases {
		if target == canonical {
			delete(s.aliases, alias)
		}
	}
}

// Sweep evicts terminal sessions whose call ended before the cutoff and
// returns their ids. Live sessions are never swept.
func (s *Store) Sweep(cutoff time.Time) []string {
	s.mu.RLock()
	candidates := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		candidates = append(candidates, id)
	}
	s.mu.RUnlock()

	evicted := []string{}
	for _, id := range candidates {
		e, ok := s.lookup(id)
		if !ok {
			continue
		}
		e.mu.Lock()
		expired := e.session.Status.Terminal() && e.session.EndedAt != nil && e.session.EndedAt.Before(cutoff)
		e.mu.Unlock()
		if expired {
			s.Evict(id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// Reset drops every session and alias.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*entry)
	s.aliases = make(map[string]string)
}
