// Package village holds the elder's care network configuration. The roster
// is loaded once at startup and never mutated during a session.
package village

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Member is one contact in the elder's care network.
type Member struct {
	ID           string `yaml:"id" json:"id"`
	Name         string `yaml:"name" json:"name"`
	Role         string `yaml:"role,omitempty" json:"role,omitempty"`
	Relationship string `yaml:"relationship" json:"relationship"`
	Phone        string `yaml:"phone" json:"phone"`
	Availability string `yaml:"availability,omitempty" json:"availability,omitempty"`
	Notes        string `yaml:"notes,omitempty" json:"notes,omitempty"`
	Enabled      bool   `yaml:"enabled" json:"enabled"`
}

// Roster is the configured care network for one elder.
type Roster struct {
	ElderID string
	members []Member
	byID    map[string]Member
}

type rosterFile struct {
	ElderID string `yaml:"elder_id"`
	Members []struct {
		ID           string `yaml:"id"`
		Name         string `yaml:"name"`
		Role         string `yaml:"role"`
		Relationship string `yaml:"relationship"`
		Phone        string `yaml:"phone"`
		Availability string `yaml:"availability"`
		Notes        string `yaml:"notes"`
		// Enabled defaults to true when omitted; members are opted out
		// explicitly, not forgotten in.
		Enabled *bool `yaml:"enabled"`
	} `yaml:"members"`
}

// LoadRoster reads a YAML roster file.
func LoadRoster(path string) (*Roster, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster file: %w", err)
	}
	return ParseRoster(raw)
}

// ParseRoster parses YAML roster configuration.
func ParseRoster(raw []byte) (*Roster, error) {
	var file rosterFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse roster: %w", err)
	}

	roster := &Roster{ElderID: file.ElderID, byID: make(map[string]Member)}
	for i, m := range file.Members {
		if m.ID == "" {
			return nil, fmt.Errorf("roster member %d has no id", i)
		}
		if m.Name == "" {
			return nil, fmt.Errorf("roster member %q has no name", m.ID)
		}
		if _, exists := roster.byID[m.ID]; exists {
			return nil, fmt.Errorf("duplicate roster member id %q", m.ID)
		}
		member := Member{
			ID:           m.ID,
			Name:         m.Name,
			Role:         m.Role,
			Relationship: m.Relationship,
			Phone:        m.Phone,
			Availability: m.Availability,
			Notes:        m.Notes,
			Enabled:      m.Enabled == nil || *m.Enabled,
		}
		roster.members = append(roster.members, member)
		roster.byID[m.ID] = member
	}
	return roster, nil
}

// NewRoster builds a roster from already-assembled members, used by tests
// and embedders that configure in code.
func NewRoster(elderID string, members ...Member) *Roster {
	roster := &Roster{ElderID: elderID, byID: make(map[string]Member)}
	for _, m := range members {
		roster.members = append(roster.members, m)
		roster.byID[m.ID] = m
	}
	return roster
}

// Members returns every configured member in file order.
func (r *Roster) Members() []Member {
	out := make([]Member, len(r.members))
	copy(out, r.members)
	return out
}

// Enabled returns the members escalations may dispatch to.
func (r *Roster) Enabled() []Member {
	out := []Member{}
	for _, m := range r.members {
		if m.Enabled {
			out = append(out, m)
		}
	}
	return out
}

// ByID looks a member up by id.
func (r *Roster) ByID(id string) (Member, bool) {
	m, ok := r.byID[id]
	return m, ok
}

// Len returns the total number of configured members.
func (r *Roster) Len() int {
	return len(r.members)
}
