// Package inspector maintains the pool of government-authorized inspectors
// and their reputation scores. Votes are weighted by credibility, which
// decays for inspectors who repeatedly land outside consensus. Reputation
// cannot be bought, only earned.
package inspector

import (
	"strings"
	"sync"
	"time"

	"github.com/whistlechain/backend/internal/protocol"
)

// Availability states for an inspector.
const (
	Available = "AVAILABLE"
	Busy      = "BUSY"
	OnLeave   = "ON_LEAVE"
)

// Profile is one registered inspector.
type Profile struct {
	Address             string    `json:"address"`
	Name                string    `json:"name"`
	Specializations     []string  `json:"specializations"`
	Department          string    `json:"department"`
	EmployeeID          string    `json:"employee_id"`
	Designation         string    `json:"designation"`
	Jurisdiction        string    `json:"jurisdiction"`
	ExperienceYears     int       `json:"experience_years"`
	ContactEmail        string    `json:"contact_email"`
	RegisteredAt        time.Time `json:"registered_at"`
	TotalInspections    int       `json:"total_inspections"`
	ConsensusAgreements int       `json:"consensus_agreements"`
	Active              bool      `json:"active"`
	CasesAssigned       []string  `json:"cases_assigned"`
	Availability        string    `json:"availability"`
}

// Reputation tracks how often an inspector lands with consensus.
type Reputation struct {
	ConsistencyScore  float64 `json:"consistency_score"`
	TotalVotes        int     `json:"total_votes"`
	ConsensusMatches  int     `json:"consensus_matches"`
	OutlierCount      int     `json:"outlier_count"`
	CredibilityWeight float64 `json:"credibility_weight"`
}

// View is a profile with its reputation attached.
type View struct {
	Profile
	Reputation Reputation `json:"reputation"`
}

// Update carries the mutable profile fields. Nil pointers leave the field
// untouched; the address and reputation counters are never client-writable.
type Update struct {
	Name            *string
	Department      *string
	EmployeeID      *string
	Designation     *string
	Jurisdiction    *string
	ExperienceYears *int
	ContactEmail    *string
	Specializations *[]string
	Availability    *string
}

// Registry is the in-memory inspector pool.
type Registry struct {
	mu         sync.RWMutex
	profiles   map[string]*Profile
	reputation map[string]*Reputation
}

// NewRegistry creates an empty pool.
func NewRegistry() *Registry {
	return &Registry{
		profiles:   make(map[string]*Profile),
		reputation: make(map[string]*Reputation),
	}
}

// Register adds a new inspector. Re-registering an address is refused.
func (r *Registry) Register(p Profile) (*View, error) {
	if p.Address == "" {
		return nil, &protocol.ValidationError{Msg: "inspector address is required"}
	}
	if p.Name == "" {
		return nil, &protocol.ValidationError{Msg: "inspector name is required"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.profiles[p.Address]; exists {
		return nil, &protocol.StateError{Msg: "inspector " + p.Address + " already registered"}
	}

	p.Specializations = normalizeSpecializations(p.Specializations)
	p.RegisteredAt = time.Now()
	p.Active = true
	p.Availability = Available
	p.CasesAssigned = nil
	p.TotalInspections = 0
	p.ConsensusAgreements = 0

	rep := &Reputation{ConsistencyScore: 1.0, CredibilityWeight: 1.0}
	r.profiles[p.Address] = &p
	r.reputation[p.Address] = rep

	return r.viewLocked(p.Address), nil
}

// UpdateProfile applies the allow-listed field updates.
func (r *Registry) UpdateProfile(address string, u Update) (*View, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.profiles[address]
	if !ok {
		return nil, &protocol.NotFoundError{Kind: "inspector", ID: address}
	}

	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Department != nil {
		p.Department = *u.Department
	}
	if u.EmployeeID != nil {
		p.EmployeeID = *u.EmployeeID
	}
	if u.Designation != nil {
		p.Designation = *u.Designation
	}
	if u.Jurisdiction != nil {
		p.Jurisdiction = *u.Jurisdiction
	}
	if u.ExperienceYears != nil {
		p.ExperienceYears = *u.ExperienceYears
	}
	if u.ContactEmail != nil {
		p.ContactEmail = *u.ContactEmail
	}
	if u.Specializations != nil {
		p.Specializations = normalizeSpecializations(*u.Specializations)
	}
	if u.Availability != nil {
		p.Availability = *u.Availability
	}

	return r.viewLocked(address), nil
}

// Get returns one inspector with reputation.
func (r *Registry) Get(address string) (*View, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.profiles[address]; !ok {
		return nil, &protocol.NotFoundError{Kind: "inspector", ID: address}
	}
	return r.viewLocked(address), nil
}

// Pool returns the active inspectors, optionally filtered by specialization.
// An empty category returns the whole active pool.
func (r *Registry) Pool(category protocol.Category) []*View {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var pool []*View
	for addr, p := range r.profiles {
		if !p.Active {
			continue
		}
		if category != "" && !hasSpecialization(p, category) {
			continue
		}
		pool = append(pool, r.viewLocked(addr))
	}
	return pool
}

// AssignCase records an assignment on the inspector's profile.
func (r *Registry) AssignCase(address, evidenceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.profiles[address]; ok {
		p.CasesAssigned = append(p.CasesAssigned, evidenceID)
	}
}

// CredibilityOf returns the vote weight for an address. Unknown inspectors
// weigh 1.0.
func (r *Registry) CredibilityOf(address string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rep, ok := r.reputation[address]; ok {
		return rep.CredibilityWeight
	}
	return 1.0
}

// RecordOutcome updates an inspector's reputation after finalization.
// Credibility starts decaying once the inspector has three votes on record:
// weight = max(0.1, 1 - outlier_rate/2).
func (r *Registry) RecordOutcome(address string, matchedConsensus bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rep, ok := r.reputation[address]
	if !ok {
		return
	}
	p := r.profiles[address]

	rep.TotalVotes++
	if p != nil {
		p.TotalInspections++
	}
	if matchedConsensus {
		rep.ConsensusMatches++
		if p != nil {
			p.ConsensusAgreements++
		}
	} else {
		rep.OutlierCount++
	}

	rep.ConsistencyScore = round3(float64(rep.ConsensusMatches) / float64(rep.TotalVotes))

	if rep.TotalVotes >= 3 {
		outlierRate := float64(rep.OutlierCount) / float64(rep.TotalVotes)
		weight := 1.0 - outlierRate*0.5
		if weight < 0.1 {
			weight = 0.1
		}
		rep.CredibilityWeight = round3(weight)
	}
}

// ReputationOf returns a copy of the reputation record.
func (r *Registry) ReputationOf(address string) (*Reputation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rep, ok := r.reputation[address]
	if !ok {
		return nil, &protocol.NotFoundError{Kind: "inspector", ID: address}
	}
	clone := *rep
	return &clone, nil
}

// Count returns the number of registered inspectors.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.profiles)
}

func (r *Registry) viewLocked(address string) *View {
	p := r.profiles[address]
	rep := r.reputation[address]

	view := &View{Profile: *p}
	view.Specializations = append([]string(nil), p.Specializations...)
	view.CasesAssigned = append([]string(nil), p.CasesAssigned...)
	if rep != nil {
		view.Reputation = *rep
	}
	return view
}

func hasSpecialization(p *Profile, category protocol.Category) bool {
	for _, s := range p.Specializations {
		if s == string(category) {
			return true
		}
	}
	return false
}

func normalizeSpecializations(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToUpper(strings.TrimSpace(s)))
	}
	return out
}

func round3(v float64) float64 {
	return float64(int(v*1000+0.5)) / 1000
}
