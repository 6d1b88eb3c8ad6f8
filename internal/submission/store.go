// Package submission runs the intake pipeline: encrypt, pin, anchor, record.
// The store bridges submission data to the verification and resolution
// pipelines; box storage on-chain remains the durable copy.
package submission

import (
	"sync"
	"time"

	"github.com/whistlechain/backend/internal/protocol"
)

// Record is the off-chain submission record for one evidence item.
type Record struct {
	EvidenceID    string            `json:"evidence_id"`
	WalletAddress string            `json:"wallet_address"`
	StakeMicro    uint64            `json:"stake_amount_microalgos"`
	StakeTier     string            `json:"stake_tier"`
	Category      protocol.Category `json:"category"`
	Organization  string            `json:"organization"`
	Description   string            `json:"description"`
	TxID          string            `json:"tx_id"`
	Block         uint64            `json:"block"`
	IPFSHash      string            `json:"ipfs_hash"`
	IPFSURL       string            `json:"ipfs_url"`
	SimulatedCID  bool              `json:"simulated_cid"`
	SubmittedAt   time.Time         `json:"submitted_at"`
	Status        protocol.Status   `json:"status"`
	StakeStatus   string            `json:"stake_status"`
	OnChainError  string            `json:"on_chain_error,omitempty"`
}

// Store is the submission record store. The in-memory implementation is the
// default; anything honoring the monotonic status rule can replace it.
type Store interface {
	Insert(rec *Record) error
	Get(evidenceID string) (*Record, error)
	Update(evidenceID string, mutate func(*Record)) (*Record, error)
	SetStatus(evidenceID string, status protocol.Status) (*Record, error)
	All() []*Record
	ByWallet(address string) []*Record
	ByStatus(status protocol.Status) []*Record
}

// MemoryStore keeps records in a map guarded by a RWMutex.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Insert adds a new record. Duplicate identifiers are rejected.
func (s *MemoryStore) Insert(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.EvidenceID]; exists {
		return &protocol.StateError{Msg: "evidence " + rec.EvidenceID + " already recorded"}
	}
	clone := *rec
	s.records[rec.EvidenceID] = &clone
	return nil
}

// Get returns a copy of the record.
func (s *MemoryStore) Get(evidenceID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[evidenceID]
	if !ok {
		return nil, &protocol.NotFoundError{Kind: "evidence", ID: evidenceID}
	}
	clone := *rec
	return &clone, nil
}

// Update applies mutate under the lock and returns the updated copy. Status
// changes must go through SetStatus; mutate must not touch Status.
func (s *MemoryStore) Update(evidenceID string, mutate func(*Record)) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[evidenceID]
	if !ok {
		return nil, &protocol.NotFoundError{Kind: "evidence", ID: evidenceID}
	}
	mutate(rec)
	clone := *rec
	return &clone, nil
}

// SetStatus advances the lifecycle status. Regressions are refused.
func (s *MemoryStore) SetStatus(evidenceID string, status protocol.Status) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[evidenceID]
	if !ok {
		return nil, &protocol.NotFoundError{Kind: "evidence", ID: evidenceID}
	}
	if rec.Status == status {
		clone := *rec
		return &clone, nil
	}
	if !protocol.CanAdvance(rec.Status, status) {
		return nil, &protocol.StateError{
			Msg: "cannot move " + evidenceID + " from " + string(rec.Status) + " to " + string(status),
		}
	}
	rec.Status = status
	clone := *rec
	return &clone, nil
}

// All returns copies of every record.
func (s *MemoryStore) All() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		clone := *rec
		out = append(out, &clone)
	}
	return out
}

// ByWallet returns every submission from one wallet.
func (s *MemoryStore) ByWallet(address string) []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for _, rec := range s.records {
		if rec.WalletAddress == address {
			clone := *rec
			out = append(out, &clone)
		}
	}
	return out
}

// ByStatus returns every submission in one lifecycle status.
func (s *MemoryStore) ByStatus(status protocol.Status) []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for _, rec := range s.records {
		if rec.Status == status {
			clone := *rec
			out = append(out, &clone)
		}
	}
	return out
}
