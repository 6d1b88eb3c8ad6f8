// Package resolution settles the stake after verification finalizes. The
// registry contract moves funds in inner transactions; the coordinator only
// submits the resolution call and records the outcome. Once resolved, an
// item stays resolved.
package resolution

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/whistlechain/backend/internal/ledger"
	"github.com/whistlechain/backend/internal/protocol"
	"github.com/whistlechain/backend/internal/submission"
	"github.com/whistlechain/backend/internal/verification"
)

// Stake actions taken at resolution.
const (
	ActionStakeReleased  = "STAKE_RELEASED"
	ActionStakeForfeited = "STAKE_FORFEITED"
	ActionStakeLocked    = "STAKE_LOCKED"
)

// Sessions reads finalized verification sessions.
type Sessions interface {
	Session(evidenceID string) (*verification.Session, error)
}

// Chain submits the resolution call and reads box storage.
type Chain interface {
	ResolveEvidence(ctx context.Context, evidenceID string, statusCode uint64, refundAddr string, stakeMicro uint64, updatedBlob []byte) (string, error)
	ReadEvidenceBox(ctx context.Context, evidenceID string) (*ledger.EvidenceBox, error)
}

// Resolution is the permanent settlement record for one evidence item.
type Resolution struct {
	EvidenceID          string             `json:"evidence_id"`
	VerificationVerdict protocol.Status    `json:"verification_verdict"`
	ResolutionAction    string             `json:"resolution_action"`
	ResolutionStatus    string             `json:"resolution_status"`
	StakeAction         string             `json:"stake_action"`
	StakeMicro          uint64             `json:"stake_amount_microalgos"`
	RefundAddress       string             `json:"refund_address,omitempty"`
	ResolvedAt          time.Time          `json:"resolved_at"`
	OnChainTx           string             `json:"on_chain_tx,omitempty"`
	OnChainError        string             `json:"on_chain_error,omitempty"`
	VoteBreakdown       map[string]float64 `json:"vote_breakdown"`
	InspectorCount      int                `json:"inspector_count"`
	ConsensusThreshold  string             `json:"consensus_threshold"`
	Message             string             `json:"message"`
}

// Engine executes and records resolutions.
type Engine struct {
	mu          sync.RWMutex
	resolutions map[string]*Resolution
	sessions    Sessions
	records     submission.Store
	chain       Chain
	logger      *log.Logger
}

// NewEngine wires the resolution engine. chain may be nil.
func NewEngine(sessions Sessions, records submission.Store, chain Chain) *Engine {
	return &Engine{
		resolutions: make(map[string]*Resolution),
		sessions:    sessions,
		records:     records,
		chain:       chain,
		logger:      log.New(log.Writer(), "[RESOLVE] ", log.LstdFlags),
	}
}

// Resolve settles one evidence item. The verification session must be
// finalized; resolving twice is refused with the existing record attached to
// the error message. A ledger failure does not roll the record back, it is
// annotated instead.
func (e *Engine) Resolve(ctx context.Context, evidenceID string) (*Resolution, error) {
	session, err := e.sessions.Session(evidenceID)
	if err != nil {
		return nil, err
	}
	if session.Phase != verification.PhaseFinalized {
		return nil, &protocol.StateError{Msg: fmt.Sprintf(
			"verification is in %s phase, must be FINALIZED before resolution", session.Phase)}
	}

	var action string
	var statusCode uint64
	var stakeAction string
	switch session.FinalStatus {
	case protocol.StatusVerified:
		action, statusCode, stakeAction = ActionStakeReleased, protocol.OnChainStatus(protocol.StatusVerified), "refund"
	case protocol.StatusRejected:
		action, statusCode, stakeAction = ActionStakeForfeited, protocol.OnChainStatus(protocol.StatusRejected), "forfeit"
	case protocol.StatusDisputed:
		action, statusCode, stakeAction = ActionStakeLocked, protocol.OnChainStatus(protocol.StatusDisputed), "none"
	default:
		return nil, &protocol.StateError{Msg: "unknown verdict: " + string(session.FinalStatus)}
	}

	// Ledger reads happen before the table lock; concurrent callers race to
	// the insert below and exactly one wins.
	refundAddr, stakeMicro := e.settlementTarget(ctx, evidenceID)

	res := &Resolution{
		EvidenceID:          evidenceID,
		VerificationVerdict: session.FinalStatus,
		ResolutionAction:    action,
		ResolutionStatus:    string(protocol.StatusResolved),
		StakeAction:         stakeAction,
		StakeMicro:          stakeMicro,
		RefundAddress:       refundAddr,
		ResolvedAt:          time.Now(),
		VoteBreakdown:       session.VoteBreakdown,
		InspectorCount:      len(session.Reveals),
		ConsensusThreshold:  "67%",
		Message:             resolutionMessage(session.FinalStatus),
	}

	e.mu.Lock()
	if _, done := e.resolutions[evidenceID]; done {
		e.mu.Unlock()
		return nil, &protocol.StateError{Msg: "evidence " + evidenceID + " already resolved"}
	}
	e.resolutions[evidenceID] = res
	e.mu.Unlock()

	// The settlement call runs with no lock held; its outcome is annotated
	// on the already-inserted record.
	var onChainTx, onChainErr string
	if e.chain != nil {
		if refundAddr == "" {
			onChainErr = "no submitter known for " + evidenceID + ", settlement call skipped"
			e.logger.Printf("WARNING: %s", onChainErr)
		} else {
			blob := fmt.Sprintf("resolved|%s|status=%d|verdict=%s|resolved_at=%d",
				evidenceID, statusCode, session.FinalStatus, res.ResolvedAt.Unix())
			txID, err := e.chain.ResolveEvidence(ctx, evidenceID, statusCode, refundAddr, stakeMicro, []byte(blob))
			if err != nil {
				onChainErr = err.Error()
				e.logger.Printf("On-chain resolution failed for %s: %v", evidenceID, err)
			} else {
				onChainTx = txID
			}
		}
	}

	e.mu.Lock()
	res.OnChainTx = onChainTx
	res.OnChainError = onChainErr
	clone := *res
	e.mu.Unlock()

	e.updateRecord(evidenceID, stakeAction, onChainErr)

	e.logger.Printf("Evidence %s resolved: %s (%s)", evidenceID, action, stakeAction)
	return &clone, nil
}

// Resolution returns the settlement record for one evidence item.
func (e *Engine) Resolution(evidenceID string) (*Resolution, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	res, ok := e.resolutions[evidenceID]
	if !ok {
		return nil, &protocol.NotFoundError{Kind: "resolution", ID: evidenceID}
	}
	clone := *res
	return &clone, nil
}

// All returns every settlement record.
func (e *Engine) All() []*Resolution {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*Resolution, 0, len(e.resolutions))
	for _, res := range e.resolutions {
		clone := *res
		out = append(out, &clone)
	}
	return out
}

// Stats summarizes resolution outcomes.
type Stats struct {
	TotalResolved   int `json:"total_resolved"`
	VerifiedCount   int `json:"verified_count"`
	RejectedCount   int `json:"rejected_count"`
	DisputedCount   int `json:"disputed_count"`
	StakesReleased  int `json:"stakes_released"`
	StakesForfeited int `json:"stakes_forfeited"`
	StakesLocked    int `json:"stakes_locked"`
}

// Stats aggregates over every resolution.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var s Stats
	s.TotalResolved = len(e.resolutions)
	for _, res := range e.resolutions {
		switch res.VerificationVerdict {
		case protocol.StatusVerified:
			s.VerifiedCount++
			s.StakesReleased++
		case protocol.StatusRejected:
			s.RejectedCount++
			s.StakesForfeited++
		case protocol.StatusDisputed:
			s.DisputedCount++
			s.StakesLocked++
		}
	}
	return s
}

// settlementTarget finds the submitter and locked stake: the submission
// record first, the on-chain box as fallback. A miss on both means the
// refund would be empty; the caller logs the warning.
func (e *Engine) settlementTarget(ctx context.Context, evidenceID string) (string, uint64) {
	if e.records != nil {
		rec, err := e.records.Get(evidenceID)
		if err == nil {
			return rec.WalletAddress, rec.StakeMicro
		}
		var nf *protocol.NotFoundError
		if !errors.As(err, &nf) {
			e.logger.Printf("Record lookup failed for %s: %v", evidenceID, err)
		}
	}

	if e.chain != nil {
		box, err := e.chain.ReadEvidenceBox(ctx, evidenceID)
		if err == nil && box.Submitter != "" {
			return box.Submitter, box.StakeMicro
		}
	}

	e.logger.Printf("WARNING: no submission data found for %s, stake amount is 0, refund will be empty", evidenceID)
	return "", 0
}

func (e *Engine) updateRecord(evidenceID, stakeAction, onChainError string) {
	if e.records == nil {
		return
	}
	if _, err := e.records.SetStatus(evidenceID, protocol.StatusResolved); err != nil {
		var nf *protocol.NotFoundError
		if !errors.As(err, &nf) {
			e.logger.Printf("Record update failed for %s: %v", evidenceID, err)
		}
		return
	}
	_, _ = e.records.Update(evidenceID, func(rec *submission.Record) {
		switch stakeAction {
		case "refund":
			rec.StakeStatus = "RELEASED"
		case "forfeit":
			rec.StakeStatus = "FORFEITED"
		case "none":
			rec.StakeStatus = "LOCKED"
		}
		if onChainError != "" {
			rec.OnChainError = onChainError
		}
	})
}

func resolutionMessage(verdict protocol.Status) string {
	switch verdict {
	case protocol.StatusVerified:
		return "Evidence VERIFIED by inspector consensus. Locked stake has been released back to the whistleblower via on-chain inner transaction. No manual approval was involved."
	case protocol.StatusRejected:
		return "Evidence REJECTED by inspector consensus. The whistleblower's stake has been permanently forfeited on-chain. The rejection is recorded immutably."
	case protocol.StatusDisputed:
		return "Evidence DISPUTED, no consensus reached. Stake remains locked pending re-verification. No funds were moved."
	default:
		return "Resolution completed."
	}
}
