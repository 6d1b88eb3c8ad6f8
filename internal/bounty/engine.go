// Package bounty pays whistleblowers and nobody else. VERIFIED evidence
// earns the category bounty plus the stake refund; INSUFFICIENT refunds the
// stake only; REJECTED pays nothing. Inspectors and operators never receive
// funds; honesty is enforced through reputation, not money.
package bounty

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/whistlechain/backend/internal/protocol"
	"github.com/whistlechain/backend/internal/stake"
)

// Payout statuses.
const (
	StatusPaid      = "PAID"
	StatusForfeited = "FORFEITED"
	StatusPending   = "PENDING"
)

// Disburser moves a payout to the whistleblower. The registry contract's
// inner transfer during resolution is the usual implementation; a treasury
// payment is the alternative for bounty top-ups.
type Disburser interface {
	Disburse(ctx context.Context, to string, amountMicro uint64, evidenceID string) (string, error)
}

// Payout is one processed bounty record.
type Payout struct {
	EvidenceID    string            `json:"evidence_id"`
	Category      protocol.Category `json:"category"`
	Verdict       string            `json:"verdict"`
	WalletAddress string            `json:"wallet_address"`
	StakeMicro    uint64            `json:"stake_amount_microalgos"`
	BountyReward  uint64            `json:"bounty_reward"`
	StakeRefund   uint64            `json:"stake_refund"`
	TotalPayout   uint64            `json:"total_payout"`
	PayoutType    string            `json:"payout_type"`
	Status        string            `json:"status"`
	ProcessedAt   time.Time         `json:"processed_at"`
	OnChainTx     string            `json:"on_chain_tx,omitempty"`
	OnChainError  string            `json:"on_chain_error,omitempty"`
}

// Engine processes payouts, once per evidence item.
type Engine struct {
	mu        sync.RWMutex
	payouts   map[string]*Payout
	disburser Disburser
	logger    *log.Logger
}

// NewEngine wires the bounty engine. disburser may be nil when settlement
// happens entirely inside the resolution inner transaction.
func NewEngine(disburser Disburser) *Engine {
	return &Engine{
		payouts:   make(map[string]*Payout),
		disburser: disburser,
		logger:    log.New(log.Writer(), "[BOUNTY] ", log.LstdFlags),
	}
}

// Input describes a payout to process.
type Input struct {
	EvidenceID    string
	Category      protocol.Category
	Verdict       string // VERIFIED, INSUFFICIENT, REJECTED or a pending status
	WalletAddress string
	StakeMicro    uint64
	TxID          string // settlement transaction, when already executed
}

// Process computes and records the payout. Processing the same evidence
// twice is refused. A disbursal failure is annotated, never rolled back.
func (e *Engine) Process(ctx context.Context, in Input) (*Payout, error) {
	if in.EvidenceID == "" {
		return nil, &protocol.ValidationError{Msg: "evidence id is required"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, done := e.payouts[in.EvidenceID]; done {
		return nil, &protocol.StateError{Msg: "bounty already processed for " + in.EvidenceID}
	}

	calc := stake.CalculatePayout(in.Category, in.StakeMicro, in.Verdict)

	p := &Payout{
		EvidenceID:    in.EvidenceID,
		Category:      in.Category,
		Verdict:       in.Verdict,
		WalletAddress: in.WalletAddress,
		StakeMicro:    in.StakeMicro,
		BountyReward:  calc.BountyReward,
		StakeRefund:   calc.StakeRefund,
		TotalPayout:   calc.TotalPayout,
		PayoutType:    calc.PayoutType,
		ProcessedAt:   time.Now(),
		OnChainTx:     in.TxID,
	}

	switch {
	case p.TotalPayout > 0:
		p.Status = StatusPaid
	case in.Verdict == string(protocol.StatusRejected):
		p.Status = StatusForfeited
	default:
		p.Status = StatusPending
	}

	if e.disburser != nil && p.TotalPayout > 0 && p.OnChainTx == "" {
		txID, err := e.disburser.Disburse(ctx, in.WalletAddress, p.TotalPayout, in.EvidenceID)
		if err != nil {
			p.OnChainError = err.Error()
			e.logger.Printf("Disbursal failed for %s: %v", in.EvidenceID, err)
		} else {
			p.OnChainTx = txID
		}
	}

	e.payouts[in.EvidenceID] = p
	e.logger.Printf("Bounty processed for %s: %s, %d microAlgos to whistleblower",
		in.EvidenceID, p.PayoutType, p.TotalPayout)

	clone := *p
	return &clone, nil
}

// Payout returns the record for one evidence item.
func (e *Engine) Payout(evidenceID string) (*Payout, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, ok := e.payouts[evidenceID]
	if !ok {
		return nil, &protocol.NotFoundError{Kind: "bounty", ID: evidenceID}
	}
	clone := *p
	return &clone, nil
}

// All returns every payout record.
func (e *Engine) All() []*Payout {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*Payout, 0, len(e.payouts))
	for _, p := range e.payouts {
		clone := *p
		out = append(out, &clone)
	}
	return out
}

// Stats summarizes bounty activity. ALGO figures are derived from the
// micro-unit sums.
type Stats struct {
	TotalProcessed     int                `json:"total_processed"`
	TotalPaid          int                `json:"total_paid"`
	TotalForfeited     int                `json:"total_forfeited"`
	TotalPaidAlgo      float64            `json:"total_paid_algo"`
	TotalBountyAlgo    float64            `json:"total_bounty_algo"`
	TotalRefundedAlgo  float64            `json:"total_refunded_algo"`
	TotalForfeitedAlgo float64            `json:"total_forfeited_algo"`
	BountyRates        map[string]float64 `json:"bounty_rates"`
}

// Stats aggregates over every payout.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := Stats{
		TotalProcessed: len(e.payouts),
		BountyRates:    make(map[string]float64, len(protocol.Categories)),
	}
	for _, cat := range protocol.Categories {
		s.BountyRates[string(cat)] = float64(stake.BountyFor(cat)) / 1_000_000
	}

	var paidMicro, bountyMicro, refundMicro, forfeitMicro uint64
	for _, p := range e.payouts {
		switch p.Status {
		case StatusPaid:
			s.TotalPaid++
			paidMicro += p.TotalPayout
			bountyMicro += p.BountyReward
			refundMicro += p.StakeRefund
		case StatusForfeited:
			s.TotalForfeited++
			forfeitMicro += p.StakeMicro
		}
	}
	s.TotalPaidAlgo = float64(paidMicro) / 1_000_000
	s.TotalBountyAlgo = float64(bountyMicro) / 1_000_000
	s.TotalRefundedAlgo = float64(refundMicro) / 1_000_000
	s.TotalForfeitedAlgo = float64(forfeitMicro) / 1_000_000
	return s
}
