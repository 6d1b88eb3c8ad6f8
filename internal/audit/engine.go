// Package audit publishes the permanent public record of a case. After
// resolution, publication writes the complete lifecycle into an on-chain
// audit box and marks the evidence PUBLISHED. Nothing moves after that;
// anyone can replay the record independently.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/whistlechain/backend/internal/protocol"
	"github.com/whistlechain/backend/internal/resolution"
	"github.com/whistlechain/backend/internal/submission"
	"github.com/whistlechain/backend/internal/verification"
)

// Sessions reads verification sessions.
type Sessions interface {
	Session(evidenceID string) (*verification.Session, error)
}

// Resolutions reads settlement records.
type Resolutions interface {
	Resolution(evidenceID string) (*resolution.Resolution, error)
}

// Chain writes the audit box and flips the record to PUBLISHED.
type Chain interface {
	PublishEvidence(ctx context.Context, evidenceID string, updatedBlob, auditSummary []byte) (string, error)
}

// Timeline is the dated lifecycle of one case.
type Timeline struct {
	SubmittedAt          time.Time  `json:"submitted_at"`
	VerificationStarted  time.Time  `json:"verification_started"`
	WindowHours          int        `json:"verification_window_hours"`
	VerificationDeadline time.Time  `json:"verification_deadline"`
	FinalizedAt          *time.Time `json:"finalized_at,omitempty"`
	ResolvedAt           *time.Time `json:"resolved_at,omitempty"`
	ResolutionAction     string     `json:"resolution_action,omitempty"`
}

// Summary condenses the verification outcome.
type Summary struct {
	TotalInspectors    int                `json:"total_inspectors"`
	CommitsReceived    int                `json:"commits_received"`
	RevealsReceived    int                `json:"reveals_received"`
	ConsensusThreshold string             `json:"consensus_threshold"`
	VoteBreakdown      map[string]float64 `json:"vote_breakdown"`
	FinalVerdict       string             `json:"final_verdict"`
}

// InspectorVerdict is one anonymized revealed verdict.
type InspectorVerdict struct {
	InspectorID      string    `json:"inspector_id"`
	Verdict          string    `json:"verdict"`
	JustificationCID string    `json:"justification_ipfs"`
	RevealedAt       time.Time `json:"revealed_at"`
}

// ChainRefs collects the transaction ids anchoring each lifecycle step.
type ChainRefs struct {
	VerificationTx string `json:"verification_tx,omitempty"`
	FinalizeTx     string `json:"finalize_tx,omitempty"`
	ResolutionTx   string `json:"resolution_tx,omitempty"`
	PublishTx      string `json:"publish_tx,omitempty"`
}

// Integrity states the guarantees of the published record.
type Integrity struct {
	AllActionsOnChain       bool `json:"all_actions_on_chain"`
	TamperProof             bool `json:"tamper_proof"`
	CensorshipResistant     bool `json:"censorship_resistant"`
	IndependentlyVerifiable bool `json:"independently_verifiable"`
}

// Trail is the complete audit record for one evidence item.
type Trail struct {
	EvidenceID        string                 `json:"evidence_id"`
	Category          protocol.Category      `json:"category"`
	Status            string                 `json:"status"`
	Timeline          Timeline               `json:"timeline"`
	Verification      Summary                `json:"verification_summary"`
	InspectorVerdicts []InspectorVerdict     `json:"inspector_verdicts"`
	Resolution        *resolution.Resolution `json:"resolution,omitempty"`
	OnChain           ChainRefs              `json:"on_chain_references"`
	Integrity         Integrity              `json:"integrity"`
	PublishedAt       *time.Time             `json:"published_at,omitempty"`
	PublishError      string                 `json:"publish_error,omitempty"`
}

// Engine assembles and publishes audit trails.
type Engine struct {
	mu          sync.RWMutex
	published   map[string]*Trail
	sessions    Sessions
	resolutions Resolutions
	records     submission.Store
	chain       Chain
	logger      *log.Logger
}

// NewEngine wires the audit engine. chain and records may be nil.
func NewEngine(sessions Sessions, resolutions Resolutions, records submission.Store, chain Chain) *Engine {
	return &Engine{
		published:   make(map[string]*Trail),
		sessions:    sessions,
		resolutions: resolutions,
		records:     records,
		chain:       chain,
		logger:      log.New(log.Writer(), "[AUDIT] ", log.LstdFlags),
	}
}

// PublishResult acknowledges a publication.
type PublishResult struct {
	EvidenceID  string    `json:"evidence_id"`
	Status      string    `json:"status"`
	PublishedAt time.Time `json:"published_at"`
	TxID        string    `json:"tx_id,omitempty"`
	Trail       *Trail    `json:"audit_trail"`
	Message     string    `json:"message"`
}

// Publish finalizes the case as public record. The case must be resolved
// first; publishing twice is refused.
func (e *Engine) Publish(ctx context.Context, evidenceID string) (*PublishResult, error) {
	res, err := e.resolutions.Resolution(evidenceID)
	if err != nil {
		var nf *protocol.NotFoundError
		if errors.As(err, &nf) {
			return nil, &protocol.StateError{Msg: "evidence must be resolved before publication, no resolution record found for " + evidenceID}
		}
		return nil, err
	}

	session, err := e.sessions.Session(evidenceID)
	if err != nil {
		return nil, err
	}

	trail := buildTrail(evidenceID, session, res)
	now := time.Now()
	trail.Status = string(protocol.StatusPublished)
	trail.PublishedAt = &now

	// Reserve the slot under the lock so two concurrent publishes settle to
	// exactly one record, then run the ledger write unlocked.
	e.mu.Lock()
	if _, done := e.published[evidenceID]; done {
		e.mu.Unlock()
		return nil, &protocol.StateError{Msg: "evidence " + evidenceID + " already published"}
	}
	e.published[evidenceID] = trail
	e.mu.Unlock()

	if e.chain != nil {
		blob := fmt.Sprintf("published|%s|status=PUBLISHED|verdict=%s|published_at=%d",
			evidenceID, session.FinalStatus, now.Unix())
		summary, merr := json.Marshal(map[string]interface{}{
			"evidence_id":       evidenceID,
			"category":          trail.Category,
			"timeline":          trail.Timeline,
			"verdict":           trail.Verification.FinalVerdict,
			"vote_breakdown":    trail.Verification.VoteBreakdown,
			"inspector_count":   trail.Verification.TotalInspectors,
			"resolution_action": res.ResolutionAction,
			"published_at":      now.Unix(),
		})
		var txID string
		var cerr error
		if merr != nil {
			cerr = merr
		} else {
			txID, cerr = e.chain.PublishEvidence(ctx, evidenceID, []byte(blob), summary)
		}
		e.mu.Lock()
		if cerr != nil {
			trail.PublishError = cerr.Error()
			e.logger.Printf("On-chain publication failed for %s: %v", evidenceID, cerr)
		} else {
			trail.OnChain.PublishTx = txID
		}
		e.mu.Unlock()
	}

	e.setRecordStatus(evidenceID)

	e.logger.Printf("Evidence %s published as permanent public record", evidenceID)

	e.mu.RLock()
	snapshot := *trail
	e.mu.RUnlock()

	return &PublishResult{
		EvidenceID:  evidenceID,
		Status:      string(protocol.StatusPublished),
		PublishedAt: now,
		TxID:        snapshot.OnChain.PublishTx,
		Trail:       &snapshot,
		Message:     "Evidence finalized as PUBLIC. The IPFS hash and verification outcome are permanently accessible on-chain. Anyone can independently verify the entire evidence lifecycle.",
	}, nil
}

// Trail returns the audit record. Unpublished cases get a trail assembled
// from whatever lifecycle data exists so far.
func (e *Engine) Trail(evidenceID string) (*Trail, error) {
	e.mu.RLock()
	if trail, ok := e.published[evidenceID]; ok {
		snapshot := *trail
		e.mu.RUnlock()
		return &snapshot, nil
	}
	e.mu.RUnlock()

	session, err := e.sessions.Session(evidenceID)
	if err != nil {
		return nil, err
	}
	res, err := e.resolutions.Resolution(evidenceID)
	if err != nil {
		res = nil
	}
	return buildTrail(evidenceID, session, res), nil
}

// PublicRecord is one row of the public evidence listing.
type PublicRecord struct {
	EvidenceID       string             `json:"evidence_id"`
	Category         protocol.Category  `json:"category"`
	FinalVerdict     string             `json:"final_verdict"`
	ResolutionAction string             `json:"resolution_action"`
	PublishedAt      time.Time          `json:"published_at"`
	FinalizedAt      *time.Time         `json:"finalized_at,omitempty"`
	ResolvedAt       *time.Time         `json:"resolved_at,omitempty"`
	InspectorCount   int                `json:"inspector_count"`
	VoteBreakdown    map[string]float64 `json:"vote_breakdown"`
	PublishTx        string             `json:"publish_tx_id,omitempty"`
}

// PublicEvidence lists every published case.
func (e *Engine) PublicEvidence() []PublicRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]PublicRecord, 0, len(e.published))
	for _, trail := range e.published {
		rec := PublicRecord{
			EvidenceID:     trail.EvidenceID,
			Category:       trail.Category,
			FinalVerdict:   trail.Verification.FinalVerdict,
			FinalizedAt:    trail.Timeline.FinalizedAt,
			ResolvedAt:     trail.Timeline.ResolvedAt,
			InspectorCount: trail.Verification.TotalInspectors,
			VoteBreakdown:  trail.Verification.VoteBreakdown,
			PublishTx:      trail.OnChain.PublishTx,
		}
		if trail.Resolution != nil {
			rec.ResolutionAction = trail.Resolution.ResolutionAction
		}
		if trail.PublishedAt != nil {
			rec.PublishedAt = *trail.PublishedAt
		}
		out = append(out, rec)
	}
	return out
}

// Stats summarizes publication activity.
type Stats struct {
	TotalPublished      int    `json:"total_published"`
	VerifiedPublished   int    `json:"verified_published"`
	RejectedPublished   int    `json:"rejected_published"`
	TransparencyScore   string `json:"transparency_score"`
	CensorshipResistant bool   `json:"censorship_resistant"`
	Immutable           bool   `json:"immutable"`
}

// Stats aggregates over published cases.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := Stats{
		TotalPublished:      len(e.published),
		TransparencyScore:   "100%",
		CensorshipResistant: true,
		Immutable:           true,
	}
	for _, trail := range e.published {
		switch trail.Verification.FinalVerdict {
		case string(protocol.StatusVerified):
			s.VerifiedPublished++
		case string(protocol.StatusRejected):
			s.RejectedPublished++
		}
	}
	return s
}

func (e *Engine) setRecordStatus(evidenceID string) {
	if e.records == nil {
		return
	}
	if _, err := e.records.SetStatus(evidenceID, protocol.StatusPublished); err != nil {
		var nf *protocol.NotFoundError
		if !errors.As(err, &nf) {
			e.logger.Printf("Record update failed for %s: %v", evidenceID, err)
		}
	}
}

func buildTrail(evidenceID string, session *verification.Session, res *resolution.Resolution) *Trail {
	trail := &Trail{
		EvidenceID: evidenceID,
		Category:   session.Category,
		Status:     string(session.FinalStatus),
		Timeline: Timeline{
			SubmittedAt:          session.StartedAt,
			VerificationStarted:  session.StartedAt,
			WindowHours:          session.WindowHours,
			VerificationDeadline: session.WindowEnd,
		},
		Verification: Summary{
			TotalInspectors:    len(session.Reveals),
			CommitsReceived:    len(session.Commits),
			RevealsReceived:    len(session.Reveals),
			ConsensusThreshold: "67%",
			VoteBreakdown:      session.VoteBreakdown,
			FinalVerdict:       string(session.FinalStatus),
		},
		OnChain: ChainRefs{
			VerificationTx: session.BeginTx,
			FinalizeTx:     session.FinalizeTx,
		},
		Integrity: Integrity{
			AllActionsOnChain:       true,
			TamperProof:             true,
			CensorshipResistant:     true,
			IndependentlyVerifiable: true,
		},
	}
	if !session.FinalizedAt.IsZero() {
		at := session.FinalizedAt
		trail.Timeline.FinalizedAt = &at
	}
	for addr, reveal := range session.Reveals {
		trail.InspectorVerdicts = append(trail.InspectorVerdicts, InspectorVerdict{
			InspectorID:      verification.Anonymize(addr),
			Verdict:          reveal.VerdictLabel,
			JustificationCID: reveal.JustificationCID,
			RevealedAt:       reveal.RevealedAt,
		})
	}
	if res != nil {
		trail.Resolution = res
		at := res.ResolvedAt
		trail.Timeline.ResolvedAt = &at
		trail.Timeline.ResolutionAction = res.ResolutionAction
		trail.OnChain.ResolutionTx = res.OnChainTx
	}
	return trail
}
