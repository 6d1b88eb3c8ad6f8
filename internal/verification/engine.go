// Package verification runs the multi-inspector blind consensus protocol.
//
// Inspectors are drawn at random from the pool, so none knows who else holds
// the same case. Voting is two-phase commit-reveal: a sealed SHA-256 hash
// first, the verdict and nonce second. A reveal that does not hash back to
// the commitment is refused and logged as a tamper attempt. Finalization
// tallies reveals weighted by inspector credibility; 67% weighted agreement
// is required for VERIFIED or REJECTED, anything less is DISPUTED.
package verification

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/whistlechain/backend/internal/inspector"
	"github.com/whistlechain/backend/internal/protocol"
	"github.com/whistlechain/backend/internal/submission"
	"github.com/whistlechain/backend/internal/wallet"
)

const (
	// MinInspectors is the quorum floor: no panel, reveal set or advance
	// goes below it.
	MinInspectors = 3
	// ConsensusThreshold is the weighted share required to settle a verdict.
	ConsensusThreshold = 0.67
)

// Session phases.
const (
	PhaseCommit    = "COMMIT"
	PhaseReveal    = "REVEAL"
	PhaseFinalized = "FINALIZED"
)

// windowHours is the per-category verification window.
var windowHours = map[protocol.Category]int{
	protocol.CategoryFinancial:    72,
	protocol.CategoryConstruction: 168,
	protocol.CategoryFood:         48,
	protocol.CategoryAcademic:     72,
}

// WindowHoursFor returns the verification window for a category.
func WindowHoursFor(cat protocol.Category) int {
	if h, ok := windowHours[cat]; ok {
		return h
	}
	return 72
}

// Chain submits the verification lifecycle on the registry application.
type Chain interface {
	BeginVerification(ctx context.Context, evidenceID string, windowEnd int64, numInspectors int) (string, error)
	CommitVerdict(ctx context.Context, inspector *wallet.Wallet, evidenceID, commitHash string) (string, error)
	RevealVerdict(ctx context.Context, inspector *wallet.Wallet, evidenceID string, verdict protocol.Verdict, nonce, justificationCID string) (string, error)
	FinalizeVerification(ctx context.Context, evidenceID string, finalStatus protocol.Status) (string, error)
}

// Records is the slice of the submission store the engine needs.
type Records interface {
	SetStatus(evidenceID string, status protocol.Status) (*submission.Record, error)
}

// Assignment is one inspector on a panel.
type Assignment struct {
	Address    string    `json:"address"`
	Name       string    `json:"name"`
	Department string    `json:"department"`
	AssignedAt time.Time `json:"assigned_at"`
}

// Commit is a sealed verdict.
type Commit struct {
	Hash        string    `json:"commit_hash"`
	CommittedAt time.Time `json:"committed_at"`
}

// Reveal is an opened verdict with its mandatory justification.
type Reveal struct {
	Verdict          protocol.Verdict `json:"verdict"`
	VerdictLabel     string           `json:"verdict_label"`
	Nonce            string           `json:"nonce"`
	JustificationCID string           `json:"justification_ipfs"`
	RevealedAt       time.Time        `json:"revealed_at"`
}

// Session is the verification state for one evidence item.
type Session struct {
	EvidenceID     string             `json:"evidence_id"`
	Category       protocol.Category  `json:"category"`
	Phase          string             `json:"phase"`
	StartedAt      time.Time          `json:"started_at"`
	WindowEnd      time.Time          `json:"window_end"`
	WindowHours    int                `json:"window_hours"`
	Required       int                `json:"num_inspectors_required"`
	Assigned       []Assignment       `json:"assigned_inspectors"`
	Commits        map[string]*Commit `json:"commits"`
	Reveals        map[string]*Reveal `json:"reveals"`
	FinalStatus    protocol.Status    `json:"final_verdict,omitempty"`
	VoteBreakdown  map[string]float64 `json:"vote_breakdown,omitempty"`
	FinalizedAt    time.Time          `json:"finalized_at,omitempty"`
	TamperAttempts int                `json:"tamper_attempts"`
	BeginTx        string             `json:"on_chain_tx,omitempty"`
	BeginError     string             `json:"on_chain_error,omitempty"`
	FinalizeTx     string             `json:"finalize_tx,omitempty"`
	FinalizeError  string             `json:"finalize_error,omitempty"`
}

// Engine coordinates sessions, the inspector pool and the chain.
type Engine struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	inspectors *inspector.Registry
	records    Records
	chain      Chain
	logger     *log.Logger
	now        func() time.Time
}

// NewEngine wires the consensus engine. chain and records may be nil.
func NewEngine(inspectors *inspector.Registry, records Records, chain Chain) *Engine {
	return &Engine{
		sessions:   make(map[string]*Session),
		inspectors: inspectors,
		records:    records,
		chain:      chain,
		logger:     log.New(log.Writer(), "[VERIFY] ", log.LstdFlags),
		now:        time.Now,
	}
}

// ============================================================================
// COMMIT HASH
// ============================================================================

// CommitHash computes the sealed commitment for a verdict and nonce:
// SHA-256 over the big-endian verdict followed by the UTF-8 nonce, hex
// encoded. Must match the on-chain program's recomputation exactly.
func CommitHash(verdict protocol.Verdict, nonce string) string {
	preimage := binary.BigEndian.AppendUint64(nil, uint64(verdict))
	preimage = append(preimage, []byte(nonce)...)
	sum := sha256.Sum256(preimage)
	return hex.EncodeToString(sum[:])
}

// CommitTicket is a generated commitment with its nonce. The nonce is needed
// again at reveal time.
type CommitTicket struct {
	CommitHash   string           `json:"commit_hash"`
	Verdict      protocol.Verdict `json:"verdict"`
	VerdictLabel string           `json:"verdict_label"`
	Nonce        string           `json:"nonce"`
	Note         string           `json:"note"`
}

// GenerateCommitTicket builds a commitment, minting a random nonce when none
// is supplied. Normally done client-side; exposed for inspectors without
// tooling.
func GenerateCommitTicket(verdict protocol.Verdict, nonce string) (*CommitTicket, error) {
	if !verdict.Valid() {
		return nil, &protocol.ValidationError{Msg: fmt.Sprintf("verdict must be 1, 2 or 3, got %d", verdict)}
	}
	if nonce == "" {
		raw := make([]byte, 16)
		if _, err := rand.Read(raw); err != nil {
			return nil, err
		}
		nonce = hex.EncodeToString(raw)
	}
	return &CommitTicket{
		CommitHash:   CommitHash(verdict, nonce),
		Verdict:      verdict,
		VerdictLabel: verdict.Label(),
		Nonce:        nonce,
		Note:         "SAVE THE NONCE! You need it to reveal your verdict.",
	}, nil
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// BeginResult reports a newly opened session.
type BeginResult struct {
	EvidenceID         string    `json:"evidence_id"`
	Status             string    `json:"status"`
	WindowHours        int       `json:"verification_window_hours"`
	WindowDeadline     time.Time `json:"window_deadline"`
	InspectorsAssigned int       `json:"inspectors_assigned"`
	AssignmentMethod   string    `json:"assignment_method"`
	Phase              string    `json:"phase"`
	TxID               string    `json:"tx_id,omitempty"`
}

// Begin opens verification: it draws a random panel, starts the window and
// moves the evidence to UNDER_VERIFICATION. Specialists are preferred; the
// general pool backfills when fewer than three specialists exist.
func (e *Engine) Begin(ctx context.Context, evidenceID string, category protocol.Category) (*BeginResult, error) {
	session, err := e.openSession(evidenceID, category)
	if err != nil {
		return nil, err
	}

	e.setRecordStatus(evidenceID, protocol.StatusUnderVerification)

	// The ledger call runs with no engine lock held: confirmation waits
	// several rounds and every other session must keep moving meanwhile.
	var txID string
	if e.chain != nil {
		id, chainErr := e.chain.BeginVerification(ctx, evidenceID, session.WindowEnd.Unix(), session.Required)
		if chainErr != nil {
			e.logger.Printf("On-chain begin failed for %s: %v", evidenceID, chainErr)
			e.annotate(evidenceID, func(s *Session) { s.BeginError = chainErr.Error() })
		} else {
			txID = id
			e.annotate(evidenceID, func(s *Session) { s.BeginTx = id })
		}
	}

	e.logger.Printf("Verification opened for %s: %d inspectors, %dh window",
		evidenceID, session.Required, session.WindowHours)

	return &BeginResult{
		EvidenceID:         evidenceID,
		Status:             string(protocol.StatusUnderVerification),
		WindowHours:        session.WindowHours,
		WindowDeadline:     session.WindowEnd,
		InspectorsAssigned: session.Required,
		AssignmentMethod:   "RANDOM_BLIND",
		Phase:              session.Phase,
		TxID:               txID,
	}, nil
}

// openSession draws the panel and installs the session under the lock.
// Returns a snapshot; the live session is only touched under e.mu.
func (e *Engine) openSession(evidenceID string, category protocol.Category) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.sessions[evidenceID]; exists {
		return nil, &protocol.StateError{Msg: "verification already started for " + evidenceID}
	}

	eligible := e.inspectors.Pool(category)
	if len(eligible) < MinInspectors {
		eligible = e.inspectors.Pool("")
	}
	if len(eligible) < MinInspectors {
		return nil, &protocol.StateError{Msg: fmt.Sprintf(
			"not enough inspectors in pool: need at least %d, have %d", MinInspectors, len(eligible))}
	}

	panel, err := drawPanel(eligible, MinInspectors)
	if err != nil {
		return nil, err
	}

	hours := WindowHoursFor(category)
	now := e.now()
	session := &Session{
		EvidenceID:  evidenceID,
		Category:    category,
		Phase:       PhaseCommit,
		StartedAt:   now,
		WindowEnd:   now.Add(time.Duration(hours) * time.Hour),
		WindowHours: hours,
		Required:    len(panel),
		Commits:     make(map[string]*Commit),
		Reveals:     make(map[string]*Reveal),
	}
	for _, ins := range panel {
		session.Assigned = append(session.Assigned, Assignment{
			Address:    ins.Address,
			Name:       ins.Name,
			Department: ins.Department,
			AssignedAt: now,
		})
		e.inspectors.AssignCase(ins.Address, evidenceID)
	}
	e.sessions[evidenceID] = session
	return session.snapshot(), nil
}

// CommitInput is one sealed verdict submission.
type CommitInput struct {
	EvidenceID       string
	InspectorAddress string
	CommitHash       string
	Mnemonic         string // optional: also record the commit on-chain
}

// CommitResult acknowledges a commit.
type CommitResult struct {
	EvidenceID      string `json:"evidence_id"`
	Inspector       string `json:"inspector"`
	CommitsReceived int    `json:"commits_received"`
	CommitsRequired int    `json:"commits_required"`
	Phase           string `json:"phase"`
	TxID            string `json:"tx_id,omitempty"`
}

// Commit stores a sealed verdict. The session auto-advances to REVEAL once
// every assigned inspector has committed.
func (e *Engine) Commit(ctx context.Context, in CommitInput) (*CommitResult, error) {
	if len(in.CommitHash) != 64 {
		return nil, &protocol.ValidationError{Msg: "commit hash must be 64 hex characters"}
	}
	if _, err := hex.DecodeString(in.CommitHash); err != nil {
		return nil, &protocol.ValidationError{Msg: "commit hash must be hex"}
	}

	received, required, phase, err := e.storeCommit(in)
	if err != nil {
		return nil, err
	}

	// On-chain record of the commit happens after the lock is released.
	txID := e.signedChainCall(ctx, in.Mnemonic, func(w *wallet.Wallet) (string, error) {
		return e.chain.CommitVerdict(ctx, w, in.EvidenceID, in.CommitHash)
	})

	return &CommitResult{
		EvidenceID:      in.EvidenceID,
		Inspector:       in.InspectorAddress,
		CommitsReceived: received,
		CommitsRequired: required,
		Phase:           phase,
		TxID:            txID,
	}, nil
}

func (e *Engine) storeCommit(in CommitInput) (received, required int, phase string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	session, ok := e.sessions[in.EvidenceID]
	if !ok {
		return 0, 0, "", &protocol.NotFoundError{Kind: "session", ID: in.EvidenceID}
	}
	if session.Phase != PhaseCommit {
		return 0, 0, "", &protocol.StateError{Msg: "verification is in " + session.Phase + " phase, not COMMIT"}
	}
	if !session.isAssigned(in.InspectorAddress) {
		return 0, 0, "", &protocol.StateError{Msg: "inspector not assigned to this evidence"}
	}
	if _, dup := session.Commits[in.InspectorAddress]; dup {
		return 0, 0, "", &protocol.StateError{Msg: "inspector already committed a verdict"}
	}
	if e.now().After(session.WindowEnd) {
		return 0, 0, "", &protocol.StateError{Msg: "verification window has expired"}
	}

	session.Commits[in.InspectorAddress] = &Commit{
		Hash:        in.CommitHash,
		CommittedAt: e.now(),
	}
	if len(session.Commits) >= session.Required {
		session.Phase = PhaseReveal
		e.logger.Printf("All commits in for %s, advancing to REVEAL", in.EvidenceID)
	}
	return len(session.Commits), session.Required, session.Phase, nil
}

// AdvanceToReveal moves a session into the REVEAL phase before every commit
// has arrived. Needs quorum commits; coordinator action.
func (e *Engine) AdvanceToReveal(evidenceID string) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	session, ok := e.sessions[evidenceID]
	if !ok {
		return nil, &protocol.NotFoundError{Kind: "session", ID: evidenceID}
	}
	if session.Phase == PhaseFinalized {
		return nil, &protocol.StateError{Msg: "verification already finalized"}
	}
	if len(session.Commits) < MinInspectors {
		return nil, &protocol.StateError{Msg: fmt.Sprintf(
			"need at least %d commits before reveal phase, have %d", MinInspectors, len(session.Commits))}
	}

	session.Phase = PhaseReveal
	return session.snapshot(), nil
}

// RevealInput is one opened verdict.
type RevealInput struct {
	EvidenceID       string
	InspectorAddress string
	Verdict          protocol.Verdict
	Nonce            string
	JustificationCID string
	Mnemonic         string // optional: also record the reveal on-chain
}

// RevealResult acknowledges a reveal.
type RevealResult struct {
	EvidenceID      string `json:"evidence_id"`
	Inspector       string `json:"inspector"`
	Verdict         string `json:"verdict"`
	RevealsReceived int    `json:"reveals_received"`
	RevealsRequired int    `json:"reveals_required"`
	TxID            string `json:"tx_id,omitempty"`
}

// Reveal opens a commitment. The recomputed hash must match the sealed one;
// a mismatch is a tamper attempt, logged and refused with both hashes.
// Justification evidence is mandatory.
func (e *Engine) Reveal(ctx context.Context, in RevealInput) (*RevealResult, error) {
	if !in.Verdict.Valid() {
		return nil, &protocol.ValidationError{Msg: fmt.Sprintf("verdict must be 1, 2 or 3, got %d", in.Verdict)}
	}
	if len(strings.TrimSpace(in.JustificationCID)) < 5 {
		return nil, &protocol.ValidationError{
			Msg: "justification evidence is mandatory: upload inspection photos or documents and provide the identifier"}
	}

	received, required, err := e.storeReveal(in)
	if err != nil {
		return nil, err
	}

	txID := e.signedChainCall(ctx, in.Mnemonic, func(w *wallet.Wallet) (string, error) {
		return e.chain.RevealVerdict(ctx, w, in.EvidenceID, in.Verdict, in.Nonce, in.JustificationCID)
	})

	return &RevealResult{
		EvidenceID:      in.EvidenceID,
		Inspector:       in.InspectorAddress,
		Verdict:         in.Verdict.Label(),
		RevealsReceived: received,
		RevealsRequired: required,
		TxID:            txID,
	}, nil
}

func (e *Engine) storeReveal(in RevealInput) (received, required int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	session, ok := e.sessions[in.EvidenceID]
	if !ok {
		return 0, 0, &protocol.NotFoundError{Kind: "session", ID: in.EvidenceID}
	}
	if session.Phase != PhaseReveal {
		return 0, 0, &protocol.StateError{Msg: "verification is in " + session.Phase + " phase, not REVEAL"}
	}
	commit, committed := session.Commits[in.InspectorAddress]
	if !committed {
		return 0, 0, &protocol.StateError{Msg: "inspector did not commit a verdict, cannot reveal"}
	}
	if _, dup := session.Reveals[in.InspectorAddress]; dup {
		return 0, 0, &protocol.StateError{Msg: "inspector already revealed their verdict"}
	}

	computed := CommitHash(in.Verdict, in.Nonce)
	if computed != commit.Hash {
		session.TamperAttempts++
		e.logger.Printf("TAMPER ATTEMPT on %s by %s: revealed verdict does not match commitment",
			in.EvidenceID, Anonymize(in.InspectorAddress))
		return 0, 0, &protocol.CryptoError{
			Msg:          "commit-reveal mismatch: the revealed verdict and nonce do not hash to the committed value; votes cannot be changed after committing. This attempt has been logged",
			ExpectedHash: commit.Hash,
			ComputedHash: computed,
		}
	}

	session.Reveals[in.InspectorAddress] = &Reveal{
		Verdict:          in.Verdict,
		VerdictLabel:     in.Verdict.Label(),
		Nonce:            in.Nonce,
		JustificationCID: in.JustificationCID,
		RevealedAt:       e.now(),
	}
	return len(session.Reveals), session.Required, nil
}

// FinalizeResult reports the consensus outcome.
type FinalizeResult struct {
	EvidenceID         string             `json:"evidence_id"`
	Status             protocol.Status    `json:"status"`
	VoteBreakdown      map[string]float64 `json:"vote_breakdown"`
	ConsensusReached   bool               `json:"consensus_reached"`
	ConsensusThreshold string             `json:"consensus_threshold"`
	TotalInspectors    int                `json:"total_inspectors"`
	FinalizedAt        time.Time          `json:"finalized_at"`
	TxID               string             `json:"tx_id,omitempty"`
}

// Finalize tallies the weighted reveals. AUTHENTIC at or above threshold
// settles VERIFIED, FAKE settles REJECTED, anything else is DISPUTED.
// Inspector reputations update against the consensus verdict.
func (e *Engine) Finalize(ctx context.Context, evidenceID string) (*FinalizeResult, error) {
	result, err := e.settleConsensus(evidenceID)
	if err != nil {
		return nil, err
	}

	e.setRecordStatus(evidenceID, result.Status)

	if e.chain != nil {
		txID, chainErr := e.chain.FinalizeVerification(ctx, evidenceID, result.Status)
		if chainErr != nil {
			e.logger.Printf("On-chain finalize failed for %s: %v", evidenceID, chainErr)
			e.annotate(evidenceID, func(s *Session) { s.FinalizeError = chainErr.Error() })
		} else {
			result.TxID = txID
			e.annotate(evidenceID, func(s *Session) { s.FinalizeTx = txID })
		}
	}

	e.logger.Printf("Verification finalized for %s: %s (%d reveals)",
		evidenceID, result.Status, result.TotalInspectors)

	return result, nil
}

// settleConsensus tallies and seals the session under the lock. Reveals
// arriving after the phase flips to FINALIZED here are rejected.
func (e *Engine) settleConsensus(evidenceID string) (*FinalizeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	session, ok := e.sessions[evidenceID]
	if !ok {
		return nil, &protocol.NotFoundError{Kind: "session", ID: evidenceID}
	}
	if session.Phase == PhaseFinalized {
		return nil, &protocol.StateError{Msg: "verification already finalized"}
	}
	if len(session.Reveals) < MinInspectors {
		return nil, &protocol.StateError{Msg: fmt.Sprintf(
			"need at least %d reveals to finalize, have %d", MinInspectors, len(session.Reveals))}
	}

	weighted := map[protocol.Verdict]float64{
		protocol.VerdictAuthentic:    0,
		protocol.VerdictFake:         0,
		protocol.VerdictInconclusive: 0,
	}
	total := 0.0
	for addr, reveal := range session.Reveals {
		weight := e.inspectors.CredibilityOf(addr)
		weighted[reveal.Verdict] += weight
		total += weight
	}
	if total == 0 {
		total = 1
	}

	breakdown := make(map[string]float64, len(weighted))
	for verdict, w := range weighted {
		breakdown[verdict.Label()] = round1(w / total * 100)
	}

	var finalStatus protocol.Status
	var finalVerdict protocol.Verdict
	switch {
	case weighted[protocol.VerdictAuthentic]/total >= ConsensusThreshold:
		finalStatus = protocol.StatusVerified
		finalVerdict = protocol.VerdictAuthentic
	case weighted[protocol.VerdictFake]/total >= ConsensusThreshold:
		finalStatus = protocol.StatusRejected
		finalVerdict = protocol.VerdictFake
	default:
		finalStatus = protocol.StatusDisputed
		finalVerdict = protocol.VerdictInconclusive
	}

	session.Phase = PhaseFinalized
	session.FinalStatus = finalStatus
	session.VoteBreakdown = breakdown
	session.FinalizedAt = e.now()

	for addr, reveal := range session.Reveals {
		e.inspectors.RecordOutcome(addr, reveal.Verdict == finalVerdict)
	}

	return &FinalizeResult{
		EvidenceID:         evidenceID,
		Status:             finalStatus,
		VoteBreakdown:      breakdown,
		ConsensusReached:   finalStatus != protocol.StatusDisputed,
		ConsensusThreshold: "67%",
		TotalInspectors:    len(session.Reveals),
		FinalizedAt:        session.FinalizedAt,
	}, nil
}

// ============================================================================
// READ SIDE
// ============================================================================

// InspectorVerdict is one revealed verdict, anonymized for the public view.
type InspectorVerdict struct {
	Inspector        string    `json:"inspector"`
	Verdict          string    `json:"verdict"`
	JustificationCID string    `json:"justification_ipfs"`
	RevealedAt       time.Time `json:"revealed_at"`
}

// StatusView is the public verification state of one evidence item.
type StatusView struct {
	EvidenceID         string             `json:"evidence_id"`
	Category           protocol.Category  `json:"category"`
	Status             string             `json:"status"`
	Phase              string             `json:"phase"`
	StartedAt          time.Time          `json:"started_at"`
	WindowDeadline     time.Time          `json:"window_deadline"`
	WindowExpired      bool               `json:"window_expired"`
	InspectorsAssigned int                `json:"inspectors_assigned"`
	InspectorsRequired int                `json:"inspectors_required"`
	CommitsReceived    int                `json:"commits_received"`
	RevealsReceived    int                `json:"reveals_received"`
	FinalVerdict       string             `json:"final_verdict,omitempty"`
	VoteBreakdown      map[string]float64 `json:"vote_breakdown,omitempty"`
	FinalizedAt        *time.Time         `json:"finalized_at,omitempty"`
	InspectorVerdicts  []InspectorVerdict `json:"inspector_verdicts,omitempty"`
}

// Status returns the verification state. Verdicts become public only after
// finalization, and always anonymized.
func (e *Engine) Status(evidenceID string) (*StatusView, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	session, ok := e.sessions[evidenceID]
	if !ok {
		return nil, &protocol.NotFoundError{Kind: "session", ID: evidenceID}
	}

	view := &StatusView{
		EvidenceID:         session.EvidenceID,
		Category:           session.Category,
		Status:             session.publicStatus(),
		Phase:              session.Phase,
		StartedAt:          session.StartedAt,
		WindowDeadline:     session.WindowEnd,
		WindowExpired:      e.now().After(session.WindowEnd),
		InspectorsAssigned: len(session.Assigned),
		InspectorsRequired: session.Required,
		CommitsReceived:    len(session.Commits),
		RevealsReceived:    len(session.Reveals),
	}

	if session.Phase == PhaseFinalized {
		view.FinalVerdict = string(session.FinalStatus)
		view.VoteBreakdown = session.VoteBreakdown
		at := session.FinalizedAt
		view.FinalizedAt = &at
		for addr, reveal := range session.Reveals {
			view.InspectorVerdicts = append(view.InspectorVerdicts, InspectorVerdict{
				Inspector:        Anonymize(addr),
				Verdict:          reveal.VerdictLabel,
				JustificationCID: reveal.JustificationCID,
				RevealedAt:       reveal.RevealedAt,
			})
		}
	}
	return view, nil
}

// SessionSummary is one row of the session listing.
type SessionSummary struct {
	EvidenceID         string            `json:"evidence_id"`
	Category           protocol.Category `json:"category"`
	Status             string            `json:"status"`
	Phase              string            `json:"phase"`
	StartedAt          time.Time         `json:"started_at"`
	WindowDeadline     time.Time         `json:"window_deadline"`
	Commits            int               `json:"commits"`
	Reveals            int               `json:"reveals"`
	InspectorsRequired int               `json:"inspectors_required"`
}

// Sessions lists every session, active and finalized.
func (e *Engine) Sessions() []SessionSummary {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]SessionSummary, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, SessionSummary{
			EvidenceID:         s.EvidenceID,
			Category:           s.Category,
			Status:             s.publicStatus(),
			Phase:              s.Phase,
			StartedAt:          s.StartedAt,
			WindowDeadline:     s.WindowEnd,
			Commits:            len(s.Commits),
			Reveals:            len(s.Reveals),
			InspectorsRequired: s.Required,
		})
	}
	return out
}

// Case is one assignment from an inspector's point of view.
type Case struct {
	EvidenceID     string            `json:"evidence_id"`
	Category       protocol.Category `json:"category"`
	Status         string            `json:"status"`
	Phase          string            `json:"phase"`
	StartedAt      time.Time         `json:"started_at"`
	WindowDeadline time.Time         `json:"window_deadline"`
	HasCommitted   bool              `json:"has_committed"`
	HasRevealed    bool              `json:"has_revealed"`
	YourVerdict    string            `json:"your_verdict,omitempty"`
}

// CasesOf lists every case assigned to one inspector.
func (e *Engine) CasesOf(address string) []Case {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var cases []Case
	for _, s := range e.sessions {
		if !s.isAssigned(address) {
			continue
		}
		c := Case{
			EvidenceID:     s.EvidenceID,
			Category:       s.Category,
			Status:         s.publicStatus(),
			Phase:          s.Phase,
			StartedAt:      s.StartedAt,
			WindowDeadline: s.WindowEnd,
		}
		_, c.HasCommitted = s.Commits[address]
		if reveal, ok := s.Reveals[address]; ok {
			c.HasRevealed = true
			c.YourVerdict = reveal.VerdictLabel
		}
		cases = append(cases, c)
	}
	return cases
}

// Session returns a deep copy of the raw session for downstream consumers.
func (e *Engine) Session(evidenceID string) (*Session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	session, ok := e.sessions[evidenceID]
	if !ok {
		return nil, &protocol.NotFoundError{Kind: "session", ID: evidenceID}
	}
	return session.snapshot(), nil
}

// Anonymize shortens an address for public display.
func Anonymize(address string) string {
	if len(address) < 12 {
		return address
	}
	return address[:8] + "..." + address[len(address)-4:]
}

// ============================================================================
// INTERNALS
// ============================================================================

func (s *Session) isAssigned(address string) bool {
	for _, a := range s.Assigned {
		if a.Address == address {
			return true
		}
	}
	return false
}

func (s *Session) publicStatus() string {
	if s.Phase == PhaseFinalized {
		return string(s.FinalStatus)
	}
	return string(protocol.StatusUnderVerification)
}

func (s *Session) snapshot() *Session {
	clone := *s
	clone.Assigned = append([]Assignment(nil), s.Assigned...)
	clone.Commits = make(map[string]*Commit, len(s.Commits))
	for k, v := range s.Commits {
		c := *v
		clone.Commits[k] = &c
	}
	clone.Reveals = make(map[string]*Reveal, len(s.Reveals))
	for k, v := range s.Reveals {
		r := *v
		clone.Reveals[k] = &r
	}
	if s.VoteBreakdown != nil {
		clone.VoteBreakdown = make(map[string]float64, len(s.VoteBreakdown))
		for k, v := range s.VoteBreakdown {
			clone.VoteBreakdown[k] = v
		}
	}
	return &clone
}

// annotate mutates the live session under the write lock. Ledger outcomes
// computed outside the lock are attached through here.
func (e *Engine) annotate(evidenceID string, fn func(*Session)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sessions[evidenceID]; ok {
		fn(s)
	}
}

func (e *Engine) setRecordStatus(evidenceID string, status protocol.Status) {
	if e.records == nil {
		return
	}
	if _, err := e.records.SetStatus(evidenceID, status); err != nil {
		var nf *protocol.NotFoundError
		if !errors.As(err, &nf) {
			e.logger.Printf("Record update failed for %s: %v", evidenceID, err)
		}
	}
}

// signedChainCall restores the inspector wallet and runs the on-chain call.
// Failures never block the off-chain protocol; they are logged only.
func (e *Engine) signedChainCall(ctx context.Context, mnemonicPhrase string, call func(*wallet.Wallet) (string, error)) string {
	if e.chain == nil || mnemonicPhrase == "" {
		return ""
	}
	w, err := wallet.FromMnemonic(mnemonicPhrase)
	if err != nil {
		e.logger.Printf("On-chain call skipped: %v", err)
		return ""
	}
	txID, err := call(w)
	if err != nil {
		e.logger.Printf("On-chain call failed: %v", err)
		return ""
	}
	return txID
}

// drawPanel selects n distinct inspectors uniformly at random.
func drawPanel(pool []*inspector.View, n int) ([]*inspector.View, error) {
	if n > len(pool) {
		n = len(pool)
	}
	remaining := append([]*inspector.View(nil), pool...)
	panel := make([]*inspector.View, 0, n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(remaining))))
		if err != nil {
			return nil, err
		}
		j := int(idx.Int64())
		panel = append(panel, remaining[j])
		remaining = append(remaining[:j], remaining[j+1:]...)
	}
	return panel, nil
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
