package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/whistlechain/backend/internal/events"
	"github.com/whistlechain/backend/internal/metrics"
	"github.com/whistlechain/backend/internal/protocol"
	"github.com/whistlechain/backend/internal/verification"
)

// HandleBeginVerification opens a multi-inspector session on one evidence
// item.
func HandleBeginVerification(engine *verification.Engine, bus events.Emitter, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			EvidenceID string `json:"evidence_id"`
			Category   string `json:"category"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		cat, err := protocol.ParseCategory(req.Category)
		if err != nil {
			writeError(w, err)
			return
		}
		result, err := engine.Begin(r.Context(), req.EvidenceID, cat)
		if err != nil {
			writeError(w, err)
			return
		}
		m.RecordSessionStart(string(cat))
		if bus != nil {
			bus.Emit(events.TypeVerificationStarted, "/verification", req.EvidenceID, map[string]interface{}{
				"category":            req.Category,
				"inspectors_assigned": result.InspectorsAssigned,
				"window_hours":        result.WindowHours,
			})
		}
		writeJSON(w, http.StatusCreated, result)
	}
}

// HandleCommitTicket builds a sealed commitment for inspectors without
// client-side tooling. The nonce never touches coordinator state.
func HandleCommitTicket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Verdict int    `json:"verdict"`
			Nonce   string `json:"nonce"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		ticket, err := verification.GenerateCommitTicket(protocol.Verdict(req.Verdict), req.Nonce)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ticket)
	}
}

// HandleCommitVerdict stores a sealed verdict hash.
func HandleCommitVerdict(engine *verification.Engine, bus events.Emitter, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			EvidenceID       string `json:"evidence_id"`
			InspectorAddress string `json:"inspector_address"`
			CommitHash       string `json:"commit_hash"`
			Mnemonic         string `json:"mnemonic"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		result, err := engine.Commit(r.Context(), verification.CommitInput{
			EvidenceID:       req.EvidenceID,
			InspectorAddress: req.InspectorAddress,
			CommitHash:       req.CommitHash,
			Mnemonic:         req.Mnemonic,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		m.RecordVerdict("commit")
		if bus != nil {
			bus.Emit(events.TypeVerdictCommitted, "/verification", req.EvidenceID, map[string]interface{}{
				"inspector": verification.Anonymize(req.InspectorAddress),
				"received":  result.CommitsReceived,
				"required":  result.CommitsRequired,
			})
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// HandleRevealVerdict opens a commitment. A hash mismatch is refused as a
// tamper attempt.
func HandleRevealVerdict(engine *verification.Engine, bus events.Emitter, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			EvidenceID       string `json:"evidence_id"`
			InspectorAddress string `json:"inspector_address"`
			Verdict          int    `json:"verdict"`
			Nonce            string `json:"nonce"`
			JustificationCID string `json:"justification_ipfs"`
			Mnemonic         string `json:"mnemonic"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		result, err := engine.Reveal(r.Context(), verification.RevealInput{
			EvidenceID:       req.EvidenceID,
			InspectorAddress: req.InspectorAddress,
			Verdict:          protocol.Verdict(req.Verdict),
			Nonce:            req.Nonce,
			JustificationCID: req.JustificationCID,
			Mnemonic:         req.Mnemonic,
		})
		if err != nil {
			var cErr *protocol.CryptoError
			if errors.As(err, &cErr) {
				m.RecordTamperAttempt()
				if bus != nil {
					bus.Emit(events.TypeTamperDetected, "/verification", req.EvidenceID, map[string]interface{}{
						"inspector": verification.Anonymize(req.InspectorAddress),
					})
				}
			}
			writeError(w, err)
			return
		}
		m.RecordVerdict("reveal")
		if bus != nil {
			bus.Emit(events.TypeVerdictRevealed, "/verification", req.EvidenceID, map[string]interface{}{
				"inspector": verification.Anonymize(req.InspectorAddress),
				"received":  result.RevealsReceived,
			})
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// HandleAdvanceToReveal forces the commit phase closed once quorum exists,
// for windows that expire before every inspector commits.
func HandleAdvanceToReveal(engine *verification.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := engine.AdvanceToReveal(evidenceIDParam(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"evidence_id": session.EvidenceID,
			"phase":       session.Phase,
			"commits":     len(session.Commits),
		})
	}
}

// HandleFinalizeVerification tallies the weighted reveals into a consensus
// outcome.
func HandleFinalizeVerification(engine *verification.Engine, bus events.Emitter, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := engine.Finalize(r.Context(), evidenceIDParam(r))
		if err != nil {
			writeError(w, err)
			return
		}
		m.RecordConsensus(string(result.Status))
		if bus != nil {
			bus.Emit(events.TypeVerificationFinished, "/verification", result.EvidenceID, map[string]interface{}{
				"status":         result.Status,
				"vote_breakdown": result.VoteBreakdown,
			})
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// HandleVerificationStatus returns the public state of one session.
func HandleVerificationStatus(engine *verification.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := engine.Status(mux.Vars(r)["evidence_id"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// HandleListSessions lists every session.
func HandleListSessions(engine *verification.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions := engine.Sessions()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"count":    len(sessions),
			"sessions": sessions,
		})
	}
}

// HandleInspectorCases lists the cases assigned to one inspector.
func HandleInspectorCases(engine *verification.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cases := engine.CasesOf(mux.Vars(r)["address"])
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"count": len(cases),
			"cases": cases,
		})
	}
}
