package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/whistlechain/backend/internal/events"
	"github.com/whistlechain/backend/internal/metrics"
	"github.com/whistlechain/backend/internal/resolution"
)

// HandleResolveEvidence settles a finalized case: status and stake move
// according to the consensus verdict. The evidence id arrives as a query
// parameter or in the JSON body.
func HandleResolveEvidence(engine *resolution.Engine, bus events.Emitter, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		evidenceID := evidenceIDParam(r)
		if evidenceID == "" {
			var req struct {
				EvidenceID string `json:"evidence_id"`
			}
			if !decodeBody(w, r, &req) {
				return
			}
			evidenceID = req.EvidenceID
		}
		res, err := engine.Resolve(r.Context(), evidenceID)
		if err != nil {
			writeError(w, err)
			return
		}
		m.RecordStakeMoved(res.StakeAction, res.StakeMicro)
		if bus != nil {
			bus.Emit(events.TypeEvidenceResolved, "/resolution", evidenceID, map[string]interface{}{
				"verdict":      res.VerificationVerdict,
				"action":       res.ResolutionAction,
				"stake_action": res.StakeAction,
			})
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// HandleGetResolution returns one settlement record.
func HandleGetResolution(engine *resolution.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := engine.Resolution(mux.Vars(r)["evidence_id"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// HandleListResolutions lists settlements with aggregate stats.
func HandleListResolutions(engine *resolution.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all := engine.All()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"count":       len(all),
			"resolutions": all,
			"stats":       engine.Stats(),
		})
	}
}
