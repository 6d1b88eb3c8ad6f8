package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/whistlechain/backend/internal/audit"
	"github.com/whistlechain/backend/internal/events"
)

// HandlePublishAudit anchors the complete audit trail as public record. The
// evidence id arrives as a query parameter or in the JSON body.
func HandlePublishAudit(engine *audit.Engine, bus events.Emitter) http.HandlerFunc {
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
		result, err := engine.Publish(r.Context(), evidenceID)
		if err != nil {
			writeError(w, err)
			return
		}
		if bus != nil {
			bus.Emit(events.TypeAuditPublished, "/audit", evidenceID, map[string]interface{}{
				"tx_id": result.TxID,
			})
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// HandleAuditTrail returns the full trail for one case, published or not.
func HandleAuditTrail(engine *audit.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		trail, err := engine.Trail(mux.Vars(r)["evidence_id"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, trail)
	}
}

// HandlePublicEvidence lists every published case.
func HandlePublicEvidence(engine *audit.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records := engine.PublicEvidence()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"count":    len(records),
			"evidence": records,
			"stats":    engine.Stats(),
		})
	}
}
