package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/whistlechain/backend/internal/events"
	"github.com/whistlechain/backend/internal/protocol"
	"github.com/whistlechain/backend/internal/publication"
	"github.com/whistlechain/backend/internal/submission"
)

// defaultPublicationDelay is the challenge window for scheduled fan-outs.
const defaultPublicationDelay = 24 * time.Hour

func publicationInput(store submission.Store, evidenceID, verdict string) publication.Input {
	in := publication.Input{EvidenceID: evidenceID, Verdict: verdict}
	if rec, err := store.Get(evidenceID); err == nil {
		in.Category = rec.Category
		in.Organization = rec.Organization
		in.Description = rec.Description
		in.IPFSHash = rec.IPFSHash
		in.TxID = rec.TxID
		in.Block = rec.Block
	}
	return in
}

// HandlePublishEverywhere fans a verified case out to every channel at once.
// The evidence id arrives in the path or in the JSON body.
func HandlePublishEverywhere(bot *publication.Bot, store submission.Store, bus events.Emitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		evidenceID := evidenceIDParam(r)
		verdict := string(protocol.StatusVerified)
		if evidenceID == "" {
			var req struct {
				EvidenceID string `json:"evidence_id"`
				Verdict    string `json:"verdict"`
			}
			if !decodeBody(w, r, &req) {
				return
			}
			evidenceID = req.EvidenceID
			if req.Verdict != "" {
				verdict = req.Verdict
			}
		}
		pub, err := bot.PublishAll(publicationInput(store, evidenceID, verdict))
		if err != nil {
			writeError(w, err)
			return
		}
		if bus != nil {
			bus.Emit(events.TypePublicationFanout, "/publication", evidenceID, map[string]interface{}{
				"platforms_reached": pub.Summary.PlatformsReached,
				"rti_reference":     pub.Channels.RTI.Reference,
			})
		}
		writeJSON(w, http.StatusOK, pub)
	}
}

// HandleSchedulePublication queues a delayed fan-out with a cancel window.
func HandleSchedulePublication(bot *publication.Bot, store submission.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			EvidenceID   string `json:"evidence_id"`
			DelaySeconds int64  `json:"delay_seconds"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.EvidenceID == "" {
			writeError(w, &protocol.ValidationError{Msg: "evidence_id is required"})
			return
		}
		delay := defaultPublicationDelay
		if req.DelaySeconds > 0 {
			delay = time.Duration(req.DelaySeconds) * time.Second
		}
		item := bot.Schedule(publicationInput(store, req.EvidenceID, ""), delay)
		writeJSON(w, http.StatusCreated, item)
	}
}

// HandleCancelPublication withdraws a scheduled fan-out inside its window.
func HandleCancelPublication(bot *publication.Bot) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		evidenceID := mux.Vars(r)["evidence_id"]
		if err := bot.Cancel(evidenceID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"evidence_id": evidenceID,
			"status":      "CANCELLED",
		})
	}
}

// HandleGetPublication returns one fan-out record.
func HandleGetPublication(bot *publication.Bot) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pub, err := bot.Publication(mux.Vars(r)["evidence_id"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, pub)
	}
}

// HandlePublicationQueue lists scheduled fan-outs and overall stats.
func HandlePublicationQueue(bot *publication.Bot) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		queue := bot.Queue()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"count": len(queue),
			"queue": queue,
			"due":   len(bot.Due()),
			"stats": bot.Stats(),
		})
	}
}
