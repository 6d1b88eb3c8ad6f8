package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/whistlechain/backend/internal/encryption"
	"github.com/whistlechain/backend/internal/events"
	"github.com/whistlechain/backend/internal/metrics"
	"github.com/whistlechain/backend/internal/protocol"
	"github.com/whistlechain/backend/internal/submission"
)

// maxUploadBytes bounds one multipart submission.
const maxUploadBytes = 32 << 20

// HandleSubmitEvidence accepts a multipart submission: one or more files
// plus category, organization, description, stake and an optional mnemonic.
func HandleSubmitEvidence(svc *submission.Service, bus events.Emitter, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, &protocol.ValidationError{Msg: "invalid multipart form: " + err.Error()})
			return
		}

		var stakeMicro uint64
		if raw := r.FormValue("stake_microalgos"); raw != "" {
			parsed, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				writeError(w, &protocol.ValidationError{Msg: "stake_microalgos must be a non-negative integer"})
				return
			}
			stakeMicro = parsed
		}

		var files []encryption.File
		for _, header := range r.MultipartForm.File["files"] {
			f, err := header.Open()
			if err != nil {
				writeError(w, &protocol.ValidationError{Msg: "unreadable upload: " + err.Error()})
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				writeError(w, &protocol.ValidationError{Msg: "unreadable upload: " + err.Error()})
				return
			}
			files = append(files, encryption.File{Name: header.Filename, Data: data})
		}

		receipt, err := svc.Submit(r.Context(), submission.Input{
			Files:        files,
			Category:     r.FormValue("category"),
			Organization: r.FormValue("organization"),
			Description:  r.FormValue("description"),
			StakeMicro:   stakeMicro,
			Mnemonic:     r.FormValue("mnemonic"),
		})
		if err != nil {
			writeError(w, err)
			return
		}

		m.RecordSubmission(r.FormValue("category"), receipt.StakeTier, receipt.StakeMicro)
		if bus != nil {
			bus.Emit(events.TypeEvidenceSubmitted, "/submission", receipt.EvidenceID, map[string]interface{}{
				"category":   r.FormValue("category"),
				"stake_tier": receipt.StakeTier,
				"ipfs_hash":  receipt.IPFSHash,
			})
		}
		writeJSON(w, http.StatusCreated, receipt)
	}
}

// HandleGetEvidence returns one submission record.
func HandleGetEvidence(store submission.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := store.Get(mux.Vars(r)["evidence_id"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// HandleListEvidence lists records, optionally filtered by wallet or status.
func HandleListEvidence(store submission.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var recs []*submission.Record
		switch {
		case r.URL.Query().Get("wallet") != "":
			recs = store.ByWallet(r.URL.Query().Get("wallet"))
		case r.URL.Query().Get("status") != "":
			recs = store.ByStatus(protocol.Status(r.URL.Query().Get("status")))
		default:
			recs = store.All()
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"count":    len(recs),
			"evidence": recs,
		})
	}
}
