// Package handlers holds the HTTP surface. Each handler is a constructor
// taking the engines it needs and returning an http.HandlerFunc, so routing
// stays in one place and handlers are testable with stubs.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/whistlechain/backend/internal/protocol"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the domain error kinds onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var (
		vErr *protocol.ValidationError
		sErr *protocol.StateError
		nErr *protocol.NotFoundError
		cErr *protocol.CryptoError
		lErr *protocol.LedgerError
		dErr *protocol.DependencyError
	)

	status := http.StatusInternalServerError
	body := map[string]interface{}{"error": err.Error()}

	switch {
	case errors.As(err, &vErr):
		status = http.StatusBadRequest
	case errors.As(err, &nErr):
		status = http.StatusNotFound
	case errors.As(err, &sErr):
		status = http.StatusConflict
	case errors.As(err, &cErr):
		status = http.StatusUnprocessableEntity
		body["expected_hash"] = cErr.ExpectedHash
		body["computed_hash"] = cErr.ComputedHash
	case errors.As(err, &lErr):
		status = http.StatusBadGateway
	case errors.As(err, &dErr):
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, body)
}

// evidenceIDParam reads the evidence id from the path or the query string,
// whichever shape the route carries.
func evidenceIDParam(r *http.Request) string {
	if id := mux.Vars(r)["evidence_id"]; id != "" {
		return id
	}
	return r.URL.Query().Get("evidence_id")
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, &protocol.ValidationError{Msg: "invalid request body: " + err.Error()})
		return false
	}
	return true
}
