package web

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/orthanc/postcleaner/cleaner"
)

const maxRequestBytes = 16 << 10

type cleanRequest struct {
	URL string `json:"url"`
}

type cleanResponse struct {
	Attempt     string `json:"attempt"`
	Outcome     string `json:"outcome"`
	Reason      string `json:"reason,omitempty"`
	Stage       string `json:"stage,omitempty"`
	Detail      string `json:"detail,omitempty"`
	Overwritten bool   `json:"overwritten,omitempty"`
	URI         string `json:"uri,omitempty"`
	Message     string `json:"message"`
}

func (server *Server) clean(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	var request cleanRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	} else {
		request.URL = r.FormValue("url")
	}

	actor := server.actors.Actor()
	if actor.DID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "signed out"})
		return
	}

	if !server.busy.TryAcquire() {
		server.metrics.RejectedBusy.Inc()
		writeJSON(w, http.StatusConflict, map[string]string{"error": "a post is already being deleted"})
		return
	}
	server.metrics.InFlight.Set(1)
	defer func() {
		server.metrics.InFlight.Set(0)
		server.busy.Release()
	}()

	attempt := server.newID()
	endLog := logCleanAttempt(server.logger, attempt, actor, request.URL)
	outcome := server.cleaner.Clean(r.Context(), request.URL, actor)
	server.metrics.Observe(outcome, endLog(outcome))

	response := cleanResponse{
		Attempt:     attempt,
		Outcome:     string(outcome.Kind),
		Reason:      outcome.Reason,
		Stage:       string(outcome.Stage),
		Detail:      outcome.Detail,
		Overwritten: outcome.Overwritten,
		Message:     message(outcome),
	}
	if outcome.Identifier.RecordKey != "" {
		response.URI = outcome.Identifier.String()
	}
	writeJSON(w, statusCode(outcome), response)
}

var _ PostCleaner = (*cleaner.Cleaner)(nil)
