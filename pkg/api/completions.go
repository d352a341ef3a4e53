package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/fleetserve/gateway/pkg/classify"
	"github.com/fleetserve/gateway/pkg/metrics"
	"github.com/fleetserve/gateway/pkg/routing"
)

// maxRequestBody bounds a chat-completion payload. Large multimodal prompts
// fit comfortably; anything bigger is a client error.
const maxRequestBody = 16 << 20

// handleChatCompletions is the OpenAI-compatible entry point. Depending on
// configuration the request is either routed directly or enqueued for the
// batch dispatcher.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	identity, err := s.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	var payload struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}
	if payload.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}

	req := classify.ParseModelRequest(payload.Model)
	if !classify.CanRequestModel(identity.Roles, req) {
		writeError(w, http.StatusForbidden, "requesting a specific model requires the model:specific role")
		return
	}

	start := time.Now()
	defer metrics.TrackInFlight()()

	respBody, runnerID, routeErr := s.dispatch(r, req, body)

	outcome := "success"
	if routeErr != nil {
		outcome = "error"
	}
	metrics.RecordRequest(payload.Model, outcome, time.Since(start))
	s.audit(r, payload.Model, runnerID, body, respBody, routeErr)

	if routeErr != nil {
		s.writeRouteError(w, payload.Model, routeErr)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(respBody)
}

// dispatch sends the request through the batch queue when batching is
// enabled, or routes it directly otherwise.
func (s *Server) dispatch(r *http.Request, req classify.ModelRequest, body []byte) ([]byte, string, error) {
	if !s.cfg.Batching.Enabled {
		return s.router.Route(r.Context(), req, body)
	}

	reply := s.queue.Enqueue(req.String(), body)
	select {
	case res := <-reply:
		return res.Body, res.RunnerID, res.Err
	case <-r.Context().Done():
		// The dispatcher may still serve the request; the buffered reply
		// channel absorbs the result we no longer wait for.
		return nil, "", r.Context().Err()
	}
}

func (s *Server) writeRouteError(w http.ResponseWriter, model string, err error) {
	var runnerErr *routing.RunnerError
	switch {
	case errors.As(err, &runnerErr):
		// Relay the runner's response verbatim.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(runnerErr.StatusCode)
		w.Write(runnerErr.Body)
	case errors.Is(err, routing.ErrNoRunners):
		writeError(w, http.StatusServiceUnavailable, "no operational runner can serve "+model)
	case errors.Is(err, routing.ErrConnectionFailed):
		writeError(w, http.StatusBadGateway, "runner connection failed")
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to write.
	default:
		s.log.Errorf("routing %s: %v", model, err)
		writeError(w, http.StatusInternalServerError, "internal routing error")
	}
}

// audit records the exchange in the in-memory window and the audit store.
func (s *Server) audit(r *http.Request, model, runnerID string, reqBody, respBody []byte, routeErr error) {
	if s.recorder == nil {
		return
	}
	status := http.StatusOK
	response := string(respBody)
	if routeErr != nil {
		var runnerErr *routing.RunnerError
		if errors.As(routeErr, &runnerErr) {
			status = runnerErr.StatusCode
			response = string(runnerErr.Body)
		} else {
			status = http.StatusBadGateway
			response = routeErr.Error()
		}
	}
	s.recorder.Record(r.Context(), metrics.RequestResponsePair{
		Model:      model,
		RunnerID:   runnerID,
		Request:    string(reqBody),
		Response:   response,
		StatusCode: status,
	})
}
