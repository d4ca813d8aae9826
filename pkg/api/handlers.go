package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/opsim/internal/logger"
	adapter "github.com/marmos91/opsim/pkg/adapter/openprotocol"
	"github.com/marmos91/opsim/pkg/scenario"
	"github.com/marmos91/opsim/pkg/simulator"
)

// Publisher injects simulation events and fans them out to subscribed
// protocol sessions. The TCP adapter satisfies it.
type Publisher interface {
	Publish(source, eventType string, payload map[string]any) adapter.PublishResult
}

// Ports reports the protocol listener ports in the health payload.
type Ports struct {
	Classic int `json:"classic"`
	Actor   int `json:"actor"`
	Viewer  int `json:"viewer"`
}

// Handlers implements the control plane endpoints over the simulator state.
type Handlers struct {
	state     *simulator.State
	publisher Publisher
	runner    *scenario.Runner
	version   string
	ports     Ports
}

// NewHandlers builds the control plane handler set.
func NewHandlers(state *simulator.State, publisher Publisher, runner *scenario.Runner, version string, ports Ports) *Handlers {
	return &Handlers{
		state:     state,
		publisher: publisher,
		runner:    runner,
		version:   version,
		ports:     ports,
	}
}

// Health reports liveness plus a summary of the running simulator.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"version":            h.version,
		"profile":            h.state.Profiles().ActiveName(),
		"mid_count":          h.state.Catalog().Len(),
		"sessions":           len(h.state.Sessions()),
		"keepalive_hint_sec": h.state.InactivityHint(),
		"ports":              h.ports,
	})
}

// GetProfiles lists the known profiles and the active one.
func (h *Handlers) GetProfiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.state.ProfilePayload())
}

// SetActiveProfile switches the active controller profile.
func (h *Handlers) SetActiveProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Profile string `json:"profile"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.state.SetProfile(req.Profile); err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Unknown profile %s", req.Profile))
		return
	}
	logger.Info("Profile switched", "profile", req.Profile)
	writeJSON(w, http.StatusOK, h.state.ProfilePayload())
}

// GetSessions lists the live protocol sessions.
func (h *Handlers) GetSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.state.Sessions()
	if sessions == nil {
		sessions = []simulator.SessionSnapshot{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// GetTraffic returns captured protocol frames, newest last.
func (h *Handlers) GetTraffic(w http.ResponseWriter, r *http.Request) {
	filter := simulator.TrafficFilter{
		MID:       r.URL.Query().Get("mid"),
		SessionID: r.URL.Query().Get("session_id"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 500 {
			writeError(w, http.StatusUnprocessableEntity, "limit must be between 1 and 500")
			return
		}
		filter.Limit = limit
	}

	records := h.state.ListTraffic(filter)
	if records == nil {
		records = []simulator.TrafficRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// GetFullState returns every state domain.
func (h *Handlers) GetFullState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.state.Domains())
}

// GetStateDomain returns a single state domain.
func (h *Handlers) GetStateDomain(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	payload, err := h.state.Domain(domain)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Unknown domain %s", domain))
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// PutStateDomain merges a payload into a state domain and returns the
// updated domain.
func (h *Handlers) PutStateDomain(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	var req struct {
		Payload map[string]any `json:"payload"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	updated, err := h.state.UpdateDomain(domain, req.Payload)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Unknown domain %s", domain))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"domain": domain, "state": updated})
}

// PostEvent injects a simulation event and pushes it to subscribers.
func (h *Handlers) PostEvent(w http.ResponseWriter, r *http.Request) {
	eventName := chi.URLParam(r, "event_name")
	var req struct {
		Payload map[string]any `json:"payload"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result := h.publisher.Publish("api", eventName, req.Payload)
	logger.Info("Event injected",
		"event_type", eventName,
		"event_id", result.EventID,
		"pushed", result.PushedMessages,
	)
	writeJSON(w, http.StatusOK, result)
}

// ListScenarios lists the runnable scenario names.
func (h *Handlers) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"scenarios": h.runner.Names()})
}

// RunScenario replays a named scenario, merging the request payload over
// each step's payload.
func (h *Handlers) RunScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string         `json:"name"`
		Payload map[string]any `json:"payload"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.runner.Run(r.Context(), req.Name, req.Payload)
	if err != nil {
		if errors.Is(err, scenario.ErrUnknownScenario) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("Unknown scenario %s", req.Name))
			return
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusRequestTimeout, "scenario run interrupted")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	logger.Info("Scenario completed", "scenario", req.Name, "steps", result.StepsExecuted)
	writeJSON(w, http.StatusOK, result)
}

// Reset restores the domain tree to its boot state and resets every session's
// link counters. The traffic ring survives.
func (h *Handlers) Reset(w http.ResponseWriter, r *http.Request) {
	h.state.Reset()
	logger.Info("Simulator state reset")
	writeJSON(w, http.StatusOK, map[string]any{"status": "reset"})
}

// Capabilities returns the capability matrix for the active profile.
func (h *Handlers) Capabilities(w http.ResponseWriter, r *http.Request) {
	matrix := h.state.CapabilityMatrix()
	writeJSON(w, http.StatusOK, map[string]any{"count": len(matrix), "items": matrix})
}
