package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-avr/internal/receiver"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500

	// maxQueryParamLen limits path and query parameter length.
	maxQueryParamLen = 100
)

// receiverResponse describes one receiver and its last published state.
type receiverResponse struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Host            string         `json:"host"`
	MaxVolume       int            `json:"max_volume"`
	Sources         []string       `json:"sources"`
	Phase           string         `json:"phase"`
	PoweringOn      bool           `json:"powering_on"`
	PoweringOnUntil *time.Time     `json:"powering_on_until,omitempty"`
	PowerMechanism  bool           `json:"power_mechanism"`
	State           *stateResponse `json:"state,omitempty"`
}

// stateResponse is a published state with its source resolved to a name.
type stateResponse struct {
	receiver.State
	SourceName string    `json:"source_name,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// commandResponse acknowledges an accepted command.
type commandResponse struct {
	CommandID  string `json:"command_id"`
	ReceiverID string `json:"receiver_id"`
	Action     string `json:"action"`
	Status     string `json:"status"`
}

func newReceiverResponse(d *receiver.Device) receiverResponse {
	resp := receiverResponse{
		ID:             d.ID,
		Name:           d.Name,
		Host:           d.Host,
		MaxVolume:      d.MaxVolume,
		Sources:        d.Sources.Names(),
		Phase:          d.Phase().String(),
		PoweringOn:     d.PoweringOn(),
		PowerMechanism: d.HasPowerMechanism(),
		State:          viewOf(d),
	}
	if until := d.PoweringOnUntil(); !until.IsZero() {
		resp.PoweringOnUntil = &until
	}
	return resp
}

// viewOf returns the device's last published state, or nil before the first publish.
func viewOf(d *receiver.Device) *stateResponse {
	state, at, ok := d.View()
	if !ok {
		return nil
	}
	name, _ := d.Sources.Name(state.Source) //nolint:errcheck // Unknown index leaves the name empty
	return &stateResponse{State: state, SourceName: name, UpdatedAt: at}
}

// handleListReceivers returns every receiver in registration order.
func (s *Server) handleListReceivers(w http.ResponseWriter, _ *http.Request) {
	devices := s.receivers.Devices()
	out := make([]receiverResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, newReceiverResponse(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"receivers": out,
		"count":     len(out),
	})
}

// handleGetReceiver returns one receiver.
func (s *Server) handleGetReceiver(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newReceiverResponse(d))
}

// handleGetReceiverState returns the last published state only.
func (s *Server) handleGetReceiverState(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	view := viewOf(d)
	if view == nil {
		writeNotFound(w, "no state published yet")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleGetReceiverHistory returns recorded state changes, newest first.
func (s *Server) handleGetReceiverHistory(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	if s.history == nil {
		writeUnavailable(w, "state history is not configured")
		return
	}

	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	entries, err := s.history.List(r.Context(), d.ID, limit)
	if err != nil {
		s.logger.Error("listing state history failed", "receiver_id", d.ID, "error", err)
		writeInternalError(w, "failed to list state history")
		return
	}
	if entries == nil {
		entries = []receiver.HistoryEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"receiver_id": d.ID,
		"entries":     entries,
		"count":       len(entries),
	})
}

// handleCommand validates a command and hands it to the dispatcher.
// It answers 202 before the receiver has acted; the outcome shows up as a
// published state.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	var cmd receiver.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	if err := s.executor.Execute(d, cmd); err != nil {
		if writeDomainError(w, err) {
			return
		}
		s.logger.Error("executing command failed", "receiver_id", d.ID, "action", cmd.Action, "error", err)
		writeInternalError(w, "failed to execute command")
		return
	}

	s.logger.Debug("command accepted", "receiver_id", d.ID, "action", cmd.Action, "command_id", cmd.ID)
	writeJSON(w, http.StatusAccepted, commandResponse{
		CommandID:  cmd.ID,
		ReceiverID: d.ID,
		Action:     cmd.Action,
		Status:     "accepted",
	})
}

// lookupDevice resolves the {id} path parameter, writing the error response
// itself when the receiver cannot be found.
func (s *Server) lookupDevice(w http.ResponseWriter, r *http.Request) (*receiver.Device, bool) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid receiver ID")
		return nil, false
	}

	d, err := s.receivers.Device(id)
	if err != nil {
		if !writeDomainError(w, err) {
			writeInternalError(w, "failed to look up receiver")
		}
		return nil, false
	}
	return d, true
}

// parseHistoryLimit parses the limit query parameter.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	if len(raw) > maxQueryParamLen {
		return 0, fmt.Errorf("invalid limit")
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if limit > maxHistoryLimit {
		return 0, fmt.Errorf("limit exceeds maximum of %d", maxHistoryLimit)
	}

	return limit, nil
}
