package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/iotzoo/iotzoo-core/internal/device"
	"github.com/iotzoo/iotzoo-core/internal/reconcile"
)

// RegisterRequest is the body of POST /microcontrollers.
type RegisterRequest struct {
	MAC             string `json:"mac"`
	BoardType       string `json:"board_type"`
	IPAddress       string `json:"ip_address"`
	ProjectName     string `json:"project_name"`
	FirmwareVersion string `json:"firmware_version"`
}

// AddDeviceRequest is the body of POST /microcontrollers/{mac}/devices.
// The device starts from the template defaults; Pins and Properties
// override them by name.
type AddDeviceRequest struct {
	Type       string            `json:"type"`
	Enabled    *bool             `json:"enabled,omitempty"`
	Pins       map[string]int    `json:"pins,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// SetPinRequest is the body of PUT .../pins/{name}.
type SetPinRequest struct {
	GPIO *int `json:"gpio"`
}

// SetPropertyRequest is the body of PUT .../properties/{name}.
type SetPropertyRequest struct {
	Value *string `json:"value"`
}

// SetEnabledRequest is the body of PUT .../enabled.
type SetEnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func macParam(r *http.Request) string {
	return chi.URLParam(r, "mac")
}

func indexParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeBadRequest(w, "device index must be an integer")
		return 0, false
	}
	return index, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return false
	}
	return true
}

// handleListMicrocontrollers returns the session of every attached board.
// With ?source=stored the persisted records are returned instead.
func (s *Server) handleListMicrocontrollers(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("source") == "stored" {
		if s.repo == nil {
			s.writeDomainError(w, r, reconcile.ErrNoRepository)
			return
		}
		stored, err := s.repo.List(r.Context())
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"microcontrollers": stored, "count": len(stored)})
		return
	}

	sessions := s.engine.Sessions()
	writeJSON(w, http.StatusOK, map[string]any{"microcontrollers": sessions, "count": len(sessions)})
}

// handleRegisterMicrocontroller registers a board by hand, as an
// announcement on register_microcontroller would.
func (s *Server) handleRegisterMicrocontroller(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeBody(w, r, &req) {
		return
	}

	snap, err := s.engine.Discover(r.Context(), device.KnownMicrocontroller{
		MAC:             req.MAC,
		BoardType:       req.BoardType,
		IPAddress:       req.IPAddress,
		ProjectName:     req.ProjectName,
		FirmwareVersion: req.FirmwareVersion,
		Enabled:         true,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// handleGetMicrocontroller returns the session snapshot of one board.
func (s *Server) handleGetMicrocontroller(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Snapshot(macParam(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleDeleteMicrocontroller removes the stored record and the session.
func (s *Server) handleDeleteMicrocontroller(w http.ResponseWriter, r *http.Request) {
	if s.repo == nil {
		s.writeDomainError(w, r, reconcile.ErrNoRepository)
		return
	}
	mac := macParam(r)
	if err := s.repo.Delete(r.Context(), mac); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if err := s.engine.Detach(mac); err != nil && !errors.Is(err, reconcile.ErrSessionNotFound) {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLoad starts an edit from the stored record.
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Load(r.Context(), macParam(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleRequestConfig asks the board for its configuration. The answer
// arrives asynchronously as a config.received event.
func (s *Server) handleRequestConfig(w http.ResponseWriter, r *http.Request) {
	mac := macParam(r)
	if err := s.engine.RequestRemoteConfig(mac); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	snap, err := s.engine.Snapshot(mac)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}

// handleFetchConfig pulls the configuration from the board's web server.
func (s *Server) handleFetchConfig(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.FetchRemoteConfig(r.Context(), macParam(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleAddDevice instantiates a template and appends it to the mirror.
func (s *Server) handleAddDevice(w http.ResponseWriter, r *http.Request) {
	var req AddDeviceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Type == "" {
		writeBadRequest(w, "type is required")
		return
	}

	d, err := s.catalog.Instantiate(req.Type)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if req.Enabled != nil {
		d.Enabled = *req.Enabled
	}
	for name, gpio := range req.Pins {
		if err := d.SetPin(name, gpio); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
	}
	for name, value := range req.Properties {
		d.SetProperty(name, value)
	}

	snap, err := s.engine.AddDevice(macParam(r), d)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// handleRemoveDevice deletes the device at {index}.
func (s *Server) handleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	index, ok := indexParam(w, r)
	if !ok {
		return
	}
	snap, err := s.engine.RemoveDevice(macParam(r), index)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleSetPin rebinds pin {name} of the device at {index}.
func (s *Server) handleSetPin(w http.ResponseWriter, r *http.Request) {
	index, ok := indexParam(w, r)
	if !ok {
		return
	}
	var req SetPinRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.GPIO == nil {
		writeBadRequest(w, "gpio is required")
		return
	}

	snap, err := s.engine.SetPin(macParam(r), index, chi.URLParam(r, "name"), *req.GPIO)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleSetProperty sets property {name} of the device at {index}.
func (s *Server) handleSetProperty(w http.ResponseWriter, r *http.Request) {
	index, ok := indexParam(w, r)
	if !ok {
		return
	}
	var req SetPropertyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Value == nil {
		writeBadRequest(w, "value is required")
		return
	}

	snap, err := s.engine.SetProperty(macParam(r), index, chi.URLParam(r, "name"), *req.Value)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleSetDeviceEnabled enables or disables the device at {index}.
func (s *Server) handleSetDeviceEnabled(w http.ResponseWriter, r *http.Request) {
	index, ok := indexParam(w, r)
	if !ok {
		return
	}
	var req SetEnabledRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		writeBadRequest(w, "enabled is required")
		return
	}

	snap, err := s.engine.SetDeviceEnabled(macParam(r), index, *req.Enabled)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handlePush sends the mirror to the board. A failed push still reports
// the attempt: the response carries the result next to the error.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.PushConfig(r.Context(), macParam(r))
	if err != nil {
		if res.ID == uuid.Nil {
			s.writeDomainError(w, r, err)
			return
		}
		status, code := errorStatus(err)
		writeJSON(w, status, map[string]any{
			"error": Error{Status: status, Code: code, Message: err.Error()},
			"push":  res,
		})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handlePushMicrocontrollerConfig sends namespace, project and broker
// address to the board.
func (s *Server) handlePushMicrocontrollerConfig(w http.ResponseWriter, r *http.Request) {
	channel, err := s.engine.PushMicrocontrollerConfig(r.Context(), macParam(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"channel": channel})
}

// handleSave persists the mirror, guarded by the baseline fingerprint.
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	fp, err := s.engine.Save(r.Context(), macParam(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"fingerprint": string(fp)})
}

// handleSetMicrocontrollerEnabled soft-enables or soft-disables a board.
func (s *Server) handleSetMicrocontrollerEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := s.engine.SetMicrocontrollerEnabled(r.Context(), macParam(r), enabled)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}
