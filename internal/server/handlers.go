package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/unkn0wn-root/offcache"
	"github.com/unkn0wn-root/offcache/prefs"
)

// maxTextBytes bounds PUT /text bodies.
const maxTextBytes = 1 << 20

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// VersionStatus describes one controller.
type VersionStatus struct {
	ID      string         `json:"id"`
	Version string         `json:"version"`
	State   offcache.State `json:"state"`
	Digest  string         `json:"digest"`
}

// StatusResponse represents the response body for GET status.
type StatusResponse struct {
	Active  *VersionStatus       `json:"active"`
	Waiting *VersionStatus       `json:"waiting,omitempty"`
	Clients int                  `json:"clients"`
	Stores  []offcache.StoreInfo `json:"stores"`
	Stats   offcache.Stats       `json:"stats"`
}

func versionStatus(c *offcache.Controller) *VersionStatus {
	if c == nil {
		return nil
	}
	return &VersionStatus{ID: c.ID(), Version: c.Version(), State: c.State(), Digest: c.Digest()}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg})
}

// handleStatus handles GET status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stores, err := offcache.ListStores(r.Context(), s.deps.Storage)
	if err != nil {
		s.logger.Error("failed to list stores", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list stores")
		return
	}
	reg := s.deps.Registration
	writeJSON(w, http.StatusOK, StatusResponse{
		Active:  versionStatus(reg.Active()),
		Waiting: versionStatus(reg.Waiting()),
		Clients: reg.Clients(),
		Stores:  stores,
		Stats:   s.deps.Proxy.Stats(),
	})
}

// handleMessage handles POST message requests.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg offcache.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		s.logger.Warn("failed to decode message", "error", err)
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}

	if err := s.deps.Registration.PostMessage(r.Context(), msg); err != nil {
		s.logger.Error("message failed", "type", msg.Type, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Debug("message delivered", "type", msg.Type)
	w.WriteHeader(http.StatusAccepted)
}

// handleEvents streams controller changes as server-sent events. The stream
// counts as a connected client for as long as it is open.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	reg := s.deps.Registration
	changes, cancel := reg.Subscribe(8)
	defer cancel()
	client := reg.Connect()
	defer func() {
		if err := client.Close(context.WithoutCancel(r.Context())); err != nil {
			s.logger.Warn("activation after disconnect failed", "client", client.ID(), "error", err)
		}
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	hello := struct {
		Client  string `json:"client"`
		Version string `json:"version,omitempty"`
	}{Client: client.ID()}
	if c := client.Controller(); c != nil {
		hello.Version = c.Version()
	}
	if err := writeEvent(w, "hello", hello); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case ch, ok := <-changes:
			if !ok {
				return
			}
			if err := writeEvent(w, "controllerchange", ch); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// handleGetPrefs handles GET prefs requests.
func (s *Server) handleGetPrefs(w http.ResponseWriter, r *http.Request) {
	p, ok, err := s.deps.Prefs.Load(r.Context())
	if err != nil {
		s.logger.Error("failed to load prefs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load prefs")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no prefs saved")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handlePutPrefs handles PUT prefs requests.
func (s *Server) handlePutPrefs(w http.ResponseWriter, r *http.Request) {
	var p prefs.Prefs
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if _, err := p.Speed.Rate(); err != nil {
		writeError(w, http.StatusBadRequest, "speed must be a number")
		return
	}
	if err := s.deps.Prefs.Save(r.Context(), p); err != nil {
		s.logger.Error("failed to save prefs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save prefs")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetText handles GET text requests.
func (s *Server) handleGetText(w http.ResponseWriter, r *http.Request) {
	text, ok, err := s.deps.Prefs.Text(r.Context())
	if err != nil {
		s.logger.Error("failed to load text", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load text")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no text saved")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, text)
}

// handlePutText handles PUT text requests.
func (s *Server) handlePutText(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTextBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "text too large")
		return
	}
	if err := s.deps.Prefs.SaveText(r.Context(), string(body)); err != nil {
		s.logger.Error("failed to save text", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save text")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
