package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/landrop-server/landrop-server/internal/connect"
	"github.com/landrop-server/landrop-server/internal/events"
	"github.com/landrop-server/landrop-server/internal/models"
)

// connectRequest targets a peer by address or connection key. Exactly one
// of the two fields is expected.
type connectRequest struct {
	IP  string `json:"ip,omitempty"`
	Key string `json:"key,omitempty"`
}

// sessionView is the local read model for a transfer session.
type sessionView struct {
	SessionID string               `json:"sessionId"`
	Sender    models.Device        `json:"sender"`
	Status    models.SessionStatus `json:"status"`
	Files     []fileView           `json:"files"`
	TotalSize int64                `json:"totalSize"`
}

type fileView struct {
	Info     models.FileMetadata `json:"info"`
	Received bool                `json:"received"`
	Path     string              `json:"path,omitempty"`
}

// setupLocalRoutes mounts the control surface consumed by a local UI or
// CLI. It is not part of the peer-facing protocol.
func (s *Server) setupLocalRoutes(r chi.Router) {
	r.Get("/devices", s.handleListDevices)
	r.Post("/connect", s.handleConnect)
	r.Get("/sessions", s.handleListSessions)
	r.Get("/sessions/{sessionID}", s.handleGetSession)
	r.Post("/sessions/{sessionID}/accept", s.handleAcceptSession)
	r.Post("/sessions/{sessionID}/reject", s.handleRejectSession)
	r.Post("/sessions/{sessionID}/cancel", s.handleCancelSession)
	r.Get("/history", s.handleHistory)
	r.Get("/info", s.HandleInfo)
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.devices.List()
	views := make([]map[string]interface{}, 0, len(devices))
	for _, d := range devices {
		views = append(views, map[string]interface{}{
			"device":        d,
			"connectionKey": connect.Key(d.Fingerprint),
		})
	}
	s.respondJSON(w, http.StatusOK, views)
}

// handleConnect resolves a peer manually, by IP probe or by connection
// key against the already-discovered set.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch {
	case req.IP != "":
		if s.resolver == nil {
			s.respondError(w, http.StatusServiceUnavailable, "connect resolver not available")
			return
		}
		device, err := s.resolver.ByIP(r.Context(), req.IP)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if device == nil {
			s.respondError(w, http.StatusNotFound, "no device at that address")
			return
		}
		s.respondJSON(w, http.StatusOK, device)
	case req.Key != "":
		if !connect.ValidKey(connect.NormalizeKey(req.Key)) {
			s.respondError(w, http.StatusBadRequest, "malformed connection key")
			return
		}
		var device *models.Device
		if s.resolver != nil {
			device = s.resolver.ByKey(req.Key)
		}
		if device == nil {
			s.respondError(w, http.StatusNotFound, "no discovered device matches that key")
			return
		}
		s.respondJSON(w, http.StatusOK, device)
	default:
		s.respondError(w, http.StatusBadRequest, "ip or key required")
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.sessions.List()
	views := make([]sessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, newSessionView(session))
	}
	s.respondJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessions.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		s.respondError(w, http.StatusNotFound, "session not found")
		return
	}
	s.respondJSON(w, http.StatusOK, newSessionView(session))
}

func (s *Server) handleAcceptSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !s.AcceptSession(sessionID) {
		s.respondError(w, http.StatusNotFound, "no pending request for session")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handleRejectSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !s.RejectSession(sessionID) {
		s.respondError(w, http.StatusNotFound, "no pending request for session")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// handleCancelSession cancels a session from the receiving side. The
// sender observes the cancellation on its next upload request.
func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	s.pending.Resolve(sessionID, false)

	if s.sessions.Cancel(sessionID) {
		s.engine.Discard(sessionID)
		s.finishSession(r, sessionID, events.TypeSessionCancelled)
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.respondError(w, http.StatusNotFound, "history is disabled")
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	entries, total, err := s.history.List(r.Context(), limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   total,
	})
}

func newSessionView(session *models.Session) sessionView {
	view := sessionView{
		SessionID: session.SessionID,
		Sender:    session.Sender,
		Status:    session.Status,
		Files:     make([]fileView, 0, len(session.Files)),
		TotalSize: session.TotalSize(),
	}
	for _, slot := range session.Files {
		view.Files = append(view.Files, fileView{
			Info:     slot.Info,
			Received: slot.Received,
			Path:     slot.Path,
		})
	}
	return view
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
