package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/landrop-server/landrop-server/internal/events"
	"github.com/landrop-server/landrop-server/internal/history"
	"github.com/landrop-server/landrop-server/internal/models"
	"github.com/landrop-server/landrop-server/internal/registry"
	"github.com/landrop-server/landrop-server/pkg/crypto"
)

// HandleRegister handles the identity exchange triggered by multicast
// beacons and manual connects. It always succeeds for a well-formed body
// and returns this node's self-description.
func (s *Server) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var info models.SelfDescription
	if err := json.NewDecoder(r.Body).Decode(&info); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.ValidateSelfDescription(&info); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// never record ourselves
	if info.Fingerprint != s.config.Server.Fingerprint {
		device := info.Device(remoteIP(r))
		s.devices.Upsert(device)
		s.sink.Publish(events.Event{
			Type:   events.TypePeerSeen,
			Device: device,
		})
	}

	s.respondJSON(w, http.StatusOK, s.config.Self())
}

// HandlePrepareUpload begins a transfer session. The response is held
// until the transfer is accepted, rejected, or the acceptance window
// elapses.
func (s *Server) HandlePrepareUpload(w http.ResponseWriter, r *http.Request) {
	if !s.checkPIN(r.URL.Query().Get("pin")) {
		s.respondError(w, http.StatusForbidden, "invalid PIN")
		return
	}

	var req models.PrepareUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validator.ValidatePrepareUpload(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sender := *req.Info.Device(remoteIP(r))
	sender.LastSeen = time.Now()
	sender.IsOnline = true

	session, err := s.sessions.Create(sender, req.Files)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	if !s.config.Transfer.AutoAccept {
		if !s.awaitAcceptance(r, session, req) {
			s.sessions.Remove(session.SessionID)
			s.sink.Publish(events.Event{
				Type:      events.TypeSessionDeclined,
				SessionID: session.SessionID,
				Device:    &sender,
			})
			s.respondError(w, http.StatusForbidden, "transfer rejected")
			return
		}
	}

	if err := s.sessions.Accept(session.SessionID); err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to accept session")
		return
	}

	files := make([]models.FileMetadata, 0, len(session.Files))
	for _, slot := range session.Files {
		files = append(files, slot.Info)
	}
	s.sink.Publish(events.Event{
		Type:      events.TypeSessionAccepted,
		SessionID: session.SessionID,
		Device:    &sender,
		Files:     files,
		Total:     session.TotalSize(),
	})

	s.respondJSON(w, http.StatusOK, models.PrepareUploadResponse{
		SessionID: session.SessionID,
		Files:     s.sessions.Tokens(session.SessionID),
	})
}

// awaitAcceptance blocks the handshake on the pending-acceptance decision
// for up to the configured window. No decision means rejection.
func (s *Server) awaitAcceptance(r *http.Request, session *models.Session, req models.PrepareUploadRequest) bool {
	entry := s.pending.Register(session.SessionID, req)

	files := make([]models.FileMetadata, 0, len(req.Files))
	for _, f := range req.Files {
		files = append(files, f)
	}
	s.sink.Publish(events.Event{
		Type:      events.TypeIncomingRequest,
		SessionID: session.SessionID,
		Device:    &session.Sender,
		Files:     files,
		Total:     session.TotalSize(),
	})

	select {
	case accepted := <-entry.Decision:
		return accepted
	case <-time.After(s.config.Transfer.AcceptTimeout):
		log.Info().Str("session", session.SessionID).Msg("Acceptance window elapsed, rejecting")
	case <-r.Context().Done():
		log.Debug().Str("session", session.SessionID).Msg("Sender gave up waiting for acceptance")
	}

	// timeout or sender disconnect races against a concurrent UI
	// decision; resolution is exactly-once, so check who won
	s.pending.Resolve(session.SessionID, false)
	select {
	case accepted := <-entry.Decision:
		return accepted
	default:
		return false
	}
}

// HandleUploadProbe answers a resume probe: the current on-disk size of a
// partial file. Read-only; allowed while the session is still pending.
func (s *Server) HandleUploadProbe(w http.ResponseWriter, r *http.Request) {
	sessionID, fileID, token, ok := uploadParams(r)
	if !ok {
		s.respondError(w, http.StatusBadRequest, "missing parameters")
		return
	}

	if _, err := s.sessions.ValidateProbe(sessionID, fileID, token); err != nil {
		s.respondUploadError(w, err)
		return
	}

	size, exists, err := s.engine.Probe(sessionID, fileID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, models.ProbeResponse{Exists: exists, Size: size})
}

// HandleUpload accepts file bytes. A Range header of the form
// "bytes=start-" resumes at that offset, which must equal the current
// on-disk size.
func (s *Server) HandleUpload(w http.ResponseWriter, r *http.Request) {
	sessionID, fileID, token, ok := uploadParams(r)
	if !ok {
		s.respondError(w, http.StatusBadRequest, "missing parameters")
		return
	}

	info, err := s.sessions.BeginUpload(sessionID, fileID, token)
	if err != nil {
		s.respondUploadError(w, err)
		return
	}

	offset, err := parseRangeStart(r.Header.Get("Range"))
	if err != nil {
		s.respondError(w, http.StatusRequestedRangeNotSatisfiable, err.Error())
		return
	}

	abort := func() error {
		status, ok := s.sessions.Status(sessionID)
		if !ok || status != models.SessionReceiving {
			return registry.ErrSessionClosed
		}
		return nil
	}

	res, err := s.engine.Write(r.Context(), sessionID, info, offset, r.Body, abort)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrRangeInvalid):
			s.respondError(w, http.StatusRequestedRangeNotSatisfiable, err.Error())
		case errors.Is(err, registry.ErrSessionClosed):
			s.respondError(w, http.StatusForbidden, "session cancelled")
		default:
			// transient disk failure: the session stays receiving so the
			// sender can retry
			log.Error().Err(err).Str("session", sessionID).Str("file", fileID).Msg("Upload write failed")
			s.respondError(w, http.StatusInternalServerError, "write failed")
		}
		return
	}

	// the session may have been cancelled while the body was streaming in
	if status, ok := s.sessions.Status(sessionID); !ok || status.Terminal() && status != models.SessionCompleted {
		s.respondError(w, http.StatusForbidden, "session cancelled")
		return
	}

	s.sink.Publish(events.Event{
		Type:      events.TypeFileProgress,
		SessionID: sessionID,
		FileID:    fileID,
		FileName:  info.FileName,
		Bytes:     res.Size,
		Total:     info.Size,
	})

	if !res.Complete {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"received": res.Size,
		})
		return
	}

	completed, err := s.sessions.FinishFile(sessionID, fileID, res.FinalPath)
	if err != nil {
		s.respondUploadError(w, err)
		return
	}

	s.sink.Publish(events.Event{
		Type:      events.TypeFileReceived,
		SessionID: sessionID,
		FileID:    fileID,
		FileName:  info.FileName,
		Bytes:     res.Size,
		Total:     info.Size,
	})

	if completed {
		s.finishSession(r, sessionID, events.TypeSessionCompleted)
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{})
}

// HandleCancel aborts a session. Idempotent; cancelling an unknown or
// already-terminal session still returns 200.
func (s *Server) HandleCancel(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		s.respondError(w, http.StatusBadRequest, "missing sessionId")
		return
	}

	// a pending handshake for this session resolves as rejected
	s.pending.Resolve(sessionID, false)

	if s.sessions.Cancel(sessionID) {
		s.engine.Discard(sessionID)
		s.finishSession(r, sessionID, events.TypeSessionCancelled)
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{})
}

// HandleInfo returns this node's self-description.
func (s *Server) HandleInfo(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.config.Self())
}

// finishSession publishes the terminal event and records history.
func (s *Server) finishSession(r *http.Request, sessionID string, eventType events.Type) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return
	}

	s.sink.Publish(events.Event{
		Type:      eventType,
		SessionID: sessionID,
		Device:    &session.Sender,
		Total:     session.TotalSize(),
	})

	if s.history != nil {
		if err := s.history.Record(r.Context(), history.FromSession(session, "receive")); err != nil {
			log.Warn().Err(err).Str("session", sessionID).Msg("Failed to record history")
		}
	}
}

// checkPIN applies the local PIN policy. The hashed form wins when both
// are configured.
func (s *Server) checkPIN(pin string) bool {
	if !s.config.Transfer.RequirePIN {
		return true
	}
	if pin == "" {
		return false
	}
	if s.config.Transfer.PINHash != "" {
		return crypto.VerifyPIN(pin, s.config.Transfer.PINHash)
	}
	return pin == s.config.Transfer.PIN
}

// respondUploadError maps registry errors onto the protocol's status
// codes.
func (s *Server) respondUploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrForbidden):
		s.respondError(w, http.StatusForbidden, "invalid token")
	case errors.Is(err, registry.ErrSessionClosed):
		s.respondError(w, http.StatusForbidden, "session not accepting uploads")
	case errors.Is(err, registry.ErrRangeInvalid):
		s.respondError(w, http.StatusRequestedRangeNotSatisfiable, err.Error())
	default:
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// uploadParams pulls the three required upload query parameters.
func uploadParams(r *http.Request) (sessionID, fileID, token string, ok bool) {
	q := r.URL.Query()
	sessionID = q.Get("sessionId")
	fileID = q.Get("fileId")
	token = q.Get("token")
	ok = sessionID != "" && fileID != "" && token != ""
	return
}

// parseRangeStart parses a "bytes=start-" Range header. Returns -1 when
// no range was supplied. Multi-part and suffix ranges are not meaningful
// for append-only resume and are rejected.
func parseRangeStart(header string) (int64, error) {
	if header == "" {
		return -1, nil
	}
	value, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, errors.New("unsupported range unit")
	}
	start, rest, ok := strings.Cut(value, "-")
	if !ok || start == "" {
		return 0, errors.New("invalid range")
	}
	if rest != "" || strings.Contains(value, ",") {
		return 0, errors.New("only open-ended single ranges are supported")
	}
	offset, err := strconv.ParseInt(start, 10, 64)
	if err != nil || offset < 0 {
		return 0, errors.New("invalid range offset")
	}
	return offset, nil
}
