// Package server exposes the citizen access HTTP API: invite issuance for
// operators, the SMS landing link, and the OTP challenge/verify endpoints.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"citizen-access-plane/internal/devotp"
	"citizen-access-plane/internal/otp"
	sessiondomain "citizen-access-plane/internal/session/domain"
	"citizen-access-plane/internal/session/service"
)

// SessionManager is the session surface the handlers need.
type SessionManager interface {
	IssueInvite(ctx context.Context, caseID, centerID, phone string) (*service.InviteResult, error)
	ResolveToken(ctx context.Context, rawToken, clientIP string) (*service.SessionView, error)
	EnsureWritable(ctx context.Context, sessionID string) (*sessiondomain.CitizenSession, error)
}

// OTPVerifier is the challenge surface the handlers need.
type OTPVerifier interface {
	RequestChallenge(ctx context.Context, sessionID, clientIP, phone string) (*otp.ChallengeResult, error)
	VerifyChallenge(ctx context.Context, sessionID, code, clientIP, phone string) error
}

type Server struct {
	sessions SessionManager
	verifier OTPVerifier
	devStore devotp.Store // nil unless dev OTP echo is enabled
	logger   *slog.Logger
}

// New returns a Server. devStore enables GET /dev/otp and must be nil in production.
func New(sessions SessionManager, verifier OTPVerifier, devStore devotp.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{sessions: sessions, verifier: verifier, devStore: devStore, logger: logger}
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("POST /api/invites", s.createInvite)
	mux.HandleFunc("GET /p/sms", s.resolveInvite)
	mux.HandleFunc("POST /api/sessions/{id}/otp/request", s.requestOTP)
	mux.HandleFunc("POST /api/sessions/{id}/otp/verify", s.verifyOTP)
	mux.HandleFunc("POST /api/sessions/{id}/writable", s.ensureWritable)

	if s.devStore != nil {
		mux.HandleFunc("GET /dev/otp", s.devOTP)
	}

	return RequestLogger(s.logger.With("component", "http"))(Traced(WithClientIP(mux)))
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createInviteRequest struct {
	CaseID   string `json:"caseId"`
	CenterID string `json:"centerId"`
	Phone    string `json:"phone"`
}

func (s *Server) createInvite(w http.ResponseWriter, r *http.Request) {
	var req createInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("bad_request", "invalid JSON"))
		return
	}
	if req.CaseID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("bad_request", "caseId is required"))
		return
	}

	res, err := s.sessions.IssueInvite(r.Context(), req.CaseID, req.CenterID, req.Phone)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"sessionId": res.SessionID,
		"inviteUrl": res.InviteURL,
		"expiresAt": res.ExpiresAt,
	})
}

func (s *Server) resolveInvite(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("t")
	view, err := s.sessions.ResolveToken(r.Context(), token, ClientIPFromContext(r.Context()))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type otpRequestBody struct {
	Phone string `json:"phone"`
}

func (s *Server) requestOTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	var req otpRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("bad_request", "invalid JSON"))
		return
	}

	res, err := s.verifier.RequestChallenge(r.Context(), sessionID, ClientIPFromContext(r.Context()), req.Phone)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	body := map[string]any{"ttlSeconds": res.TTLSeconds}
	if res.Code != "" {
		body["code"] = res.Code
	}
	writeJSON(w, http.StatusAccepted, body)
}

type otpVerifyBody struct {
	Code  string `json:"code"`
	Phone string `json:"phone"`
}

func (s *Server) verifyOTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	var req otpVerifyBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("bad_request", "invalid JSON"))
		return
	}
	if req.Code == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("bad_request", "code is required"))
		return
	}

	if err := s.verifier.VerifyChallenge(r.Context(), sessionID, req.Code, ClientIPFromContext(r.Context()), req.Phone); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

// ensureWritable is the write gate clients call before submitting changes.
// In demo mode this is also where the one-time verification bypass happens.
func (s *Server) ensureWritable(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	sess, err := s.sessions.EnsureWritable(r.Context(), sessionID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": sess.ID,
		"caseId":    sess.CaseID,
		"writable":  true,
	})
}

func (s *Server) devOTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("bad_request", "sessionId is required"))
		return
	}
	code, ok := s.devStore.Get(r.Context(), sessionID)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("not_found", "no live code for this session"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": sessionID, "code": code})
}
