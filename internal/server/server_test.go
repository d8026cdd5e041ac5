package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"citizen-access-plane/internal/devotp"
	"citizen-access-plane/internal/otp"
	sessiondomain "citizen-access-plane/internal/session/domain"
	"citizen-access-plane/internal/session/service"
)

type stubSessions struct {
	issueRes   *service.InviteResult
	issueErr   error
	resolveRes *service.SessionView
	resolveErr error
	ensureRes  *sessiondomain.CitizenSession
	ensureErr  error

	gotToken    string
	gotClientIP string
}

func (s *stubSessions) IssueInvite(_ context.Context, caseID, centerID, phone string) (*service.InviteResult, error) {
	return s.issueRes, s.issueErr
}

func (s *stubSessions) ResolveToken(_ context.Context, rawToken, clientIP string) (*service.SessionView, error) {
	s.gotToken = rawToken
	s.gotClientIP = clientIP
	return s.resolveRes, s.resolveErr
}

func (s *stubSessions) EnsureWritable(_ context.Context, sessionID string) (*sessiondomain.CitizenSession, error) {
	return s.ensureRes, s.ensureErr
}

type stubVerifier struct {
	requestRes *otp.ChallengeResult
	requestErr error
	verifyErr  error

	gotSessionID string
	gotCode      string
	gotPhone     string
}

func (v *stubVerifier) RequestChallenge(_ context.Context, sessionID, clientIP, phone string) (*otp.ChallengeResult, error) {
	v.gotSessionID = sessionID
	v.gotPhone = phone
	return v.requestRes, v.requestErr
}

func (v *stubVerifier) VerifyChallenge(_ context.Context, sessionID, code, clientIP, phone string) error {
	v.gotSessionID = sessionID
	v.gotCode = code
	v.gotPhone = phone
	return v.verifyErr
}

func newTestServer(sessions *stubSessions, verifier *stubVerifier, devStore devotp.Store) http.Handler {
	return New(sessions, verifier, devStore, nil).Router()
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.RemoteAddr = "203.0.113.7:52100"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	h := newTestServer(&stubSessions{}, &stubVerifier{}, nil)

	rec := doRequest(t, h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestServer_CreateInvite(t *testing.T) {
	sessions := &stubSessions{issueRes: &service.InviteResult{
		SessionID: "sess-1",
		RawToken:  "tok",
		InviteURL: "https://portal.example.org/p/sms?t=tok",
		ExpiresAt: time.Now().UTC().Add(48 * time.Hour),
	}}
	h := newTestServer(sessions, &stubVerifier{}, nil)

	rec := doRequest(t, h, http.MethodPost, "/api/invites",
		`{"caseId":"case-1","centerId":"center-9","phone":"+15551234567"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["sessionId"] != "sess-1" {
		t.Errorf("sessionId = %v", body["sessionId"])
	}
	if body["inviteUrl"] != "https://portal.example.org/p/sms?t=tok" {
		t.Errorf("inviteUrl = %v", body["inviteUrl"])
	}
}

func TestServer_CreateInvite_RequiresCaseID(t *testing.T) {
	h := newTestServer(&stubSessions{}, &stubVerifier{}, nil)

	rec := doRequest(t, h, http.MethodPost, "/api/invites", `{"phone":"+15551234567"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestServer_ResolveInvite(t *testing.T) {
	sessions := &stubSessions{resolveRes: &service.SessionView{
		SessionID: "sess-1", CaseID: "case-1", Status: "pending", ReadOnly: true,
	}}
	h := newTestServer(sessions, &stubVerifier{}, nil)

	rec := doRequest(t, h, http.MethodGet, "/p/sms?t=raw-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if sessions.gotToken != "raw-token" {
		t.Errorf("token = %q", sessions.gotToken)
	}
	if sessions.gotClientIP != "203.0.113.7" {
		t.Errorf("client ip = %q, want from RemoteAddr", sessions.gotClientIP)
	}
}

func TestServer_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", sessiondomain.ErrSessionNotFound, http.StatusNotFound},
		{"expired", sessiondomain.ErrSessionExpired, http.StatusGone},
		{"locked", sessiondomain.ErrSessionLocked, http.StatusLocked},
		{"revoked", sessiondomain.ErrSessionRevoked, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(&stubSessions{resolveErr: tt.err}, &stubVerifier{}, nil)
			rec := doRequest(t, h, http.MethodGet, "/p/sms?t=x", "")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestServer_RequestOTP(t *testing.T) {
	verifier := &stubVerifier{requestRes: &otp.ChallengeResult{TTLSeconds: 300}}
	h := newTestServer(&stubSessions{}, verifier, nil)

	rec := doRequest(t, h, http.MethodPost, "/api/sessions/sess-1/otp/request",
		`{"phone":"+15551234567"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body %s", rec.Code, rec.Body.String())
	}
	if verifier.gotSessionID != "sess-1" {
		t.Errorf("session id = %q", verifier.gotSessionID)
	}
	if strings.Contains(rec.Body.String(), "code") {
		t.Error("code must not appear in the response unless echo is enabled")
	}
}

func TestServer_RequestOTP_EchoesDevCode(t *testing.T) {
	verifier := &stubVerifier{requestRes: &otp.ChallengeResult{TTLSeconds: 300, Code: "123456"}}
	h := newTestServer(&stubSessions{}, verifier, nil)

	rec := doRequest(t, h, http.MethodPost, "/api/sessions/sess-1/otp/request",
		`{"phone":"+15551234567"}`)
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["code"] != "123456" {
		t.Errorf("code = %v, want echoed", body["code"])
	}
}

func TestServer_VerifyOTP(t *testing.T) {
	verifier := &stubVerifier{}
	h := newTestServer(&stubSessions{}, verifier, nil)

	rec := doRequest(t, h, http.MethodPost, "/api/sessions/sess-1/otp/verify",
		`{"code":"123456"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
	if verifier.gotCode != "123456" {
		t.Errorf("code = %q", verifier.gotCode)
	}
}

func TestServer_VerifyOTP_MapsChallengeErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"mismatch", otp.ErrChallengeMismatch, http.StatusUnprocessableEntity},
		{"expired", otp.ErrChallengeExpired, http.StatusGone},
		{"locked", sessiondomain.ErrSessionLocked, http.StatusLocked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(&stubSessions{}, &stubVerifier{verifyErr: tt.err}, nil)
			rec := doRequest(t, h, http.MethodPost, "/api/sessions/sess-1/otp/verify",
				`{"code":"000000"}`)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestServer_EnsureWritable_ReadOnly(t *testing.T) {
	h := newTestServer(&stubSessions{ensureErr: sessiondomain.ErrSessionReadOnly}, &stubVerifier{}, nil)

	rec := doRequest(t, h, http.MethodPost, "/api/sessions/sess-1/writable", "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestServer_DevOTP_DisabledByDefault(t *testing.T) {
	h := newTestServer(&stubSessions{}, &stubVerifier{}, nil)

	rec := doRequest(t, h, http.MethodGet, "/dev/otp?sessionId=sess-1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when dev store is absent", rec.Code)
	}
}

func TestServer_DevOTP(t *testing.T) {
	store := devotp.NewMemoryStore()
	store.Put(context.Background(), "sess-1", "123456", time.Now().UTC().Add(5*time.Minute))
	h := newTestServer(&stubSessions{}, &stubVerifier{}, store)

	rec := doRequest(t, h, http.MethodGet, "/dev/otp?sessionId=sess-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["code"] != "123456" {
		t.Errorf("code = %q", body["code"])
	}
}
