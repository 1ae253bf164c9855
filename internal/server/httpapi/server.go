// Package httpapi exposes the authentication API as stateless HTTP handlers.
package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/nebula-ai/nebula-server/internal/errs"
	"github.com/nebula-ai/nebula-server/internal/service"
)

// Server wires services into HTTP handlers.
type Server struct {
	auth     service.AuthService
	sessions service.SessionService
	totp     service.TOTPService
	passkeys service.PasskeyService
	log      *zap.Logger
}

// New constructs a Server with injected services.
func New(auth service.AuthService, sessions service.SessionService, totp service.TOTPService, passkeys service.PasskeyService, log *zap.Logger) *Server {
	return &Server{auth: auth, sessions: sessions, totp: totp, passkeys: passkeys, log: log}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// userPayload is the minimal identity returned on register/login.
func userPayload(id, username string) map[string]any {
	return map[string]any{"id": id, "username": username}
}

func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errs.ErrValidation
	}
	return nil
}

// handleRegister creates an account and signs it in.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, tok, err := s.auth.Register(r.Context(), req.Username, req.Password, requestMeta(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":  userPayload(u.ID.String(), u.Username),
		"token": tok.Token,
	})
}

// handleLogin authenticates username/password.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, tok, err := s.auth.Login(r.Context(), req.Username, req.Password, requestMeta(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":  userPayload(u.ID.String(), u.Username),
		"token": tok.Token,
	})
}

// handleLogout revokes the presented session, if any. Always succeeds.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context(), bearerToken(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// handleMe returns the authenticated identity.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, ok := userFromCtx(r.Context())
	if !ok {
		s.writeError(w, r, errs.ErrInvalidSession)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]any{
			"id":           u.ID.String(),
			"email":        u.Email,
			"username":     u.Username,
			"subscription": "free",
		},
	})
}

// handleDeleteAccount removes the account and everything owned by it.
func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	u, ok := userFromCtx(r.Context())
	if !ok {
		s.writeError(w, r, errs.ErrInvalidSession)
		return
	}
	if err := s.auth.DeleteAccount(r.Context(), u.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// twoFactorOp is one of the explicit operations multiplexed on /auth/2fa.
type twoFactorOp struct {
	action string
	method string
}

var twoFactorOps = map[twoFactorOp]bool{
	{"status", http.MethodGet}:    true,
	{"generate", http.MethodPost}: true,
	{"verify", http.MethodPost}:   true,
	{"disable", http.MethodPost}:  true,
}

type codeRequest struct {
	Code string `json:"code"`
}

// handleTwoFactor dispatches the 2FA operations by explicit action.
func (s *Server) handleTwoFactor(w http.ResponseWriter, r *http.Request) {
	u, ok := userFromCtx(r.Context())
	if !ok {
		s.writeError(w, r, errs.ErrInvalidSession)
		return
	}
	op := twoFactorOp{action: r.URL.Query().Get("action"), method: r.Method}
	if !twoFactorOps[op] {
		s.writeError(w, r, errs.ErrValidation)
		return
	}

	switch op.action {
	case "status":
		writeJSON(w, http.StatusOK, map[string]any{"twoFactorEnabled": s.totp.Enabled(u)})

	case "generate":
		setup, err := s.totp.Generate(r.Context(), u)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"secret":         setup.Secret,
			"qrCode":         setup.QRCode,
			"manualEntryKey": setup.Secret,
		})

	case "verify":
		var req codeRequest
		if err := decode(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.totp.Verify(r.Context(), u, strings.TrimSpace(req.Code)); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, nil)

	case "disable":
		var req codeRequest
		if err := decode(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.totp.Disable(r.Context(), u, strings.TrimSpace(req.Code)); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, nil)
	}
}

type passkeyStartRequest struct {
	Username string `json:"username"`
}

type passkeyFinishRequest struct {
	Username   string          `json:"username"`
	Credential json.RawMessage `json:"credential"`
}

// handlePasskeyRegisterStart begins a registration ceremony.
func (s *Server) handlePasskeyRegisterStart(w http.ResponseWriter, r *http.Request) {
	var req passkeyStartRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	opts, err := s.passkeys.RegisterStart(r.Context(), strings.ToLower(strings.TrimSpace(req.Username)))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"options": opts})
}

// handlePasskeyRegisterFinish verifies the attestation response.
func (s *Server) handlePasskeyRegisterFinish(w http.ResponseWriter, r *http.Request) {
	var req passkeyFinishRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	err := s.passkeys.RegisterFinish(r.Context(), strings.ToLower(strings.TrimSpace(req.Username)), bytes.NewReader(req.Credential))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// handlePasskeyLoginStart begins an authentication ceremony.
func (s *Server) handlePasskeyLoginStart(w http.ResponseWriter, r *http.Request) {
	var req passkeyStartRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	opts, err := s.passkeys.LoginStart(r.Context(), strings.ToLower(strings.TrimSpace(req.Username)))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"options": opts})
}

// handlePasskeyLoginFinish verifies the assertion and issues a session.
func (s *Server) handlePasskeyLoginFinish(w http.ResponseWriter, r *http.Request) {
	var req passkeyFinishRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, tok, err := s.passkeys.LoginFinish(r.Context(), strings.ToLower(strings.TrimSpace(req.Username)), bytes.NewReader(req.Credential), requestMeta(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":  userPayload(u.ID.String(), u.Username),
		"token": tok.Token,
	})
}
