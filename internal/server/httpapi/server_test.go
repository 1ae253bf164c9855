package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/nebula-ai/nebula-server/internal/errs"
	"github.com/nebula-ai/nebula-server/internal/model"
	"github.com/nebula-ai/nebula-server/internal/service"
)

func testUser() *model.User {
	return &model.User{
		ID:       uuid.Must(uuid.FromString("11111111-2222-3333-4444-555555555555")),
		Username: "alice",
		Email:    "alice@nebula.local",
		IsActive: true,
	}
}

func testToken() model.SessionToken {
	return model.SessionToken{Token: "session-token", ExpiresAt: time.Now().Add(time.Hour)}
}

type stubAuth struct {
	user *model.User
	tok  model.SessionToken
	err  error

	loggedOut []string
	deleted   []uuid.UUID
}

var _ service.AuthService = (*stubAuth)(nil)

func (a *stubAuth) Register(_ context.Context, _, _ string, _ model.RequestMeta) (*model.User, model.SessionToken, error) {
	return a.user, a.tok, a.err
}

func (a *stubAuth) Login(_ context.Context, _, _ string, _ model.RequestMeta) (*model.User, model.SessionToken, error) {
	return a.user, a.tok, a.err
}

func (a *stubAuth) Logout(_ context.Context, token string) error {
	a.loggedOut = append(a.loggedOut, token)
	return nil
}

func (a *stubAuth) DeleteAccount(_ context.Context, userID uuid.UUID) error {
	a.deleted = append(a.deleted, userID)
	return a.err
}

type stubSessions struct {
	user *model.User
	err  error
}

var _ service.SessionService = (*stubSessions)(nil)

func (s *stubSessions) Issue(context.Context, *model.User, model.RequestMeta) (model.SessionToken, error) {
	return testToken(), nil
}
func (s *stubSessions) Validate(context.Context, string) (*model.User, error) { return s.user, s.err }
func (s *stubSessions) Revoke(context.Context, string) error                  { return nil }

type stubTOTP struct {
	enabled bool
	setup   service.TOTPSetup
	err     error

	verified []string
	disabled []string
}

var _ service.TOTPService = (*stubTOTP)(nil)

func (s *stubTOTP) Enabled(*model.User) bool { return s.enabled }
func (s *stubTOTP) Generate(context.Context, *model.User) (service.TOTPSetup, error) {
	return s.setup, s.err
}
func (s *stubTOTP) Verify(_ context.Context, _ *model.User, code string) error {
	s.verified = append(s.verified, code)
	return s.err
}
func (s *stubTOTP) Disable(_ context.Context, _ *model.User, code string) error {
	s.disabled = append(s.disabled, code)
	return s.err
}

type stubPasskeys struct {
	user *model.User
	tok  model.SessionToken
	err  error

	startUsers []string
	bodies     []string
}

var _ service.PasskeyService = (*stubPasskeys)(nil)

func (s *stubPasskeys) RegisterStart(_ context.Context, username string) (*protocol.CredentialCreation, error) {
	s.startUsers = append(s.startUsers, username)
	return &protocol.CredentialCreation{}, s.err
}

func (s *stubPasskeys) RegisterFinish(_ context.Context, _ string, body io.Reader) error {
	b, _ := io.ReadAll(body)
	s.bodies = append(s.bodies, string(b))
	return s.err
}

func (s *stubPasskeys) LoginStart(_ context.Context, username string) (*protocol.CredentialAssertion, error) {
	s.startUsers = append(s.startUsers, username)
	return &protocol.CredentialAssertion{}, s.err
}

func (s *stubPasskeys) LoginFinish(_ context.Context, _ string, body io.Reader, _ model.RequestMeta) (*model.User, model.SessionToken, error) {
	b, _ := io.ReadAll(body)
	s.bodies = append(s.bodies, string(b))
	return s.user, s.tok, s.err
}

type testEnv struct {
	auth     *stubAuth
	sessions *stubSessions
	totp     *stubTOTP
	passkeys *stubPasskeys
	router   http.Handler
}

func newTestEnv() *testEnv {
	e := &testEnv{
		auth:     &stubAuth{user: testUser(), tok: testToken()},
		sessions: &stubSessions{user: testUser()},
		totp:     &stubTOTP{},
		passkeys: &stubPasskeys{user: testUser(), tok: testToken()},
	}
	e.router = New(e.auth, e.sessions, e.totp, e.passkeys, zap.NewNop()).Router()
	return e
}

func (e *testEnv) do(t *testing.T, method, path, body, bearer string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var payload map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("%s %s: bad JSON body %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec, payload
}

func wantStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
}

func TestRegister_Success(t *testing.T) {
	t.Parallel()

	e := newTestEnv()
	rec, payload := e.do(t, http.MethodPost, "/auth/register", `{"username":"alice","password":"secret1"}`, "")
	wantStatus(t, rec, http.StatusOK)

	if payload["success"] != true {
		t.Fatalf("success = %v", payload["success"])
	}
	if payload["token"] != "session-token" {
		t.Fatalf("token = %v", payload["token"])
	}
	u, _ := payload["user"].(map[string]any)
	if u["username"] != "alice" || u["id"] != testUser().ID.String() {
		t.Fatalf("user payload = %v", u)
	}
}

func TestRegister_UsernameTaken(t *testing.T) {
	t.Parallel()

	e := newTestEnv()
	e.auth.err = errs.ErrAlreadyExists
	rec, payload := e.do(t, http.MethodPost, "/auth/register", `{"username":"alice","password":"secret1"}`, "")
	wantStatus(t, rec, http.StatusBadRequest)
	if payload["success"] != false || payload["message"] != "username already taken" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestRegister_MalformedBody(t *testing.T) {
	t.Parallel()

	e := newTestEnv()
	rec, _ := e.do(t, http.MethodPost, "/auth/register", `{"username":`, "")
	wantStatus(t, rec, http.StatusBadRequest)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	t.Parallel()

	e := newTestEnv()
	e.auth.err = errs.ErrInvalidCredentials
	rec, payload := e.do(t, http.MethodPost, "/auth/login", `{"username":"alice","password":"wrong"}`, "")
	wantStatus(t, rec, http.StatusUnauthorized)
	if payload["message"] != errs.ErrInvalidCredentials.Error() {
		t.Fatalf("message = %v", payload["message"])
	}
}

func TestLogin_RateLimited(t *testing.T) {
	t.Parallel()

	e := newTestEnv()
	e.auth.err = errs.ErrRateLimited
	rec, _ := e.do(t, http.MethodPost, "/auth/login", `{"username":"alice","password":"pw"}`, "")
	wantStatus(t, rec, http.StatusTooManyRequests)
}

func TestLogin_DisabledAccount(t *testing.T) {
	t.Parallel()

	e := newTestEnv()
	e.auth.err = errs.ErrAccountDisabled
	rec, _ := e.do(t, http.MethodPost, "/auth/login", `{"username":"alice","password":"pw"}`, "")
	wantStatus(t, rec, http.StatusForbidden)
}

func TestMe_BearerHandling(t *testing.T) {
	t.Parallel()

	t.Run("missing token", func(t *testing.T) {
		e := newTestEnv()
		rec, payload := e.do(t, http.MethodGet, "/auth/me", "", "")
		wantStatus(t, rec, http.StatusUnauthorized)
		if payload["message"] != errs.ErrMissingToken.Error() {
			t.Fatalf("message = %v", payload["message"])
		}
	})

	t.Run("forged token", func(t *testing.T) {
		e := newTestEnv()
		e.sessions.user, e.sessions.err = nil, errs.ErrInvalidToken
		rec, _ := e.do(t, http.MethodGet, "/auth/me", "", "bad")
		wantStatus(t, rec, http.StatusForbidden)
	})

	t.Run("revoked session", func(t *testing.T) {
		e := newTestEnv()
		e.sessions.user, e.sessions.err = nil, errs.ErrInvalidSession
		rec, _ := e.do(t, http.MethodGet, "/auth/me", "", "old")
		wantStatus(t, rec, http.StatusUnauthorized)
	})

	t.Run("valid session", func(t *testing.T) {
		e := newTestEnv()
		rec, payload := e.do(t, http.MethodGet, "/auth/me", "", "good")
		wantStatus(t, rec, http.StatusOK)
		u, _ := payload["user"].(map[string]any)
		if u["email"] != "alice@nebula.local" || u["subscription"] != "free" {
			t.Fatalf("user payload = %v", u)
		}
	})
}

func TestLogout_AlwaysSucceeds(t *testing.T) {
	t.Parallel()

	e := newTestEnv()

	// tokenless logout is a no-op success
	rec, payload := e.do(t, http.MethodPost, "/auth/logout", "", "")
	wantStatus(t, rec, http.StatusOK)
	if payload["success"] != true {
		t.Fatalf("payload = %v", payload)
	}

	rec, _ = e.do(t, http.MethodPost, "/auth/logout", "", "tok-1")
	wantStatus(t, rec, http.StatusOK)
	if len(e.auth.loggedOut) != 2 || e.auth.loggedOut[1] != "tok-1" {
		t.Fatalf("logged out tokens = %v", e.auth.loggedOut)
	}
}

func TestTwoFactor_Dispatch(t *testing.T) {
	t.Parallel()

	t.Run("status", func(t *testing.T) {
		e := newTestEnv()
		e.totp.enabled = true
		rec, payload := e.do(t, http.MethodGet, "/auth/2fa?action=status", "", "good")
		wantStatus(t, rec, http.StatusOK)
		if payload["twoFactorEnabled"] != true {
			t.Fatalf("payload = %v", payload)
		}
	})

	t.Run("generate", func(t *testing.T) {
		e := newTestEnv()
		e.totp.setup = service.TOTPSetup{Secret: "SECRET", QRCode: "data:image/png;base64,xx"}
		rec, payload := e.do(t, http.MethodPost, "/auth/2fa?action=generate", "", "good")
		wantStatus(t, rec, http.StatusOK)
		if payload["secret"] != "SECRET" || payload["manualEntryKey"] != "SECRET" {
			t.Fatalf("payload = %v", payload)
		}
	})

	t.Run("verify trims the code", func(t *testing.T) {
		e := newTestEnv()
		rec, _ := e.do(t, http.MethodPost, "/auth/2fa?action=verify", `{"code":" 123456 "}`, "good")
		wantStatus(t, rec, http.StatusOK)
		if len(e.totp.verified) != 1 || e.totp.verified[0] != "123456" {
			t.Fatalf("verified = %v", e.totp.verified)
		}
	})

	t.Run("disable with wrong code", func(t *testing.T) {
		e := newTestEnv()
		e.totp.err = errs.ErrInvalidTOTPCode
		rec, payload := e.do(t, http.MethodPost, "/auth/2fa?action=disable", `{"code":"000000"}`, "good")
		wantStatus(t, rec, http.StatusBadRequest)
		if payload["message"] != errs.ErrInvalidTOTPCode.Error() {
			t.Fatalf("message = %v", payload["message"])
		}
	})

	t.Run("unknown action", func(t *testing.T) {
		e := newTestEnv()
		rec, _ := e.do(t, http.MethodPost, "/auth/2fa?action=explode", "", "good")
		wantStatus(t, rec, http.StatusBadRequest)
	})

	t.Run("method mismatch for action", func(t *testing.T) {
		e := newTestEnv()
		rec, _ := e.do(t, http.MethodGet, "/auth/2fa?action=generate", "", "good")
		wantStatus(t, rec, http.StatusBadRequest)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		e := newTestEnv()
		rec, _ := e.do(t, http.MethodGet, "/auth/2fa?action=status", "", "")
		wantStatus(t, rec, http.StatusUnauthorized)
	})
}

func TestDeleteAccount(t *testing.T) {
	t.Parallel()

	e := newTestEnv()
	rec, _ := e.do(t, http.MethodDelete, "/auth/delete-account", "", "good")
	wantStatus(t, rec, http.StatusOK)
	if len(e.auth.deleted) != 1 || e.auth.deleted[0] != testUser().ID {
		t.Fatalf("deleted = %v", e.auth.deleted)
	}
}

func TestPasskeyStart_NormalizesUsername(t *testing.T) {
	t.Parallel()

	e := newTestEnv()
	rec, _ := e.do(t, http.MethodPost, "/auth/passkey-register-start", `{"username":"  Alice "}`, "")
	wantStatus(t, rec, http.StatusOK)
	if len(e.passkeys.startUsers) != 1 || e.passkeys.startUsers[0] != "alice" {
		t.Fatalf("start users = %v", e.passkeys.startUsers)
	}
}

func TestPasskeyLoginStart_NoPasskeys(t *testing.T) {
	t.Parallel()

	e := newTestEnv()
	e.passkeys.err = errs.ErrNoPasskeys
	rec, _ := e.do(t, http.MethodPost, "/auth/passkey-login-start", `{"username":"alice"}`, "")
	wantStatus(t, rec, http.StatusNotFound)
}

func TestPasskeyLoginFinish_Success(t *testing.T) {
	t.Parallel()

	e := newTestEnv()
	cred := `{"id":"abc","rawId":"abc","type":"public-key"}`
	rec, payload := e.do(t, http.MethodPost, "/auth/passkey-login-finish", `{"username":"alice","credential":`+cred+`}`, "")
	wantStatus(t, rec, http.StatusOK)
	if payload["token"] != "session-token" {
		t.Fatalf("payload = %v", payload)
	}
	if len(e.passkeys.bodies) != 1 || e.passkeys.bodies[0] != cred {
		t.Fatalf("forwarded credential = %v", e.passkeys.bodies)
	}
}

func TestPasskeyRegisterFinish_ErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err    error
		status int
	}{
		{errs.ErrNoChallenge, http.StatusBadRequest},
		{errs.ErrVerificationFailed, http.StatusBadRequest},
		{errs.ErrNotFound, http.StatusNotFound},
	}
	for _, tc := range cases {
		e := newTestEnv()
		e.passkeys.err = tc.err
		rec, _ := e.do(t, http.MethodPost, "/auth/passkey-register-finish", `{"username":"alice","credential":{}}`, "")
		wantStatus(t, rec, tc.status)
	}
}

func TestCORS_Preflight(t *testing.T) {
	t.Parallel()

	e := newTestEnv()
	rec, _ := e.do(t, http.MethodOptions, "/auth/login", "", "")
	wantStatus(t, rec, http.StatusNoContent)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow-origin = %q", got)
	}
}

func TestInternalError_Hidden(t *testing.T) {
	t.Parallel()

	e := newTestEnv()
	e.auth.err = io.ErrUnexpectedEOF // an unmapped error
	rec, payload := e.do(t, http.MethodPost, "/auth/login", `{"username":"alice","password":"pw"}`, "")
	wantStatus(t, rec, http.StatusInternalServerError)
	if payload["message"] != "internal error" {
		t.Fatalf("raw error leaked: %v", payload["message"])
	}
}
