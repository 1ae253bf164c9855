package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Router builds the HTTP route table with middleware applied.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(Recover(s.log), Logging(s.log), CORS)

	r.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost, http.MethodOptions)
	r.Handle("/auth/me", s.requireAuth(s.handleMe)).Methods(http.MethodGet, http.MethodOptions)
	r.Handle("/auth/2fa", s.requireAuth(s.handleTwoFactor)).Methods(http.MethodGet, http.MethodPost, http.MethodOptions)
	r.Handle("/auth/delete-account", s.requireAuth(s.handleDeleteAccount)).Methods(http.MethodDelete, http.MethodPost, http.MethodOptions)

	// Passkey ceremonies are username-keyed rather than bearer-gated:
	// authentication is what they produce.
	r.HandleFunc("/auth/passkey-register-start", s.handlePasskeyRegisterStart).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/auth/passkey-register-finish", s.handlePasskeyRegisterFinish).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/auth/passkey-login-start", s.handlePasskeyLoginStart).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/auth/passkey-login-finish", s.handlePasskeyLoginFinish).Methods(http.MethodPost, http.MethodOptions)

	return r
}
