package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/nebula-ai/nebula-server/internal/errs"
	"github.com/nebula-ai/nebula-server/internal/model"
)

type ctxKey string

const (
	userKey  ctxKey = "nebula.user"
	tokenKey ctxKey = "nebula.token"
)

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return ""
}

// requireAuth gates a handler behind session validation and stores the
// resolved user and token in the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := bearerToken(r)
		if tok == "" {
			s.writeError(w, r, errs.ErrMissingToken)
			return
		}
		u, err := s.sessions.Validate(r.Context(), tok)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), userKey, u)
		ctx = context.WithValue(ctx, tokenKey, tok)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userFromCtx fetches the authenticated user placed by requireAuth.
func userFromCtx(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok
}

// requestMeta collects client metadata recorded on session rows.
func requestMeta(r *http.Request) model.RequestMeta {
	ip := r.Header.Get("X-Forwarded-For")
	if i := strings.IndexByte(ip, ','); i >= 0 {
		ip = ip[:i]
	}
	ip = strings.TrimSpace(ip)
	if ip == "" {
		ip = r.RemoteAddr
		if i := strings.LastIndexByte(ip, ':'); i >= 0 {
			ip = ip[:i]
		}
	}
	return model.RequestMeta{IP: ip, UserAgent: r.UserAgent()}
}
