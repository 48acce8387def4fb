package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/doeshing/opsai/internal/domain"
)

// Identity headers are set by the fronting proxy after authentication.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

type userKey struct{}

// requireUser rejects requests without a caller identity and stores the
// user in the request context.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if id == "" {
			s.writeError(w, http.StatusUnauthorized, "missing "+HeaderUserID+" header")
			return
		}
		role := domain.RoleUser
		if strings.EqualFold(strings.TrimSpace(r.Header.Get(HeaderUserRole)), string(domain.RoleAdmin)) {
			role = domain.RoleAdmin
		}
		ctx := context.WithValue(r.Context(), userKey{}, domain.User{ID: id, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFrom(ctx context.Context) domain.User {
	user, _ := ctx.Value(userKey{}).(domain.User)
	return user
}
