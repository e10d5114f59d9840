package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/goalvault/goalvault/internal/app/auth"
	"github.com/goalvault/goalvault/pkg/logger"
)

// Authenticator verifies bearer tokens and stashes the authenticated user id
// in the request context.
type Authenticator struct {
	verifier *auth.Verifier
	log      *logger.Logger
}

// NewAuthenticator builds the middleware around a token verifier.
func NewAuthenticator(verifier *auth.Verifier, log *logger.Logger) *Authenticator {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &Authenticator{verifier: verifier, log: log}
}

// Handler rejects requests without a valid bearer token.
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			unauthorized(w, "missing bearer token")
			return
		}

		userID, err := a.verifier.Verify(token)
		if err != nil {
			a.log.WithError(err).WithField("path", r.URL.Path).Debug("token rejected")
			unauthorized(w, "invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), userID)))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
