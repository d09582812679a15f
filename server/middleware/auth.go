package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/mscno/glconnect/pkg/gitlab"
)

type userKey struct{}

// TokenValidator resolves a bearer token to the GitLab user that owns it.
type TokenValidator func(ctx context.Context, token string) (gitlab.User, error)

// GitLabValidator validates tokens against GET /user through caller.
func GitLabValidator(caller gitlab.Caller) TokenValidator {
	return func(ctx context.Context, token string) (gitlab.User, error) {
		user, err := gitlab.CurrentUser(ctx, caller, token)
		if err != nil {
			return gitlab.User{}, err
		}
		if !user.Valid() {
			return gitlab.User{}, &gitlab.Error{Message: "Invalid token"}
		}
		return user, nil
	}
}

// WithGitLabAuth rejects requests without a bearer token that validates as a
// GitLab user. The user is available to handlers through UserFromContext.
func WithGitLabAuth(validate TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractBearerToken(r.Header.Get("Authorization"))
			if token == "" {
				unauthorized(w, "missing or invalid Authorization header")
				return
			}
			user, err := validate(r.Context(), token)
			if err != nil {
				logger.Info("rejected bearer token", "path", r.URL.Path, "error", err)
				unauthorized(w, "invalid GitLab token")
				return
			}
			ctx := context.WithValue(r.Context(), userKey{}, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func UserFromContext(ctx context.Context) (gitlab.User, bool) {
	user, ok := ctx.Value(userKey{}).(gitlab.User)
	return user, ok
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
