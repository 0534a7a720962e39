package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/amara-dev/backend-soko/internal/common"
)

var errNoToken = errors.New("auth: token missing")

// Middleware wires the actor onto request contexts and enforces the
// command gate on protected routes.
type Middleware struct {
	Parser TokenParser
}

// Authenticate attaches the actor to the request context when a valid token
// is present. Requests without a token pass through anonymous.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := m.actorFromRequest(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := common.WithUserID(r.Context(), actor.UserID)
		ctx = common.WithRole(ctx, string(actor.Role))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Require authorizes the command before the handler runs. 401 when there is
// no valid actor, 403 when the actor's role does not cover the command.
func (m Middleware) Require(cmd Command) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := m.actorFromRequest(r)
			if err != nil {
				writeAuthError(w, err)
				return
			}
			if err := Authorize(actor, cmd); err != nil {
				writeAuthError(w, err)
				return
			}
			ctx := common.WithUserID(r.Context(), actor.UserID)
			ctx = common.WithRole(ctx, string(actor.Role))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (m Middleware) actorFromRequest(r *http.Request) (Actor, error) {
	token := extractBearer(r)
	if token == "" {
		return Actor{}, errNoToken
	}
	return m.Parser.Parse(token)
}

func extractBearer(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, err error) {
	if errors.Is(err, errNoToken) {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
		return
	}
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusUnauthorized
		}
		common.JSONError(w, status, appErr.Code, appErr.Message, appErr.Details)
		return
	}
	common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
}
