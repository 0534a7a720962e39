package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/amara-dev/backend-soko/internal/common"
)

// TokenParser validates bearer tokens issued by the identity service and
// extracts the actor they carry. Issuing and refreshing tokens is the
// identity service's business; this side only verifies.
type TokenParser struct {
	Secret    []byte
	Issuer    string
	Audience  string
	Algorithm jwa.SignatureAlgorithm
	ClockSkew time.Duration
	Now       func() time.Time
}

func (p TokenParser) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p TokenParser) algorithm() jwa.SignatureAlgorithm {
	if p.Algorithm != "" {
		return p.Algorithm
	}
	return jwa.HS256
}

// Parse verifies the token's signature and claims and returns the actor.
func (p TokenParser) Parse(token string) (Actor, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return Actor{}, unauthorized("missing token", nil)
	}
	algorithm, err := extractTokenAlgorithm(trimmed)
	if err != nil {
		return Actor{}, unauthorized("invalid token", err)
	}
	if algorithm != p.algorithm() {
		return Actor{}, unauthorized("invalid token", fmt.Errorf("unexpected token algorithm %s", algorithm))
	}
	parsed, err := jwt.ParseString(trimmed, jwt.WithKey(algorithm, p.Secret))
	if err != nil {
		return Actor{}, unauthorized("invalid token", err)
	}
	if err := p.validate(parsed); err != nil {
		return Actor{}, unauthorized("invalid token", err)
	}
	subject := strings.TrimSpace(parsed.Subject())
	if subject == "" {
		return Actor{}, unauthorized("invalid token", errors.New("auth: token has no subject"))
	}
	rawRole, ok := parsed.Get("role")
	if !ok {
		return Actor{}, unauthorized("invalid token", errors.New("auth: token has no role claim"))
	}
	roleName, ok := rawRole.(string)
	if !ok {
		return Actor{}, unauthorized("invalid token", fmt.Errorf("auth: role claim is %T, not string", rawRole))
	}
	role, err := ParseRole(roleName)
	if err != nil {
		return Actor{}, unauthorized("invalid token", err)
	}
	return Actor{UserID: subject, Role: role}, nil
}

func (p TokenParser) validate(tok jwt.Token) error {
	now := p.now()
	options := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
	}
	if p.ClockSkew > 0 {
		options = append(options, jwt.WithAcceptableSkew(p.ClockSkew))
	}
	if p.Issuer != "" {
		options = append(options, jwt.WithIssuer(p.Issuer))
	}
	if p.Audience != "" {
		options = append(options, jwt.WithAudience(p.Audience))
	}
	return jwt.Validate(tok, options...)
}

func extractTokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) == 0 {
		return "", errors.New("auth: token has no signature")
	}
	return signatures[0].ProtectedHeaders().Algorithm(), nil
}

func unauthorized(message string, err error) *common.AppError {
	return common.NewAppError("UNAUTHORIZED", message, http.StatusUnauthorized, err)
}
