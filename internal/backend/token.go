package backend

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const serviceTokenTTL = 5 * time.Minute

type tokenSigner struct {
	key     []byte
	subject string
}

// newTokenSigner returns nil when no shared secret is configured; requests
// then go out without an Authorization header.
func newTokenSigner(secret, subject string) *tokenSigner {
	if strings.TrimSpace(secret) == "" {
		return nil
	}
	if subject == "" {
		subject = "stockflow-tracker"
	}
	return &tokenSigner{key: []byte(secret), subject: subject}
}

func (s *tokenSigner) sign(now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub": s.subject,
		"aud": "import-backend",
		"iss": "stockflow-api",
		"iat": now.Unix(),
		"exp": now.Add(serviceTokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.key)
}
