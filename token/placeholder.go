package token

import (
	"crypto/rand"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/repairshop-session/credentials"
	"github.com/pkg/errors"
)

const localIssuer = "repairshop-local-session"

// NewLocalPlaceholder synthesizes the bearer token sent to the backend while
// a local session is active. It is signed with a throwaway key, so the
// backend can only treat it as a development credential.
func NewLocalPlaceholder(li credentials.LocalIdentity, now time.Time) (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", errors.Wrap(err, "[token.NewLocalPlaceholder] rand.Read")
	}
	claims := jwt.MapClaims{
		"iss":   localIssuer,
		"sub":   li.ID,
		"email": li.Email,
		"name":  li.DisplayName,
		"local": true,
		"iat":   now.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", errors.Wrap(err, "[token.NewLocalPlaceholder] sign")
	}
	return signed, nil
}

// IsLocalPlaceholder reports whether tok was produced by NewLocalPlaceholder.
func IsLocalPlaceholder(tok string) bool {
	parsed, _, err := jwt.NewParser().ParseUnverified(tok, jwt.MapClaims{})
	if err != nil {
		return false
	}
	iss, err := parsed.Claims.GetIssuer()
	return err == nil && iss == localIssuer
}
