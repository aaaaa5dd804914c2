package settings

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenExpiry inspects a control-plane access token without verifying
// its signature (the sidecar has no key material; verification is the
// server's job) and returns the exp claim. ok is false for opaque
// non-JWT tokens and for JWTs without an exp claim — both are treated
// as non-expiring.
func TokenExpiry(token string) (time.Time, bool) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// TokenExpired reports whether the token carries an exp claim in the
// past. Used to warn before dialing with a stale token.
func TokenExpired(token string, now time.Time) bool {
	exp, ok := TokenExpiry(token)
	return ok && exp.Before(now)
}
