package auth

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultExpiryBuffer is how close to exp a token counts as expiring
const DefaultExpiryBuffer = 5 * time.Minute

var parser = jwt.NewParser(jwt.WithPaddingAllowed())

var errMalformedToken = errors.New("token does not have three segments")

// expiry decodes only the payload segment and returns its exp claim.
// The header is not inspected, so a token the portal signs with an
// algorithm header we do not recognise is still readable.
func expiry(token string) (*jwt.NumericDate, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, errMalformedToken
	}

	payload, err := parser.DecodeSegment(parts[1])
	if err != nil {
		return nil, err
	}

	claims := jwt.MapClaims{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, err
	}
	return claims.GetExpirationTime()
}

// IsExpiringSoon reports whether a bearer token expires within buffer of now.
// The signature is not verified; only the exp claim is read.
// A token that cannot be decoded counts as expired. A token without exp does not.
func IsExpiringSoon(token string, buffer time.Duration, now time.Time) bool {
	exp, err := expiry(token)
	if err != nil {
		return true
	}
	if exp == nil {
		return false
	}
	return exp.Time.Sub(now) < buffer
}

// TokenExpiry returns the exp claim, or the zero time when absent or unreadable
func TokenExpiry(token string) time.Time {
	exp, err := expiry(token)
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
