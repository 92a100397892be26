package client

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default scheduling parameters for proactive refresh
const (
	DefaultRefreshMargin = 60 * time.Second
	DefaultRefreshFloor  = 5 * time.Second
)

var segmentParser = jwt.NewParser(jwt.WithPaddingAllowed())

// DecodeExpiry returns the exp claim of an access token without verifying its
// signature. Only the middle segment is read. Any malformed input yields false.
//
// The result is advisory: it decides when to refresh, never whether a token is
// trusted. Signature checks are the server's job.
func DecodeExpiry(token string) (time.Time, bool) {
	parts := strings.Split(token, ".")
	if len(parts) < 2 || parts[1] == "" {
		return time.Time{}, false
	}

	payload, err := decodeSegment(parts[1])
	if err != nil {
		return time.Time{}, false
	}

	var claims jwt.MapClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil || exp.Unix() == 0 {
		return time.Time{}, false
	}
	return exp.Time, true
}

// decodeSegment accepts base64url (the JWT alphabet) and, as a fallback, the
// standard alphabet, with or without padding.
func decodeSegment(seg string) ([]byte, error) {
	if b, err := segmentParser.DecodeSegment(seg); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(seg, "="))
}

// RefreshDelay computes how long to wait before proactively refreshing a token
// that expires at expiry: max(expiry - now - margin, floor).
func RefreshDelay(expiry, now time.Time, margin, floor time.Duration) time.Duration {
	delay := expiry.Sub(now) - margin
	if delay < floor {
		return floor
	}
	return delay
}
