// Package admin implements the two-step elevation protocol: a fixed
// allow-list of user IDs eligible for elevation, a one-time login token, and
// an HMAC-signed, time-limited cookie proving elevation afterwards.
package admin

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"picbin/internal/server/ident"
)

// CookieMaxAge is how long a minted elevation cookie stays valid.
const CookieMaxAge = 7 * 24 * time.Hour

// Service verifies elevation. All failure paths look identical to callers;
// nothing reveals whether the allow-list, token, or signature check failed.
type Service struct {
	allow      AllowList
	secret     []byte
	loginToken string
	now        func() time.Time
}

// New creates the credential service. An empty secret or token disables
// login entirely (every attempt is rejected).
func New(allow AllowList, hmacSecret, loginToken string) *Service {
	return &Service{
		allow:      allow,
		secret:     []byte(hmacSecret),
		loginToken: loginToken,
		now:        time.Now,
	}
}

// SetNow overrides the service's clock; tests only.
func (s *Service) SetNow(now func() time.Time) {
	s.now = now
}

// Login exchanges the one-time admin token for a signed cookie value.
// Succeeds only for allow-listed IDs presenting the exact configured token.
func (s *Service) Login(userID, token string) (string, bool) {
	if !s.allow.Contains(userID) {
		return "", false
	}
	if s.loginToken == "" || len(s.secret) == 0 {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.loginToken)) != 1 {
		return "", false
	}
	return s.cookieValue(userID, s.now()), true
}

// cookieValue builds base64(userID|issuedAt|hex(HMAC-SHA256(userID|issuedAt))).
func (s *Service) cookieValue(userID string, issuedAt time.Time) string {
	payload := fmt.Sprintf("%s|%d", userID, issuedAt.Unix())
	return base64.StdEncoding.EncodeToString([]byte(payload + "|" + s.sign(payload)))
}

func (s *Service) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// IsElevated reports whether cookie proves elevation for userID. The user
// must be on the allow-list and the cookie must decode to exactly three
// pipe-delimited fields with a matching user ID, a positive numeric
// timestamp no older than CookieMaxAge, and a valid signature. Any
// structural deviation rejects.
func (s *Service) IsElevated(userID, cookie string) bool {
	if len(s.secret) == 0 || cookie == "" {
		return false
	}
	if !s.allow.Contains(userID) {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(cookie)
	if err != nil {
		return false
	}
	parts := strings.Split(string(decoded), "|")
	if len(parts) != 3 {
		return false
	}
	cookieUserID, timestamp, sig := parts[0], parts[1], parts[2]

	if cookieUserID != userID || !ident.IsUserID(cookieUserID) {
		return false
	}
	issuedAt, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil || issuedAt <= 0 {
		return false
	}
	if s.now().Unix()-issuedAt > int64(CookieMaxAge/time.Second) {
		return false
	}

	expected := s.sign(cookieUserID + "|" + timestamp)
	return hmac.Equal([]byte(expected), []byte(sig))
}
