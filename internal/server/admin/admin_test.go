package admin

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const (
	testUserID = "AdminUser12345"
	testSecret = "test-hmac-secret"
	testToken  = "test-login-token"
)

func newTestService() *Service {
	s := New(StaticAllowList{testUserID}, testSecret, testToken)
	s.SetNow(func() time.Time { return time.Unix(1_700_000_000, 0) })
	return s
}

func TestLogin(t *testing.T) {
	t.Run("correct token for allow-listed id mints a verifiable cookie", func(t *testing.T) {
		s := newTestService()
		cookie, ok := s.Login(testUserID, testToken)
		if !ok {
			t.Fatal("login rejected")
		}
		if !s.IsElevated(testUserID, cookie) {
			t.Error("freshly minted cookie does not verify")
		}
	})

	t.Run("wrong token is rejected", func(t *testing.T) {
		s := newTestService()
		if _, ok := s.Login(testUserID, "wrong-token"); ok {
			t.Error("expected rejection")
		}
	})

	t.Run("non-listed user is rejected even with the right token", func(t *testing.T) {
		s := newTestService()
		if _, ok := s.Login("OtherUser12345", testToken); ok {
			t.Error("expected rejection")
		}
	})

	t.Run("unconfigured secret disables login", func(t *testing.T) {
		s := New(StaticAllowList{testUserID}, "", testToken)
		if _, ok := s.Login(testUserID, testToken); ok {
			t.Error("expected rejection without a secret")
		}
		s = New(StaticAllowList{testUserID}, testSecret, "")
		if _, ok := s.Login(testUserID, ""); ok {
			t.Error("expected rejection without a configured token")
		}
	})
}

func TestIsElevated(t *testing.T) {
	s := newTestService()
	cookie, ok := s.Login(testUserID, testToken)
	if !ok {
		t.Fatal("login rejected")
	}

	t.Run("valid cookie", func(t *testing.T) {
		if !s.IsElevated(testUserID, cookie) {
			t.Error("expected elevation")
		}
	})

	t.Run("wrong signature on a structurally valid cookie", func(t *testing.T) {
		forged := base64.StdEncoding.EncodeToString(
			[]byte(testUserID + "|1700000000|" + strings.Repeat("ab", 32)))
		if s.IsElevated(testUserID, forged) {
			t.Error("expected rejection of forged signature")
		}
	})

	t.Run("cookie minted for another user", func(t *testing.T) {
		if s.IsElevated("OtherUser12345", cookie) {
			t.Error("expected rejection for mismatched user")
		}
	})

	t.Run("older than seven days", func(t *testing.T) {
		s.SetNow(func() time.Time {
			return time.Unix(1_700_000_000, 0).Add(CookieMaxAge + time.Hour)
		})
		if s.IsElevated(testUserID, cookie) {
			t.Error("expected rejection of aged cookie")
		}
	})

	t.Run("just inside seven days", func(t *testing.T) {
		s.SetNow(func() time.Time {
			return time.Unix(1_700_000_000, 0).Add(CookieMaxAge - time.Hour)
		})
		if !s.IsElevated(testUserID, cookie) {
			t.Error("expected elevation inside the window")
		}
	})
}

func TestIsElevatedStructuralRejection(t *testing.T) {
	s := newTestService()

	encode := func(raw string) string {
		return base64.StdEncoding.EncodeToString([]byte(raw))
	}

	tests := []struct {
		name   string
		cookie string
	}{
		{"empty cookie", ""},
		{"not base64", "%%%not-base64%%%"},
		{"two fields", encode(testUserID + "|1700000000")},
		{"four fields", encode(testUserID + "|1700000000|aa|bb")},
		{"non-numeric timestamp", encode(testUserID + "|yesterday|aabb")},
		{"zero timestamp", encode(testUserID + "|0|aabb")},
		{"negative timestamp", encode(testUserID + "|-5|aabb")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if s.IsElevated(testUserID, tt.cookie) {
				t.Error("expected rejection")
			}
		})
	}
}

func TestFileAllowList(t *testing.T) {
	t.Run("parses ids, skips comments and junk", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "admin_ids.txt")
		content := "# admins\nAdminUser12345\n\nshort\nBad!User123456\nOtherUser12345\n"
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}

		l := NewFileAllowList(path)
		if !l.Contains("AdminUser12345") || !l.Contains("OtherUser12345") {
			t.Error("expected listed ids to be present")
		}
		if l.Contains("short") || l.Contains("Bad!User123456") {
			t.Error("expected malformed ids to be skipped")
		}
		if l.Contains("") {
			t.Error("expected empty id to be absent")
		}
	})

	t.Run("missing file means empty list", func(t *testing.T) {
		l := NewFileAllowList(filepath.Join(t.TempDir(), "nope.txt"))
		if l.Contains("AdminUser12345") {
			t.Error("expected empty list")
		}
	})

	t.Run("reload is throttled until the interval elapses", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "admin_ids.txt")
		if err := os.WriteFile(path, []byte("AdminUser12345\n"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}

		now := time.Unix(1000, 0)
		l := NewFileAllowList(path)
		l.SetNow(func() time.Time { return now })

		if !l.Contains("AdminUser12345") {
			t.Fatal("expected id present")
		}

		// Rewrite the file with a different id and a bumped mtime. Within
		// the throttle interval the cached list is still served.
		if err := os.WriteFile(path, []byte("OtherUser12345\n"), 0o644); err != nil {
			t.Fatalf("rewrite: %v", err)
		}
		future := time.Unix(2000, 0)
		if err := os.Chtimes(path, future, future); err != nil {
			t.Fatalf("chtimes: %v", err)
		}

		now = now.Add(30 * time.Second)
		if l.Contains("OtherUser12345") {
			t.Error("expected cached list inside the throttle interval")
		}

		now = now.Add(allowListRefreshInterval)
		if !l.Contains("OtherUser12345") {
			t.Error("expected reload after the interval")
		}
		if l.Contains("AdminUser12345") {
			t.Error("expected old id gone after reload")
		}
	})
}
