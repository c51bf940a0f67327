package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"picbin/internal/server/database"
	"picbin/internal/server/ident"
)

const (
	// settingDefaultTTL is the settings key holding the instance-wide
	// default retention, in seconds, or the literal "unlimited".
	settingDefaultTTL = "default_ttl_seconds"

	// ttlUnlimited is the stored per-user sentinel for "never expire".
	// A NULL ttl means "follow the instance default" instead.
	ttlUnlimited int64 = 0

	maxRegisterAttempts = 10
	userTokenLength     = 14
)

// TTLOption is one selectable retention choice. Seconds is nil for the
// unlimited option.
type TTLOption struct {
	Label   string
	Seconds *int64
}

// AccountService manages anonymous user accounts and retention settings.
type AccountService struct {
	repo       *database.Repository
	defaultTTL time.Duration
	now        func() time.Time
}

// NewAccountService creates the account service. fallbackTTL is the
// built-in default retention used when no override setting exists.
func NewAccountService(repo *database.Repository, fallbackTTL time.Duration) *AccountService {
	return &AccountService{repo: repo, defaultTTL: fallbackTTL, now: time.Now}
}

// SetNow overrides the service's clock; tests only.
func (s *AccountService) SetNow(now func() time.Time) {
	s.now = now
}

// Register mints a new anonymous account with a random user ID. Collisions
// are retried a fixed number of times.
func (s *AccountService) Register(ctx context.Context) (*database.User, error) {
	for attempt := 0; attempt < maxRegisterAttempts; attempt++ {
		id, err := ident.NewToken(userTokenLength, userTokenLength)
		if err != nil {
			return nil, fmt.Errorf("failed to generate user id: %w", err)
		}
		user := database.User{UserID: id, CreatedAt: s.now().Unix()}
		err = s.repo.InsertUser(ctx, user)
		if errors.Is(err, database.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &user, nil
	}
	return nil, fmt.Errorf("failed to allocate a user id after %d attempts", maxRegisterAttempts)
}

// Get loads one account.
func (s *AccountService) Get(ctx context.Context, userID string) (*database.User, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// TTLOptions lists the retention choices available to a caller. Everybody
// gets the short ladder; elevated callers additionally get the long tail
// and unlimited. Plain users may pick unlimited only when the instance
// default is itself unlimited.
func (s *AccountService) TTLOptions(ctx context.Context, isAdmin bool) ([]TTLOption, error) {
	opts := []TTLOption{
		{Label: "1 hour", Seconds: i64ptr(3600)},
		{Label: "6 hours", Seconds: i64ptr(21600)},
		{Label: "12 hours", Seconds: i64ptr(43200)},
		{Label: "1 day", Seconds: i64ptr(86400)},
		{Label: "2 days", Seconds: i64ptr(172800)},
		{Label: "3 days", Seconds: i64ptr(259200)},
		{Label: "7 days", Seconds: i64ptr(604800)},
	}
	if isAdmin {
		opts = append(opts,
			TTLOption{Label: "14 days", Seconds: i64ptr(1209600)},
			TTLOption{Label: "30 days", Seconds: i64ptr(2592000)},
			TTLOption{Label: "90 days", Seconds: i64ptr(7776000)},
			TTLOption{Label: "180 days", Seconds: i64ptr(15552000)},
			TTLOption{Label: "unlimited", Seconds: nil},
		)
		return opts, nil
	}

	def, err := s.DefaultTTL(ctx)
	if err != nil {
		return nil, err
	}
	if def == nil {
		opts = append(opts, TTLOption{Label: "unlimited", Seconds: nil})
	}
	return opts, nil
}

// SetTTL stores a user's retention preference. nil clears the preference
// back to the instance default; ttlUnlimited marks the account as
// never-expiring. Any other value must be one of the caller's options.
func (s *AccountService) SetTTL(ctx context.Context, userID string, ttl *int64, isAdmin bool) error {
	if ttl != nil {
		opts, err := s.TTLOptions(ctx, isAdmin)
		if err != nil {
			return err
		}
		if !ttlAllowed(*ttl, opts) {
			return ErrInvalidTTL
		}
	}
	err := s.repo.SetUserTTL(ctx, userID, ttl)
	if errors.Is(err, database.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}

// SetBanned flips an account's ban flag.
func (s *AccountService) SetBanned(ctx context.Context, userID string, banned bool) error {
	err := s.repo.SetUserBanned(ctx, userID, banned)
	if errors.Is(err, database.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}

// DefaultTTL returns the instance-wide default retention in seconds, or
// nil when the instance default is unlimited. An absent or malformed
// setting falls back to the built-in default.
func (s *AccountService) DefaultTTL(ctx context.Context) (*int64, error) {
	raw, err := s.repo.GetSetting(ctx, settingDefaultTTL)
	if err != nil {
		return nil, err
	}
	builtin := int64(s.defaultTTL.Seconds())
	if raw == nil {
		return &builtin, nil
	}
	if *raw == "unlimited" {
		return nil, nil
	}
	secs, err := strconv.ParseInt(*raw, 10, 64)
	if err != nil || secs <= 0 {
		return &builtin, nil
	}
	return &secs, nil
}

// SetDefaultTTL persists the instance-wide default retention. nil stores
// the unlimited sentinel.
func (s *AccountService) SetDefaultTTL(ctx context.Context, seconds *int64) error {
	value := "unlimited"
	if seconds != nil {
		if *seconds <= 0 {
			return ErrInvalidTTL
		}
		value = strconv.FormatInt(*seconds, 10)
	}
	return s.repo.SetSetting(ctx, settingDefaultTTL, value)
}

// EffectiveExpiry computes the expiry timestamp a new upload by this actor
// gets: the actor's stored preference when it is still an allowed choice,
// the instance default otherwise, and nil for unlimited retention.
func (s *AccountService) EffectiveExpiry(ctx context.Context, actor Actor) (*time.Time, error) {
	ttl, err := s.effectiveTTL(ctx, actor)
	if err != nil {
		return nil, err
	}
	if ttl == nil {
		return nil, nil
	}
	at := s.now().Add(time.Duration(*ttl) * time.Second)
	return &at, nil
}

func (s *AccountService) effectiveTTL(ctx context.Context, actor Actor) (*int64, error) {
	if actor.UserID == nil {
		return s.DefaultTTL(ctx)
	}
	user, err := s.repo.GetUser(ctx, *actor.UserID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return s.DefaultTTL(ctx)
		}
		return nil, err
	}
	if user.TTLSeconds == nil {
		return s.DefaultTTL(ctx)
	}

	// A preference saved under looser rules (demoted admin, tightened
	// instance default) silently falls back to the default.
	opts, err := s.TTLOptions(ctx, actor.Admin)
	if err != nil {
		return nil, err
	}
	if !ttlAllowed(*user.TTLSeconds, opts) {
		return s.DefaultTTL(ctx)
	}
	if *user.TTLSeconds == ttlUnlimited {
		return nil, nil
	}
	return user.TTLSeconds, nil
}

func ttlAllowed(ttl int64, opts []TTLOption) bool {
	for _, o := range opts {
		if o.Seconds == nil {
			if ttl == ttlUnlimited {
				return true
			}
			continue
		}
		if *o.Seconds == ttl {
			return true
		}
	}
	return false
}

func i64ptr(v int64) *int64 { return &v }
