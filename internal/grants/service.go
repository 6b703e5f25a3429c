// Package grants manages saved-access grants: long-lived bearer tokens that
// let a visitor come back to a disposable address. At most one live grant
// exists per address; issuing again returns the live one unchanged.
package grants

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.io/infrasutra/tempmail/internal/store"
)

var (
	ErrInvalidEmail = errors.New("a valid email is required")
	ErrNotFound     = errors.New("saved email not found")
	ErrExpired      = errors.New("token expired")
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const tokenBytes = 16

type Store interface {
	FindLiveGrant(ctx context.Context, email string, now time.Time) (store.Grant, error)
	FindGrantByToken(ctx context.Context, token string) (store.Grant, error)
	InsertGrant(ctx context.Context, grant store.Grant) (store.Grant, error)
	ExpireGrant(ctx context.Context, id int64, now time.Time) (bool, error)
}

// Redemption is a live grant as seen at redemption time.
type Redemption struct {
	Grant         store.Grant
	DaysRemaining int
}

type Service struct {
	store Store
	locks *keyedMutex
	now   func() time.Time
}

func NewService(s Store) *Service {
	return &Service{
		store: s,
		locks: newKeyedMutex(),
		now:   time.Now,
	}
}

// SetClock replaces the service clock. Intended for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// IssueOrReuse returns the live grant for email, creating one that expires
// a calendar year from now when none exists.
func (s *Service) IssueOrReuse(ctx context.Context, email string) (store.Grant, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return store.Grant{}, err
	}

	unlock := s.locks.Lock(normalized)
	defer unlock()

	now := s.now().UTC()
	existing, err := s.store.FindLiveGrant(ctx, normalized, now)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Grant{}, fmt.Errorf("find live grant: %w", err)
	}

	token, err := newToken()
	if err != nil {
		return store.Grant{}, err
	}
	grant, err := s.store.InsertGrant(ctx, store.Grant{
		Email:      normalized,
		Token:      token,
		Status:     store.GrantActive,
		ExpiresAt:  AddCalendarYear(now),
		EmailCount: 0,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return store.Grant{}, fmt.Errorf("insert grant: %w", err)
	}
	return grant, nil
}

// LookupByToken redeems token. An active grant found past its expiry is
// moved to expired before ErrExpired is returned.
func (s *Service) LookupByToken(ctx context.Context, token string) (Redemption, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Redemption{}, ErrNotFound
	}
	grant, err := s.store.FindGrantByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return Redemption{}, ErrNotFound
	}
	if err != nil {
		return Redemption{}, fmt.Errorf("find grant: %w", err)
	}

	now := s.now().UTC()
	if grant.Status == store.GrantExpired {
		return Redemption{}, ErrExpired
	}
	if !grant.ExpiresAt.After(now) {
		if _, err := s.store.ExpireGrant(ctx, grant.ID, now); err != nil {
			return Redemption{}, fmt.Errorf("expire grant: %w", err)
		}
		return Redemption{}, ErrExpired
	}
	return Redemption{Grant: grant, DaysRemaining: DaysRemaining(grant.ExpiresAt, now)}, nil
}

// CheckSaved reports the live grant for email without changing anything.
func (s *Service) CheckSaved(ctx context.Context, email string) (store.Grant, bool, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return store.Grant{}, false, err
	}
	grant, err := s.store.FindLiveGrant(ctx, normalized, s.now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		return store.Grant{}, false, nil
	}
	if err != nil {
		return store.Grant{}, false, fmt.Errorf("find live grant: %w", err)
	}
	return grant, true, nil
}

func NormalizeEmail(email string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if !emailPattern.MatchString(normalized) {
		return "", ErrInvalidEmail
	}
	return normalized, nil
}

// AddCalendarYear moves t to the same month and day a year later. Feb 29
// lands on Feb 28 rather than rolling into March.
func AddCalendarYear(t time.Time) time.Time {
	next := t.AddDate(1, 0, 0)
	if next.Month() != t.Month() {
		next = next.AddDate(0, 0, -next.Day())
	}
	return next
}

// DaysRemaining rounds the time left up to whole days, never below zero.
func DaysRemaining(expiresAt, now time.Time) int {
	left := expiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Hours() / 24))
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
