package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGrantLifecycle(t *testing.T) {
	t.Parallel()

	s, clock := newTestStore(t)
	ctx := context.Background()
	now := clock.now

	grant, err := s.InsertGrant(ctx, Grant{
		Email:     "a@b.com",
		Token:     "0123456789abcdef0123456789abcdef",
		Status:    GrantActive,
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("insert grant: %v", err)
	}
	if grant.ID == 0 {
		t.Fatal("expected id")
	}

	live, err := s.FindLiveGrant(ctx, "a@b.com", now)
	if err != nil {
		t.Fatalf("find live: %v", err)
	}
	if live.Token != grant.Token || !live.ExpiresAt.Equal(grant.ExpiresAt) {
		t.Errorf("live grant: got %+v", live)
	}

	if _, err := s.FindLiveGrant(ctx, "a@b.com", now.Add(time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Errorf("grant at expiry instant must not be live, got %v", err)
	}

	changed, err := s.ExpireGrant(ctx, grant.ID, now.Add(2*time.Hour))
	if err != nil || !changed {
		t.Fatalf("expire: changed=%v err=%v", changed, err)
	}
	changed, err = s.ExpireGrant(ctx, grant.ID, now.Add(3*time.Hour))
	if err != nil || changed {
		t.Fatalf("second expire: changed=%v err=%v", changed, err)
	}

	byToken, err := s.FindGrantByToken(ctx, grant.Token)
	if err != nil {
		t.Fatalf("find by token: %v", err)
	}
	if byToken.Status != GrantExpired {
		t.Errorf("status: got %s", byToken.Status)
	}
	if !byToken.UpdatedAt.Equal(now.Add(2 * time.Hour)) {
		t.Errorf("updatedAt: got %v", byToken.UpdatedAt)
	}

	if _, err := s.FindGrantByToken(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing token: got %v", err)
	}
}

func TestInsertGrantDuplicateToken(t *testing.T) {
	t.Parallel()

	s, clock := newTestStore(t)
	ctx := context.Background()
	g := Grant{Email: "a@b.com", Token: "dup", Status: GrantActive, ExpiresAt: clock.now, CreatedAt: clock.now, UpdatedAt: clock.now}
	if _, err := s.InsertGrant(ctx, g); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.InsertGrant(ctx, g); !errors.Is(err, ErrUnavailable) {
		t.Errorf("duplicate token: got %v", err)
	}
}

func TestOpenRejectsBadCollectionName(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), Options{Messages: "emails; DROP TABLE x"}); err == nil {
		t.Fatal("expected error for invalid collection name")
	}
}
