package auth

import (
	"testing"
	"time"
)

func sess(id string, issued time.Time, ttl time.Duration) RefreshSession {
	return RefreshSession{TokenID: id, IssuedAt: issued, ExpiresAt: issued.Add(ttl)}
}

func TestSessionsAdd(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	list := Sessions{
		sess("gone", now.Add(-time.Hour), time.Minute),
		sess("a", now.Add(-3*time.Minute), time.Hour),
		sess("b", now.Add(-2*time.Minute), time.Hour),
	}

	out := list.Add(sess("c", now, time.Hour), now, 2)
	if len(out) != 2 {
		t.Fatalf("expected bound of 2, got %d", len(out))
	}
	if _, ok := out.Find("gone"); ok {
		t.Fatal("expired session kept")
	}
	if _, ok := out.Find("a"); ok {
		t.Fatal("oldest session kept past the bound")
	}
	if _, ok := out.Find("c"); !ok {
		t.Fatal("new session missing")
	}
	if len(list) != 3 {
		t.Fatal("receiver must not be mutated")
	}

	unbounded := list.Add(sess("c", now, time.Hour), now, 0)
	if len(unbounded) != 3 {
		t.Fatalf("expected 3 sessions without a bound, got %d", len(unbounded))
	}
}

func TestSessionsRotate(t *testing.T) {
	now := time.Now().UTC()
	list := Sessions{sess("old", now, time.Hour)}

	out, ok := list.Rotate("old", sess("new", now, time.Hour), now, 10)
	if !ok || len(out) != 1 || out[0].TokenID != "new" {
		t.Fatalf("unexpected rotation result ok=%v out=%v", ok, out)
	}
	if _, ok := out.Rotate("old", sess("newer", now, time.Hour), now, 10); ok {
		t.Fatal("rotating a superseded session must fail")
	}
}

func TestSessionsRemoveByID(t *testing.T) {
	now := time.Now().UTC()
	list := Sessions{sess("a", now, time.Hour), sess("b", now, time.Hour)}
	out, found := list.RemoveByID("a")
	if !found || len(out) != 1 || out[0].TokenID != "b" {
		t.Fatalf("unexpected removal result found=%v out=%v", found, out)
	}
	if _, found := out.RemoveByID("a"); found {
		t.Fatal("expected not found on second removal")
	}
}

func TestSessionExpiryBoundary(t *testing.T) {
	now := time.Now().UTC()
	s := sess("a", now.Add(-time.Hour), time.Hour)
	if !s.Expired(now) {
		t.Fatal("session is expired exactly at ExpiresAt")
	}
	if s.Expired(now.Add(-time.Nanosecond)) {
		t.Fatal("session is live before ExpiresAt")
	}
}
