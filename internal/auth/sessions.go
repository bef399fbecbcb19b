package auth

import (
	"sort"
	"time"
)

// RefreshSession is one live refresh credential. TokenHash is a slow salted
// hash of the raw token; the raw token itself is never stored.
type RefreshSession struct {
	TokenID   string    `json:"token_id"`
	TokenHash string    `json:"token_hash"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
}

// Expired reports whether the session is no longer usable at now.
func (s RefreshSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Sessions is a user's refresh-session list. Methods never mutate the
// receiver; they return the new list to be committed.
type Sessions []RefreshSession

// Find returns the session with tokenID.
func (s Sessions) Find(tokenID string) (RefreshSession, bool) {
	for _, sess := range s {
		if sess.TokenID == tokenID {
			return sess, true
		}
	}
	return RefreshSession{}, false
}

// PruneExpired drops every session expired at now.
func (s Sessions) PruneExpired(now time.Time) Sessions {
	out := make(Sessions, 0, len(s))
	for _, sess := range s {
		if !sess.Expired(now) {
			out = append(out, sess)
		}
	}
	return out
}

// RemoveByID drops the session with tokenID and reports whether it existed.
func (s Sessions) RemoveByID(tokenID string) (Sessions, bool) {
	out := make(Sessions, 0, len(s))
	found := false
	for _, sess := range s {
		if sess.TokenID == tokenID {
			found = true
			continue
		}
		out = append(out, sess)
	}
	return out, found
}

// Add prunes expired sessions, appends sess and evicts the oldest sessions
// until at most limit remain. limit <= 0 disables the bound.
func (s Sessions) Add(sess RefreshSession, now time.Time, limit int) Sessions {
	out, _ := s.PruneExpired(now).RemoveByID(sess.TokenID)
	out = append(out, sess)
	if limit > 0 && len(out) > limit {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].IssuedAt.Before(out[j].IssuedAt)
		})
		out = out[len(out)-limit:]
	}
	return out
}

// Rotate replaces the session oldID with next. It reports false, leaving the
// list untouched, when oldID is not present.
func (s Sessions) Rotate(oldID string, next RefreshSession, now time.Time, limit int) (Sessions, bool) {
	rest, found := s.RemoveByID(oldID)
	if !found {
		return s, false
	}
	return rest.Add(next, now, limit), true
}
