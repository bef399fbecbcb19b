package keys

import (
	"crypto/rsa"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Registry is a concurrency-safe map of key entries indexed by kid.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source used to stamp new entries.
func WithClock(fn func() time.Time) Option {
	return func(r *Registry) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the entry registered under id.
func (r *Registry) Get(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Put upserts entry under its ID.
func (r *Registry) Put(entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[entry.ID] = entry
}

// ListAll returns every entry, oldest first.
func (r *Registry) ListAll() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sortEntries(out)
	return out
}

// ListActive returns the active entries, oldest first.
func (r *Registry) ListActive() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.Active {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out
}

// Add registers a new active key for purpose. priv may be nil for a
// verification-only key; pub may be nil when priv is given.
// Registering a key whose kid already exists returns ErrDuplicateKey.
func (r *Registry) Add(purpose Purpose, priv *rsa.PrivateKey, pub *rsa.PublicKey) (Entry, error) {
	entry, err := r.newEntry(purpose, priv, pub)
	if err != nil {
		return Entry{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[entry.ID]; exists {
		return Entry{}, fmt.Errorf("%w: %s", ErrDuplicateKey, entry.ID)
	}
	r.entries[entry.ID] = entry
	return entry, nil
}

// Seed registers key material loaded at startup. Seeding the same key again
// returns the existing entry unchanged, except that a previously
// verification-only entry picks up the private key.
func (r *Registry) Seed(purpose Purpose, priv *rsa.PrivateKey, pub *rsa.PublicKey) (Entry, error) {
	entry, err := r.newEntry(purpose, priv, pub)
	if err != nil {
		return Entry{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[entry.ID]; ok {
		if existing.Purpose != purpose {
			return Entry{}, fmt.Errorf("%w: %s already registered for %s", ErrDuplicateKey, entry.ID, existing.Purpose)
		}
		if existing.PrivateKey == nil && priv != nil {
			existing.PrivateKey = priv
			r.entries[entry.ID] = existing
		}
		return existing, nil
	}
	r.entries[entry.ID] = entry
	return entry, nil
}

// SetActive flips the active flag of an entry.
func (r *Registry) SetActive(id string, active bool) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrKeyNotFound, id)
	}
	e.Active = active
	r.entries[id] = e
	return e, nil
}

// Deactivate clears the active flag of id. It refuses with ErrLastSigner when
// id is the only active signing key of its purpose; the check and the update
// happen under one write lock.
func (r *Registry) Deactivate(id string) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrKeyNotFound, id)
	}
	if e.Active && e.CanSign() {
		signers := 0
		for _, other := range r.entries {
			if other.Purpose == e.Purpose && other.Active && other.CanSign() {
				signers++
			}
		}
		if signers == 1 {
			return Entry{}, fmt.Errorf("%w: %s for %s", ErrLastSigner, id, e.Purpose)
		}
	}
	e.Active = false
	r.entries[id] = e
	return e, nil
}

// Signer returns the newest active entry of purpose that holds a private key.
func (r *Registry) Signer(purpose Purpose) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		best  Entry
		found bool
	)
	for _, e := range r.entries {
		if e.Purpose != purpose || !e.Active || !e.CanSign() {
			continue
		}
		if !found || e.CreatedAt.After(best.CreatedAt) || (e.CreatedAt.Equal(best.CreatedAt) && e.ID > best.ID) {
			best, found = e, true
		}
	}
	if !found {
		return Entry{}, fmt.Errorf("%w: %s", ErrNoSigningKey, purpose)
	}
	return best, nil
}

// SoleActive returns the only active entry of purpose. It reports false when
// there are none or more than one.
func (r *Registry) SoleActive(purpose Purpose) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		match Entry
		count int
	)
	for _, e := range r.entries {
		if e.Purpose == purpose && e.Active {
			match = e
			count++
		}
	}
	return match, count == 1
}

func (r *Registry) newEntry(purpose Purpose, priv *rsa.PrivateKey, pub *rsa.PublicKey) (Entry, error) {
	if !purpose.Valid() {
		return Entry{}, fmt.Errorf("%w: unknown purpose %q", ErrInvalidKey, purpose)
	}
	if pub == nil && priv != nil {
		pub = &priv.PublicKey
	}
	if priv != nil && !priv.PublicKey.Equal(pub) {
		return Entry{}, fmt.Errorf("%w: private key does not match public key", ErrInvalidKey)
	}
	kid, err := DeriveIdentifier(pub)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		ID:         kid,
		Use:        UseSignature,
		Purpose:    purpose,
		Algorithm:  AlgRS256,
		PublicKey:  pub,
		PrivateKey: priv,
		Active:     true,
		CreatedAt:  r.now().UTC(),
	}, nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}
