// Package memory is an in-process implementation of the auth store used by
// tests and single-instance development runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"shopfront.io/internal/auth"
)

// Store keeps every record in maps guarded by one mutex, so each method is
// atomic with respect to the others.
type Store struct {
	mu     sync.RWMutex
	users  map[string]auth.User
	emails map[string]string
	roles  map[string]auth.Role
	perms  map[string]auth.Permission
	now    func() time.Time
}

var _ auth.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		users:  make(map[string]auth.User),
		emails: make(map[string]string),
		roles:  make(map[string]auth.Role),
		perms:  make(map[string]auth.Permission),
		now:    time.Now,
	}
}

func (s *Store) Users() auth.UserStore             { return s }
func (s *Store) Roles() auth.RoleStore             { return s }
func (s *Store) Permissions() auth.PermissionStore { return s }

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// User store ---

func (s *Store) CreateUser(_ context.Context, u auth.User) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.emails[u.Email]; ok {
		return auth.User{}, fmt.Errorf("%w: email already registered", auth.ErrConflict)
	}
	if _, ok := s.users[u.ID]; ok {
		return auth.User{}, fmt.Errorf("%w: user id %s", auth.ErrConflict, u.ID)
	}
	u = cloneUser(u)
	s.users[u.ID] = u
	s.emails[u.Email] = u.ID
	return cloneUser(u), nil
}

func (s *Store) UserByID(_ context.Context, id string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return auth.User{}, fmt.Errorf("%w: user %s", auth.ErrNotFound, id)
	}
	return cloneUser(u), nil
}

func (s *Store) UserByEmail(_ context.Context, email string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[email]
	if !ok {
		return auth.User{}, fmt.Errorf("%w: user", auth.ErrNotFound)
	}
	return cloneUser(s.users[id]), nil
}

func (s *Store) SetUserAccess(_ context.Context, id, role string, permissions []string) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return auth.User{}, fmt.Errorf("%w: user %s", auth.ErrNotFound, id)
	}
	u.Role = role
	u.Permissions = append([]string{}, permissions...)
	u.UpdatedAt = s.now().UTC()
	s.users[id] = u
	return cloneUser(u), nil
}

func (s *Store) AddSession(_ context.Context, userID string, sess auth.RefreshSession, now time.Time, limit int) error {
	return s.mutateSessions(userID, func(current auth.Sessions) (auth.Sessions, error) {
		return current.Add(sess, now, limit), nil
	})
}

func (s *Store) RotateSession(_ context.Context, userID, oldTokenID string, next auth.RefreshSession, now time.Time, limit int) error {
	return s.mutateSessions(userID, func(current auth.Sessions) (auth.Sessions, error) {
		rotated, ok := current.Rotate(oldTokenID, next, now, limit)
		if !ok {
			return nil, auth.ErrSessionNotFound
		}
		return rotated, nil
	})
}

func (s *Store) RemoveSession(_ context.Context, userID, tokenID string, now time.Time) (bool, error) {
	var removed bool
	err := s.mutateSessions(userID, func(current auth.Sessions) (auth.Sessions, error) {
		var out auth.Sessions
		out, removed = current.PruneExpired(now).RemoveByID(tokenID)
		return out, nil
	})
	return removed, err
}

func (s *Store) RemoveAllSessions(_ context.Context, userID string) (int, error) {
	var n int
	err := s.mutateSessions(userID, func(current auth.Sessions) (auth.Sessions, error) {
		n = len(current)
		return auth.Sessions{}, nil
	})
	return n, err
}

func (s *Store) mutateSessions(userID string, fn func(auth.Sessions) (auth.Sessions, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("%w: user %s", auth.ErrNotFound, userID)
	}
	next, err := fn(u.Sessions)
	if err != nil {
		return err
	}
	u.Sessions = append(auth.Sessions{}, next...)
	s.users[userID] = u
	return nil
}

// Role store ---

func (s *Store) CreateRole(_ context.Context, r auth.Role) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[r.Name]; ok {
		return auth.Role{}, fmt.Errorf("%w: role %s", auth.ErrConflict, r.Name)
	}
	r = cloneRole(r)
	s.roles[r.Name] = r
	return cloneRole(r), nil
}

func (s *Store) RoleByName(_ context.Context, name string) (auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[name]
	if !ok {
		return auth.Role{}, fmt.Errorf("%w: role %s", auth.ErrNotFound, name)
	}
	return cloneRole(r), nil
}

func (s *Store) ListRoles(context.Context) ([]auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, cloneRole(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) UpdateRole(_ context.Context, r auth.Role) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[r.Name]; !ok {
		return auth.Role{}, fmt.Errorf("%w: role %s", auth.ErrNotFound, r.Name)
	}
	r = cloneRole(r)
	s.roles[r.Name] = r
	return cloneRole(r), nil
}

func (s *Store) DeleteRole(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[name]; !ok {
		return fmt.Errorf("%w: role %s", auth.ErrNotFound, name)
	}
	delete(s.roles, name)
	return nil
}

// Permission store ---

func (s *Store) CreatePermission(_ context.Context, p auth.Permission) (auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.perms[p.Key]; ok {
		return auth.Permission{}, fmt.Errorf("%w: permission %s", auth.ErrConflict, p.Key)
	}
	s.perms[p.Key] = p
	return p, nil
}

func (s *Store) PermissionByKey(_ context.Context, key string) (auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.perms[key]
	if !ok {
		return auth.Permission{}, fmt.Errorf("%w: permission %s", auth.ErrNotFound, key)
	}
	return p, nil
}

func (s *Store) ListPermissions(context.Context) ([]auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.Permission, 0, len(s.perms))
	for _, p := range s.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) UpdatePermission(_ context.Context, p auth.Permission) (auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.perms[p.Key]; !ok {
		return auth.Permission{}, fmt.Errorf("%w: permission %s", auth.ErrNotFound, p.Key)
	}
	s.perms[p.Key] = p
	return p, nil
}

func (s *Store) DeletePermission(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.perms[key]; !ok {
		return fmt.Errorf("%w: permission %s", auth.ErrNotFound, key)
	}
	delete(s.perms, key)
	return nil
}

func cloneUser(u auth.User) auth.User {
	u.Permissions = append([]string{}, u.Permissions...)
	u.Sessions = append(auth.Sessions{}, u.Sessions...)
	return u
}

func cloneRole(r auth.Role) auth.Role {
	r.Permissions = append([]string{}, r.Permissions...)
	return r
}
