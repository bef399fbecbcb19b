package auth

import (
	"context"
	"errors"
	"sort"
	"strings"

	"go.uber.org/zap"

	"shopfront.io/internal/obs"
)

// Resolver answers permission questions from stored state. Role membership is
// always re-read from storage, never taken from a token claim.
type Resolver struct {
	users  UserStore
	roles  RoleStore
	logger *zap.Logger
}

// NewResolver constructs a Resolver over store.
func NewResolver(store Store, logger *zap.Logger) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("auth store is required")
	}
	if logger == nil {
		logger = obs.Logger()
	}
	return &Resolver{users: store.Users(), roles: store.Roles(), logger: logger}, nil
}

// grants is a loaded snapshot of one user's permissions.
type grants struct {
	overrides map[string]struct{}
	role      *Role
}

func (g grants) allows(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	if _, ok := g.overrides[key]; ok {
		return true
	}
	if g.role == nil {
		return false
	}
	for _, p := range g.role.Permissions {
		if p == WildcardPermission || p == key {
			return true
		}
	}
	return false
}

// load never fails: a missing user yields no grants, a missing role leaves
// only the user's overrides.
func (r *Resolver) load(ctx context.Context, userID string) grants {
	user, err := r.users.UserByID(ctx, userID)
	if err != nil {
		r.logger.Warn("permission lookup: user", zap.String("user_id", userID), zap.Error(err))
		return grants{}
	}
	g := grants{overrides: make(map[string]struct{}, len(user.Permissions))}
	for _, p := range user.Permissions {
		g.overrides[p] = struct{}{}
	}
	role, err := r.roles.RoleByName(ctx, user.Role)
	if err != nil {
		r.logger.Warn("permission lookup: role", zap.String("user_id", userID), zap.String("role", user.Role), zap.Error(err))
		return g
	}
	g.role = &role
	return g
}

// HasPermission reports whether userID holds key via an override, the role
// wildcard or literal role membership. Lookup failures deny.
func (r *Resolver) HasPermission(ctx context.Context, userID, key string) bool {
	return r.load(ctx, userID).allows(key)
}

// HasAny reports whether userID holds at least one of keys.
func (r *Resolver) HasAny(ctx context.Context, userID string, keys ...string) bool {
	if len(keys) == 0 {
		return false
	}
	g := r.load(ctx, userID)
	for _, k := range keys {
		if g.allows(k) {
			return true
		}
	}
	return false
}

// HasAll reports whether userID holds every one of keys. An empty list is
// trivially satisfied.
func (r *Resolver) HasAll(ctx context.Context, userID string, keys ...string) bool {
	if len(keys) == 0 {
		return true
	}
	g := r.load(ctx, userID)
	for _, k := range keys {
		if !g.allows(k) {
			return false
		}
	}
	return true
}

// EffectivePermissions returns the sorted union of the user's overrides and
// role permissions. The wildcard is returned as-is, not expanded.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID string) ([]string, error) {
	user, err := r.users.UserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	perms := append([]string(nil), user.Permissions...)
	role, err := r.roles.RoleByName(ctx, user.Role)
	switch {
	case err == nil:
		perms = append(perms, role.Permissions...)
	case errors.Is(err, ErrNotFound):
		r.logger.Warn("effective permissions: role missing", zap.String("user_id", userID), zap.String("role", user.Role))
	default:
		return nil, err
	}
	out := dedupeStrings(perms)
	sort.Strings(out)
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
