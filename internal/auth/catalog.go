package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"shopfront.io/internal/audit"
	"shopfront.io/internal/ids"
	"shopfront.io/internal/keys"
	"shopfront.io/internal/obs"
)

var (
	roleNamePattern      = regexp.MustCompile(`^[A-Z][A-Z0-9_]{1,63}$`)
	permissionKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*(:[a-z][a-z0-9_-]*)+$`)
)

// Catalog administers roles, the permission catalog, user access and
// signing keys. Every mutation is audited.
type Catalog struct {
	users    UserStore
	roles    RoleStore
	perms    PermissionStore
	registry *keys.Registry
	auditor  Auditor
	logger   *zap.Logger
	now      func() time.Time
}

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

// WithCatalogAuditor sets the audit recorder.
func WithCatalogAuditor(a Auditor) CatalogOption {
	return func(c *Catalog) {
		if a != nil {
			c.auditor = a
		}
	}
}

// WithCatalogClock overrides time source.
func WithCatalogClock(fn func() time.Time) CatalogOption {
	return func(c *Catalog) {
		if fn != nil {
			c.now = fn
		}
	}
}

// WithCatalogLogger sets the logger.
func WithCatalogLogger(l *zap.Logger) CatalogOption {
	return func(c *Catalog) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCatalog constructs a Catalog.
func NewCatalog(store Store, registry *keys.Registry, opts ...CatalogOption) (*Catalog, error) {
	if store == nil {
		return nil, errors.New("auth store is required")
	}
	if registry == nil {
		return nil, errors.New("key registry is required")
	}
	c := &Catalog{
		users:    store.Users(),
		roles:    store.Roles(),
		perms:    store.Permissions(),
		registry: registry,
		auditor:  nopAuditor{},
		logger:   obs.Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// EnsureBuiltins seeds the built-in permissions and roles. Existing entries
// are left as they are.
func (c *Catalog) EnsureBuiltins(ctx context.Context) error {
	now := c.now().UTC()
	for _, p := range BuiltinPermissions {
		p.CreatedAt = now
		if _, err := c.perms.CreatePermission(ctx, p); err != nil && !errors.Is(err, ErrConflict) {
			return fmt.Errorf("seed permission %s: %w", p.Key, err)
		}
	}
	for _, r := range BuiltinRoles {
		r.Permissions = append([]string(nil), r.Permissions...)
		r.CreatedAt, r.UpdatedAt = now, now
		if _, err := c.roles.CreateRole(ctx, r); err != nil && !errors.Is(err, ErrConflict) {
			return fmt.Errorf("seed role %s: %w", r.Name, err)
		}
	}
	return nil
}

// BootstrapAdmin makes sure a SUPER_ADMIN account exists for email. An
// existing account is promoted; its password is left unchanged. It reports
// whether a new account was created.
func (c *Catalog) BootstrapAdmin(ctx context.Context, email, password string, bcryptCost int) (User, bool, error) {
	email = NormalizeEmail(email)
	if !validEmail(email) {
		return User{}, false, fmt.Errorf("%w: valid bootstrap email is required", ErrInvalidInput)
	}
	existing, err := c.users.UserByEmail(ctx, email)
	switch {
	case err == nil:
		if existing.Role == RoleSuperAdmin {
			return existing, false, nil
		}
		u, err := c.users.SetUserAccess(ctx, existing.ID, RoleSuperAdmin, existing.Permissions)
		if err != nil {
			return User{}, false, err
		}
		c.record(ctx, audit.SystemActor, audit.ActionUserAccess, "user", u.ID, map[string]any{
			"role":          RoleSuperAdmin,
			"previous_role": existing.Role,
			"source":        "bootstrap",
		})
		c.logger.Warn("bootstrap promoted existing user", zap.String("user_id", u.ID), zap.String("previous_role", existing.Role))
		return u, false, nil
	case !errors.Is(err, ErrNotFound):
		return User{}, false, err
	}
	if password == "" {
		return User{}, false, fmt.Errorf("%w: bootstrap password is required", ErrInvalidInput)
	}
	hash, err := HashPassword(password, bcryptCost)
	if err != nil {
		return User{}, false, err
	}
	now := c.now().UTC()
	u, err := c.users.CreateUser(ctx, User{
		ID:           ids.New(),
		Email:        email,
		Name:         "Administrator",
		PasswordHash: hash,
		Role:         RoleSuperAdmin,
		Permissions:  []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return User{}, false, err
	}
	c.record(ctx, audit.SystemActor, audit.ActionUserBootstrap, "user", u.ID, map[string]any{"role": RoleSuperAdmin})
	c.logger.Info("bootstrap admin created", zap.String("user_id", u.ID))
	return u, true, nil
}

// Roles ---

// RoleInput creates a role.
type RoleInput struct {
	Name        string
	Label       string
	Description string
	Permissions []string
}

// RoleUpdate changes a role. Nil fields are left alone.
type RoleUpdate struct {
	Label       *string
	Description *string
	Permissions []string
	// SetPermissions distinguishes an explicit empty list from no change.
	SetPermissions bool
}

// ListRoles returns every role ordered by name.
func (c *Catalog) ListRoles(ctx context.Context) ([]Role, error) {
	return c.roles.ListRoles(ctx)
}

// GetRole loads one role.
func (c *Catalog) GetRole(ctx context.Context, name string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	return c.roles.RoleByName(ctx, name)
}

// CreateRole adds a custom role.
func (c *Catalog) CreateRole(ctx context.Context, actorID string, in RoleInput) (Role, error) {
	name := strings.ToUpper(strings.TrimSpace(in.Name))
	if !roleNamePattern.MatchString(name) {
		return Role{}, fmt.Errorf("%w: role name must be upper snake case", ErrInvalidInput)
	}
	perms, err := c.normalizeRolePermissions(ctx, in.Permissions)
	if err != nil {
		return Role{}, err
	}
	label := strings.TrimSpace(in.Label)
	if label == "" {
		label = name
	}
	now := c.now().UTC()
	role, err := c.roles.CreateRole(ctx, Role{
		Name:        name,
		Label:       label,
		Description: strings.TrimSpace(in.Description),
		Permissions: perms,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return Role{}, err
	}
	c.record(ctx, actorID, audit.ActionRoleCreate, "role", role.Name, map[string]any{"permissions": role.Permissions})
	return role, nil
}

// UpdateRole edits a custom role.
func (c *Catalog) UpdateRole(ctx context.Context, actorID, name string, upd RoleUpdate) (Role, error) {
	role, err := c.GetRole(ctx, name)
	if err != nil {
		return Role{}, err
	}
	if role.Protected {
		return Role{}, fmt.Errorf("%w: role %s", ErrProtected, role.Name)
	}
	if upd.Label != nil {
		label := strings.TrimSpace(*upd.Label)
		if label == "" {
			return Role{}, fmt.Errorf("%w: role label is required", ErrInvalidInput)
		}
		role.Label = label
	}
	if upd.Description != nil {
		role.Description = strings.TrimSpace(*upd.Description)
	}
	if upd.SetPermissions {
		perms, err := c.normalizeRolePermissions(ctx, upd.Permissions)
		if err != nil {
			return Role{}, err
		}
		role.Permissions = perms
	}
	role.UpdatedAt = c.now().UTC()
	updated, err := c.roles.UpdateRole(ctx, role)
	if err != nil {
		return Role{}, err
	}
	c.record(ctx, actorID, audit.ActionRoleUpdate, "role", updated.Name, map[string]any{"permissions": updated.Permissions})
	return updated, nil
}

// DeleteRole removes a custom role. Users still referencing it resolve to no
// role permissions.
func (c *Catalog) DeleteRole(ctx context.Context, actorID, name string) error {
	role, err := c.GetRole(ctx, name)
	if err != nil {
		return err
	}
	if role.Protected {
		return fmt.Errorf("%w: role %s", ErrProtected, role.Name)
	}
	if err := c.roles.DeleteRole(ctx, role.Name); err != nil {
		return err
	}
	c.record(ctx, actorID, audit.ActionRoleDelete, "role", role.Name, nil)
	return nil
}

// normalizeRolePermissions dedupes keys, checks each against the catalog and
// collapses any list containing the wildcard to exactly the wildcard.
func (c *Catalog) normalizeRolePermissions(ctx context.Context, perms []string) ([]string, error) {
	list := dedupeStrings(perms)
	for _, k := range list {
		if k == WildcardPermission {
			return []string{WildcardPermission}, nil
		}
	}
	for _, k := range list {
		if _, err := c.perms.PermissionByKey(ctx, k); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown permission %s", ErrInvalidInput, k)
			}
			return nil, err
		}
	}
	if list == nil {
		list = []string{}
	}
	return list, nil
}

// Permissions ---

// PermissionInput creates a catalog entry.
type PermissionInput struct {
	Key         string
	Description string
	Category    string
}

// PermissionUpdate edits a catalog entry. Nil fields are left alone.
type PermissionUpdate struct {
	Description *string
	Category    *string
}

// ListPermissions returns the catalog ordered by key.
func (c *Catalog) ListPermissions(ctx context.Context) ([]Permission, error) {
	return c.perms.ListPermissions(ctx)
}

// CreatePermission adds a catalog entry.
func (c *Catalog) CreatePermission(ctx context.Context, actorID string, in PermissionInput) (Permission, error) {
	key := strings.ToLower(strings.TrimSpace(in.Key))
	if !permissionKeyPattern.MatchString(key) {
		return Permission{}, fmt.Errorf("%w: permission key must look like domain:action", ErrInvalidInput)
	}
	p, err := c.perms.CreatePermission(ctx, Permission{
		Key:         key,
		Description: strings.TrimSpace(in.Description),
		Category:    strings.TrimSpace(in.Category),
		CreatedAt:   c.now().UTC(),
	})
	if err != nil {
		return Permission{}, err
	}
	c.record(ctx, actorID, audit.ActionPermissionCreate, "permission", p.Key, nil)
	return p, nil
}

// UpdatePermission edits a custom catalog entry.
func (c *Catalog) UpdatePermission(ctx context.Context, actorID, key string, upd PermissionUpdate) (Permission, error) {
	p, err := c.getPermission(ctx, key)
	if err != nil {
		return Permission{}, err
	}
	if p.Protected {
		return Permission{}, fmt.Errorf("%w: permission %s", ErrProtected, p.Key)
	}
	if upd.Description != nil {
		p.Description = strings.TrimSpace(*upd.Description)
	}
	if upd.Category != nil {
		p.Category = strings.TrimSpace(*upd.Category)
	}
	updated, err := c.perms.UpdatePermission(ctx, p)
	if err != nil {
		return Permission{}, err
	}
	c.record(ctx, actorID, audit.ActionPermissionUpdate, "permission", updated.Key, nil)
	return updated, nil
}

// DeletePermission removes a custom catalog entry. Roles keep the key.
func (c *Catalog) DeletePermission(ctx context.Context, actorID, key string) error {
	p, err := c.getPermission(ctx, key)
	if err != nil {
		return err
	}
	if p.Protected {
		return fmt.Errorf("%w: permission %s", ErrProtected, p.Key)
	}
	if err := c.perms.DeletePermission(ctx, p.Key); err != nil {
		return err
	}
	c.record(ctx, actorID, audit.ActionPermissionDelete, "permission", p.Key, nil)
	return nil
}

func (c *Catalog) getPermission(ctx context.Context, key string) (Permission, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Permission{}, fmt.Errorf("%w: permission key is required", ErrInvalidInput)
	}
	return c.perms.PermissionByKey(ctx, key)
}

// Users ---

// AccessInput assigns a role and permission overrides to a user.
type AccessInput struct {
	Role        string
	Permissions []string
}

// SetUserAccess replaces a user's role and overrides.
func (c *Catalog) SetUserAccess(ctx context.Context, actorID, userID string, in AccessInput) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	roleName := strings.TrimSpace(in.Role)
	if roleName == "" {
		return User{}, fmt.Errorf("%w: role is required", ErrInvalidInput)
	}
	if _, err := c.roles.RoleByName(ctx, roleName); err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, fmt.Errorf("%w: unknown role %s", ErrInvalidInput, roleName)
		}
		return User{}, err
	}
	perms := dedupeStrings(in.Permissions)
	for _, k := range perms {
		if k == WildcardPermission {
			return User{}, fmt.Errorf("%w: the wildcard can only be granted through a role", ErrInvalidInput)
		}
		if _, err := c.perms.PermissionByKey(ctx, k); err != nil {
			if errors.Is(err, ErrNotFound) {
				return User{}, fmt.Errorf("%w: unknown permission %s", ErrInvalidInput, k)
			}
			return User{}, err
		}
	}
	if perms == nil {
		perms = []string{}
	}
	u, err := c.users.SetUserAccess(ctx, userID, roleName, perms)
	if err != nil {
		return User{}, err
	}
	c.record(ctx, actorID, audit.ActionUserAccess, "user", u.ID, map[string]any{"role": u.Role, "permissions": u.Permissions})
	return u, nil
}

// Keys ---

// KeyInput registers a signing key. When both PEM fields are empty a new
// 2048-bit pair is generated.
type KeyInput struct {
	Purpose       keys.Purpose
	PrivateKeyPEM string
	PublicKeyPEM  string
}

// ListKeys returns every registered key, active or not.
func (c *Catalog) ListKeys() []keys.Entry {
	return c.registry.ListAll()
}

// AddKey registers a key. A key whose kid is already registered conflicts.
func (c *Catalog) AddKey(ctx context.Context, actorID string, in KeyInput) (keys.Entry, error) {
	if !in.Purpose.Valid() {
		return keys.Entry{}, fmt.Errorf("%w: purpose must be access or refresh", ErrInvalidInput)
	}
	privPEM := strings.TrimSpace(in.PrivateKeyPEM)
	pubPEM := strings.TrimSpace(in.PublicKeyPEM)

	var (
		entry keys.Entry
		err   error
	)
	switch {
	case privPEM == "" && pubPEM == "":
		priv, genErr := keys.GenerateRSA(2048)
		if genErr != nil {
			return keys.Entry{}, genErr
		}
		entry, err = c.registry.Add(in.Purpose, priv, nil)
	case privPEM != "":
		priv, parseErr := keys.ParsePrivateKeyPEM([]byte(privPEM))
		if parseErr != nil {
			return keys.Entry{}, mapKeyError(parseErr)
		}
		if pubPEM == "" {
			entry, err = c.registry.Add(in.Purpose, priv, nil)
			break
		}
		pub, parseErr := keys.ParsePublicKeyPEM([]byte(pubPEM))
		if parseErr != nil {
			return keys.Entry{}, mapKeyError(parseErr)
		}
		entry, err = c.registry.Add(in.Purpose, priv, pub)
	default:
		pub, parseErr := keys.ParsePublicKeyPEM([]byte(pubPEM))
		if parseErr != nil {
			return keys.Entry{}, mapKeyError(parseErr)
		}
		entry, err = c.registry.Add(in.Purpose, nil, pub)
	}
	if err != nil {
		return keys.Entry{}, mapKeyError(err)
	}
	c.record(ctx, actorID, audit.ActionKeyAdd, "key", entry.ID, map[string]any{
		"purpose":  string(entry.Purpose),
		"can_sign": entry.CanSign(),
	})
	return entry, nil
}

// SetKeyActive activates or deactivates a key. The last active signing key
// of a purpose cannot be deactivated.
func (c *Catalog) SetKeyActive(ctx context.Context, actorID, kid string, active bool) (keys.Entry, error) {
	kid = strings.TrimSpace(kid)
	var (
		updated keys.Entry
		err     error
	)
	if active {
		updated, err = c.registry.SetActive(kid, true)
	} else {
		updated, err = c.registry.Deactivate(kid)
	}
	if err != nil {
		return keys.Entry{}, mapKeyError(err)
	}
	action := audit.ActionKeyDeactivate
	if active {
		action = audit.ActionKeyActivate
	}
	c.record(ctx, actorID, action, "key", kid, map[string]any{"purpose": string(updated.Purpose)})
	return updated, nil
}

func mapKeyError(err error) error {
	switch {
	case errors.Is(err, keys.ErrDuplicateKey), errors.Is(err, keys.ErrLastSigner):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case errors.Is(err, keys.ErrKeyNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, keys.ErrInvalidKey):
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	default:
		return err
	}
}

func (c *Catalog) record(ctx context.Context, actorID, action, targetType, targetID string, meta map[string]any) {
	c.auditor.Record(ctx, audit.Entry{
		ActorID:    actorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Metadata:   meta,
	})
}
