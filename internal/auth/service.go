package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"shopfront.io/internal/audit"
	"shopfront.io/internal/ids"
	"shopfront.io/internal/lock"
	"shopfront.io/internal/obs"
	"shopfront.io/internal/token"
)

const (
	defaultMaxSessions  = 10
	defaultStoreTimeout = 800 * time.Millisecond
	defaultLockTTL      = 5 * time.Second
	DefaultRole         = RoleCustomer
)

// Auditor receives audit entries. Implementations must not fail the caller.
type Auditor interface {
	Record(ctx context.Context, entry audit.Entry)
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, audit.Entry) {}

// Service implements registration, login and the refresh-session protocol.
type Service struct {
	users    UserStore
	tokens   *token.Service
	resolver *Resolver
	locker   lock.Locker
	auditor  Auditor
	logger   *zap.Logger
	now      func() time.Time

	bcryptCost   int
	refreshHash  Argon2Params
	maxSessions  int
	defaultRole  string
	storeTimeout time.Duration
	lockTTL      time.Duration

	dummyOnce sync.Once
	dummyHash string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithLocker serializes refresh attempts per user through l.
func WithLocker(l lock.Locker) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.locker = l
		}
		return nil
	}
}

// WithAuditor sets the audit recorder.
func WithAuditor(a Auditor) ServiceOption {
	return func(s *Service) error {
		if a != nil {
			s.auditor = a
		}
		return nil
	}
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithBcryptCost sets the password hashing cost.
func WithBcryptCost(cost int) ServiceOption {
	return func(s *Service) error {
		if cost > 0 {
			s.bcryptCost = cost
		}
		return nil
	}
}

// WithRefreshHashParams tunes the argon2id refresh-token hash.
func WithRefreshHashParams(p Argon2Params) ServiceOption {
	return func(s *Service) error {
		if p.Memory == 0 || p.Iterations == 0 || p.Parallelism == 0 || p.KeyLength == 0 || p.SaltLength == 0 {
			return errors.New("auth: argon2 parameters must be positive")
		}
		s.refreshHash = p
		return nil
	}
}

// WithMaxSessions bounds the live refresh sessions kept per user.
func WithMaxSessions(n int) ServiceOption {
	return func(s *Service) error {
		if n > 0 {
			s.maxSessions = n
		}
		return nil
	}
}

// WithDefaultRole sets the role given to newly registered users.
func WithDefaultRole(role string) ServiceOption {
	return func(s *Service) error {
		if role = strings.TrimSpace(role); role != "" {
			s.defaultRole = role
		}
		return nil
	}
}

// WithStoreTimeout bounds each storage call.
func WithStoreTimeout(d time.Duration) ServiceOption {
	return func(s *Service) error {
		if d > 0 {
			s.storeTimeout = d
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, tokens *token.Service, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth store is required")
	}
	if tokens == nil {
		return nil, errors.New("token service is required")
	}
	svc := &Service{
		users:        store.Users(),
		tokens:       tokens,
		locker:       lock.Nop{},
		auditor:      nopAuditor{},
		logger:       obs.Logger(),
		now:          time.Now,
		refreshHash:  DefaultArgon2Params,
		maxSessions:  defaultMaxSessions,
		defaultRole:  DefaultRole,
		storeTimeout: defaultStoreTimeout,
		lockTTL:      defaultLockTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	resolver, err := NewResolver(store, svc.logger)
	if err != nil {
		return nil, err
	}
	svc.resolver = resolver
	return svc, nil
}

// Resolver exposes the permission resolver bound to the same store.
func (s *Service) Resolver() *Resolver { return s.resolver }

// Tokens exposes the token service.
func (s *Service) Tokens() *token.Service { return s.tokens }

// RegisterInput carries a self-service registration.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	User             User
}

// RefreshResult is returned by a successful refresh.
type RefreshResult struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	UserID           string
}

// Profile is the caller's own view of their account.
type Profile struct {
	User        User
	Permissions []string
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func validEmail(email string) bool {
	if email == "" || strings.ContainsAny(email, " \t\r\n") {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// Register creates a customer account.
func (s *Service) Register(ctx context.Context, in RegisterInput) (User, error) {
	name := strings.TrimSpace(in.Name)
	email := NormalizeEmail(in.Email)
	switch {
	case name == "":
		return User{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	case email == "":
		return User{}, fmt.Errorf("%w: email is required", ErrInvalidInput)
	case !validEmail(email):
		return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	case in.Password == "":
		return User{}, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	hash, err := HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return User{}, err
	}
	now := s.now().UTC()
	user := User{
		ID:           ids.New(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Role:         s.defaultRole,
		Permissions:  []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	created, err := s.users.CreateUser(sctx, user)
	if err != nil {
		return User{}, err
	}
	s.logger.Info("user registered", zap.String("user_id", created.ID))
	return created, nil
}

// Login checks credentials and opens a new refresh session.
func (s *Service) Login(ctx context.Context, email, password string, origin Origin) (LoginResult, error) {
	ctx, span := obs.StartSpan(ctx, "auth.Login")
	defer span.End()

	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}

	sctx, cancel := s.storeCtx(ctx)
	user, err := s.users.UserByEmail(sctx, email)
	cancel()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Spend the same bcrypt time as a real comparison.
			_ = VerifyPassword(s.dummyPasswordHash(), password)
			obs.ObserveLogin("invalid_credentials")
			s.logger.Warn("login rejected", zap.String("reason", "unknown_email"), zap.String("ip", origin.IP))
			return LoginResult{}, ErrInvalidCredentials
		}
		obs.ObserveLogin("error")
		span.SetStatus(codes.Error, "user lookup failed")
		return LoginResult{}, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		obs.ObserveLogin("invalid_credentials")
		s.logger.Warn("login rejected", zap.String("reason", "bad_password"), zap.String("user_id", user.ID), zap.String("ip", origin.IP))
		return LoginResult{}, ErrInvalidCredentials
	}
	span.SetAttributes(attribute.String("user.id", user.ID))

	now := s.now().UTC()
	access, refresh, sess, err := s.mint(user, now, origin)
	if err != nil {
		obs.ObserveLogin("error")
		return LoginResult{}, err
	}
	sctx, cancel = s.storeCtx(ctx)
	defer cancel()
	if err := s.users.AddSession(sctx, user.ID, sess, now, s.maxSessions); err != nil {
		obs.ObserveLogin("error")
		span.SetStatus(codes.Error, "persist session failed")
		return LoginResult{}, err
	}
	obs.ObserveLogin("success")
	s.logger.Info("login", zap.String("user_id", user.ID), zap.String("token_id", refresh.TokenID))
	return LoginResult{
		AccessToken:      access.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshToken:     refresh.Token,
		RefreshExpiresAt: refresh.ExpiresAt,
		User:             user,
	}, nil
}

// Refresh rotates a refresh token. Every successful call invalidates the
// presented token; presenting it again yields ErrReplayDetected.
func (s *Service) Refresh(ctx context.Context, refreshToken string, origin Origin) (RefreshResult, error) {
	ctx, span := obs.StartSpan(ctx, "auth.Refresh")
	defer span.End()

	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		obs.ObserveVerifyFailure(token.TypeRefresh)
		obs.ObserveRefresh("invalid")
		return RefreshResult{}, ErrInvalidToken
	}
	userID, tokenID := claims.Subject, claims.ID
	span.SetAttributes(attribute.String("user.id", userID))

	lctx, cancel := context.WithTimeout(ctx, s.lockTTL)
	release, err := s.locker.Acquire(lctx, "refresh:"+userID, s.lockTTL)
	cancel()
	if err != nil {
		obs.ObserveRefresh("error")
		return RefreshResult{}, fmt.Errorf("acquire refresh lock: %w", err)
	}
	defer release()

	sctx, cancel := s.storeCtx(ctx)
	user, err := s.users.UserByID(sctx, userID)
	cancel()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.ObserveRefresh("invalid")
			return RefreshResult{}, ErrInvalidToken
		}
		obs.ObserveRefresh("error")
		return RefreshResult{}, err
	}

	sess, ok := user.Sessions.Find(tokenID)
	if !ok {
		return RefreshResult{}, s.replay(ctx, userID, tokenID, "session_missing", origin)
	}
	match, err := VerifyArgon2(sess.TokenHash, refreshToken)
	if err != nil {
		s.logger.Error("stored refresh hash unreadable", zap.String("user_id", userID), zap.String("token_id", tokenID), zap.Error(err))
	}
	if !match {
		sctx, cancel := s.storeCtx(ctx)
		if _, err := s.users.RemoveSession(sctx, userID, tokenID, s.now().UTC()); err != nil {
			s.logger.Error("remove replayed session", zap.String("user_id", userID), zap.String("token_id", tokenID), zap.Error(err))
		}
		cancel()
		return RefreshResult{}, s.replay(ctx, userID, tokenID, "hash_mismatch", origin)
	}

	now := s.now().UTC()
	if sess.Expired(now) {
		sctx, cancel := s.storeCtx(ctx)
		_, _ = s.users.RemoveSession(sctx, userID, tokenID, now)
		cancel()
		obs.ObserveRefresh("invalid")
		return RefreshResult{}, ErrInvalidToken
	}

	access, refresh, next, err := s.mint(user, now, origin)
	if err != nil {
		obs.ObserveRefresh("error")
		return RefreshResult{}, err
	}
	sctx, cancel = s.storeCtx(ctx)
	defer cancel()
	if err := s.users.RotateSession(sctx, userID, tokenID, next, now, s.maxSessions); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return RefreshResult{}, s.replay(ctx, userID, tokenID, "concurrent_rotation", origin)
		}
		obs.ObserveRefresh("error")
		return RefreshResult{}, err
	}
	obs.ObserveRefresh("success")
	s.logger.Debug("refresh rotated", zap.String("user_id", userID), zap.String("old_token_id", tokenID), zap.String("token_id", refresh.TokenID))
	return RefreshResult{
		AccessToken:      access.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshToken:     refresh.Token,
		RefreshExpiresAt: refresh.ExpiresAt,
		UserID:           userID,
	}, nil
}

// Logout removes the session named by refreshToken. The signature is checked
// when possible but a token that fails verification still locates its
// session. Logout never fails; it reports whether a session was removed.
func (s *Service) Logout(ctx context.Context, refreshToken string) bool {
	ctx, span := obs.StartSpan(ctx, "auth.Logout")
	defer span.End()

	if strings.TrimSpace(refreshToken) == "" {
		return false
	}
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		claims, err = token.ParseUnverified(refreshToken)
		if err != nil {
			s.logger.Debug("logout with unreadable token", zap.Error(err))
			return false
		}
	}
	if claims.Subject == "" || claims.ID == "" {
		return false
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	removed, err := s.users.RemoveSession(sctx, claims.Subject, claims.ID, s.now().UTC())
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("logout: remove session", zap.String("user_id", claims.Subject), zap.Error(err))
		}
		return false
	}
	return removed
}

// Me returns the user and their effective permissions.
func (s *Service) Me(ctx context.Context, userID string) (Profile, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	user, err := s.users.UserByID(sctx, userID)
	if err != nil {
		return Profile{}, err
	}
	perms, err := s.resolver.EffectivePermissions(sctx, userID)
	if err != nil {
		return Profile{}, err
	}
	return Profile{User: user, Permissions: perms}, nil
}

// RevokeSessions removes every refresh session of userID.
func (s *Service) RevokeSessions(ctx context.Context, actorID, userID string) (int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	n, err := s.users.RemoveAllSessions(sctx, userID)
	if err != nil {
		return 0, err
	}
	s.auditor.Record(ctx, audit.Entry{
		ActorID:    actorID,
		Action:     audit.ActionSessionsRevoke,
		TargetType: "user",
		TargetID:   userID,
		Metadata:   map[string]any{"revoked": n},
	})
	return n, nil
}

func (s *Service) mint(user User, now time.Time, origin Origin) (token.Signed, token.Signed, RefreshSession, error) {
	sub := token.Subject{UserID: user.ID, Role: user.Role}
	access, err := s.tokens.SignAccess(sub)
	if err != nil {
		return token.Signed{}, token.Signed{}, RefreshSession{}, err
	}
	refresh, err := s.tokens.SignRefresh(sub)
	if err != nil {
		return token.Signed{}, token.Signed{}, RefreshSession{}, err
	}
	hash, err := s.refreshHash.Hash(refresh.Token)
	if err != nil {
		return token.Signed{}, token.Signed{}, RefreshSession{}, err
	}
	return access, refresh, RefreshSession{
		TokenID:   refresh.TokenID,
		TokenHash: hash,
		IssuedAt:  now,
		ExpiresAt: refresh.ExpiresAt,
		IP:        origin.IP,
		UserAgent: origin.UserAgent,
	}, nil
}

func (s *Service) replay(ctx context.Context, userID, tokenID, reason string, origin Origin) error {
	obs.ObserveReplay()
	obs.ObserveRefresh("replay")
	s.logger.Warn("refresh token replay",
		zap.String("user_id", userID),
		zap.String("token_id", tokenID),
		zap.String("reason", reason),
		zap.String("ip", origin.IP),
	)
	s.auditor.Record(ctx, audit.Entry{
		ActorID:    userID,
		Action:     audit.ActionRefreshReplay,
		TargetType: "session",
		TargetID:   tokenID,
		Metadata:   map[string]any{"reason": reason},
		IP:         origin.IP,
		UserAgent:  origin.UserAgent,
	})
	return ErrReplayDetected
}

func (s *Service) dummyPasswordHash() string {
	s.dummyOnce.Do(func() {
		hash, err := HashPassword(ids.New(), s.bcryptCost)
		if err != nil {
			s.logger.Error("dummy password hash", zap.Error(err))
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}
