package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"shopfront.io/internal/auth"
)

const userColumns = `id, email, name, password_hash, role, permissions, sessions, created_at, updated_at`

// User store ---

func (s *Store) CreateUser(ctx context.Context, u auth.User) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	perms, err := encodeStrings(u.Permissions)
	if err != nil {
		return auth.User{}, err
	}
	sessions, err := encodeSessions(u.Sessions)
	if err != nil {
		return auth.User{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		insert into users (id, email, name, password_hash, role, permissions, sessions, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning `+userColumns,
		u.ID, u.Email, u.Name, u.PasswordHash, u.Role, perms, sessions, u.CreatedAt, u.UpdatedAt)
	created, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.User{}, fmt.Errorf("%w: email already registered", auth.ErrConflict)
		}
		return auth.User{}, err
	}
	return created, nil
}

func (s *Store) UserByID(ctx context.Context, id string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, fmt.Errorf("%w: user %s", auth.ErrNotFound, id)
	}
	return u, err
}

func (s *Store) UserByEmail(ctx context.Context, email string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where email = $1`, email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, fmt.Errorf("%w: user", auth.ErrNotFound)
	}
	return u, err
}

func (s *Store) SetUserAccess(ctx context.Context, id, role string, permissions []string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	perms, err := encodeStrings(permissions)
	if err != nil {
		return auth.User{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		update users set role = $2, permissions = $3, updated_at = now()
		where id = $1
		returning `+userColumns, id, role, perms)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, fmt.Errorf("%w: user %s", auth.ErrNotFound, id)
	}
	return u, err
}

func (s *Store) AddSession(ctx context.Context, userID string, sess auth.RefreshSession, now time.Time, limit int) error {
	return s.mutateSessions(ctx, userID, func(current auth.Sessions) (auth.Sessions, error) {
		return current.Add(sess, now, limit), nil
	})
}

func (s *Store) RotateSession(ctx context.Context, userID, oldTokenID string, next auth.RefreshSession, now time.Time, limit int) error {
	return s.mutateSessions(ctx, userID, func(current auth.Sessions) (auth.Sessions, error) {
		rotated, ok := current.Rotate(oldTokenID, next, now, limit)
		if !ok {
			return nil, auth.ErrSessionNotFound
		}
		return rotated, nil
	})
}

func (s *Store) RemoveSession(ctx context.Context, userID, tokenID string, now time.Time) (bool, error) {
	var removed bool
	err := s.mutateSessions(ctx, userID, func(current auth.Sessions) (auth.Sessions, error) {
		var out auth.Sessions
		out, removed = current.PruneExpired(now).RemoveByID(tokenID)
		return out, nil
	})
	return removed, err
}

func (s *Store) RemoveAllSessions(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.mutateSessions(ctx, userID, func(current auth.Sessions) (auth.Sessions, error) {
		n = len(current)
		return auth.Sessions{}, nil
	})
	return n, err
}

// mutateSessions locks the user row, applies fn to its sessions and writes
// the result back in the same transaction.
func (s *Store) mutateSessions(ctx context.Context, userID string, fn func(auth.Sessions) (auth.Sessions, error)) error {
	if s.db == nil {
		return errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var raw []byte
	if err := tx.QueryRowContext(ctx, `select sessions from users where id = $1 for update`, userID).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: user %s", auth.ErrNotFound, userID)
		}
		return err
	}
	current, err := decodeSessions(raw)
	if err != nil {
		return err
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	encoded, err := encodeSessions(next)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `update users set sessions = $2 where id = $1`, userID, encoded); err != nil {
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (auth.User, error) {
	var (
		u                     auth.User
		rawPerms, rawSessions []byte
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &rawPerms, &rawSessions, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return auth.User{}, err
	}
	perms, err := decodeStrings(rawPerms)
	if err != nil {
		return auth.User{}, err
	}
	sessions, err := decodeSessions(rawSessions)
	if err != nil {
		return auth.User{}, err
	}
	u.Permissions = perms
	u.Sessions = sessions
	return u, nil
}

func encodeStrings(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("encode list: %w", err)
	}
	return b, nil
}

func decodeStrings(raw []byte) ([]string, error) {
	out := []string{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	return out, nil
}

func encodeSessions(sessions auth.Sessions) ([]byte, error) {
	if sessions == nil {
		sessions = auth.Sessions{}
	}
	b, err := json.Marshal(sessions)
	if err != nil {
		return nil, fmt.Errorf("encode sessions: %w", err)
	}
	return b, nil
}

func decodeSessions(raw []byte) (auth.Sessions, error) {
	out := auth.Sessions{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return out, nil
}
