package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"shopfront.io/internal/auth"
)

const roleColumns = `name, label, description, permissions, protected, created_at, updated_at`

func (s *Store) CreateRole(ctx context.Context, r auth.Role) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	perms, err := encodeStrings(r.Permissions)
	if err != nil {
		return auth.Role{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		insert into roles (name, label, description, permissions, protected, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning `+roleColumns,
		r.Name, r.Label, r.Description, perms, r.Protected, r.CreatedAt, r.UpdatedAt)
	created, err := scanRole(row)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.Role{}, fmt.Errorf("%w: role %s exists", auth.ErrConflict, r.Name)
		}
		return auth.Role{}, err
	}
	return created, nil
}

func (s *Store) RoleByName(ctx context.Context, name string) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where name = $1`, name)
	r, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Role{}, fmt.Errorf("%w: role %s", auth.ErrNotFound, name)
	}
	return r, err
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+roleColumns+` from roles order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []auth.Role{}
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) UpdateRole(ctx context.Context, r auth.Role) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	perms, err := encodeStrings(r.Permissions)
	if err != nil {
		return auth.Role{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		update roles set label = $2, description = $3, permissions = $4, updated_at = $5
		where name = $1
		returning `+roleColumns,
		r.Name, r.Label, r.Description, perms, r.UpdatedAt)
	updated, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Role{}, fmt.Errorf("%w: role %s", auth.ErrNotFound, r.Name)
	}
	return updated, err
}

func (s *Store) DeleteRole(ctx context.Context, name string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from roles where name = $1`, name)
	if err != nil {
		return err
	}
	return requireAffected(res, "role", name)
}

func scanRole(row rowScanner) (auth.Role, error) {
	var (
		r   auth.Role
		raw []byte
	)
	if err := row.Scan(&r.Name, &r.Label, &r.Description, &raw, &r.Protected, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return auth.Role{}, err
	}
	perms, err := decodeStrings(raw)
	if err != nil {
		return auth.Role{}, err
	}
	r.Permissions = perms
	return r, nil
}

func requireAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", auth.ErrNotFound, kind, id)
	}
	return nil
}
