package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"shopfront.io/internal/auth"
)

const permissionColumns = `key, description, category, protected, created_at`

func (s *Store) CreatePermission(ctx context.Context, p auth.Permission) (auth.Permission, error) {
	if s.db == nil {
		return auth.Permission{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `
		insert into permissions (key, description, category, protected, created_at)
		values ($1, $2, $3, $4, $5)
		returning `+permissionColumns,
		p.Key, p.Description, p.Category, p.Protected, p.CreatedAt)
	created, err := scanPermission(row)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.Permission{}, fmt.Errorf("%w: permission %s exists", auth.ErrConflict, p.Key)
		}
		return auth.Permission{}, err
	}
	return created, nil
}

func (s *Store) PermissionByKey(ctx context.Context, key string) (auth.Permission, error) {
	if s.db == nil {
		return auth.Permission{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `select `+permissionColumns+` from permissions where key = $1`, key)
	p, err := scanPermission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Permission{}, fmt.Errorf("%w: permission %s", auth.ErrNotFound, key)
	}
	return p, err
}

func (s *Store) ListPermissions(ctx context.Context) ([]auth.Permission, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+permissionColumns+` from permissions order by key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []auth.Permission{}
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpdatePermission(ctx context.Context, p auth.Permission) (auth.Permission, error) {
	if s.db == nil {
		return auth.Permission{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `
		update permissions set description = $2, category = $3
		where key = $1
		returning `+permissionColumns,
		p.Key, p.Description, p.Category)
	updated, err := scanPermission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Permission{}, fmt.Errorf("%w: permission %s", auth.ErrNotFound, p.Key)
	}
	return updated, err
}

func (s *Store) DeletePermission(ctx context.Context, key string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from permissions where key = $1`, key)
	if err != nil {
		return err
	}
	return requireAffected(res, "permission", key)
}

func scanPermission(row rowScanner) (auth.Permission, error) {
	var p auth.Permission
	if err := row.Scan(&p.Key, &p.Description, &p.Category, &p.Protected, &p.CreatedAt); err != nil {
		return auth.Permission{}, err
	}
	return p, nil
}
