package permission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

const foreignKeyViolation = "23503"

// ErrUnavailable wraps every storage failure.
var ErrUnavailable = errors.New("role store unavailable")

// PGStore keeps roles in the roles and role_permissions tables.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PGStore) Roles(ctx context.Context) (map[string]Role, error) {
	return loadRoles(ctx, s.db)
}

// SaveRole upserts role and replaces its permissions. The roles table is
// locked for the transaction so two concurrent saves cannot each pass
// validation and together form a cycle.
func (s *PGStore) SaveRole(ctx context.Context, role Role, check func(map[string]Role) error) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		roles, err := loadRoles(ctx, tx)
		if err != nil {
			return err
		}
		if err := check(WithRole(roles, role)); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			insert into roles (name, parent_name) values ($1, nullif($2, ''))
			on conflict (name) do update set parent_name = excluded.parent_name
		`, role.Name, role.Parent); err != nil {
			return mapWriteErr("upsert role", err)
		}
		if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_name = $1`, role.Name); err != nil {
			return mapWriteErr("clear permissions", err)
		}
		for _, p := range role.Permissions {
			if _, err := tx.ExecContext(ctx, `
				insert into role_permissions (role_name, permission_name) values ($1, $2)
			`, role.Name, p); err != nil {
				return mapWriteErr("grant permission", err)
			}
		}
		return nil
	})
}

func (s *PGStore) DeleteRole(ctx context.Context, name string, check func(map[string]Role) error) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		roles, err := loadRoles(ctx, tx)
		if err != nil {
			return err
		}
		if err := check(roles); err != nil {
			return err
		}
		for _, q := range []string{
			`delete from identity_roles where role_name = $1`,
			`delete from role_permissions where role_name = $1`,
			`delete from roles where name = $1`,
		} {
			if _, err := tx.ExecContext(ctx, q, name); err != nil {
				return mapWriteErr("delete role", err)
			}
		}
		return nil
	})
}

func (s *PGStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrUnavailable, err)
	}
	if _, err := tx.ExecContext(ctx, `lock table roles in share row exclusive mode`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%w: lock: %v", ErrUnavailable, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}
	return nil
}

func loadRoles(ctx context.Context, q querier) (map[string]Role, error) {
	rows, err := q.QueryContext(ctx, `
		select r.name, coalesce(r.parent_name, ''), rp.permission_name
		from roles r
		left join role_permissions rp on rp.role_name = r.name
		order by r.name, rp.permission_name
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: load roles: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	roles := make(map[string]Role)
	for rows.Next() {
		var (
			name, parent string
			perm         sql.NullString
		)
		if err := rows.Scan(&name, &parent, &perm); err != nil {
			return nil, fmt.Errorf("%w: load roles: %v", ErrUnavailable, err)
		}
		role := roles[name]
		role.Name = name
		role.Parent = parent
		if perm.Valid {
			role.Permissions = append(role.Permissions, perm.String)
		}
		roles[name] = role
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: load roles: %v", ErrUnavailable, err)
	}
	return roles, nil
}

func mapWriteErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return fmt.Errorf("%w: %s", ErrUnknown, pgErr.Detail)
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
