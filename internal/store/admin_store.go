package store

import (
	"context"
	"database/sql"
	"errors"
)

const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
)

type AdminStore struct {
	db DB
}

// Capabilities are the privileged flags of one user.
type Capabilities struct {
	IsAdmin     bool
	IsModerator bool
	IsOwner     bool
}

type capabilityRow struct {
	IsSuper      bool `db:"is_super"`
	HasAdmin     bool `db:"has_admin"`
	HasModerator bool `db:"has_moderator"`
}

func NewAdminStore(db DB) *AdminStore {
	return &AdminStore{db: db}
}

// IsAdmin reports whether userID has an admins row and whether it is the
// super admin.
func (s *AdminStore) IsAdmin(ctx context.Context, userID string) (bool, bool, error) {
	var isSuper bool
	err := s.db.GetContext(ctx, &isSuper, `
		SELECT is_super
		FROM admins
		WHERE user_id = $1
	`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, false, nil
		}
		return false, false, err
	}
	return true, isSuper, nil
}

// Capabilities maps the admins and admin_roles rows of userID onto workflow
// capabilities. A super admin is owner and admin.
func (s *AdminStore) Capabilities(ctx context.Context, userID string) (Capabilities, error) {
	var row capabilityRow
	err := s.db.GetContext(ctx, &row, `
		SELECT a.is_super,
		       EXISTS (SELECT 1 FROM admin_roles r WHERE r.admin_user_id = a.user_id AND r.role = $2) AS has_admin,
		       EXISTS (SELECT 1 FROM admin_roles r WHERE r.admin_user_id = a.user_id AND r.role = $3) AS has_moderator
		FROM admins a
		WHERE a.user_id = $1
	`, userID, RoleAdmin, RoleModerator)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Capabilities{}, nil
		}
		return Capabilities{}, err
	}
	return Capabilities{
		IsOwner:     row.IsSuper,
		IsAdmin:     row.IsSuper || row.HasAdmin,
		IsModerator: row.HasModerator,
	}, nil
}

func (s *AdminStore) CreateAdmin(ctx context.Context, tx Execer, userID string, isSuper bool, createdBy *string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO admins (user_id, is_super, created_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, isSuper, createdBy)
	return err
}

func (s *AdminStore) GrantRole(ctx context.Context, tx Execer, adminUserID, role string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO admin_roles (admin_user_id, role)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, adminUserID, role)
	return err
}

func (s *AdminStore) HasAnyAdmin(ctx context.Context) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(1) FROM admins`)
	return count > 0, err
}
