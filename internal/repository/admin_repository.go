package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sorteo-api/internal/models"
)

const adminColumns = `id, username, password_hash, role, active, last_login, created_at, updated_at`

// AdminRepository persists panel accounts and their audit trail.
type AdminRepository struct {
	db *sqlx.DB
}

// NewAdminRepository constructs an AdminRepository.
func NewAdminRepository(db *sqlx.DB) *AdminRepository {
	return &AdminRepository{db: db}
}

// FindByUsername returns sql.ErrNoRows when no account matches.
func (r *AdminRepository) FindByUsername(ctx context.Context, username string) (*models.AdminUser, error) {
	query := `SELECT ` + adminColumns + ` FROM admin_users WHERE LOWER(username) = LOWER($1) LIMIT 1`
	var user models.AdminUser
	if err := r.db.GetContext(ctx, &user, query, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find admin by username: %w", err)
	}
	return &user, nil
}

// UpdateLastLogin stamps a successful login.
func (r *AdminRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE admin_users SET last_login = $2, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, ts); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// EnsureAdmin creates the account when the username is free. Existing accounts are left untouched.
func (r *AdminRepository) EnsureAdmin(ctx context.Context, user *models.AdminUser) (bool, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	user.CreatedAt, user.UpdatedAt = now, now
	const query = `INSERT INTO admin_users (id, username, password_hash, role, active, created_at, updated_at)
	VALUES (:id, :username, :password_hash, :role, :active, :created_at, :updated_at)
	ON CONFLICT (username) DO NOTHING`
	res, err := r.db.NamedExecContext(ctx, query, user)
	if err != nil {
		return false, fmt.Errorf("ensure admin: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check ensure admin rows: %w", err)
	}
	return affected > 0, nil
}

// CreateAuditLog records an admin action.
func (r *AdminRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, new_values, ip_address, user_agent, created_at)
	VALUES (:id, :user_id, :action, :resource, :resource_id, :new_values, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}
