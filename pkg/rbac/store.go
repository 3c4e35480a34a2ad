package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// UserGraphReader reads a user together with its roles and their permissions
type UserGraphReader interface {
	FindUserWithRolesAndPermissions(ctx context.Context, userID int64) (*User, error)
}

// GraphStore persists the user-role, role-permission and team-membership edges.
// Find-or-create operations are idempotent and destroy operations succeed
// when the edge is already absent. Referencing a missing entity returns
// ErrUserNotFound, ErrRoleNotFound, ErrPermissionNotFound or ErrTeamNotFound.
type GraphStore interface {
	UserGraphReader

	FindOrCreateUserRole(ctx context.Context, userID, roleID int64) error
	DestroyUserRole(ctx context.Context, userID, roleID int64) error

	FindOrCreateRolePermission(ctx context.Context, roleID, permissionID int64) error
	DestroyRolePermission(ctx context.Context, roleID, permissionID int64) error

	FindOrCreateTeamMember(ctx context.Context, userID, teamID int64, isLead bool) error
	DestroyTeamMember(ctx context.Context, userID, teamID int64) error

	ListUserRoles(ctx context.Context, userID int64) ([]Role, error)
	ListUserTeams(ctx context.Context, userID int64) ([]TeamMembership, error)

	GetRole(ctx context.Context, roleID int64) (*Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
}

// SQLStore is a GraphStore on database/sql. Queries use $n placeholders and
// ON CONFLICT clauses understood by both PostgreSQL and SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// Dialect selects how the schema is created; queries are shared
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// StoreOption configures a SQLStore
type StoreOption func(*SQLStore)

// WithDialect sets the database dialect; the default is PostgreSQL
func WithDialect(d Dialect) StoreOption {
	return func(s *SQLStore) { s.dialect = d }
}

// NewSQLStore creates a new permission graph store
func NewSQLStore(db *sql.DB, opts ...StoreOption) *SQLStore {
	s := &SQLStore{db: db, dialect: DialectPostgres, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying database handle
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Migrate brings the schema up to date: versioned migrations on PostgreSQL,
// SQLiteSchema on SQLite
func (s *SQLStore) Migrate(ctx context.Context, log *logrus.Logger) error {
	if s.dialect == DialectSQLite {
		return ApplySQLiteSchema(ctx, s.db)
	}
	return RunMigrations(ctx, s.db, log)
}

// FindUserWithRolesAndPermissions loads a user, its dynamic roles and each role's permissions
func (s *SQLStore) FindUserWithRolesAndPermissions(ctx context.Context, userID int64) (*User, error) {
	query := `
		SELECT u.id, u.email, u.name, u.role, u.created_at,
		       r.id, r.name, r.description,
		       p.id, p.resource, p.action
		FROM users u
		LEFT JOIN user_roles ur ON ur.user_id = u.id
		LEFT JOIN roles r ON r.id = ur.role_id
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		LEFT JOIN permissions p ON p.id = rp.permission_id
		WHERE u.id = $1
		ORDER BY r.id, p.id
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load permission graph: %w", err)
	}
	defer rows.Close()

	var user *User
	roleIndex := make(map[int64]int)

	for rows.Next() {
		var (
			u                        User
			role                     string
			roleID, permID           sql.NullInt64
			roleName, roleDesc       sql.NullString
			permResource, permAction sql.NullString
		)
		if err := rows.Scan(
			&u.ID, &u.Email, &u.Name, &role, &u.CreatedAt,
			&roleID, &roleName, &roleDesc,
			&permID, &permResource, &permAction,
		); err != nil {
			return nil, fmt.Errorf("failed to scan permission graph: %w", err)
		}

		if user == nil {
			u.Role = AccountRole(role)
			user = &u
		}
		if !roleID.Valid {
			continue
		}

		idx, ok := roleIndex[roleID.Int64]
		if !ok {
			user.Roles = append(user.Roles, Role{
				ID:          roleID.Int64,
				Name:        roleName.String,
				Description: roleDesc.String,
			})
			idx = len(user.Roles) - 1
			roleIndex[roleID.Int64] = idx
		}
		if permID.Valid {
			user.Roles[idx].Permissions = append(user.Roles[idx].Permissions, Permission{
				ID:       permID.Int64,
				Resource: permResource.String,
				Action:   permAction.String,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read permission graph: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	return user, nil
}

// FindOrCreateUserRole links a user to a role
func (s *SQLStore) FindOrCreateUserRole(ctx context.Context, userID, roleID int64) error {
	if err := s.requireRow(ctx, "users", userID, ErrUserNotFound); err != nil {
		return err
	}
	if err := s.requireRow(ctx, "roles", roleID, ErrRoleNotFound); err != nil {
		return err
	}

	query := `
		INSERT INTO user_roles (user_id, role_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, role_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, userID, roleID, s.now()); err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

// DestroyUserRole unlinks a user from a role
func (s *SQLStore) DestroyUserRole(ctx context.Context, userID, roleID int64) error {
	if err := s.requireRow(ctx, "users", userID, ErrUserNotFound); err != nil {
		return err
	}
	if err := s.requireRow(ctx, "roles", roleID, ErrRoleNotFound); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID); err != nil {
		return fmt.Errorf("failed to remove role: %w", err)
	}
	return nil
}

// FindOrCreateRolePermission grants a permission to a role
func (s *SQLStore) FindOrCreateRolePermission(ctx context.Context, roleID, permissionID int64) error {
	if err := s.requireRow(ctx, "roles", roleID, ErrRoleNotFound); err != nil {
		return err
	}
	if err := s.requireRow(ctx, "permissions", permissionID, ErrPermissionNotFound); err != nil {
		return err
	}

	query := `
		INSERT INTO role_permissions (role_id, permission_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (role_id, permission_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, roleID, permissionID, s.now()); err != nil {
		return fmt.Errorf("failed to assign permission: %w", err)
	}
	return nil
}

// DestroyRolePermission revokes a permission from a role
func (s *SQLStore) DestroyRolePermission(ctx context.Context, roleID, permissionID int64) error {
	if err := s.requireRow(ctx, "roles", roleID, ErrRoleNotFound); err != nil {
		return err
	}
	if err := s.requireRow(ctx, "permissions", permissionID, ErrPermissionNotFound); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID); err != nil {
		return fmt.Errorf("failed to remove permission: %w", err)
	}
	return nil
}

// FindOrCreateTeamMember adds a user to a team. An existing membership is left untouched.
func (s *SQLStore) FindOrCreateTeamMember(ctx context.Context, userID, teamID int64, isLead bool) error {
	if err := s.requireRow(ctx, "users", userID, ErrUserNotFound); err != nil {
		return err
	}
	if err := s.requireRow(ctx, "teams", teamID, ErrTeamNotFound); err != nil {
		return err
	}

	query := `
		INSERT INTO team_members (team_id, user_id, is_lead, added_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (team_id, user_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, teamID, userID, isLead, s.now()); err != nil {
		return fmt.Errorf("failed to add team member: %w", err)
	}
	return nil
}

// DestroyTeamMember removes a user from a team
func (s *SQLStore) DestroyTeamMember(ctx context.Context, userID, teamID int64) error {
	if err := s.requireRow(ctx, "users", userID, ErrUserNotFound); err != nil {
		return err
	}
	if err := s.requireRow(ctx, "teams", teamID, ErrTeamNotFound); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM team_members WHERE team_id = $1 AND user_id = $2`, teamID, userID); err != nil {
		return fmt.Errorf("failed to remove team member: %w", err)
	}
	return nil
}

// ListUserRoles returns a user's roles with their permissions, ordered by name
func (s *SQLStore) ListUserRoles(ctx context.Context, userID int64) ([]Role, error) {
	if err := s.requireRow(ctx, "users", userID, ErrUserNotFound); err != nil {
		return nil, err
	}

	query := `
		SELECT r.id, r.name, r.description, r.created_at, r.updated_at
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.name
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user roles: %w", err)
	}

	roles := []Role{}
	index := make(map[int64]int)
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		index[role.ID] = len(roles)
		roles = append(roles, role)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to list user roles: %w", err)
	}
	if len(roles) == 0 {
		return roles, nil
	}

	permQuery := `
		SELECT rp.role_id, p.id, p.resource, p.action, p.description
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		JOIN user_roles ur ON ur.role_id = rp.role_id
		WHERE ur.user_id = $1
		ORDER BY p.resource, p.action
	`
	permRows, err := s.db.QueryContext(ctx, permQuery, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}
	defer permRows.Close()

	for permRows.Next() {
		var roleID int64
		var perm Permission
		if err := permRows.Scan(&roleID, &perm.ID, &perm.Resource, &perm.Action, &perm.Description); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		if idx, ok := index[roleID]; ok {
			roles[idx].Permissions = append(roles[idx].Permissions, perm)
		}
	}
	if err := permRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}

	return roles, nil
}

// ListUserTeams returns a user's team memberships, ordered by team name
func (s *SQLStore) ListUserTeams(ctx context.Context, userID int64) ([]TeamMembership, error) {
	if err := s.requireRow(ctx, "users", userID, ErrUserNotFound); err != nil {
		return nil, err
	}

	query := `
		SELECT t.id, t.name, t.description, t.created_at, tm.is_lead, tm.added_at
		FROM team_members tm
		JOIN teams t ON t.id = tm.team_id
		WHERE tm.user_id = $1
		ORDER BY t.name
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user teams: %w", err)
	}
	defer rows.Close()

	memberships := []TeamMembership{}
	for rows.Next() {
		var team Team
		m := TeamMembership{UserID: userID}
		if err := rows.Scan(&team.ID, &team.Name, &team.Description, &team.CreatedAt, &m.IsLead, &m.AddedAt); err != nil {
			return nil, fmt.Errorf("failed to scan team membership: %w", err)
		}
		m.TeamID = team.ID
		m.Team = &team
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list user teams: %w", err)
	}

	return memberships, nil
}

// CreateUser inserts a user record
func (s *SQLStore) CreateUser(ctx context.Context, user *User) error {
	if _, ok := ParseAccountRole(string(user.Role)); !ok {
		return fmt.Errorf("invalid account role %q (must be one of %v)", user.Role, AccountRoles())
	}

	now := s.now()
	query := `
		INSERT INTO users (email, name, role, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	if err := s.db.QueryRowContext(ctx, query, user.Email, user.Name, string(user.Role), now).Scan(&user.ID); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	user.CreatedAt = now
	return nil
}

// CreateRole inserts a role record
func (s *SQLStore) CreateRole(ctx context.Context, role *Role) error {
	now := s.now()
	query := `
		INSERT INTO roles (name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	if err := s.db.QueryRowContext(ctx, query, role.Name, role.Description, now, now).Scan(&role.ID); err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}
	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// GetRole retrieves a role by ID, without its permissions
func (s *SQLStore) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	query := `
		SELECT id, name, description, created_at, updated_at
		FROM roles
		WHERE id = $1
	`
	var role Role
	err := s.db.QueryRowContext(ctx, query, roleID).Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &role, nil
}

// ListRoles returns every role ordered by name, without permissions
func (s *SQLStore) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, description, created_at, updated_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	roles := []Role{}
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	return roles, nil
}

// EnsurePermission returns the permission for resource and action, creating it if needed
func (s *SQLStore) EnsurePermission(ctx context.Context, resource, action, description string) (*Permission, error) {
	if resource == "" || action == "" {
		return nil, fmt.Errorf("permission requires a resource and an action")
	}

	query := `
		INSERT INTO permissions (resource, action, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (resource, action) DO UPDATE SET description = EXCLUDED.description
		RETURNING id
	`
	perm := &Permission{Resource: resource, Action: action, Description: description}
	if err := s.db.QueryRowContext(ctx, query, resource, action, description).Scan(&perm.ID); err != nil {
		return nil, fmt.Errorf("failed to ensure permission: %w", err)
	}
	return perm, nil
}

// CreateTeam inserts a team record
func (s *SQLStore) CreateTeam(ctx context.Context, team *Team) error {
	now := s.now()
	query := `
		INSERT INTO teams (name, description, created_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`
	if err := s.db.QueryRowContext(ctx, query, team.Name, team.Description, now).Scan(&team.ID); err != nil {
		return fmt.Errorf("failed to create team: %w", err)
	}
	team.CreatedAt = now
	return nil
}

// requireRow returns notFound when table has no row with the given id.
// table is always one of the package's own table names.
func (s *SQLStore) requireRow(ctx context.Context, table string, id int64, notFound error) error {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM "+table+" WHERE id = $1", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up %s %d: %w", table, id, err)
	}
	return nil
}
