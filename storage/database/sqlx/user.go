package sqlxrepos

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/volatiletech/null/v8"

	"github.com/didisacademy/academy/core"
	"github.com/didisacademy/academy/core/subscription"
	"github.com/didisacademy/academy/core/user"
)

const userColumns = `id, name, username, email, is_active, roles, level, password_hash, created_at, updated_at, last_login`

var userOrderingFields = map[string]string{
	"id":         "id",
	"name":       "name",
	"username":   "username",
	"email":      "email",
	"level":      "level",
	"created_at": "created_at",
	"last_login": "last_login",
}

type userRow struct {
	ID           string             `db:"id"`
	Name         string             `db:"name"`
	Username     null.String        `db:"username"`
	Email        null.String        `db:"email"`
	IsActive     bool               `db:"is_active"`
	Roles        pq.StringArray     `db:"roles"`
	Level        subscription.Level `db:"level"`
	PasswordHash null.Bytes         `db:"password_hash"`
	CreatedAt    time.Time          `db:"created_at"`
	UpdatedAt    time.Time          `db:"updated_at"`
	LastLogin    null.Time          `db:"last_login"`
}

type levelStartRow struct {
	UserID    string             `db:"user_id"`
	Level     subscription.Level `db:"level"`
	StartedAt time.Time          `db:"started_at"`
}

type userRepository struct {
	db core.DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db core.DB) user.Repository {
	return &userRepository{db: db}
}

func (repo userRepository) getExec(exec []core.DBExecutor) core.DBExecutor {
	return getExec(repo.db, exec)
}

func (repo userRepository) toRow(usr user.User) userRow {
	roles := usr.Roles
	if roles == nil {
		roles = []string{}
	}
	return userRow{
		ID:           usr.ID,
		Name:         usr.Name,
		Username:     null.NewString(usr.Username, usr.Username != ""),
		Email:        null.NewString(usr.Email, usr.Email != ""),
		IsActive:     usr.IsActive,
		Roles:        roles,
		Level:        usr.Level,
		PasswordHash: null.NewBytes(usr.PasswordHash, usr.PasswordHash != nil),
		CreatedAt:    usr.CreatedAt.UTC(),
		UpdatedAt:    usr.UpdatedAt.UTC(),
		LastLogin:    null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
	}
}

func (repo userRepository) fromRow(row userRow) user.User {
	return user.User{
		ID:           row.ID,
		Name:         row.Name,
		Username:     row.Username.String,
		Email:        row.Email.String,
		IsActive:     row.IsActive,
		Roles:        []string(row.Roles),
		Level:        row.Level,
		LevelStarts:  make(map[subscription.Level]time.Time),
		PasswordHash: row.PasswordHash.Bytes,
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
		LastLogin:    row.LastLogin.Time.UTC(),
	}
}

// loadLevelStarts fills User.LevelStarts of every user in one query.
func (repo userRepository) loadLevelStarts(ctx context.Context, exec core.DBExecutor, users []user.User) error {
	if len(users) == 0 {
		return nil
	}
	idx := make(map[string]int, len(users))
	ids := make([]string, 0, len(users))
	for i, u := range users {
		idx[u.ID] = i
		ids = append(ids, u.ID)
	}

	var rows []levelStartRow
	q := `SELECT user_id, level, started_at FROM user_level_start WHERE user_id = ANY($1::uuid[])`
	if err := sqlx.SelectContext(ctx, exec, &rows, q, pq.Array(ids)); err != nil {
		return dbErr(err, "querying level starts")
	}
	for _, row := range rows {
		if i, ok := idx[row.UserID]; ok {
			users[i].LevelStarts[row.Level] = row.StartedAt.UTC()
		}
	}
	return nil
}

// saveLevelStarts records level starts that are not stored yet; stored starts are never moved.
func (repo userRepository) saveLevelStarts(ctx context.Context, exec core.DBExecutor, usr user.User) error {
	q := `INSERT INTO user_level_start (user_id, level, started_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, level) DO NOTHING`
	for lvl, started := range usr.LevelStarts {
		if _, err := exec.ExecContext(ctx, q, usr.ID, lvl, started.UTC()); err != nil {
			return dbErr(err, fmt.Sprintf("saving %s level start", lvl))
		}
	}
	return nil
}

func (repo userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers []user.User, exec ...core.DBExecutor) error {
	q := `SELECT EXISTS (SELECT 1 FROM "user" WHERE (username = $1 OR email = $2) AND NOT (id = ANY($3::uuid[])))`
	ids := make([]string, 0, len(excludedUsers))
	for _, u := range excludedUsers {
		ids = append(ids, u.ID)
	}

	var exists bool
	err := sqlx.GetContext(ctx, repo.getExec(exec), &exists, q,
		null.NewString(username, username != ""), null.NewString(email, email != ""), pq.Array(ids))
	if err != nil {
		return dbErr(err, "checking user uniqueness")
	}
	if exists {
		return user.ErrUserExists
	}
	return nil
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	usr.ID = uuid.New().String()
	row := repo.toRow(usr)

	err := inTx(ctx, repo.db, exec, func(exe core.DBExecutor) error {
		q := `INSERT INTO "user" (` + userColumns + `)
			VALUES (:id, :name, :username, :email, :is_active, :roles, :level, :password_hash, :created_at, :updated_at, :last_login)`
		if _, err := sqlx.NamedExecContext(ctx, exe, q, row); err != nil {
			if isUniqueViolation(err) {
				return user.ErrUserExists
			}
			return dbErr(err, "inserting user")
		}
		return repo.saveLevelStarts(ctx, exe, usr)
	})
	if err != nil {
		return user.User{}, err
	}
	return usr, nil
}

func (repo userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]user.User, error) {
	var conds []string
	var args []interface{}

	if filter != nil {
		// users with Name, Username or Email matching the search keyword
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			conds = append(conds, "(name ILIKE ? OR username ILIKE ? OR email ILIKE ?)")
			args = append(args, val, val, val)
		}
		// users with any role that starts with any of the provided roles
		if len(filter.Roles) > 0 {
			roleConds := make([]string, 0, len(filter.Roles))
			for _, role := range filter.Roles {
				roleConds = append(roleConds, "EXISTS (SELECT 1 FROM UNNEST(roles) user_role WHERE user_role ILIKE ?)")
				args = append(args, role+"%")
			}
			conds = append(conds, "("+strings.Join(roleConds, " OR ")+")")
		}
		if len(filter.Levels) > 0 {
			conds = append(conds, "level = ANY(?)")
			args = append(args, pq.Array(subscription.Strings(filter.Levels)))
		}
		if filter.IsActive != nil {
			conds = append(conds, "is_active = ?")
			args = append(args, *filter.IsActive)
		}
		if !filter.CreatedFrom.IsZero() {
			conds = append(conds, "created_at >= ?")
			args = append(args, filter.CreatedFrom.UTC())
		}
		if !filter.CreatedTo.IsZero() {
			conds = append(conds, "created_at <= ?")
			args = append(args, filter.CreatedTo.UTC())
		}
	}

	q := `SELECT ` + userColumns + ` FROM "user"`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += orderBy(ordering, userOrderingFields, "created_at ASC, id ASC")

	exe := repo.getExec(exec)
	var rows []userRow
	if err := sqlx.SelectContext(ctx, exe, &rows, exe.Rebind(q), args...); err != nil {
		return nil, dbErr(err, "querying users")
	}
	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, repo.fromRow(row))
	}
	if err := repo.loadLevelStarts(ctx, exe, users); err != nil {
		return nil, err
	}
	return users, nil
}

func (repo userRepository) GetUser(ctx context.Context, filter user.GetFilter, exec ...core.DBExecutor) (user.User, error) {
	var cond string
	var args []interface{}

	switch {
	case filter.ID != "":
		if _, err := uuid.Parse(filter.ID); err != nil {
			return user.User{}, user.ErrNotFound
		}
		cond, args = "id = $1", []interface{}{filter.ID}
	case filter.Username != "":
		cond, args = "username = $1", []interface{}{filter.Username}
	case filter.Email != "":
		cond, args = "email = $1", []interface{}{filter.Email}
	case len(filter.UsernameOrEmail) > 0:
		uname := filter.UsernameOrEmail[0]
		email := uname
		if len(filter.UsernameOrEmail) == 2 && filter.UsernameOrEmail[1] != "" {
			email = filter.UsernameOrEmail[1]
		}
		if uname == "" {
			uname = email
		}
		if uname == "" {
			return user.User{}, user.ErrNotFound
		}
		cond, args = "username = $1 OR email = $2", []interface{}{uname, email}
	default:
		return user.User{}, user.ErrNotFound
	}

	exe := repo.getExec(exec)
	var row userRow
	if err := sqlx.GetContext(ctx, exe, &row, `SELECT `+userColumns+` FROM "user" WHERE `+cond+` LIMIT 1`, args...); err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, "finding user")
	}
	users := []user.User{repo.fromRow(row)}
	if err := repo.loadLevelStarts(ctx, exe, users); err != nil {
		return user.User{}, err
	}
	return users[0], nil
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	row := repo.toRow(usr)

	err := inTx(ctx, repo.db, exec, func(exe core.DBExecutor) error {
		q := `UPDATE "user" SET name = :name, username = :username, email = :email, is_active = :is_active,
			roles = :roles, level = :level, password_hash = :password_hash, updated_at = :updated_at, last_login = :last_login
			WHERE id = :id`
		res, err := sqlx.NamedExecContext(ctx, exe, q, row)
		if err != nil {
			if isUniqueViolation(err) {
				return user.ErrUserExists
			}
			return dbErr(err, "updating user")
		}
		if n, err := res.RowsAffected(); err != nil {
			return dbErr(err, "updating user")
		} else if n == 0 {
			return user.ErrNotFound
		}
		return repo.saveLevelStarts(ctx, exe, usr)
	})
	if err != nil {
		return user.User{}, err
	}
	return usr, nil
}

func (repo userRepository) UpdateOrCreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	if usr.ID == "" {
		return repo.CreateUser(ctx, usr, exec...)
	}
	return repo.UpdateUser(ctx, usr, exec...)
}
