package user

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/didisacademy/academy/core"
	"github.com/didisacademy/academy/core/subscription"
)

// Roles
const (
	// Admin
	RoleAdmin        = "admin:"
	RoleAdminOwner   = "admin:owner"
	RoleAdminContent = "admin:content"

	// Member
	RoleMember = "member:"
)

var (
	AdminRoles  = []string{RoleAdmin, RoleAdminOwner, RoleAdminContent}
	MemberRoles = []string{RoleMember}
	AllRoles    = getAllRoles()

	Roles = []Role{
		{Name: "Member", Value: RoleMember},
		{Name: "Admin", Value: RoleAdmin},
		{Name: "Admin Content", Value: RoleAdminContent},
		{Name: "Admin Owner", Value: RoleAdminOwner},
	}
)

func getAllRoles() []string {
	all := make([]string, 0, 4)
	all = append(all, AdminRoles...)
	all = append(all, MemberRoles...)
	return all
}

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type User struct {
	ID           string                           `json:"id"`
	Name         string                           `json:"name"`
	Username     string                           `json:"username"`
	Email        string                           `json:"email"`
	IsActive     bool                             `json:"is_active"`
	Roles        []string                         `json:"roles"`
	Level        subscription.Level               `json:"level"`
	LevelStarts  map[subscription.Level]time.Time `json:"level_starts"` // UTC; free is implied by CreatedAt
	PasswordHash []byte                           `json:"-"`
	CreatedAt    time.Time                        `json:"created_at"` // UTC
	UpdatedAt    time.Time                        `json:"updated_at"` // UTC
	LastLogin    time.Time                        `json:"last_login"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u *User) RoleStartsWith(prefix string) bool {
	for _, role := range u.Roles {
		if strings.HasPrefix(role, prefix) {
			return true
		}
	}
	return false
}

func (u *User) IsAdmin() bool {
	return u.RoleStartsWith(RoleAdmin)
}

// LevelStartedAt returns when the user first started holding lvl.
// The free level starts at registration unless recorded otherwise.
func (u *User) LevelStartedAt(lvl subscription.Level) (time.Time, bool) {
	if started, ok := u.LevelStarts[lvl]; ok && !started.IsZero() {
		return started, true
	}
	if lvl == subscription.Free && !u.CreatedAt.IsZero() {
		return u.CreatedAt, true
	}
	return time.Time{}, false
}

// CurrentLevelStart returns the level the user currently holds and when it started.
func (u *User) CurrentLevelStart() (subscription.Level, time.Time, error) {
	if !u.Level.IsValid() {
		return "", time.Time{}, errors.Wrapf(subscription.ErrInvalidLevel, "user %s: %q", u.ID, u.Level)
	}
	started, ok := u.LevelStartedAt(u.Level)
	if !ok {
		return "", time.Time{}, errors.Wrapf(ErrNoLevelStart, "user %s: level %s", u.ID, u.Level)
	}
	return u.Level, started, nil
}

// SetLevel switches the user to lvl. The start of a level is recorded the first time it is held
// and kept across downgrades and re-upgrades.
func (u *User) SetLevel(lvl subscription.Level, at time.Time) {
	if u.LevelStarts == nil {
		u.LevelStarts = make(map[subscription.Level]time.Time)
	}
	if started, ok := u.LevelStarts[lvl]; !ok || started.IsZero() {
		// a free start implied by CreatedAt is kept, and made explicit
		start, implied := u.LevelStartedAt(lvl)
		if !implied {
			start = at
		}
		u.LevelStarts[lvl] = start.UTC()
	}
	u.Level = lvl
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	Name            string             `json:"name" validate:"required"`
	Username        string             `json:"username" validate:"omitempty,min=6,alphanum_"`
	Email           string             `json:"email" validate:"omitempty,email"`
	Password        string             `json:"password" validate:"required,min=8"`
	PasswordConfirm string             `json:"password_confirm" validate:"required,eqfield=Password"`
	Roles           []string           `json:"roles" validate:"omitempty,allroles"`
	Level           subscription.Level `json:"level" validate:"omitempty,level"`
}

func (nu *NewUser) Validate(ctx context.Context, validate *validator.Validate, svc *Service) error {
	nu.Name = core.CleanString(nu.Name)
	nu.Username = core.CleanString(nu.Username, true /* lower */)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.Level = subscription.Level(core.CleanString(string(nu.Level), true /* lower */))

	if err := validate.Struct(nu); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, nu.Username, nu.Email)
}

// ChangeLevel is the payload of a subscription change.
type ChangeLevel struct {
	Level subscription.Level `json:"level" validate:"required,level"`
}

type GetFilter struct {
	ID              string
	Username        string
	Email           string
	UsernameOrEmail []string
}

type QueryFilter struct {
	Search      string               `query:"search"`
	Roles       []string             `query:"role"`
	Levels      []subscription.Level `query:"level"`
	IsActive    *bool                `query:"is_active"`
	CreatedFrom time.Time            `query:"created_from"`
	CreatedTo   time.Time            `query:"created_to"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Roles == nil && qf.Levels == nil && qf.IsActive == nil &&
		qf.CreatedFrom.IsZero() && qf.CreatedTo.IsZero()
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}
