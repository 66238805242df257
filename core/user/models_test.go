package user

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/didisacademy/academy/core/subscription"
)

func TestUser_SetLevel(t *testing.T) {
	created := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	upgraded := created.Add(10 * 24 * time.Hour)
	downgraded := upgraded.Add(5 * 24 * time.Hour)
	reupgraded := downgraded.Add(5 * 24 * time.Hour)

	usr := User{ID: "u1", Level: subscription.Free, CreatedAt: created}

	lvl, start, err := usr.CurrentLevelStart()
	assert.NoError(t, err)
	assert.Equal(t, subscription.Free, lvl)
	assert.Equal(t, created, start, "free starts at registration")

	usr.SetLevel(subscription.Premium, upgraded)
	lvl, start, err = usr.CurrentLevelStart()
	assert.NoError(t, err)
	assert.Equal(t, subscription.Premium, lvl)
	assert.Equal(t, upgraded, start)

	usr.SetLevel(subscription.Free, downgraded)
	_, start, _ = usr.CurrentLevelStart()
	assert.Equal(t, created, start, "free start is never moved")
	assert.Equal(t, created, usr.LevelStarts[subscription.Free], "implied free start is recorded")

	usr.SetLevel(subscription.Premium, reupgraded)
	_, start, _ = usr.CurrentLevelStart()
	assert.Equal(t, upgraded, start, "a re-upgrade keeps the first start")
}

func TestUser_CurrentLevelStart(t *testing.T) {
	tests := []struct {
		name    string
		usr     User
		wantErr error
	}{
		{name: "invalid level", usr: User{Level: "gold", CreatedAt: time.Now()}, wantErr: subscription.ErrInvalidLevel},
		{name: "paid level without start", usr: User{Level: subscription.Elite, CreatedAt: time.Now()}, wantErr: ErrNoLevelStart},
		{name: "free without registration time", usr: User{Level: subscription.Free}, wantErr: ErrNoLevelStart},
		{
			name: "explicit free start",
			usr: User{
				Level:       subscription.Free,
				LevelStarts: map[subscription.Level]time.Time{subscription.Free: time.Now()},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tt.usr.CurrentLevelStart()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, tt.wantErr, errors.Cause(err))
			}
		})
	}
}

func TestUser_Roles(t *testing.T) {
	admin := User{Roles: []string{RoleAdminOwner}}
	member := User{Roles: []string{RoleMember}}

	assert.True(t, admin.IsAdmin())
	assert.False(t, member.IsAdmin())
	assert.True(t, member.RoleStartsWith("member"))
}

func TestUser_Password(t *testing.T) {
	var usr User
	assert.NoError(t, usr.SetPassword("correct horse"))
	assert.NoError(t, usr.CheckPassword("correct horse"))
	assert.Error(t, usr.CheckPassword("battery staple"))
}
