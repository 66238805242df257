package echoapi

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/didisacademy/academy/core/subscription"
	"github.com/didisacademy/academy/core/user"
	testutil "github.com/didisacademy/academy/tests"
)

func Test_userApi_login(t *testing.T) {
	f := setup(t)
	testutil.CreateUser(t, f.UserRepo, "Gone", "gone", "gone@test.cd", "gone-pwd", nil, false)

	login := func(uname, pwd string) []byte {
		return mustJSON(t, LoginRequest{Username: uname, Password: pwd})
	}
	f.run(t, []httpTest{
		{name: "missing fields", method: http.MethodPost, path: "/v1/users/login", body: login("", ""), wantCode: http.StatusBadRequest},
		{name: "unknown user", method: http.MethodPost, path: "/v1/users/login", body: login("lol", "lol"), wantCode: http.StatusBadRequest, wantBody: "authentication failed"},
		{name: "wrong password", method: http.MethodPost, path: "/v1/users/login", body: login("member", "nope"), wantCode: http.StatusBadRequest},
		{name: "deactivated", method: http.MethodPost, path: "/v1/users/login", body: login("gone", "gone-pwd"), wantCode: http.StatusForbidden},
		{name: "by email", method: http.MethodPost, path: "/v1/users/login", body: login(" Member@Test.cd ", "member-pwd"), wantCode: http.StatusOK, wantBody: `"token"`},
	})

	t.Run("last login is recorded", func(t *testing.T) {
		usr, err := f.UserSvc.GetByID(context.Background(), f.member.ID)
		require.NoError(t, err)
		assert.False(t, usr.LastLogin.IsZero())
	})
}

func Test_userApi_refreshToken(t *testing.T) {
	f := setup(t)

	stale := GetUserClaims(f.Conf, f.member, time.Now().Add(-f.Conf.Server.JWTRefreshExpirationDelta-time.Minute).Unix())
	staleToken, err := GenerateToken(f.Conf, stale)
	require.NoError(t, err)

	f.run(t, []httpTest{
		{name: "no token", method: http.MethodPost, path: "/v1/users/token-refresh", wantCode: http.StatusUnauthorized},
		{name: "refresh expired", method: http.MethodPost, path: "/v1/users/token-refresh", token: staleToken, wantCode: http.StatusForbidden},
		{name: "ok", method: http.MethodPost, path: "/v1/users/token-refresh", token: f.token(t, f.member), wantCode: http.StatusOK, wantBody: `"token"`},
	})
}

func Test_userApi_create(t *testing.T) {
	f := setup(t)
	owner := f.token(t, f.owner)

	newUser := func(uname, email, lvl string) []byte {
		return mustJSON(t, map[string]interface{}{
			"name":             "New User",
			"username":         uname,
			"email":            email,
			"password":         "password1",
			"password_confirm": "password1",
			"level":            lvl,
		})
	}
	f.run(t, []httpTest{
		{name: "member", method: http.MethodPost, path: "/v1/users/register", token: f.token(t, f.member), body: newUser("newuser", "", ""), wantCode: http.StatusForbidden},
		{name: "short username", method: http.MethodPost, path: "/v1/users/register", token: owner, body: newUser("abc", "", ""), wantCode: http.StatusBadRequest},
		{name: "invalid level", method: http.MethodPost, path: "/v1/users/register", token: owner, body: newUser("newuser", "", "gold"), wantCode: http.StatusBadRequest},
		{name: "taken", method: http.MethodPost, path: "/v1/users/register", token: owner, body: newUser("member", "", ""), wantCode: http.StatusBadRequest},
		{name: "ok", method: http.MethodPost, path: "/v1/users/register", token: owner, body: newUser("NewUser", "new@test.cd", "Elite"), wantCode: http.StatusCreated, wantBody: `"level":"elite"`},
	})

	usr, err := f.UserSvc.GetByUsernameOrEmail(context.Background(), "newuser")
	require.NoError(t, err)
	_, started, err := usr.CurrentLevelStart()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), started, time.Minute)
}

func Test_userApi_detail(t *testing.T) {
	f := setup(t)
	owner := f.token(t, f.owner)
	path := "/v1/users/" + f.member.ID

	f.run(t, []httpTest{
		{name: "not found", method: http.MethodGet, path: "/v1/users/missing", token: owner, wantCode: http.StatusNotFound},
		{name: "retrieve", method: http.MethodGet, path: path, token: owner, wantCode: http.StatusOK, wantBody: f.member.ID},
		{name: "roles", method: http.MethodGet, path: "/v1/users/roles", token: owner, wantCode: http.StatusOK, wantBody: user.RoleAdminOwner},
		{name: "level: invalid", method: http.MethodPut, path: path + "/level", token: owner, body: []byte(`{"level":"gold"}`), wantCode: http.StatusBadRequest},
		{name: "level: missing", method: http.MethodPut, path: path + "/level", token: owner, body: []byte(`{}`), wantCode: http.StatusBadRequest},
		{name: "level: member", method: http.MethodPut, path: path + "/level", token: f.token(t, f.member), body: []byte(`{"level":"premium"}`), wantCode: http.StatusForbidden},
		{name: "level: ok", method: http.MethodPut, path: path + "/level", token: owner, body: []byte(`{"level":"premium"}`), wantCode: http.StatusOK},
	})

	var usr user.User
	rec := f.do(t, http.MethodGet, path, owner)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &usr))
	assert.Equal(t, subscription.Premium, usr.Level)
	assert.Contains(t, usr.LevelStarts, subscription.Premium)
}
