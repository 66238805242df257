package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/didisacademy/academy/core/user"
	schedsvc "github.com/didisacademy/academy/services/scheduler"
	testutil "github.com/didisacademy/academy/tests"
)

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantBody string // substring
}

type fixture struct {
	*testutil.Env
	server  *Server
	trigger *schedsvc.Service
	owner   user.User
	content user.User
	member  user.User
}

func setup(t *testing.T) *fixture {
	env := testutil.NewEnv(t)
	f := &fixture{Env: env}
	f.trigger = schedsvc.New(schedsvc.FromConfig(env.Conf), env.Logs, nil)
	f.server = NewServer(ServerDeps{
		Conf:           env.Conf,
		Logger:         env.Logs,
		UserSvc:        env.UserSvc,
		UnlockSvc:      env.UnlockSvc,
		Trigger:        f.trigger,
		Validate:       env.Validate,
		Translator:     env.Translator,
		Gatherer:       env.Registry,
		DisableReqLogs: true,
	})
	t.Cleanup(func() { _ = f.server.Close() })

	f.owner = testutil.CreateUser(t, env.UserRepo, "Owner", "owner", "owner@test.cd", "owner-pwd", user.AdminRoles, true)
	f.content = testutil.CreateUser(t, env.UserRepo, "Editor", "editor", "editor@test.cd", "editor-pwd",
		[]string{user.RoleAdmin, user.RoleAdminContent}, true)
	f.member = testutil.CreateUser(t, env.UserRepo, "Member", "member", "member@test.cd", "member-pwd",
		[]string{user.RoleMember}, true, time.Now().Add(-3*24*time.Hour))
	return f
}

func (f *fixture) token(t *testing.T, usr user.User) string {
	token, err := GenerateToken(f.Conf, GetUserClaims(f.Conf, usr))
	require.NoError(t, err)
	return token
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, httptest.NewRecorder()
}

func (f *fixture) do(t *testing.T, method, path, token string, data ...[]byte) *httptest.ResponseRecorder {
	req, rec := newAuthRequest(method, path, token, data...)
	f.server.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) run(t *testing.T, tests []httpTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func mustJSON(t *testing.T, v interface{}) []byte {
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestServer_public(t *testing.T) {
	f := setup(t)

	f.run(t, []httpTest{
		{name: "home", method: http.MethodGet, path: "/", wantCode: http.StatusOK, wantBody: "Welcome to Academy API!"},
		{name: "health", method: http.MethodGet, path: "/health", wantCode: http.StatusOK, wantBody: `"status":"ok"`},
		{name: "metrics", method: http.MethodGet, path: "/metrics", wantCode: http.StatusOK, wantBody: "go_goroutines"},
		{name: "unknown", method: http.MethodGet, path: "/nope", wantCode: http.StatusNotFound},
	})

	t.Run("next unlocks", func(t *testing.T) {
		require.NoError(t, f.trigger.Start())
		defer func() { _ = f.trigger.Stop(context.Background()) }()

		var res HealthResponse
		rec := f.do(t, http.MethodGet, "/health", "")
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.True(t, res.NextUnlocks.After(time.Now()))
		assert.Equal(t, "test", res.Build)
	})
}

func TestServer_auth(t *testing.T) {
	f := setup(t)

	expired := GetUserClaims(f.Conf, f.owner)
	expired.ExpiresAt = time.Now().Add(-time.Minute).Unix()
	expiredToken, err := GenerateToken(f.Conf, expired)
	require.NoError(t, err)

	f.run(t, []httpTest{
		{name: "no token", method: http.MethodGet, path: "/v1/users", wantCode: http.StatusUnauthorized},
		{name: "bad token", method: http.MethodGet, path: "/v1/users", token: "lol", wantCode: http.StatusUnauthorized},
		{name: "expired token", method: http.MethodGet, path: "/v1/users", token: expiredToken, wantCode: http.StatusUnauthorized},
		{name: "member", method: http.MethodGet, path: "/v1/users", token: f.token(t, f.member), wantCode: http.StatusForbidden},
		{name: "admin", method: http.MethodGet, path: "/v1/users", token: f.token(t, f.content), wantCode: http.StatusOK},
	})
}

func TestServer_ordering(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodGet, "/v1/users?ordering=-created_at,,name", f.token(t, f.owner))
	require.Equal(t, http.StatusOK, rec.Code)
	var users []user.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
	require.Len(t, users, 3)
	assert.Equal(t, f.member.ID, users[2].ID, "oldest last")

	rec = f.do(t, http.MethodGet, "/v1/users?level=premium", f.token(t, f.owner))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))

	rec = f.do(t, http.MethodGet, "/v1/users?search=edit", f.token(t, f.owner))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
	require.Len(t, users, 1)
	assert.Equal(t, f.content.ID, users[0].ID)
}
