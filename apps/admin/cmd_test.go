package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/didisacademy/academy/core/module"
	"github.com/didisacademy/academy/core/subscription"
	"github.com/didisacademy/academy/core/user"
	testutil "github.com/didisacademy/academy/tests"
)

func setup(t *testing.T) (*commandLine, *testutil.Env, *bytes.Buffer) {
	env := testutil.NewEnv(t)
	out := new(bytes.Buffer)
	return &commandLine{
		usrSvc:     env.UserSvc,
		usrRepo:    env.UserRepo,
		moduleSvc:  env.ModuleSvc,
		unlockSvc:  env.UnlockSvc,
		retryLimit: env.Conf.Notify.RetryBatchSize,
		out:        out,
	}, env, out
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func (tt cliTest) check(t *testing.T, err error) {
	t.Helper()
	switch {
	case tt.wantErr != nil:
		assert.Equal(t, tt.wantErr, errors.Cause(err))
	case tt.wantErrStr != "":
		if assert.Error(t, err) {
			assert.Equal(t, tt.wantErrStr, err.Error())
		}
	default:
		assert.NoError(t, err)
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _, _ := setup(t)

	t.Run("memory engine", func(t *testing.T) {
		assert.Equal(t, errNoDB, cli.run([]string{"admin", "migrate", "up"}))
	})

	cli.db = new(sql.DB)
	origRunMigrations := runMigrationsFunc
	t.Cleanup(func() { runMigrationsFunc = origRunMigrations })
	runMigrationsFunc = func(db *sql.DB, command string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: down-to VERSION"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, cli.run(args))
		})
	}
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli, env, _ := setup(t)

	usr := testutil.CreateUser(t, env.UserRepo, "User", "awe", "awe@test.cd", "mdr", nil, true)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "-username", "lol"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-username", "lol"}, extra: extra{pwd: "lol"}, wantErr: user.ErrNotFound},
		{name: "reset with username", args: []string{"resetpassword", "-username", usr.Username}, extra: extra{pwd: "lol"}},
		{name: "reset with email", args: []string{"resetpassword", "-username", usr.Email}, extra: extra{pwd: "lmao"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		readPasswordFunc = func(fd int) ([]byte, error) {
			if extra, ok := tt.extra.(extra); ok {
				return []byte(extra.pwd), nil
			}
			return nil, nil
		}

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			tt.check(t, err)
			if err == nil {
				refreshedUsr, err := env.UserRepo.GetUser(context.Background(), user.GetFilter{ID: usr.ID})
				require.NoError(t, err)
				assert.False(t, bytes.Equal(refreshedUsr.PasswordHash, usr.PasswordHash), "failed to update new password")
				assert.NoError(t, refreshedUsr.CheckPassword(tt.extra.(extra).pwd))
			}
		})
	}
}

func Test_commandLine_addUser(t *testing.T) {
	cli, env, _ := setup(t)
	readPasswordFunc = func(fd int) ([]byte, error) { return []byte("s3cr3t-pwd"), nil }

	tests := []cliTest{
		{name: "no args", args: []string{"adduser"}, wantErr: errHelp},
		{name: "name only", args: []string{"adduser", "-name", "Jane"}, wantErr: errHelp},
		{name: "invalid level", args: []string{"adduser", "-username", "jane", "-level", "gold"}, wantErr: subscription.ErrInvalidLevel},
		{name: "create", args: []string{"adduser", "-name", "Jane Doe", "-username", "Jane", "-email", "jane@test.cd", "-level", "premium"}},
		{name: "update", args: []string{"adduser", "-username", "jane", "-admin"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, cli.run(args))
		})
	}

	users, err := env.UserRepo.QueryUsers(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, users, 1)
	usr := users[0]
	assert.Equal(t, "Jane Doe", usr.Name)
	assert.Equal(t, "jane", usr.Username)
	assert.Equal(t, "jane@test.cd", usr.Email)
	assert.Equal(t, subscription.Premium, usr.Level)
	assert.True(t, usr.IsAdmin())
	assert.True(t, usr.IsActive)
	_, ok := usr.LevelStartedAt(subscription.Premium)
	assert.True(t, ok)
	assert.NoError(t, usr.CheckPassword("s3cr3t-pwd"))
}

func Test_commandLine_setLevel(t *testing.T) {
	cli, env, out := setup(t)

	usr := testutil.CreateUser(t, env.UserRepo, "User", "awe", "awe@test.cd", "mdr", nil, true)

	tests := []cliTest{
		{name: "no args", args: []string{"setlevel"}, wantErr: errHelp},
		{name: "no level", args: []string{"setlevel", "-user", "awe"}, wantErr: errHelp},
		{name: "invalid level", args: []string{"setlevel", "-user", "awe", "-level", "gold"}, wantErr: subscription.ErrInvalidLevel},
		{name: "user not found", args: []string{"setlevel", "-user", "lol", "-level", "basic"}, wantErr: user.ErrNotFound},
		{name: "unknown ID", args: []string{"setlevel", "-user", "0b7cf5f2-9b4e-4a43-9f59-0d1a1a6c2c5e", "-level", "basic"}, wantErr: user.ErrNotFound},
		{name: "by username", args: []string{"setlevel", "-user", "awe", "-level", "basic"}},
		{name: "by email", args: []string{"setlevel", "-user", "awe@test.cd", "-level", "Elite"}},
		{name: "by ID", args: []string{"setlevel", "-user", usr.ID, "-level", "basic"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, cli.run(args))
		})
	}

	usr, err := env.UserSvc.GetByID(context.Background(), usr.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.Basic, usr.Level)
	_, ok := usr.LevelStartedAt(subscription.Elite)
	assert.True(t, ok, "elite start must be kept after a downgrade")
	assert.Contains(t, out.String(), usr.ID+" is now Basic")
}

func Test_commandLine_seedModules(t *testing.T) {
	cli, env, out := setup(t)
	ctx := context.Background()

	t.Run("embedded catalog", func(t *testing.T) {
		require.NoError(t, cli.run([]string{"admin", "seedmodules"}))
		assert.Contains(t, out.String(), "modules: 7 created, 0 updated")

		entries, err := env.ModuleSvc.CatalogView(ctx, subscription.Masterclass)
		require.NoError(t, err)
		assert.Len(t, entries, 7)
		assert.Equal(t, "welcome-to-the-academy", entries[0].Slug)
	})

	t.Run("file", func(t *testing.T) {
		out.Reset()
		fp := filepath.Join(t.TempDir(), "modules.yaml")
		seed := "modules:\n" +
			"  - slug: risk-management\n" +
			"    title: Managing Risk\n" +
			"    content_path: modules/risk-management.html\n" +
			"    levels: [premium]\n" +
			"    sort_order: 30\n" +
			"  - slug: scalping\n" +
			"    title: Scalping\n" +
			"    content_path: modules/scalping.html\n" +
			"    levels: [elite]\n" +
			"    sort_order: 70\n"
		require.NoError(t, os.WriteFile(fp, []byte(seed), 0o600))

		require.NoError(t, cli.run([]string{"admin", "seedmodules", "-file", fp}))
		assert.Contains(t, out.String(), "modules: 1 created, 1 updated")

		mod, err := env.ModuleSvc.GetBySlug(ctx, "risk-management")
		require.NoError(t, err)
		assert.Equal(t, "Managing Risk", mod.Title)
		assert.Equal(t, []subscription.Level{subscription.Premium}, mod.RequiredLevels)
	})

	t.Run("missing file", func(t *testing.T) {
		assert.Error(t, cli.run([]string{"admin", "seedmodules", "-file", filepath.Join(t.TempDir(), "nope.yaml")}))
	})

	t.Run("invalid seed", func(t *testing.T) {
		fp := filepath.Join(t.TempDir(), "modules.yaml")
		require.NoError(t, os.WriteFile(fp, []byte("modules:\n  - slug: Not A Slug\n    title: x\n    content_path: x.html\n    levels: [gold]\n"), 0o600))
		assert.Error(t, cli.run([]string{"admin", "seedmodules", "-file", fp}))
	})
}

func Test_commandLine_unlocks(t *testing.T) {
	cli, env, out := setup(t)
	ctx := context.Background()

	usr := testutil.CreateUser(t, env.UserRepo, "User", "awe", "awe@test.cd", "mdr", nil, true)
	usr = testutil.SetLevel(t, env.UserRepo, usr, subscription.Premium, time.Now().Add(-50*time.Hour))
	mods := []module.Module{
		testutil.CreateModule(t, env.ModuleSvc, "one", 1, subscription.Premium),
		testutil.CreateModule(t, env.ModuleSvc, "two", 2, subscription.Premium),
		testutil.CreateModule(t, env.ModuleSvc, "three", 3, subscription.Premium),
	}

	t.Run("runpass", func(t *testing.T) {
		require.NoError(t, cli.run([]string{"admin", "runpass"}))
		assert.Contains(t, out.String(), `"unlocked": 2`)
		assert.Contains(t, out.String(), `"notified": 2`)
		assert.Len(t, env.Mailer.SentTo("awe@test.cd"), 2)
	})

	t.Run("runpass again", func(t *testing.T) {
		out.Reset()
		require.NoError(t, cli.run([]string{"admin", "runpass"}))
		assert.Contains(t, out.String(), `"unlocked": 0`)
		assert.Len(t, env.Mailer.SentTo("awe@test.cd"), 2)
	})

	t.Run("retrynotify: bad time", func(t *testing.T) {
		assert.Equal(t, errHelp, cli.run([]string{"admin", "retrynotify", "-before", "yesterday"}))
	})

	t.Run("retrynotify: nothing pending", func(t *testing.T) {
		out.Reset()
		require.NoError(t, cli.run([]string{"admin", "retrynotify", "-limit", "10"}))
		assert.Contains(t, out.String(), `"notified": 0`)
	})

	t.Run("rollback: no user", func(t *testing.T) {
		assert.Equal(t, errHelp, cli.run([]string{"admin", "rollback"}))
	})

	t.Run("rollback: unknown module", func(t *testing.T) {
		err := cli.run([]string{"admin", "rollback", "-user", "awe", "-module", "nope"})
		assert.Equal(t, module.ErrNotFound, errors.Cause(err))
	})

	t.Run("rollback: one module", func(t *testing.T) {
		out.Reset()
		require.NoError(t, cli.run([]string{"admin", "rollback", "-user", "awe", "-level", "premium", "-module", mods[1].Slug}))
		assert.Contains(t, out.String(), "1 unlock record(s) deleted")

		recs, err := env.UnlockSvc.UserUnlocks(ctx, usr.ID)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, mods[0].ID, recs[0].ModuleID)
	})

	t.Run("runpass after rollback", func(t *testing.T) {
		out.Reset()
		require.NoError(t, cli.run([]string{"admin", "runpass"}))
		assert.Contains(t, out.String(), `"unlocked": 1`)
	})
}
