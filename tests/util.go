// Package testutil holds fixtures shared by the tests of several packages.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/didisacademy/academy/apps/shared"
	"github.com/didisacademy/academy/core"
	"github.com/didisacademy/academy/core/module"
	"github.com/didisacademy/academy/core/subscription"
	"github.com/didisacademy/academy/core/user"
	emailsvc "github.com/didisacademy/academy/services/email"
)

// NewConfig returns a configuration for tests: memory engine, no scheduler.
func NewConfig() *core.Config {
	conf := &core.Config{
		TestMode:        true,
		Env:             "TEST",
		AppName:         "Academy",
		Build:           "test",
		SecretKey:       "test-secret",
		FrontendBaseURL: "http://academy.test",
		FromEmail:       "noreply@academy.test",
	}
	conf.Server.Host = ":0"
	conf.Server.ShutdownTimeout = time.Second
	conf.Server.JWTExpirationDelta = time.Hour
	conf.Server.JWTRefreshExpirationDelta = 2 * time.Hour
	conf.Database.Engine = "memory"
	conf.Scheduler.Spec = "0 3 * * *"
	conf.Scheduler.Timezone = "UTC"
	conf.Scheduler.Workers = 1
	conf.Scheduler.Timeout = time.Minute
	conf.Notify.RetryBatchSize = 100
	return conf
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		Level:     subscription.Free,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

// SetLevel moves usr to lvl as if it had been started at `at`.
func SetLevel(t *testing.T, repo user.Repository, usr user.User, lvl subscription.Level, at time.Time) user.User {
	usr.SetLevel(lvl, at.UTC())
	usr, err := repo.UpdateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("setLevel() failed: %v", err)
	}
	return usr
}

// Logger records log entries. It implements core.Logger.
type Logger struct {
	mu      sync.Mutex
	entries []string
}

var _ core.Logger = (*Logger)(nil)

func (l *Logger) log(level, msg string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, fmt.Sprintf("%s: %s", level, msg))
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log("DEBUG", msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log("INFO", msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log("WARN", msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log("ERROR", msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) { l.log("FATAL", msg, args) }

// Entries returns the recorded entries of level ("" for all).
func (l *Logger) Entries(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.entries {
		if level == "" || strings.HasPrefix(e, level+":") {
			out = append(out, e)
		}
	}
	return out
}

// Env is a fully wired in-memory app whose emails are recorded by Mailer.
type Env struct {
	*shared.Deps
	Mailer *emailsvc.MockService
	Logs   *Logger
}

func NewEnv(t *testing.T, conf ...*core.Config) *Env {
	c := NewConfig()
	if len(conf) > 0 {
		c = conf[0]
	}
	logs := &Logger{}
	mailer := emailsvc.NewMockService()
	deps, err := shared.NewDeps(context.Background(), c, logs, shared.Options{Mailer: mailer})
	if err != nil {
		t.Fatalf("newDeps() failed: %v", err)
	}
	t.Cleanup(deps.Close)
	return &Env{Deps: deps, Mailer: mailer, Logs: logs}
}

// CreateModule upserts a published module through the module service.
func CreateModule(t *testing.T, svc *module.Service, slug string, sortOrder int, levels ...subscription.Level) module.Module {
	seed := module.Seed{
		Slug:        slug,
		Title:       strings.ReplaceAll(slug, "-", " "),
		ContentPath: "modules/" + slug + ".html",
		Levels:      subscription.Strings(levels),
		SortOrder:   sortOrder,
	}
	if len(levels) == 0 {
		seed.LeadMagnet = true
	}
	mod, _, err := svc.Upsert(context.Background(), seed)
	if err != nil {
		t.Fatalf("createModule() failed: %v", err)
	}
	return mod
}
