package logsvc

import (
	"context"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"
	"github.com/rs/zerolog"

	"github.com/didisacademy/academy/core"
	"github.com/didisacademy/academy/core/user"
)

// reporter is the part of rollbar the logger reports through.
type reporter interface {
	ErrorWithExtrasAndContext(ctx context.Context, level string, err error, extras map[string]interface{})
	MessageWithExtrasAndContext(ctx context.Context, level string, msg string, extras map[string]interface{})
	Wait()
}

// stdReporter reports through the package level rollbar client configured by NewRollbarLogger.
type stdReporter struct{}

func (stdReporter) ErrorWithExtrasAndContext(ctx context.Context, level string, err error, extras map[string]interface{}) {
	rollbar.ErrorWithExtrasAndContext(ctx, level, err, extras)
}

func (stdReporter) MessageWithExtrasAndContext(ctx context.Context, level string, msg string, extras map[string]interface{}) {
	rollbar.MessageWithExtrasAndContext(ctx, level, msg, extras)
}

func (stdReporter) Wait() { rollbar.Wait() }

// RollbarLogger reports to Rollbar and writes structured lines through zerolog.
// The user an entry is about travels with the report, so concurrent calls never share a person.
type RollbarLogger struct {
	zl  zerolog.Logger
	rep reporter
}

var _ core.Logger = (*RollbarLogger)(nil)

// NewZerolog builds the local sink: a console writer in debug, JSON lines otherwise.
func NewZerolog(out io.Writer, conf *core.Config) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}
	zerolog.ErrorFieldName = "err"
	level := zerolog.InfoLevel
	if conf.Debug {
		level = zerolog.DebugLevel
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("app", conf.AppName).Str("env", conf.Env).Logger()
}

func NewRollbarLogger(zl zerolog.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	return &RollbarLogger{zl: zl, rep: stdReporter{}}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// expected fmt: msg | error, map[string]interface{}, user.User
func (l RollbarLogger) report(level, msg string, args []interface{}) {
	ctx := context.Background()
	var usrSet bool
	var err error
	extras := make(map[string]interface{})
	for i, arg := range args {
		switch v := arg.(type) {
		case user.User:
			if !usrSet { // only set one User
				ctx = rollbar.NewPersonContext(ctx, &rollbar.Person{Id: v.ID, Username: v.Username, Email: v.Email})
				usrSet = true
			}
		case error:
			if err == nil {
				err = v
			} else {
				extras["err"+strconv.Itoa(i)] = v.Error()
			}
		case map[string]interface{}:
			for k, val := range v {
				extras[k] = val
			}
		default:
			extras["arg"+strconv.Itoa(i)] = v
		}
	}

	if err != nil {
		extras["message"] = msg
		l.rep.ErrorWithExtrasAndContext(ctx, level, err, extras)
		return
	}
	l.rep.MessageWithExtrasAndContext(ctx, level, msg, extras)
}

func (l RollbarLogger) print(level zerolog.Level, msg string, args []interface{}) {
	e := l.zl.WithLevel(level)
	if e == nil {
		return
	}
	for i, arg := range args {
		switch v := arg.(type) {
		case error:
			e.Err(v)
		case map[string]interface{}:
			e.Fields(v)
		case user.User:
			e.Str("user_id", v.ID)
		default:
			e.Interface("arg"+strconv.Itoa(i), v)
		}
	}
	e.Msg(msg)
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	l.report(rollbar.DEBUG, msg, args)
	l.print(zerolog.DebugLevel, msg, args)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	l.report(rollbar.INFO, msg, args)
	l.print(zerolog.InfoLevel, msg, args)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	l.report(rollbar.WARN, msg, args)
	l.print(zerolog.WarnLevel, msg, args)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	l.report(rollbar.ERR, msg, args)
	l.print(zerolog.ErrorLevel, msg, args)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	l.report(rollbar.CRIT, msg, args)
	l.rep.Wait()
	l.print(zerolog.FatalLevel, msg, args)
	os.Exit(1)
}
