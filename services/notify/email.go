// Package notifysvc tells users that new modules were unlocked.
package notifysvc

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker/v2"

	"github.com/didisacademy/academy/core"
	"github.com/didisacademy/academy/core/module"
	"github.com/didisacademy/academy/core/unlock"
	"github.com/didisacademy/academy/core/user"
)

const templateModuleUnlocked = "module_unlocked"

var (
	ErrNoEmail     = errors.New("user has no email address")
	ErrUnavailable = errors.New("notification channel unavailable")
)

type (
	// BreakerConfig tunes the circuit breaker that guards the email provider.
	BreakerConfig struct {
		Failures    uint32        // consecutive failures before opening; 0 disables the breaker
		Timeout     time.Duration // time spent open before probing again
		HalfOpenMax uint32        // requests allowed while half-open
	}

	unlockedData struct {
		Name        string
		UnlockDay   int
		LevelName   string
		ModuleTitle string
		ContentPath string
	}

	EmailNotifier struct {
		mailer  core.EmailService
		breaker *gobreaker.CircuitBreaker[any]
		logger  core.Logger
	}
)

var _ unlock.Notifier = (*EmailNotifier)(nil)

func NewEmailNotifier(mailer core.EmailService, bc BreakerConfig, logger core.Logger) *EmailNotifier {
	n := &EmailNotifier{mailer: mailer, logger: logger}
	if bc.Failures > 0 {
		n.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:        "email",
			MaxRequests: bc.HalfOpenMax,
			Timeout:     bc.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= bc.Failures
			},
			// a user without an address says nothing about the provider
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrNoEmail) || errors.Is(err, core.ErrNoRecipients)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn(fmt.Sprintf("%s notifier breaker: %s -> %s", name, from, to))
			},
		})
	}
	return n
}

// NotifierConfig maps the app configuration onto BreakerConfig.
func NotifierConfig(conf *core.Config) BreakerConfig {
	return BreakerConfig{
		Failures:    conf.Notify.BreakerFailures,
		Timeout:     conf.Notify.BreakerTimeout,
		HalfOpenMax: conf.Notify.BreakerHalfOpenMax,
	}
}

// SendUnlockNotification emails usr about mod. A nil error means the provider accepted the message.
func (n *EmailNotifier) SendUnlockNotification(ctx context.Context, usr user.User, mod module.Module, unlockDay int) error {
	if usr.Email == "" {
		return ErrNoEmail
	}
	name := usr.Name
	if name == "" {
		name = usr.Username
	}
	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "New module unlocked: " + mod.Title,
		TemplateName: templateModuleUnlocked,
		TemplateData: unlockedData{
			Name:        name,
			UnlockDay:   unlockDay,
			LevelName:   usr.Level.Name(),
			ModuleTitle: mod.Title,
			ContentPath: mod.ContentPath,
		},
	}

	if n.breaker == nil {
		return n.mailer.SendMessage(ctx, msg)
	}
	_, err := n.breaker.Execute(func() (any, error) {
		return nil, n.mailer.SendMessage(ctx, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Wrap(ErrUnavailable, err.Error())
	}
	return err
}

// State reports the breaker state; "disabled" without a breaker.
func (n *EmailNotifier) State() string {
	if n.breaker == nil {
		return "disabled"
	}
	return n.breaker.State().String()
}
