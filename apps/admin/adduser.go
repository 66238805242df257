package main

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/didisacademy/academy/core"
	"github.com/didisacademy/academy/core/subscription"
	"github.com/didisacademy/academy/core/user"
)

type newUserArgs struct {
	name, uname, email, pwd string
	isAdmin                 bool
	level                   string
}

// addUser updates or creates a user.User
func (cli *commandLine) addUser(ctx context.Context, a newUserArgs) error {
	uname := core.CleanString(a.uname, true /* lower */)
	email := core.CleanString(a.email, true /* lower */)
	now := time.Now().UTC()

	var lvl subscription.Level
	if a.level != "" {
		var err error
		if lvl, err = subscription.ParseLevel(a.level); err != nil {
			return err
		}
	}

	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{UsernameOrEmail: []string{uname, email}})
	if err != nil {
		if errors.Cause(err) != user.ErrNotFound {
			return err
		}
		usr = user.User{
			Username:  uname,
			Email:     email,
			CreatedAt: now,
		}
		usr.SetLevel(subscription.Free, now)
	}
	if name := core.CleanString(a.name); name != "" {
		usr.Name = name
	}
	if a.isAdmin {
		usr.Roles = user.AdminRoles
	}
	if lvl != "" {
		usr.SetLevel(lvl, now)
	}
	usr.IsActive = true
	usr.UpdatedAt = now
	if err := usr.SetPassword(a.pwd); err != nil {
		return err
	}
	_, err = cli.usrRepo.UpdateOrCreateUser(ctx, usr)
	return err
}
