package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/didisacademy/academy/core"
	"github.com/didisacademy/academy/core/subscription"
	"github.com/didisacademy/academy/core/user"
)

// findUser looks ident up as an ID first, then as a username or an email.
func (cli *commandLine) findUser(ctx context.Context, ident string) (user.User, error) {
	ident = core.CleanString(ident)
	if _, err := uuid.Parse(ident); err == nil {
		return cli.usrSvc.GetByID(ctx, ident)
	}
	return cli.usrSvc.GetByUsernameOrEmail(ctx, ident)
}

func (cli *commandLine) setLevel(ctx context.Context, ident, level string) error {
	lvl, err := subscription.ParseLevel(level)
	if err != nil {
		return err
	}
	usr, err := cli.findUser(ctx, ident)
	if err != nil {
		return err
	}
	usr, err = cli.usrSvc.ChangeLevel(ctx, usr.ID, lvl)
	if err != nil {
		return err
	}
	started, _ := usr.LevelStartedAt(lvl)
	_, _ = fmt.Fprintf(cli.out, "%s is now %s (since %s)\n", usr.ID, lvl.Name(), started.Format("2006-01-02 15:04:05 MST"))
	return nil
}
