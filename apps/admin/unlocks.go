package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/didisacademy/academy/core/subscription"
	"github.com/didisacademy/academy/core/unlock"
)

func (cli *commandLine) printReport(rep unlock.Report) error {
	enc := json.NewEncoder(cli.out)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

func (cli *commandLine) runPass(ctx context.Context) error {
	rep, err := cli.unlockSvc.RunPass(ctx)
	if err != nil {
		return err
	}
	return cli.printReport(rep)
}

func (cli *commandLine) retryNotify(ctx context.Context, before time.Time, limit int) error {
	rep, err := cli.unlockSvc.RetryNotifications(ctx, before, limit)
	if err != nil {
		return err
	}
	return cli.printReport(rep)
}

func (cli *commandLine) rollback(ctx context.Context, ident, level, moduleSlug string) error {
	usr, err := cli.findUser(ctx, ident)
	if err != nil {
		return err
	}
	filter := unlock.RollbackFilter{UserID: usr.ID}
	if level != "" {
		if filter.Level, err = subscription.ParseLevel(level); err != nil {
			return err
		}
	}
	if moduleSlug != "" {
		mod, err := cli.moduleSvc.GetBySlug(ctx, moduleSlug)
		if err != nil {
			return err
		}
		filter.ModuleID = mod.ID
	}

	n, err := cli.unlockSvc.Rollback(ctx, filter)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.out, "%d unlock record(s) deleted\n", n)
	return nil
}
