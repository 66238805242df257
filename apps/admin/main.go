package main

import (
	"context"
	"fmt"
	"os"

	"github.com/didisacademy/academy/apps/shared"
	"github.com/didisacademy/academy/core"
)

func main() {
	conf := core.NewConfig()
	if err := conf.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %+v\n", err)
		os.Exit(1)
	}
	logger := shared.NewLogger(conf, "admin")

	// migrations are run explicitly through the migrate command
	migrating := len(os.Args) > 1 && os.Args[1] == "migrate"
	deps, err := shared.NewDeps(context.Background(), conf, logger, shared.Options{CreateDB: migrating})
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up dependencies: %v", err), err)
	}

	// start CLI
	cli := commandLine{
		usrSvc:     deps.UserSvc,
		usrRepo:    deps.UserRepo,
		moduleSvc:  deps.ModuleSvc,
		unlockSvc:  deps.UnlockSvc,
		retryLimit: conf.Notify.RetryBatchSize,
		out:        os.Stdout,
	}
	if deps.DB != nil {
		cli.db = deps.DB.DB
	}
	err = cli.run(os.Args)
	deps.Close()
	if err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}
