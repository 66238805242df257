package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/didisacademy/academy/core/module"
	"github.com/didisacademy/academy/core/unlock"
	"github.com/didisacademy/academy/core/user"
	"github.com/didisacademy/academy/storage/database"
)

var (
	readPasswordFunc  = term.ReadPassword      // mockable
	runMigrationsFunc = database.RunMigrations // mockable

	errHelp = errors.New("help provided")
	errNoDB = errors.New("this command needs the postgres engine")
)

type commandLine struct {
	db         *sql.DB // nil with the memory engine
	usrSvc     *user.Service
	usrRepo    user.Repository
	moduleSvc  *module.Service
	unlockSvc  *unlock.Service
	retryLimit int
	out        io.Writer
}

func (cli *commandLine) printUsage() {
	_, _ = fmt.Fprintln(cli.out, "Usage:")
	_, _ = fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose command: up, up-by-one, up-to, down, down-to, redo, reset, status, version")
	_, _ = fmt.Fprintln(cli.out, "  adduser -name NAME -username USERNAME -email EMAIL [-admin] [-level LEVEL] - create or update a user")
	_, _ = fmt.Fprintln(cli.out, "  resetpassword -username USERNAME|EMAIL - reset user's password")
	_, _ = fmt.Fprintln(cli.out, "  setlevel -user ID|USERNAME|EMAIL -level LEVEL - change a user's subscription level")
	_, _ = fmt.Fprintln(cli.out, "  seedmodules [-file PATH] - upsert catalog modules from a YAML seed file")
	_, _ = fmt.Fprintln(cli.out, "  runpass - run an unlock pass now")
	_, _ = fmt.Fprintln(cli.out, "  retrynotify [-limit N] [-before RFC3339] - resend pending unlock notifications")
	_, _ = fmt.Fprintln(cli.out, "  rollback -user ID|USERNAME|EMAIL [-level LEVEL] [-module SLUG] - delete unlock records")
}

func (cli *commandLine) promptPassword(fs *flag.FlagSet) (string, error) {
	_, _ = fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	_, _ = fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	if len(pwd) == 0 {
		fs.Usage()
		return "", errHelp
	}
	return string(pwd), nil
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}
	ctx := context.Background()

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserName := addUserCmd.String("name", "", "The user's full name.")
	addUserUname := addUserCmd.String("username", "", "The user's username. One of username or email is required.")
	addUserEmail := addUserCmd.String("email", "", "The user's email. One of username or email is required.")
	addUserAdmin := addUserCmd.Bool("admin", false, "Give the user every admin role.")
	addUserLevel := addUserCmd.String("level", "", "The user's subscription level (free by default).")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The user's username or email. The password will be prompted next.")

	setLevelCmd := flag.NewFlagSet("setlevel", flag.ContinueOnError)
	setLevelUser := setLevelCmd.String("user", "", "The user's ID, username or email.")
	setLevelLevel := setLevelCmd.String("level", "", "The new subscription level.")

	seedCmd := flag.NewFlagSet("seedmodules", flag.ContinueOnError)
	seedFile := seedCmd.String("file", "", "Path of the YAML seed file. Defaults to the embedded catalog.")

	runPassCmd := flag.NewFlagSet("runpass", flag.ContinueOnError)

	retryCmd := flag.NewFlagSet("retrynotify", flag.ContinueOnError)
	retryLimit := retryCmd.Int("limit", cli.retryLimit, "Maximum number of notifications to resend.")
	retryBefore := retryCmd.String("before", "", "Only resend notifications of modules unlocked before this RFC3339 time. Defaults to now.")

	rollbackCmd := flag.NewFlagSet("rollback", flag.ContinueOnError)
	rollbackUser := rollbackCmd.String("user", "", "The user's ID, username or email.")
	rollbackLevel := rollbackCmd.String("level", "", "Only delete records of this level.")
	rollbackModule := rollbackCmd.String("module", "", "Only delete records of this module slug.")

	for _, fs := range []*flag.FlagSet{addUserCmd, resetPasswordCmd, setLevelCmd, seedCmd, runPassCmd, retryCmd, rollbackCmd} {
		fs.SetOutput(cli.out)
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *addUserUname == "" && *addUserEmail == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword(addUserCmd)
		if err != nil {
			return err
		}
		return cli.addUser(ctx, newUserArgs{
			name:    *addUserName,
			uname:   *addUserUname,
			email:   *addUserEmail,
			pwd:     pwd,
			isAdmin: *addUserAdmin,
			level:   *addUserLevel,
		})

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword(resetPasswordCmd)
		if err != nil {
			return err
		}
		return cli.resetPassword(ctx, *resetPasswordUname, pwd)

	case "setlevel":
		if err := setLevelCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *setLevelUser == "" || *setLevelLevel == "" {
			setLevelCmd.Usage()
			return errHelp
		}
		return cli.setLevel(ctx, *setLevelUser, *setLevelLevel)

	case "seedmodules":
		if err := seedCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		return cli.seedModules(ctx, *seedFile)

	case "runpass":
		if err := runPassCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		return cli.runPass(ctx)

	case "retrynotify":
		if err := retryCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		before := time.Now().UTC()
		if *retryBefore != "" {
			t, err := time.Parse(time.RFC3339, *retryBefore)
			if err != nil {
				retryCmd.Usage()
				return errHelp
			}
			before = t
		}
		return cli.retryNotify(ctx, before, *retryLimit)

	case "rollback":
		if err := rollbackCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *rollbackUser == "" {
			rollbackCmd.Usage()
			return errHelp
		}
		return cli.rollback(ctx, *rollbackUser, *rollbackLevel, *rollbackModule)

	default:
		cli.printUsage()
		return errHelp
	}
}
