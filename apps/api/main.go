package main

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"time"

	"github.com/pkg/errors"

	echoapi "github.com/didisacademy/academy/apps/api/echo"
	"github.com/didisacademy/academy/apps/shared"
	"github.com/didisacademy/academy/core"
	"github.com/didisacademy/academy/core/unlock"
	schedsvc "github.com/didisacademy/academy/services/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %+v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()
	if err := conf.Validate(); err != nil {
		return err
	}
	logger := shared.NewLogger(conf, "api")

	ctx := context.Background()
	deps, err := shared.NewDeps(ctx, conf, logger, shared.Options{Migrate: true})
	if err != nil {
		return errors.Wrap(err, "setting up dependencies")
	}
	defer deps.Close()

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	if conf.Server.DebugHost != "" {
		go func() {
			if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
				logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
			}
		}()
	}

	// =========================================================================
	// Start Scheduler

	scheduler := schedsvc.New(schedsvc.FromConfig(conf), logger, dailyJob(deps.UnlockSvc, conf.Notify.RetryBatchSize))
	if conf.Scheduler.Enabled {
		if err = scheduler.Start(); err != nil {
			return errors.Wrap(err, "starting scheduler")
		}
	}

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(echoapi.ServerDeps{
		Conf:       conf,
		Logger:     logger,
		UserSvc:    deps.UserSvc,
		UnlockSvc:  deps.UnlockSvc,
		Trigger:    scheduler,
		Validate:   deps.Validate,
		Translator: deps.Translator,
		Gatherer:   deps.Registry,
	})

	go server.Start()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		stopScheduler(scheduler, conf, logger)
		return errors.Wrap(err, "server error")

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				return errors.Wrap(err, "could not force stop server")
			}
		}
		stopScheduler(scheduler, conf, logger)
	}
	return nil
}

// dailyJob runs an unlock pass, then resends the notifications that failed before it.
// The retry is bounded by the pass start so that it never resends what the pass just failed.
func dailyJob(svc *unlock.Service, retryLimit int) schedsvc.Job {
	return func(ctx context.Context) error {
		rep, err := svc.RunPass(ctx)
		if err != nil {
			return err
		}
		_, err = svc.RetryNotifications(ctx, rep.StartedAt, retryLimit)
		return err
	}
}

func stopScheduler(scheduler *schedsvc.Service, conf *core.Config, logger core.Logger) {
	if !conf.Scheduler.Enabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout+time.Second)
	defer cancel()
	if err := scheduler.Stop(ctx); err != nil {
		logger.Error(fmt.Sprintf("stopping scheduler: %v", err), err)
	}
}
