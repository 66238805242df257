// Package shared builds the dependencies common to the api and admin apps.
package shared

import (
	"context"
	"fmt"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/didisacademy/academy/core"
	"github.com/didisacademy/academy/core/module"
	"github.com/didisacademy/academy/core/subscription"
	"github.com/didisacademy/academy/core/unlock"
	"github.com/didisacademy/academy/core/user"
	appfs "github.com/didisacademy/academy/fs"
	emailsvc "github.com/didisacademy/academy/services/email"
	logsvc "github.com/didisacademy/academy/services/logger"
	metricssvc "github.com/didisacademy/academy/services/metrics"
	notifysvc "github.com/didisacademy/academy/services/notify"
	"github.com/didisacademy/academy/storage/database"
	inmemdb "github.com/didisacademy/academy/storage/database/inmem"
	sqlxrepos "github.com/didisacademy/academy/storage/database/sqlx"
)

const EngineMemory = "memory"

type (
	Options struct {
		Mailer     core.EmailService     // defaults to console in debug, sendgrid otherwise
		Registerer prometheus.Registerer // defaults to Deps.Registry
		CreateDB   bool                  // create the app user and database if needed
		Migrate    bool                  // apply migrations; implies CreateDB
	}

	Deps struct {
		Conf       *core.Config
		Logger     core.Logger
		DB         *sqlx.DB // nil with the memory engine
		MemDB      *inmemdb.DB
		Validate   *validator.Validate
		Translator ut.Translator
		Registry   *prometheus.Registry

		UserRepo   user.Repository
		ModuleRepo module.Repository
		UnlockRepo unlock.Repository

		Mailer    core.EmailService
		Notifier  *notifysvc.EmailNotifier
		UserSvc   *user.Service
		ModuleSvc *module.Service
		UnlockSvc *unlock.Service
	}
)

// NewLogger returns the app logger; reporting to rollbar is disabled in debug mode.
func NewLogger(conf *core.Config, component string) core.Logger {
	zl := logsvc.NewZerolog(os.Stdout, conf).With().Str("component", component).Logger()
	logger := logsvc.NewRollbarLogger(zl, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func NewValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	subscription.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	return validate, translator
}

// SetUpDB opens the app database, creating it first when create is set and migrating it when migrate is set.
func SetUpDB(ctx context.Context, conf *core.Config, create, migrate bool) (*sqlx.DB, error) {
	if create || migrate {
		if err := database.CreateIfNotExist(ctx, conf); err != nil {
			return nil, err
		}
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}
	if err = database.Ping(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if migrate {
		if err = database.Migrate(db.DB); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

func NewEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

// NewDeps wires storage and services. Close releases what it opened.
func NewDeps(ctx context.Context, conf *core.Config, logger core.Logger, opts Options) (*Deps, error) {
	deps := &Deps{
		Conf:     conf,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}
	deps.Validate, deps.Translator = NewValidator()
	deps.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// storage
	var coreDB core.DB // stays nil (not a typed nil) with the memory engine
	if conf.Database.Engine == EngineMemory {
		deps.MemDB = inmemdb.Open()
		deps.UserRepo = inmemdb.NewUserRepository(deps.MemDB)
		deps.ModuleRepo = inmemdb.NewModuleRepository(deps.MemDB)
		deps.UnlockRepo = inmemdb.NewUnlockRepository(deps.MemDB)
		logger.Warn("using the in-memory database: data is lost on exit")
	} else {
		db, err := SetUpDB(ctx, conf, opts.CreateDB, opts.Migrate)
		if err != nil {
			return nil, errors.Wrap(err, "setting up database")
		}
		deps.DB = db
		coreDB = db
		deps.UserRepo = sqlxrepos.NewUserRepository(db)
		deps.ModuleRepo = sqlxrepos.NewModuleRepository(db)
		deps.UnlockRepo = sqlxrepos.NewUnlockRepository(db)
	}

	// templates
	core.ParseEmailTemplates(conf, appfs.FS, appfs.EmailTemplatesDir, logger)

	// services
	deps.Mailer = opts.Mailer
	if deps.Mailer == nil {
		deps.Mailer = NewEmailService(conf, logger)
	}
	deps.Notifier = notifysvc.NewEmailNotifier(deps.Mailer, notifysvc.NotifierConfig(conf), logger)
	deps.UserSvc = user.NewService(deps.UserRepo)
	deps.ModuleSvc = module.NewService(deps.ModuleRepo, deps.Validate)

	reg := opts.Registerer
	if reg == nil {
		reg = deps.Registry
	}
	observer, err := metricssvc.NewPrometheusObserver("", reg)
	if err != nil {
		deps.Close()
		return nil, errors.Wrap(err, "setting up metrics")
	}

	deps.UnlockSvc = unlock.NewService(unlock.Deps{
		DB:       coreDB,
		Repo:     deps.UnlockRepo,
		Users:    deps.UserSvc,
		Catalog:  deps.ModuleSvc,
		Notifier: deps.Notifier,
		Observer: observer,
		Logger:   logger,
		Workers:  conf.Scheduler.Workers,
		ClaimTTL: conf.Notify.ClaimTTL,
	})
	return deps, nil
}

func (deps *Deps) Close() {
	if deps.DB == nil {
		return
	}
	if err := deps.DB.Close(); err != nil {
		deps.Logger.Error(fmt.Sprintf("closing database: %v", err), err)
	}
}
