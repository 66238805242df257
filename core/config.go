package core

import (
	"fmt"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type (
	serverConfig struct {
		Host                      string `validate:"required"`
		DebugHost                 string
		ShutdownTimeout           time.Duration `validate:"gt=0"`
		JWTExpirationDelta        time.Duration `validate:"gt=0"`
		JWTRefreshExpirationDelta time.Duration `validate:"gt=0"`
	}

	databaseConfig struct {
		Engine        string `validate:"oneof=postgres memory"`
		Host          string
		Port          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		Name          string `validate:"required_unless=Engine memory"`
		DisableTLS    bool
	}

	schedulerConfig struct {
		Enabled  bool
		Spec     string `validate:"required_with=Enabled"`
		Timezone string
		Workers  int           `validate:"gte=1"`
		Timeout  time.Duration `validate:"gt=0"`
	}

	notifyConfig struct {
		RetryBatchSize     int `validate:"gte=1"`
		BreakerFailures    uint32
		BreakerTimeout     time.Duration
		BreakerHalfOpenMax uint32
		ClaimTTL           time.Duration // how long a send in progress holds its record
	}

	Config struct {
		Debug           bool
		TestMode        bool
		Env             string
		AppName         string `validate:"required"`
		Build           string
		WorkDir         string
		SecretKey       string `validate:"required"`
		RollbarToken    string
		SendgridApiKey  string `validate:"required_without=Debug"`
		FrontendBaseURL string
		FromEmail       string `validate:"required,email"`

		Server    serverConfig
		Database  databaseConfig
		Scheduler schedulerConfig
		Notify    notifyConfig
	}
)

func (dbConf databaseConfig) Address() string {
	return net.JoinHostPort(dbConf.Host, dbConf.Port)
}

func (conf *Config) DefaultFromEmail() mail.Address {
	return mail.Address{Name: conf.AppName, Address: conf.FromEmail}
}

// Validate checks that the loaded configuration is usable.
func (conf *Config) Validate() error {
	if err := validator.New().Struct(conf); err != nil {
		return errors.Wrap(err, "validating config")
	}
	if conf.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(conf.Scheduler.Timezone); err != nil {
			return errors.Wrap(err, "validating config: scheduler timezone")
		}
	}
	return nil
}

// NewConfig loads the configuration of the current ENV (DEV by default) from the environment,
// after loading `config/.env.<env>` if it exists.
func NewConfig() *Config {
	v := viper.New()

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	if env == "" {
		env = "DEV"
	}

	wd, err := os.Getwd()
	if err != nil {
		panic(fmt.Errorf("config.os.Getwd(): %v", err))
	}
	v.SetDefault("workDir", wd)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			panic(fmt.Errorf("config.godotenv(%s): %v", dotEnvPath, err))
		}
	} else if !os.IsNotExist(err) {
		panic(fmt.Errorf("config.os.Stat(%s): %v", dotEnvPath, err))
	}

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", env == "DEV" || env == "TEST")
	v.SetDefault("testMode", env == "TEST")
	v.SetDefault("appName", "Didis Academy")
	v.SetDefault("build", "develop")
	v.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("fromEmail", "noreply@localhost")

	v.SetDefault("server.host", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.jwtRefreshExpirationDelta", 4*time.Hour)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "academy")
	v.SetDefault("database.password", "")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "")
	v.SetDefault("database.name", "academy")
	v.SetDefault("database.disableTLS", env == "DEV" || env == "TEST")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.spec", "0 3 * * *") // daily, 03:00
	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scheduler.workers", 1)
	v.SetDefault("scheduler.timeout", time.Hour)

	v.SetDefault("notify.retryBatchSize", 500)
	v.SetDefault("notify.breakerFailures", 5)
	v.SetDefault("notify.breakerTimeout", time.Minute)
	v.SetDefault("notify.breakerHalfOpenMax", 1)
	v.SetDefault("notify.claimTTL", 10*time.Minute)

	// PROD_DATABASE_HOST -> database.host
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Config{
		Debug:           v.GetBool("debug"),
		TestMode:        v.GetBool("testMode"),
		Env:             env,
		AppName:         v.GetString("appName"),
		Build:           v.GetString("build"),
		WorkDir:         v.GetString("workDir"),
		SecretKey:       v.GetString("secretKey"),
		RollbarToken:    v.GetString("rollbarToken"),
		SendgridApiKey:  v.GetString("sendgridApiKey"),
		FrontendBaseURL: v.GetString("frontendBaseURL"),
		FromEmail:       v.GetString("fromEmail"),
		Server: serverConfig{
			Host:                      v.GetString("server.host"),
			DebugHost:                 v.GetString("server.debugHost"),
			ShutdownTimeout:           v.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("server.jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("server.jwtRefreshExpirationDelta"),
		},
		Database: databaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			Name:          v.GetString("database.name"),
			DisableTLS:    v.GetBool("database.disableTLS"),
		},
		Scheduler: schedulerConfig{
			Enabled:  v.GetBool("scheduler.enabled"),
			Spec:     v.GetString("scheduler.spec"),
			Timezone: v.GetString("scheduler.timezone"),
			Workers:  v.GetInt("scheduler.workers"),
			Timeout:  v.GetDuration("scheduler.timeout"),
		},
		Notify: notifyConfig{
			RetryBatchSize:     v.GetInt("notify.retryBatchSize"),
			BreakerFailures:    v.GetUint32("notify.breakerFailures"),
			BreakerTimeout:     v.GetDuration("notify.breakerTimeout"),
			BreakerHalfOpenMax: v.GetUint32("notify.breakerHalfOpenMax"),
			ClaimTTL:           v.GetDuration("notify.claimTTL"),
		},
	}
}
