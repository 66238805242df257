package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	conf := &Config{
		Debug:     true,
		AppName:   "Academy",
		SecretKey: "secret",
		FromEmail: "noreply@academy.test",
	}
	conf.Server.Host = ":8000"
	conf.Server.ShutdownTimeout = time.Second
	conf.Server.JWTExpirationDelta = time.Hour
	conf.Server.JWTRefreshExpirationDelta = time.Hour
	conf.Database.Engine = "memory"
	conf.Scheduler.Enabled = true
	conf.Scheduler.Spec = "0 3 * * *"
	conf.Scheduler.Timezone = "UTC"
	conf.Scheduler.Workers = 2
	conf.Scheduler.Timeout = time.Hour
	conf.Notify.RetryBatchSize = 10
	return conf
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "no secret", mutate: func(c *Config) { c.SecretKey = "" }, wantErr: true},
		{name: "bad from email", mutate: func(c *Config) { c.FromEmail = "nope" }, wantErr: true},
		{name: "sendgrid key required outside debug", mutate: func(c *Config) { c.Debug = false }, wantErr: true},
		{name: "sendgrid key set", mutate: func(c *Config) { c.Debug = false; c.SendgridApiKey = "SG.key" }},
		{name: "unknown engine", mutate: func(c *Config) { c.Database.Engine = "mysql" }, wantErr: true},
		{name: "postgres needs a name", mutate: func(c *Config) { c.Database.Engine = "postgres" }, wantErr: true},
		{name: "postgres", mutate: func(c *Config) { c.Database.Engine = "postgres"; c.Database.Name = "academy" }},
		{name: "no workers", mutate: func(c *Config) { c.Scheduler.Workers = 0 }, wantErr: true},
		{name: "bad timezone", mutate: func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, wantErr: true},
		{name: "no retry batch", mutate: func(c *Config) { c.Notify.RetryBatchSize = 0 }, wantErr: true},
		{name: "no shutdown timeout", mutate: func(c *Config) { c.Server.ShutdownTimeout = 0 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := validConfig()
			tt.mutate(conf)
			err := conf.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCleanString(t *testing.T) {
	assert.Equal(t, "Hello World", CleanString("  Hello World \n"))
	assert.Equal(t, "hello world", CleanString("  Hello World \n", true))
}

func TestCleanStrings(t *testing.T) {
	assert.Equal(t, []string{"premium", "elite"}, CleanStrings([]string{" Premium", "  ", "ELITE\n"}, true))
	assert.Empty(t, CleanStrings(nil, true))
}
