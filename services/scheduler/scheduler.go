// Package schedsvc triggers the daily unlock job.
package schedsvc

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/didisacademy/academy/core"
)

const (
	DefaultSpec     = "0 3 * * *" // daily at 03:00
	DefaultTimezone = "UTC"
)

var (
	ErrNotStarted     = errors.New("scheduler not started")
	ErrAlreadyStarted = errors.New("scheduler already started")
)

type (
	// Job is run on every trigger. It must be safe to run again after a partial run.
	Job func(ctx context.Context) error

	Config struct {
		Spec     string        // 5 fields cron spec or descriptor (@daily, @every 1h, ...)
		Timezone string        // IANA name
		Timeout  time.Duration // per run; 0 means no timeout
	}

	Service struct {
		mu      sync.Mutex
		cfg     Config
		job     Job
		logger  core.Logger
		parser  cron.Parser
		c       *cron.Cron
		entryID cron.EntryID
		ctx     context.Context // cancelled on Stop
		cancel  context.CancelFunc

		runLock chan struct{} // serializes runs, whatever triggered them
	}
)

func New(cfg Config, logger core.Logger, job Job) *Service {
	if strings.TrimSpace(cfg.Spec) == "" {
		cfg.Spec = DefaultSpec
	}
	if strings.TrimSpace(cfg.Timezone) == "" {
		cfg.Timezone = DefaultTimezone
	}
	return &Service{
		cfg:     cfg,
		job:     job,
		logger:  logger,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		runLock: make(chan struct{}, 1),
	}
}

// FromConfig maps the app configuration onto Config.
func FromConfig(conf *core.Config) Config {
	return Config{
		Spec:     conf.Scheduler.Spec,
		Timezone: conf.Scheduler.Timezone,
		Timeout:  conf.Scheduler.Timeout,
	}
}

// Start registers the cron entry and starts ticking.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return ErrAlreadyStarted
	}

	loc, err := time.LoadLocation(s.cfg.Timezone)
	if err != nil {
		return errors.Wrapf(err, "loading timezone %q", s.cfg.Timezone)
	}
	sched, err := s.parser.Parse(s.cfg.Spec)
	if err != nil {
		return errors.Wrapf(err, "parsing cron spec %q", s.cfg.Spec)
	}

	clog := cronLogger{logger: s.logger}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	s.entryID = s.c.Schedule(sched, cron.FuncJob(func() {
		if err := s.run(s.ctx, "cron", s.job); err != nil {
			s.logger.Error(fmt.Sprintf("scheduled run: %v", err), err)
		}
	}))
	s.c.Start()
	s.logger.Info(fmt.Sprintf("scheduler started: spec=%q tz=%s next=%s", s.cfg.Spec, loc, s.c.Entry(s.entryID).Next.Format(time.RFC3339)))
	return nil
}

// Stop stops triggering and waits for the running job, if any, until ctx is done.
// The running job's context is cancelled when ctx is done first.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return ErrNotStarted
	}

	select {
	case <-c.Stop().Done():
		cancel()
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		cancel()
		return errors.Wrap(ctx.Err(), "stopping scheduler")
	}
}

// TriggerNow runs the job synchronously, after any run in progress.
func (s *Service) TriggerNow(ctx context.Context) error {
	return s.Do(ctx, s.job)
}

// Do runs fn under the same lock and timeout as the job, so that it never overlaps a run.
func (s *Service) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.run(ctx, "manual", fn)
}

// Next returns the next scheduled run; zero when not started.
func (s *Service) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	return s.c.Entry(s.entryID).Next
}

func (s *Service) run(ctx context.Context, trigger string, fn Job) error {
	select {
	case s.runLock <- struct{}{}:
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "waiting for the %s run", trigger)
	}
	defer func() { <-s.runLock }()

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	s.logger.Debug(fmt.Sprintf("%s run started", trigger))
	return fn(ctx)
}

// cronLogger adapts core.Logger to cron.Logger.
type cronLogger struct {
	logger core.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: " + msg + formatKV(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg+formatKV(keysAndValues), err)
}

func formatKV(kv []interface{}) string {
	var b strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		_, _ = fmt.Fprintf(&b, " %v=%v", kv[i], kv[i+1])
	}
	return b.String()
}
