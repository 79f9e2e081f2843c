package lifecycle

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"concierge/internal/notify"
	"concierge/internal/runtime/supervisor"
	"concierge/internal/store"
	"concierge/pkg/logx"
)

// Config is the resolved (parsed, defaulted) lifecycle configuration.
type Config struct {
	Location       *time.Location
	Offsets        []time.Duration // lead times before event_time
	IntroThreshold time.Duration
	// IntroFollowupThreshold is the join age at which the second check-in
	// fires for members still silent after the first nudge.
	IntroFollowupThreshold time.Duration
	DailySpec              string // cron spec for welcome/intro batches
	EventTick              time.Duration
	ProbeTick              time.Duration
	BatchFanout            int // concurrent sends per batch
}

func (c *Config) fillDefaults() {
	if c.Location == nil {
		c.Location = time.UTC
	}
	if len(c.Offsets) == 0 {
		c.Offsets = []time.Duration{7 * 24 * time.Hour, 5 * 24 * time.Hour, 24 * time.Hour}
	}
	if c.IntroThreshold <= 0 {
		c.IntroThreshold = 72 * time.Hour
	}
	if c.IntroFollowupThreshold <= 0 {
		c.IntroFollowupThreshold = 168 * time.Hour
	}
	if strings.TrimSpace(c.DailySpec) == "" {
		c.DailySpec = "0 9 * * *"
	}
	if c.EventTick <= 0 {
		c.EventTick = time.Minute
	}
	if c.ProbeTick <= 0 {
		c.ProbeTick = 10 * time.Minute
	}
	if c.BatchFanout <= 0 {
		c.BatchFanout = 4
	}
}

// Service is the tick-driven scheduler. Ticks of the same class never
// overlap (each class is serialized by its own mutex); classes touch
// disjoint entity sets, so they are free to interleave.
type Service struct {
	st     store.Store
	sender notify.Sender
	log    logx.Logger

	mu  sync.Mutex
	cfg Config

	cron *cron.Cron
	sup  *supervisor.Supervisor

	dailyMu sync.Mutex
	eventMu sync.Mutex
	probeMu sync.Mutex

	// now is swappable for tests.
	now func() time.Time
}

func New(cfg Config, st store.Store, sender notify.Sender, log logx.Logger) *Service {
	cfg.fillDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		st:     st,
		sender: sender,
		log:    log,
		cfg:    cfg,
		now:    time.Now,
	}
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Apply swaps the configuration at runtime. Tick intervals take effect on
// the next wake; a changed daily spec or timezone restarts the cron trigger.
func (s *Service) Apply(cfg Config) {
	cfg.fillDefaults()
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	running := s.cron != nil
	s.mu.Unlock()

	if running && (old.DailySpec != cfg.DailySpec || old.Location.String() != cfg.Location.String()) {
		s.restartCron()
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.sup != nil {
		s.mu.Unlock()
		return nil
	}
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log.With(logx.String("comp", "lifecycle"))))
	s.mu.Unlock()

	if err := s.startCron(); err != nil {
		return err
	}

	sup := s.sup
	sup.Go0("event.tick", func(c context.Context) {
		s.tickLoop(c, func() time.Duration { return s.config().EventTick }, s.RunEventTick)
	})
	sup.Go0("probe.tick", func(c context.Context) {
		s.tickLoop(c, func() time.Duration { return s.config().ProbeTick }, s.RunProbeTick)
	})

	cfg := s.config()
	s.log.Info("lifecycle started",
		logx.String("daily_spec", cfg.DailySpec),
		logx.String("tz", cfg.Location.String()),
		logx.Duration("event_tick", cfg.EventTick),
		logx.Duration("probe_tick", cfg.ProbeTick),
	)
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	if sup == nil {
		return nil
	}
	sup.Cancel()
	return sup.Wait(ctx)
}

func (s *Service) startCron() error {
	s.mu.Lock()
	cfg := s.cfg
	sup := s.sup
	s.mu.Unlock()
	if sup == nil {
		return nil
	}

	c := cron.New(cron.WithLocation(cfg.Location))
	_, err := c.AddFunc(cfg.DailySpec, func() {
		s.RunDailyTick(sup.Context())
	})
	if err != nil {
		return err
	}
	c.Start()

	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()
	return nil
}

func (s *Service) restartCron() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
	if err := s.startCron(); err != nil {
		s.log.Error("cron restart failed", logx.Err(err))
	}
}

// tickLoop runs fn at the interval reported by every(), re-reading it each
// iteration so live config changes take effect without a restart.
func (s *Service) tickLoop(ctx context.Context, every func() time.Duration, fn func(context.Context)) {
	for {
		d := every()
		if d <= 0 {
			d = time.Minute
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(d):
			fn(ctx)
		}
	}
}
