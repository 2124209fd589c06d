// Package maintenance runs periodic store housekeeping on cron schedules:
// PRAGMA optimize, pending-reminder stats and audit pruning.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

// Job names.
const (
	JobOptimize   = "optimize"
	JobStats      = "stats"
	JobPruneAudit = "prune_audit"
)

const overdueGrace = time.Minute

// EventStats carries a storage.Stats after every stats run.
const EventStats = "maintenance.stats"

type Store interface {
	Optimize(ctx context.Context) error
	Stats(ctx context.Context, now time.Time) (storage.Stats, error)
	PruneAudit(ctx context.Context, before time.Time) (int64, error)
}

type Config struct {
	// Cron specs; empty disables the job. "@every 1h" style specs get a
	// startup spread.
	Optimize       string
	Stats          string
	PruneAudit     string
	AuditRetention time.Duration
	Location       *time.Location
	JobTimeout     time.Duration
}

// ConfigFrom applies defaults to the maintenance section.
func ConfigFrom(c config.MaintenanceConfig) (Config, error) {
	out := Config{
		Optimize:   strings.TrimSpace(c.Optimize),
		Stats:      strings.TrimSpace(c.Stats),
		PruneAudit: strings.TrimSpace(c.PruneAudit),
		JobTimeout: time.Minute,
	}
	if out.Optimize == "" {
		out.Optimize = "@daily"
	}
	if out.Stats == "" {
		out.Stats = "@hourly"
	}
	if out.PruneAudit == "" {
		out.PruneAudit = "@daily"
	}
	var err error
	if out.AuditRetention, err = config.Field("maintenance.audit_retention").DurationOr(c.AuditRetention, 720*time.Hour); err != nil {
		return Config{}, err
	}
	if out.Location, err = config.Field("maintenance.timezone").Location(c.Timezone); err != nil {
		return Config{}, err
	}
	return out, nil
}

type job struct {
	name string
	spec string
	run  func(ctx context.Context) error
}

type Service struct {
	cfg    Config
	store  Store
	bus    eventbus.Bus
	log    logx.Logger
	parser cron.Parser
	jobs   []job
	now    func() time.Time

	mu        sync.Mutex
	lastStats storage.Stats
	lastAt    time.Time
}

func New(cfg Config, store Store, log logx.Logger, bus eventbus.Bus) (*Service, error) {
	if store == nil {
		return nil, errors.New("maintenance: store is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = time.Minute
	}
	s := &Service{
		cfg:   cfg,
		store: store,
		bus:   bus,
		log:   log.With(logx.String("comp", "maintenance")),
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		now:    time.Now,
	}
	candidates := []job{
		{name: JobOptimize, spec: cfg.Optimize, run: s.optimize},
		{name: JobStats, spec: cfg.Stats, run: s.stats},
		{name: JobPruneAudit, spec: cfg.PruneAudit, run: s.pruneAudit},
	}
	for _, j := range candidates {
		if j.spec == "" {
			continue
		}
		if _, err := s.parser.Parse(j.spec); err != nil {
			return nil, fmt.Errorf("maintenance.%s: %w", j.name, err)
		}
		s.jobs = append(s.jobs, j)
	}
	return s, nil
}

// Jobs lists the scheduled job names.
func (s *Service) Jobs() []string {
	out := make([]string, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.name)
	}
	sort.Strings(out)
	return out
}

// Run drives the cron until ctx is cancelled, then waits for running jobs.
func (s *Service) Run(ctx context.Context) error {
	clog := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.cfg.Location),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	for _, j := range s.jobs {
		j := j
		fn := cron.FuncJob(func() { _ = s.RunJob(ctx, j.name) })
		if every, ok := intervalSpec(j.spec); ok {
			sched, jitter := makeIntervalScheduleWithSpread(every, s.now().In(s.cfg.Location), j.name)
			c.Schedule(sched, fn)
			s.log.Debug("maintenance job scheduled", logx.String("job", j.name), logx.String("spec", j.spec), logx.Duration("startup_spread", jitter))
			continue
		}
		if _, err := c.AddJob(j.spec, fn); err != nil {
			return fmt.Errorf("maintenance.%s: %w", j.name, err)
		}
		s.log.Debug("maintenance job scheduled", logx.String("job", j.name), logx.String("spec", j.spec))
	}
	c.Start()
	s.log.Info("maintenance started", logx.String("tz", s.cfg.Location.String()), logx.Int("jobs", len(s.jobs)))

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// RunJob runs one job now, bounded by the job timeout.
func (s *Service) RunJob(ctx context.Context, name string) error {
	for _, j := range s.jobs {
		if j.name != name {
			continue
		}
		jctx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
		defer cancel()
		start := s.now()
		err := j.run(jctx)
		if err != nil {
			s.log.Warn("maintenance job failed", logx.String("job", name), logx.Err(err))
			return err
		}
		s.log.Debug("maintenance job done", logx.String("job", name), logx.Duration("took", s.now().Sub(start)))
		return nil
	}
	return fmt.Errorf("maintenance: unknown job %q", name)
}

// LastStats returns the most recent stats run; at is zero before the first.
func (s *Service) LastStats() (st storage.Stats, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStats, s.lastAt
}

func (s *Service) optimize(ctx context.Context) error {
	return s.store.Optimize(ctx)
}

func (s *Service) stats(ctx context.Context) error {
	now := s.now()
	// Reminders firing right now are not overdue yet.
	st, err := s.store.Stats(ctx, now.Add(-overdueGrace))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.lastStats, s.lastAt = st, now
	s.mu.Unlock()

	fields := []logx.Field{
		logx.Int64("pending", st.Pending),
		logx.Int64("overdue", st.Overdue),
		logx.Int64("audit_rows", st.Audit),
		logx.Any("by_shard", st.ByShard),
	}
	if st.Overdue > 0 {
		// Overdue rows mean a shard loop is not running or keeps failing.
		s.log.Warn("overdue reminders pending", fields...)
	} else {
		s.log.Info("reminder stats", fields...)
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventStats, Data: st})
	}
	return nil
}

func (s *Service) pruneAudit(ctx context.Context) error {
	if s.cfg.AuditRetention <= 0 {
		return nil
	}
	n, err := s.store.PruneAudit(ctx, s.now().Add(-s.cfg.AuditRetention))
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Info("audit rows pruned", logx.Int64("rows", n))
	}
	return nil
}

func intervalSpec(spec string) (time.Duration, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(spec), "@every")
	if !ok {
		return 0, false
	}
	every, err := time.ParseDuration(strings.TrimSpace(rest))
	if err != nil || every <= 0 {
		return 0, false
	}
	return every, true
}
