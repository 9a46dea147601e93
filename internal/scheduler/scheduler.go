package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/doridoridoriand/skymonitor/internal/archive"
	"github.com/doridoridoriand/skymonitor/internal/config"
	"github.com/doridoridoriand/skymonitor/internal/log"
	"github.com/doridoridoriand/skymonitor/internal/probe"
	"github.com/doridoridoriand/skymonitor/internal/state"
	"github.com/doridoridoriand/skymonitor/internal/statuslog"
)

// Scheduler drives the periodic status and archive ticks of a service set.
type Scheduler interface {
	Start(ctx context.Context, services []config.Service) error
	Stop()
	Running() bool
}

// Recorder appends one status observation.
type Recorder interface {
	Record(dir string, dim config.Dimension, up bool, width time.Duration) error
}

// Archiver compacts one service log directory.
type Archiver interface {
	Archive(service, dir string) (archive.Result, error)
}

// Options holds the directory roots and pool floor of a scheduler.
type Options struct {
	LoggingDir string
	ArchiveDir string
	MinWorkers int
}

// Impl provides a cron backed scheduler.
type Impl struct {
	mu        sync.Mutex
	opts      Options
	prober    probe.Prober
	recorder  Recorder
	archiver  Archiver
	state     state.Store
	logger    *log.Logger
	cron      *cron.Cron
	cancel    context.CancelFunc
	semaphore chan struct{}
	entries   map[string]cron.EntryID

	periodFor  func(config.Service) time.Duration
	archiveFor func(config.Service) time.Duration
}

// NewScheduler constructs a scheduler instance.
func NewScheduler(opts Options, prober probe.Prober, recorder Recorder, archiver Archiver, store state.Store, logger *log.Logger) *Impl {
	if logger == nil {
		logger = log.Nop()
	}
	if store == nil {
		store = state.NewStore(nil)
	}
	return &Impl{
		opts:       opts,
		prober:     prober,
		recorder:   recorder,
		archiver:   archiver,
		state:      store,
		logger:     logger,
		periodFor:  config.Service.MonitoringPeriod,
		archiveFor: config.Service.ArchiveInterval,
	}
}

// Start arms one status entry per (service, dimension) for services with
// file logging enabled and one archive entry per service with archiving
// enabled. Status entries fire immediately, archive entries after one interval.
func (s *Impl) Start(ctx context.Context, services []config.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("scheduler already running")
	}

	cl := cronLogger{logger: s.logger}
	c := cron.New(cron.WithLogger(cl))
	stopCtx, cancel := context.WithCancel(ctx)
	// Probes outlive Stop so an in-flight tick can still log its result.
	probeCtx := context.WithoutCancel(ctx)
	sem := make(chan struct{}, poolSize(len(services), s.opts.MinWorkers))
	chain := tickChain(cl)
	entries := make(map[string]cron.EntryID)

	for _, svc := range services {
		if svc.EnableFileLogging {
			period := s.periodFor(svc)
			for _, dim := range config.Dimensions {
				job := chain.Then(s.statusJob(probeCtx, stopCtx, sem, svc, dim))
				entries[entryName(svc, string(dim))] = c.Schedule(newFixedRate(period, true), job)
			}
		}
		if svc.EnableLogsArchiving {
			interval := s.archiveFor(svc)
			if interval <= 0 {
				s.logger.Debug("archiving disabled by interval policy", map[string]interface{}{
					"service": svc.Name,
					"policy":  svc.LogArchivingIntervals,
				})
				continue
			}
			job := chain.Then(s.archiveJob(stopCtx, sem, svc))
			entries[entryName(svc, "archive")] = c.Schedule(newFixedRate(interval, false), job)
		}
	}

	s.cron = c
	s.cancel = cancel
	s.semaphore = sem
	s.entries = entries
	c.Start()

	s.logger.Info("scheduler started", map[string]interface{}{
		"services": len(services),
		"entries":  len(entries),
		"workers":  cap(sem),
	})
	return nil
}

// Stop removes every entry without waiting for in-flight ticks.
func (s *Impl) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel, s.semaphore, s.entries = nil, nil, nil, nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	c.Stop()
	s.logger.Info("scheduler stopped", nil)
}

// Running reports whether entries are armed.
func (s *Impl) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil
}

func (s *Impl) entryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Impl) statusJob(probeCtx, stopCtx context.Context, sem chan struct{}, svc config.Service, dim config.Dimension) cron.Job {
	dir := statuslog.StatusDir(s.opts.LoggingDir, svc, dim)
	width := svc.BucketWidth()
	return cron.FuncJob(func() {
		if err := acquire(stopCtx, sem); err != nil {
			return
		}
		defer release(sem)

		result := s.prober.Check(probeCtx, svc, dim)
		up := result.Up(dim)
		s.logger.LogProbeResult(svc.Name, string(dim), up, result.Latency, result.Err)
		s.state.Record(svc, dim, result)

		if err := s.recorder.Record(dir, dim, up, width); err != nil {
			s.logger.LogError("statuslog", err, map[string]interface{}{
				"service":   svc.Name,
				"dimension": string(dim),
			})
		}
	})
}

func (s *Impl) archiveJob(stopCtx context.Context, sem chan struct{}, svc config.Service) cron.Job {
	dir := archive.Dir(s.opts.ArchiveDir, svc)
	return cron.FuncJob(func() {
		if err := acquire(stopCtx, sem); err != nil {
			return
		}
		defer release(sem)

		result, err := s.archiver.Archive(svc.Key(), dir)
		if err != nil {
			s.logger.LogError("archive", err, map[string]interface{}{"service": svc.Name})
		}
		if result.Path != "" {
			s.logger.Info("logs archived", map[string]interface{}{
				"service":  svc.Name,
				"path":     result.Path,
				"archived": result.Archived,
				"skipped":  result.Skipped,
			})
		}
	})
}

// tickChain runs an overrunning tick late instead of dropping it. Recover
// sits inside the delay wrapper so a panicking tick releases its entry.
func tickChain(logger cron.Logger) cron.Chain {
	return cron.NewChain(cron.DelayIfStillRunning(logger), cron.Recover(logger))
}

func acquire(ctx context.Context, sem chan struct{}) error {
	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func release(sem chan struct{}) {
	select {
	case <-sem:
	default:
	}
}

func poolSize(services, minWorkers int) int {
	size := services
	if minWorkers > size {
		size = minWorkers
	}
	if size <= 0 {
		return 1
	}
	return size
}

func entryName(svc config.Service, kind string) string {
	return fmt.Sprintf("%d/%s", svc.ID, kind)
}
