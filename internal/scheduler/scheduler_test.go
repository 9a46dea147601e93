package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/doridoridoriand/skymonitor/internal/archive"
	"github.com/doridoridoriand/skymonitor/internal/config"
	"github.com/doridoridoriand/skymonitor/internal/log"
	"github.com/doridoridoriand/skymonitor/internal/probe"
	"github.com/doridoridoriand/skymonitor/internal/state"
)

func monitored(id int, name string) config.Service {
	return config.Service{
		ID:                         id,
		Name:                       name,
		Host:                       "192.0.2.1",
		Port:                       443,
		MonitoringInterval:         1,
		MonitoringIntervalTimeUnit: "minutes",
		EnableFileLogging:          true,
	}
}

type countingProber struct {
	mu     sync.Mutex
	calls  map[config.Dimension]int
	result probe.Result
}

func newCountingProber(result probe.Result) *countingProber {
	return &countingProber{calls: make(map[config.Dimension]int), result: result}
}

func (p *countingProber) Check(ctx context.Context, svc config.Service, dim config.Dimension) probe.Result {
	p.mu.Lock()
	p.calls[dim]++
	p.mu.Unlock()
	return p.result
}

func (p *countingProber) count(dim config.Dimension) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[dim]
}

type record struct {
	dir string
	dim config.Dimension
	up  bool
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []record
	err     error
	panics  bool
}

func (r *fakeRecorder) Record(dir string, dim config.Dimension, up bool, width time.Duration) error {
	r.mu.Lock()
	r.records = append(r.records, record{dir: dir, dim: dim, up: up})
	r.mu.Unlock()
	if r.panics {
		panic("disk on fire")
	}
	return r.err
}

func (r *fakeRecorder) snapshot() []record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]record(nil), r.records...)
}

type fakeArchiver struct {
	calls atomic.Int32
	dirs  sync.Map
}

func (a *fakeArchiver) Archive(service, dir string) (archive.Result, error) {
	a.calls.Add(1)
	a.dirs.Store(dir, service)
	return archive.Result{}, nil
}

func newTestScheduler(prober probe.Prober, rec Recorder, arch Archiver, period time.Duration) *Impl {
	s := NewScheduler(Options{LoggingDir: "logging", ArchiveDir: "logs", MinWorkers: 1}, prober, rec, arch, state.NewStore(nil), nil)
	s.periodFor = func(config.Service) time.Duration { return period }
	return s
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestSchedulerFirstTickIsImmediate(t *testing.T) {
	prober := newCountingProber(probe.Result{Reachable: true, Healthy: true})
	rec := &fakeRecorder{}
	s := newTestScheduler(prober, rec, &fakeArchiver{}, time.Hour)

	if err := s.Start(context.Background(), []config.Service{monitored(1, "Payments API")}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	waitUntil(t, time.Second, func() bool {
		return prober.count(config.DimensionServer) == 1 && prober.count(config.DimensionApplication) == 1
	})

	dirs := map[string]bool{}
	for _, r := range rec.snapshot() {
		dirs[r.dir] = r.up
	}
	for _, want := range []string{
		filepath.Join("logging", "Payments_API", "server_status"),
		filepath.Join("logging", "Payments_API", "application_status"),
	} {
		if up, ok := dirs[want]; !ok || !up {
			t.Fatalf("expected UP record in %s, got %v", want, dirs)
		}
	}
}

func TestSchedulerTicksAtFixedRateAndStops(t *testing.T) {
	prober := newCountingProber(probe.Result{Reachable: true})
	s := newTestScheduler(prober, &fakeRecorder{}, &fakeArchiver{}, 40*time.Millisecond)

	if err := s.Start(context.Background(), []config.Service{monitored(1, "svc")}); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(300 * time.Millisecond)
	s.Stop()

	ticks := prober.count(config.DimensionServer)
	if ticks < 3 || ticks > 12 {
		t.Fatalf("expected roughly 8 ticks, got %d", ticks)
	}

	time.Sleep(150 * time.Millisecond)
	if after := prober.count(config.DimensionServer); after != ticks {
		t.Fatalf("expected no ticks after stop, got %d more", after-ticks)
	}
	if s.Running() {
		t.Fatalf("expected scheduler stopped")
	}
}

func TestSchedulerStartTwiceDoesNotDoubleArm(t *testing.T) {
	prober := newCountingProber(probe.Result{Reachable: true})
	s := newTestScheduler(prober, &fakeRecorder{}, &fakeArchiver{}, time.Hour)
	services := []config.Service{monitored(1, "a"), monitored(2, "b")}

	if err := s.Start(context.Background(), services); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()
	if err := s.Start(context.Background(), services); err == nil {
		t.Fatalf("expected second start to fail")
	}
	if s.entryCount() != 4 {
		t.Fatalf("expected 4 entries, got %d", s.entryCount())
	}

	waitUntil(t, time.Second, func() bool { return prober.count(config.DimensionServer) == 2 })
	time.Sleep(50 * time.Millisecond)
	if got := prober.count(config.DimensionServer); got != 2 {
		t.Fatalf("expected 2 server ticks, got %d", got)
	}
}

func TestSchedulerSkipsDisabledServices(t *testing.T) {
	s := newTestScheduler(newCountingProber(probe.Result{}), &fakeRecorder{}, &fakeArchiver{}, time.Hour)

	quiet := monitored(1, "quiet")
	quiet.EnableFileLogging = false
	monthly := monitored(2, "monthly")
	monthly.EnableFileLogging = false
	monthly.EnableLogsArchiving = true
	monthly.LogArchivingIntervals = "monthly"

	if err := s.Start(context.Background(), []config.Service{quiet, monthly}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()
	if s.entryCount() != 0 {
		t.Fatalf("expected no entries, got %d", s.entryCount())
	}
}

func TestSchedulerArchiveTicks(t *testing.T) {
	arch := &fakeArchiver{}
	s := newTestScheduler(newCountingProber(probe.Result{}), &fakeRecorder{}, arch, time.Hour)
	s.archiveFor = func(config.Service) time.Duration { return 30 * time.Millisecond }

	svc := monitored(1, "Payments API")
	svc.EnableLogsArchiving = true
	svc.LogArchivingIntervals = "seconds"

	if err := s.Start(context.Background(), []config.Service{svc}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()
	if s.entryCount() != 3 {
		t.Fatalf("expected 3 entries, got %d", s.entryCount())
	}

	waitUntil(t, time.Second, func() bool { return arch.calls.Load() >= 2 })
	if service, ok := arch.dirs.Load(filepath.Join("logs", "Payments_API")); !ok || service != "Payments_API" {
		t.Fatalf("expected archive of logs/Payments_API, got %v", service)
	}
}

func TestSchedulerRecoversFromPanickingTick(t *testing.T) {
	prober := newCountingProber(probe.Result{Reachable: true})
	rec := &fakeRecorder{panics: true}
	s := newTestScheduler(prober, rec, &fakeArchiver{}, 20*time.Millisecond)

	if err := s.Start(context.Background(), []config.Service{monitored(1, "svc")}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	waitUntil(t, 2*time.Second, func() bool { return prober.count(config.DimensionServer) >= 3 })
	waitUntil(t, 2*time.Second, func() bool { return len(rec.snapshot()) >= 6 })
}

func TestTickChainPanicDoesNotBlockLaterTicks(t *testing.T) {
	var runs atomic.Int32
	job := tickChain(cronLogger{logger: log.Nop()}).Then(cron.FuncJob(func() {
		runs.Add(1)
		panic("tick failed")
	}))

	for i := 0; i < 3; i++ {
		job.Run()
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("expected every tick to run after a panic, got %d", got)
	}
}

func TestTickChainRunsOverrunningTickLate(t *testing.T) {
	var runs atomic.Int32
	release := make(chan struct{})
	job := tickChain(cronLogger{logger: log.Nop()}).Then(cron.FuncJob(func() {
		if runs.Add(1) == 1 {
			<-release
		}
	}))

	go job.Run()
	waitUntil(t, time.Second, func() bool { return runs.Load() == 1 })

	done := make(chan struct{})
	go func() {
		job.Run()
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Fatalf("expected second tick to wait for the first, got %d runs", got)
	}

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("overrunning tick was not run")
	}
	if got := runs.Load(); got != 2 {
		t.Fatalf("expected the late tick to run, got %d runs", got)
	}
}

func TestSchedulerContinuesAfterRecorderError(t *testing.T) {
	prober := newCountingProber(probe.Result{Reachable: true})
	s := newTestScheduler(prober, &fakeRecorder{err: errors.New("disk full")}, &fakeArchiver{}, 20*time.Millisecond)

	if err := s.Start(context.Background(), []config.Service{monitored(1, "svc")}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	waitUntil(t, 2*time.Second, func() bool { return prober.count(config.DimensionApplication) >= 3 })
}

func TestSchedulerRecordsUnreachableApplicationAsDown(t *testing.T) {
	rec := &fakeRecorder{}
	s := newTestScheduler(newCountingProber(probe.Result{Healthy: true}), rec, &fakeArchiver{}, time.Hour)

	if err := s.Start(context.Background(), []config.Service{monitored(1, "svc")}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	waitUntil(t, time.Second, func() bool { return len(rec.snapshot()) == 2 })
	for _, r := range rec.snapshot() {
		if r.up {
			t.Fatalf("expected DOWN for %s when server is unreachable", r.dim)
		}
	}
}

func TestSchedulerUpdatesStore(t *testing.T) {
	store := state.NewStore(nil)
	prober := newCountingProber(probe.Result{Reachable: true, Healthy: true})
	s := NewScheduler(Options{LoggingDir: "logging"}, prober, &fakeRecorder{}, &fakeArchiver{}, store, nil)
	s.periodFor = func(config.Service) time.Duration { return time.Hour }

	if err := s.Start(context.Background(), []config.Service{monitored(7, "svc")}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	waitUntil(t, time.Second, func() bool { return state.TotalTicks(store.Snapshot()) == 2 })
	obs, ok := store.Get(7, config.DimensionApplication)
	if !ok || obs.Status != state.StatusUp {
		t.Fatalf("expected UP application observation, got %+v", obs)
	}
}

func TestStopWithoutStartIsNoop(t *testing.T) {
	s := newTestScheduler(newCountingProber(probe.Result{}), &fakeRecorder{}, &fakeArchiver{}, time.Hour)
	s.Stop()
	if s.Running() {
		t.Fatalf("expected scheduler not running")
	}
}

func TestFixedRateSchedule(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	immediate := newFixedRate(time.Minute, true)
	if got := immediate.Next(start); !got.Equal(start) {
		t.Fatalf("expected immediate first fire, got %v", got)
	}
	if got := immediate.Next(start); !got.Equal(start.Add(time.Minute)) {
		t.Fatalf("expected second fire after period, got %v", got)
	}

	delayed := newFixedRate(250*time.Millisecond, false)
	if got := delayed.Next(start); !got.Equal(start.Add(250 * time.Millisecond)) {
		t.Fatalf("expected sub-second precision, got %v", got)
	}

	if got := newFixedRate(0, false).Next(start); !got.After(start) {
		t.Fatalf("expected zero period to be clamped, got %v", got)
	}
}

func TestPoolSize(t *testing.T) {
	cases := []struct{ services, min, want int }{
		{0, 0, 1},
		{3, 1, 3},
		{2, 8, 8},
		{5, -1, 5},
	}
	for _, tc := range cases {
		if got := poolSize(tc.services, tc.min); got != tc.want {
			t.Fatalf("poolSize(%d, %d) = %d, want %d", tc.services, tc.min, got, tc.want)
		}
	}
}
