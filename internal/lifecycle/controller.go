package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/doridoridoriand/skymonitor/internal/archive"
	"github.com/doridoridoriand/skymonitor/internal/config"
	"github.com/doridoridoriand/skymonitor/internal/log"
	"github.com/doridoridoriand/skymonitor/internal/probe"
	"github.com/doridoridoriand/skymonitor/internal/scheduler"
	"github.com/doridoridoriand/skymonitor/internal/state"
	"github.com/doridoridoriand/skymonitor/internal/statuslog"
)

const (
	StateInactive = "inactive"
	StateActive   = "active"

	EventStart = "start"
	EventStop  = "stop"
)

// Operator messages.
const (
	MsgActive        = "Sky-monitor application is active."
	MsgAlreadyActive = "Monitoring is already active."
	MsgStopped       = "Monitoring stopped."
	MsgNotStarted    = "The sky-monitor application must be started first."
	MsgListing       = "Listing all services:"
)

// dateLayout renders wall clock times in status replies.
const dateLayout = "Mon Jan 02 15:04:05 MST 2006"

var (
	ErrNotActive       = errors.New("monitoring is not active")
	ErrAlreadyActive   = errors.New("monitoring is already active")
	ErrServiceNotFound = errors.New("service not found")
)

// Options holds the directory roots prepared on start.
type Options struct {
	LoggingDir string
	ArchiveDir string
}

// Controller starts and stops monitoring as a unit and answers on-demand queries.
type Controller struct {
	mu        sync.Mutex
	outMu     sync.Mutex
	machine   *fsm.FSM
	opts      Options
	scheduler scheduler.Scheduler
	prober    probe.Prober
	store     state.Store
	logger    *log.Logger
	out       io.Writer
	now       func() time.Time
	services  []config.Service
}

// NewController creates an inactive controller writing replies to out.
func NewController(opts Options, sched scheduler.Scheduler, prober probe.Prober, store state.Store, out io.Writer, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.Nop()
	}
	if store == nil {
		store = state.NewStore(nil)
	}
	c := &Controller{
		opts:      opts,
		scheduler: sched,
		prober:    prober,
		store:     store,
		logger:    logger,
		out:       out,
		now:       time.Now,
	}
	c.machine = fsm.NewFSM(
		StateInactive,
		fsm.Events{
			{Name: EventStart, Src: []string{StateInactive}, Dst: StateActive},
			{Name: EventStop, Src: []string{StateActive}, Dst: StateInactive},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				c.logger.Info("lifecycle transition", map[string]interface{}{
					"event": e.Event,
					"from":  e.Src,
					"to":    e.Dst,
				})
			},
		},
	)
	return c
}

// Active reports whether monitoring is running.
func (c *Controller) Active() bool {
	return c.machine.Is(StateActive)
}

// Start prepares directories and arms every schedule. ctx bounds the
// lifetime of the schedules, not just this call.
func (c *Controller) Start(ctx context.Context, services []config.Service) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.machine.Can(EventStart) {
		c.println(MsgAlreadyActive)
		return ErrAlreadyActive
	}
	if err := c.prepare(services); err != nil {
		return err
	}

	c.store.Reset(services)
	if err := c.scheduler.Start(ctx, services); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	if err := c.machine.Event(ctx, EventStart); err != nil {
		c.scheduler.Stop()
		return fmt.Errorf("enter %s: %w", StateActive, err)
	}

	c.services = append([]config.Service(nil), services...)
	c.println(MsgActive)
	return nil
}

// Stop cancels every schedule without waiting for in-flight ticks.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.machine.Can(EventStop) {
		c.println(MsgNotStarted)
		return ErrNotActive
	}

	if c.scheduler.Running() {
		c.scheduler.Stop()
	}
	if err := c.machine.Event(ctx, EventStop); err != nil {
		return fmt.Errorf("enter %s: %w", StateInactive, err)
	}

	observations := c.store.Snapshot()
	up, down := 0, 0
	for _, obs := range observations {
		up += obs.TotalUp
		down += obs.TotalDown
	}
	c.logger.Info("monitoring stopped", map[string]interface{}{
		"ticks": state.TotalTicks(observations),
		"up":    up,
		"down":  down,
	})
	c.println(MsgStopped)
	return nil
}

// Status runs one on-demand probe of dim for the service with id.
func (c *Controller) Status(ctx context.Context, id int, dim config.Dimension) error {
	services, err := c.activeServices()
	if err != nil {
		return err
	}
	svc, ok := find(services, id)
	if !ok {
		c.println(fmt.Sprintf("Service with ID %d not found.", id))
		return fmt.Errorf("%w: %d", ErrServiceNotFound, id)
	}

	result := c.prober.Check(ctx, svc, dim)
	up := result.Up(dim)
	c.logger.LogProbeResult(svc.Name, string(dim), up, result.Latency, result.Err)

	at := c.now().Format(dateLayout)
	switch dim {
	case config.DimensionServer:
		lines := []string{fmt.Sprintf("%s - Server hosting %s is %s", at, svc.Name, statuslog.StateLabel(up))}
		if !up {
			lines = append(lines, "Error monitoring "+svc.Name)
		}
		c.println(lines...)
	default:
		c.println(fmt.Sprintf("%s %s - Service is %s", at, svc.Name, statuslog.StateLabel(up)))
	}
	return nil
}

// List probes both dimensions of every service and prints one line each.
// The application is not probed when the server is unreachable.
func (c *Controller) List(ctx context.Context) error {
	services, err := c.activeServices()
	if err != nil {
		return err
	}

	lines := []string{MsgListing}
	for _, svc := range services {
		serverUp := c.prober.Check(ctx, svc, config.DimensionServer).Up(config.DimensionServer)
		appUp := false
		if serverUp {
			appUp = c.prober.Check(ctx, svc, config.DimensionApplication).Up(config.DimensionApplication)
		}
		at := c.now().Format(dateLayout)
		lines = append(lines, fmt.Sprintf("ID: %d, Name: %s, Server Status: %s (as of %s), Application Status: %s (as of %s)",
			svc.ID, svc.Name, statuslog.StateLabel(serverUp), at, statuslog.StateLabel(appUp), at))
	}
	c.println(lines...)
	return nil
}

// activeServices applies the guard. Probes run outside the lock so a slow
// service does not hold up stop.
func (c *Controller) activeServices() ([]config.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.machine.Is(StateActive) {
		c.println(MsgNotStarted)
		return nil, ErrNotActive
	}
	return append([]config.Service(nil), c.services...), nil
}

func (c *Controller) prepare(services []config.Service) error {
	for _, svc := range services {
		if svc.EnableFileLogging {
			if err := statuslog.PrepareDirs(c.opts.LoggingDir, svc); err != nil {
				return err
			}
		}
		if svc.EnableLogsArchiving {
			if err := archive.PrepareDir(c.opts.ArchiveDir, svc); err != nil {
				return err
			}
		}
	}
	return nil
}

func find(services []config.Service, id int) (config.Service, bool) {
	for _, svc := range services {
		if svc.ID == id {
			return svc, true
		}
	}
	return config.Service{}, false
}

// println writes lines under the output lock.
func (c *Controller) println(lines ...string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	for _, line := range lines {
		fmt.Fprintln(c.out, line)
	}
}
