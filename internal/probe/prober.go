package probe

import (
	"context"
	"time"

	"github.com/doridoridoriand/skymonitor/internal/config"
)

// Result captures a single probe outcome.
type Result struct {
	Reachable bool
	Healthy   bool
	Latency   time.Duration
	Err       error
}

// Up reports the outcome for dim. Application health implies reachability.
func (r Result) Up(dim config.Dimension) bool {
	if dim == config.DimensionServer {
		return r.Reachable
	}
	return r.Reachable && r.Healthy
}

// Prober checks one dimension of a service.
type Prober interface {
	Check(ctx context.Context, svc config.Service, dim config.Dimension) Result
}

// Func adapts a function to the Prober interface.
type Func func(ctx context.Context, svc config.Service, dim config.Dimension) Result

func (f Func) Check(ctx context.Context, svc config.Service, dim config.Dimension) Result {
	return f(ctx, svc, dim)
}
