package state

import (
	"time"

	"github.com/doridoridoriand/skymonitor/internal/config"
	"github.com/doridoridoriand/skymonitor/internal/probe"
)

// Status represents the last observed state of a dimension.
type Status string

const (
	StatusUnknown Status = "UNKNOWN"
	StatusUp      Status = "UP"
	StatusDown    Status = "DOWN"
)

// Observation captures the current state and counters of one (service, dimension) pair.
type Observation struct {
	ServiceID       int
	ServiceName     string
	Dimension       config.Dimension
	Status          Status
	LastLatency     time.Duration
	LastError       string
	LastCheckedAt   time.Time
	LastUpAt        time.Time
	LastDownAt      time.Time
	ConsecutiveUp   int
	ConsecutiveDown int
	TotalUp         int
	TotalDown       int
	Ticks           int
}

// Store defines operations for tracking observations.
type Store interface {
	Record(svc config.Service, dim config.Dimension, result probe.Result)
	Snapshot() []Observation
	Get(serviceID int, dim config.Dimension) (Observation, bool)
	Reset(services []config.Service)
}
