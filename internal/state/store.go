package state

import (
	"sort"
	"sync"
	"time"

	"github.com/doridoridoriand/skymonitor/internal/config"
	"github.com/doridoridoriand/skymonitor/internal/probe"
)

type key struct {
	id  int
	dim config.Dimension
}

// StoreImpl is a thread-safe in-memory observation store.
type StoreImpl struct {
	mu           sync.RWMutex
	observations map[key]*Observation
	now          func() time.Time
}

// NewStore creates a store initialized with the provided services.
func NewStore(services []config.Service) *StoreImpl {
	store := &StoreImpl{
		observations: make(map[key]*Observation),
		now:          time.Now,
	}
	store.Reset(services)
	return store
}

// Record folds one probe result into the pair's counters.
func (s *StoreImpl) Record(svc config.Service, dim config.Dimension, result probe.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{id: svc.ID, dim: dim}
	obs, ok := s.observations[k]
	if !ok {
		obs = &Observation{ServiceID: svc.ID, ServiceName: svc.Name, Dimension: dim, Status: StatusUnknown}
		s.observations[k] = obs
	}

	now := s.now()
	obs.Ticks++
	obs.LastCheckedAt = now
	obs.LastLatency = result.Latency
	obs.LastError = ""
	if result.Err != nil {
		obs.LastError = result.Err.Error()
	}

	if result.Up(dim) {
		obs.Status = StatusUp
		obs.LastUpAt = now
		obs.ConsecutiveUp++
		obs.ConsecutiveDown = 0
		obs.TotalUp++
		return
	}

	obs.Status = StatusDown
	obs.LastDownAt = now
	obs.ConsecutiveDown++
	obs.ConsecutiveUp = 0
	obs.TotalDown++
}

// Snapshot returns copies of all observations ordered by service id then dimension.
func (s *StoreImpl) Snapshot() []Observation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Observation, 0, len(s.observations))
	for _, obs := range s.observations {
		result = append(result, *obs)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ServiceID != result[j].ServiceID {
			return result[i].ServiceID < result[j].ServiceID
		}
		return result[i].Dimension < result[j].Dimension
	})
	return result
}

// Get returns a copy of a single observation.
func (s *StoreImpl) Get(serviceID int, dim config.Dimension) (Observation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obs, ok := s.observations[key{id: serviceID, dim: dim}]
	if !ok {
		return Observation{}, false
	}
	return *obs, true
}

// Reset replaces the tracked services and clears every counter.
func (s *StoreImpl) Reset(services []config.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := make(map[key]*Observation, len(services)*len(config.Dimensions))
	for _, svc := range services {
		for _, dim := range config.Dimensions {
			updated[key{id: svc.ID, dim: dim}] = &Observation{
				ServiceID:   svc.ID,
				ServiceName: svc.Name,
				Dimension:   dim,
				Status:      StatusUnknown,
			}
		}
	}
	s.observations = updated
}

// TotalTicks sums the tick counts of every observation.
func TotalTicks(observations []Observation) int {
	total := 0
	for _, obs := range observations {
		total += obs.Ticks
	}
	return total
}
