package bucket

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/doridoridoriand/skymonitor/internal/config"
	"github.com/doridoridoriand/skymonitor/internal/log"
)

const mirrorSuffix = ".timestamp"

// Clock resolves the open log bucket of each (service, dimension) pair.
// The in-memory cache is the source of truth once loaded; every lookup
// rewrites the on-disk mirror so a restart resumes the same bucket.
type Clock struct {
	dir    string
	now    func() time.Time
	logger *log.Logger

	mu    sync.Mutex
	cache map[string]time.Time
}

// Option configures a Clock.
type Option func(*Clock)

// WithNow replaces the wall clock.
func WithNow(now func() time.Time) Option {
	return func(c *Clock) {
		c.now = now
	}
}

// WithLogger sets the logger used for mirror read failures.
func WithLogger(logger *log.Logger) Option {
	return func(c *Clock) {
		c.logger = logger
	}
}

// NewClock creates a clock mirroring bucket state into dir.
func NewClock(dir string, opts ...Option) *Clock {
	c := &Clock{
		dir:    dir,
		now:    time.Now,
		logger: log.Nop(),
		cache:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the cache and mirror key of a pair.
func Key(service string, dim config.Dimension) string {
	return service + "_" + string(dim)
}

// MirrorPath returns the mirror file of a pair.
func (c *Clock) MirrorPath(service string, dim config.Dimension) string {
	return filepath.Join(c.dir, Key(service, dim)+mirrorSuffix)
}

// Current returns the start of the open bucket, advancing it to now once
// width has elapsed. A mirror write failure is returned alongside the
// bucket, which stays valid for the caller.
func (c *Clock) Current(service string, dim config.Dimension, width time.Duration) (time.Time, error) {
	key := Key(service, dim)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := truncate(c.now())
	last, ok := c.cache[key]
	if !ok {
		last = c.load(service, dim, now)
	}
	if now.Sub(last) >= width {
		last = now
	}
	c.cache[key] = last

	if err := c.store(service, dim, last); err != nil {
		return last, fmt.Errorf("mirror bucket %s: %w", key, err)
	}
	return last, nil
}

// Peek returns the cached bucket of a pair without touching the mirror.
func (c *Clock) Peek(service string, dim config.Dimension) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.cache[Key(service, dim)]
	return t, ok
}

func (c *Clock) load(service string, dim config.Dimension, now time.Time) time.Time {
	path := c.MirrorPath(service, dim)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return now
	}
	if err != nil {
		c.logger.LogError("bucket", err, map[string]interface{}{"path": path})
		return now
	}
	millis, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		c.logger.LogError("bucket", fmt.Errorf("parse mirror: %w", err), map[string]interface{}{"path": path})
		return now
	}
	return time.UnixMilli(millis)
}

func (c *Clock) store(service string, dim config.Dimension, at time.Time) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	path := c.MirrorPath(service, dim)
	tmp, err := os.CreateTemp(c.dir, filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(strconv.FormatInt(at.UnixMilli(), 10)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// truncate drops sub-millisecond precision so cached and mirrored values agree.
func truncate(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli())
}
