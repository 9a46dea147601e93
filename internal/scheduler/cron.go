package scheduler

import (
	"fmt"
	"time"

	"github.com/doridoridoriand/skymonitor/internal/log"
)

// fixedRate fires every period, optionally once right away. Unlike
// cron.Every it keeps sub-second precision.
type fixedRate struct {
	period    time.Duration
	immediate bool
}

func newFixedRate(period time.Duration, immediate bool) *fixedRate {
	if period <= 0 {
		period = time.Second
	}
	return &fixedRate{period: period, immediate: immediate}
}

// Next is only called from the cron run goroutine.
func (f *fixedRate) Next(t time.Time) time.Time {
	if f.immediate {
		f.immediate = false
		return t
	}
	return t.Add(f.period)
}

// cronLogger routes cron diagnostics into the structured logger.
type cronLogger struct {
	logger *log.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Debug("cron "+msg, fields(keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	f := fields(keysAndValues)
	f["error"] = err.Error()
	c.logger.Error("cron "+msg, f)
}

func fields(keysAndValues []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(keysAndValues)/2+1)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return out
}
