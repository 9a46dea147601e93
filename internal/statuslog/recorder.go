package statuslog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/doridoridoriand/skymonitor/internal/config"
)

const (
	bucketLayout = "20060102_1504"
	lineLayout   = "20060102_150405"
)

// BucketClock resolves the open bucket of a (service, dimension) pair.
type BucketClock interface {
	Current(service string, dim config.Dimension, width time.Duration) (time.Time, error)
}

// Recorder appends status observations to bucketed log files.
type Recorder struct {
	clock BucketClock
	now   func() time.Time
}

// NewRecorder creates a recorder. A nil now uses the wall clock.
func NewRecorder(clock BucketClock, now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{clock: clock, now: now}
}

// Record appends one line for dim to the bucket file under dir. The owning
// service is the parent segment of dir. A bucket mirror failure does not
// stop the line from being written; both failures are returned.
func (r *Recorder) Record(dir string, dim config.Dimension, up bool, width time.Duration) error {
	service := filepath.Base(filepath.Dir(filepath.Clean(dir)))
	bucketStart, clockErr := r.clock.Current(service, dim, width)

	path := filepath.Join(dir, FileName(bucketStart, dim))
	line := Line(r.now(), dim, up)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Join(clockErr, fmt.Errorf("open %s: %w", path, err))
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return errors.Join(clockErr, fmt.Errorf("append %s: %w", path, err))
	}
	if err := f.Close(); err != nil {
		return errors.Join(clockErr, fmt.Errorf("close %s: %w", path, err))
	}
	return clockErr
}

// FileName returns the log file name of a bucket.
func FileName(bucketStart time.Time, dim config.Dimension) string {
	return bucketStart.Format(bucketLayout) + "_" + string(dim) + ".log"
}

// Line formats one observation.
func Line(at time.Time, dim config.Dimension, up bool) string {
	return fmt.Sprintf("%s - %s is %s\n", at.Format(lineLayout), dim.Upper(), StateLabel(up))
}

// StateLabel renders a boolean observation.
func StateLabel(up bool) string {
	if up {
		return "UP"
	}
	return "DOWN"
}

// ServiceDir returns the log directory of svc under root.
func ServiceDir(root string, svc config.Service) string {
	return filepath.Join(root, svc.Key())
}

// StatusDir returns the directory that holds dim logs of svc.
func StatusDir(root string, svc config.Service, dim config.Dimension) string {
	return filepath.Join(ServiceDir(root, svc), dim.StatusDir())
}

// PrepareDirs creates the per-dimension log directories of svc.
func PrepareDirs(root string, svc config.Service) error {
	for _, dim := range config.Dimensions {
		if err := os.MkdirAll(StatusDir(root, svc, dim), 0o755); err != nil {
			return fmt.Errorf("create %s log directory for %s: %w", dim, svc.Name, err)
		}
	}
	return nil
}
