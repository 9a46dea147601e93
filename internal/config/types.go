package config

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Dimension identifies which health aspect an observation belongs to.
type Dimension string

const (
	DimensionServer      Dimension = "server"
	DimensionApplication Dimension = "application"
)

// Dimensions lists every dimension in scheduling order.
var Dimensions = []Dimension{DimensionApplication, DimensionServer}

// StatusDir returns the per-dimension directory name under a service log directory.
func (d Dimension) StatusDir() string {
	return string(d) + "_status"
}

// Upper returns the dimension name as it appears in status lines.
func (d Dimension) Upper() string {
	return strings.ToUpper(string(d))
}

const (
	defaultMonitoringPeriod = 10 * time.Minute
	defaultBucketWidth      = 10 * time.Minute
)

var whitespace = regexp.MustCompile(`\s+`)

// Service is a monitored target as read from the service source.
type Service struct {
	ID                         int    `json:"id" yaml:"id" xml:"id" validate:"gt=0"`
	Name                       string `json:"serviceName" yaml:"serviceName" xml:"serviceName" validate:"required"`
	Host                       string `json:"serviceHost" yaml:"serviceHost" xml:"serviceHost" validate:"required"`
	Port                       int    `json:"servicePort" yaml:"servicePort" xml:"servicePort" validate:"gte=1,lte=65535"`
	ResourceURI                string `json:"serviceResourceURI" yaml:"serviceResourceURI" xml:"serviceResourceURI"`
	Method                     string `json:"serviceMethod" yaml:"serviceMethod" xml:"serviceMethod"`
	ExpectedTelnetResponse     string `json:"expectedTelnetResponse" yaml:"expectedTelnetResponse" xml:"expectedTelnetResponse"`
	ExpectedRequestResponse    string `json:"expectedRequestResponse" yaml:"expectedRequestResponse" xml:"expectedRequestResponse"`
	MonitoringInterval         int    `json:"monitoringInterval" yaml:"monitoringInterval" xml:"monitoringInterval"`
	MonitoringIntervalTimeUnit string `json:"monitoringIntervalTimeUnit" yaml:"monitoringIntervalTimeUnit" xml:"monitoringIntervalTimeUnit"`
	EnableFileLogging          Flag   `json:"enableFileLogging" yaml:"enableFileLogging" xml:"enableFileLogging"`
	FileLoggingInterval        string `json:"fileLoggingInterval" yaml:"fileLoggingInterval" xml:"fileLoggingInterval"`
	EnableLogsArchiving        Flag   `json:"enableLogsArchiving" yaml:"enableLogsArchiving" xml:"enableLogsArchiving"`
	LogArchivingIntervals      string `json:"logArchivingIntervals" yaml:"logArchivingIntervals" xml:"logArchivingIntervals"`
}

// Key returns the filesystem-safe service name.
func (s Service) Key() string {
	return whitespace.ReplaceAllString(strings.TrimSpace(s.Name), "_")
}

// MonitoringPeriod resolves the fixed-rate period of the status ticks.
func (s Service) MonitoringPeriod() time.Duration {
	return MonitoringPeriod(s.MonitoringInterval, s.MonitoringIntervalTimeUnit)
}

// BucketWidth resolves the width of one log file bucket.
func (s Service) BucketWidth() time.Duration {
	return BucketWidth(s.FileLoggingInterval)
}

// ArchiveInterval resolves the archive period. Zero means archiving never fires.
func (s Service) ArchiveInterval() time.Duration {
	return ArchiveInterval(s.LogArchivingIntervals)
}

// MonitoringPeriod converts an interval and its unit to a duration.
func MonitoringPeriod(interval int, unit string) time.Duration {
	if interval <= 0 {
		return defaultMonitoringPeriod
	}
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "minutes":
		return time.Duration(interval) * time.Minute
	case "seconds":
		return time.Duration(interval) * time.Second
	default:
		return defaultMonitoringPeriod
	}
}

// BucketWidth maps a file logging interval policy to a bucket width.
// Unknown values keep the 10 minute width of existing log layouts.
func BucketWidth(policy string) time.Duration {
	switch strings.ToLower(strings.TrimSpace(policy)) {
	case "hourly":
		return time.Hour
	case "daily":
		return 24 * time.Hour
	default:
		return defaultBucketWidth
	}
}

// ArchiveInterval maps an archive interval policy to a period.
func ArchiveInterval(policy string) time.Duration {
	switch strings.ToLower(strings.TrimSpace(policy)) {
	case "weekly":
		return 7 * 24 * time.Hour
	case "seconds":
		return time.Second
	default:
		return 0
	}
}

// Flag is a yes/no switch from the service source.
type Flag bool

// ParseFlag accepts yes, y, true and 1 in any case.
func ParseFlag(value string) Flag {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "yes", "y", "true", "1":
		return true
	default:
		return false
	}
}

// UnmarshalText lets every decoder share the same flag rules.
func (f *Flag) UnmarshalText(text []byte) error {
	*f = ParseFlag(string(text))
	return nil
}

// UnmarshalJSON accepts both JSON booleans and strings.
func (f *Flag) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = unquoted
	}
	*f = ParseFlag(raw)
	return nil
}

// UnmarshalYAML keeps YAML 1.1 style yes/no values working.
func (f *Flag) UnmarshalYAML(value *yaml.Node) error {
	*f = ParseFlag(value.Value)
	return nil
}

// LogFormat selects the diagnostic log encoding.
type LogFormat string

const (
	LogFormatJSON    LogFormat = "json"
	LogFormatConsole LogFormat = "console"
)

// Options holds process settings parsed from flags.
type Options struct {
	ServicesFile       string
	LoggingDir         string
	TimestampDir       string
	ArchiveDir         string
	ServerTimeout      time.Duration
	ApplicationTimeout time.Duration
	MinWorkers         int
	LogLevel           string
	LogFormat          LogFormat
	Autostart          bool
}

// CLIOverrides holds optional CLI values that override the defaults.
type CLIOverrides struct {
	ServicesFile       *string
	LoggingDir         *string
	TimestampDir       *string
	ArchiveDir         *string
	ServerTimeout      *time.Duration
	ApplicationTimeout *time.Duration
	MinWorkers         *int
	LogLevel           *string
	LogFormat          *LogFormat
	Autostart          *bool
}

// Parser defines service source loading behavior.
type Parser interface {
	LoadServices(path string) ([]Service, error)
	ParseServices(data []byte, format Format) ([]Service, error)
}
