package config

import (
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// Format names a supported service source encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXML  Format = "xml"
	FormatYAML Format = "yaml"
	FormatINI  Format = "ini"
)

// csvColumns is the fixed column order of the CSV source.
const csvColumns = 14

// ErrUnsupportedFormat is returned for files whose extension maps to no decoder.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// FormatFromPath selects the decoder by file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	case ".xml":
		return FormatXML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".ini":
		return FormatINI, nil
	default:
		return "", errors.Wrapf(ErrUnsupportedFormat, "%q", path)
	}
}

// ServiceParser implements the Parser interface.
type ServiceParser struct{}

var _ Parser = ServiceParser{}

// DefaultOptions returns baseline settings used before CLI overrides.
func DefaultOptions() Options {
	return Options{
		ServicesFile:       "services.json",
		LoggingDir:         "logging",
		TimestampDir:       "last_logging_time",
		ArchiveDir:         "logs",
		ServerTimeout:      2 * time.Second,
		ApplicationTimeout: 15 * time.Second,
		MinWorkers:         1,
		LogLevel:           "info",
		LogFormat:          LogFormatConsole,
		Autostart:          false,
	}
}

// ApplyOverrides returns opts with every set override applied.
func ApplyOverrides(opts Options, overrides CLIOverrides) Options {
	if overrides.ServicesFile != nil {
		opts.ServicesFile = *overrides.ServicesFile
	}
	if overrides.LoggingDir != nil {
		opts.LoggingDir = *overrides.LoggingDir
	}
	if overrides.TimestampDir != nil {
		opts.TimestampDir = *overrides.TimestampDir
	}
	if overrides.ArchiveDir != nil {
		opts.ArchiveDir = *overrides.ArchiveDir
	}
	if overrides.ServerTimeout != nil && *overrides.ServerTimeout > 0 {
		opts.ServerTimeout = *overrides.ServerTimeout
	}
	if overrides.ApplicationTimeout != nil && *overrides.ApplicationTimeout > 0 {
		opts.ApplicationTimeout = *overrides.ApplicationTimeout
	}
	if overrides.MinWorkers != nil {
		opts.MinWorkers = *overrides.MinWorkers
	}
	if overrides.LogLevel != nil {
		opts.LogLevel = *overrides.LogLevel
	}
	if overrides.LogFormat != nil {
		opts.LogFormat = *overrides.LogFormat
	}
	if overrides.Autostart != nil {
		opts.Autostart = *overrides.Autostart
	}
	return opts
}

// LoadServices reads and decodes the service source at path.
func (p ServiceParser) LoadServices(path string) ([]Service, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read service source")
	}
	return p.ParseServices(data, format)
}

// ParseServices decodes, normalizes and validates services from data.
func (p ServiceParser) ParseServices(data []byte, format Format) ([]Service, error) {
	var (
		services []Service
		err      error
	)
	switch format {
	case FormatCSV:
		services, err = decodeCSV(data)
	case FormatJSON:
		services, err = decodeJSON(data)
	case FormatXML:
		services, err = decodeXML(data)
	case FormatYAML:
		services, err = decodeYAML(data)
	case FormatINI:
		services, err = decodeINI(data)
	default:
		return nil, errors.Wrapf(ErrUnsupportedFormat, "%q", format)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s services", format)
	}

	for i := range services {
		services[i] = normalize(services[i])
	}
	if err := validateServices(services); err != nil {
		return nil, err
	}
	return services, nil
}

func decodeCSV(data []byte) ([]Service, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	// First row is the header.
	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}

	var services []Service
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		svc, err := serviceFromRecord(record)
		if err != nil {
			line, _ := reader.FieldPos(0)
			return nil, errors.Wrapf(err, "line %d", line)
		}
		services = append(services, svc)
	}
	return services, nil
}

func serviceFromRecord(record []string) (Service, error) {
	if len(record) < csvColumns {
		return Service{}, errors.Errorf("expected %d columns, got %d", csvColumns, len(record))
	}
	for i := range record {
		record[i] = strings.TrimSpace(record[i])
	}
	id, err := strconv.Atoi(record[0])
	if err != nil {
		return Service{}, errors.Wrap(err, "invalid id")
	}
	port, err := strconv.Atoi(record[3])
	if err != nil {
		return Service{}, errors.Wrap(err, "invalid servicePort")
	}
	interval, err := strconv.Atoi(record[8])
	if err != nil {
		return Service{}, errors.Wrap(err, "invalid monitoringInterval")
	}
	return Service{
		ID:                         id,
		Name:                       record[1],
		Host:                       record[2],
		Port:                       port,
		ResourceURI:                record[4],
		Method:                     record[5],
		ExpectedTelnetResponse:     record[6],
		ExpectedRequestResponse:    record[7],
		MonitoringInterval:         interval,
		MonitoringIntervalTimeUnit: record[9],
		EnableFileLogging:          ParseFlag(record[10]),
		FileLoggingInterval:        record[11],
		EnableLogsArchiving:        ParseFlag(record[12]),
		LogArchivingIntervals:      record[13],
	}, nil
}

type serviceList struct {
	XMLName  xml.Name  `json:"-" yaml:"-" xml:"services"`
	Services []Service `json:"services" yaml:"services" xml:"service"`
}

func decodeJSON(data []byte) ([]Service, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '{' {
		var list serviceList
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, err
		}
		return list.Services, nil
	}
	var services []Service
	if err := json.Unmarshal(trimmed, &services); err != nil {
		return nil, err
	}
	return services, nil
}

func decodeXML(data []byte) ([]Service, error) {
	var list serviceList
	if err := xml.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	return list.Services, nil
}

func decodeYAML(data []byte) ([]Service, error) {
	var list serviceList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	return list.Services, nil
}

func decodeINI(data []byte) ([]Service, error) {
	file, err := ini.Load(data)
	if err != nil {
		return nil, err
	}

	var services []Service
	for _, section := range file.Sections() {
		if section.Name() == ini.DefaultSection && len(section.Keys()) == 0 {
			continue
		}
		id, err := section.Key("id").Int()
		if err != nil {
			return nil, errors.Wrapf(err, "section %q: invalid id", section.Name())
		}
		port, err := section.Key("servicePort").Int()
		if err != nil {
			return nil, errors.Wrapf(err, "section %q: invalid servicePort", section.Name())
		}
		services = append(services, Service{
			ID:                         id,
			Name:                       section.Key("serviceName").String(),
			Host:                       section.Key("serviceHost").String(),
			Port:                       port,
			ResourceURI:                section.Key("serviceResourceURI").String(),
			Method:                     section.Key("serviceMethod").String(),
			ExpectedTelnetResponse:     section.Key("expectedTelnetResponse").String(),
			ExpectedRequestResponse:    section.Key("expectedRequestResponse").String(),
			MonitoringInterval:         section.Key("monitoringInterval").MustInt(0),
			MonitoringIntervalTimeUnit: section.Key("monitoringIntervalTimeUnit").String(),
			EnableFileLogging:          ParseFlag(section.Key("enableFileLogging").String()),
			FileLoggingInterval:        section.Key("fileLoggingInterval").String(),
			EnableLogsArchiving:        ParseFlag(section.Key("enableLogsArchiving").String()),
			LogArchivingIntervals:      section.Key("logArchivingIntervals").String(),
		})
	}
	return services, nil
}

func normalize(svc Service) Service {
	svc.Name = strings.TrimSpace(svc.Name)
	svc.Host = strings.TrimSpace(svc.Host)
	svc.ResourceURI = strings.TrimSpace(svc.ResourceURI)
	if svc.ResourceURI != "" && !strings.HasPrefix(svc.ResourceURI, "/") {
		svc.ResourceURI = "/" + svc.ResourceURI
	}
	svc.Method = strings.ToUpper(strings.TrimSpace(svc.Method))
	if svc.Method == "" {
		svc.Method = "GET"
	}
	svc.MonitoringIntervalTimeUnit = strings.TrimSpace(svc.MonitoringIntervalTimeUnit)
	svc.FileLoggingInterval = strings.TrimSpace(svc.FileLoggingInterval)
	svc.LogArchivingIntervals = strings.TrimSpace(svc.LogArchivingIntervals)
	return svc
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func validateServices(services []Service) error {
	seen := make(map[int]string, len(services))
	for _, svc := range services {
		if err := validate.Struct(svc); err != nil {
			return errors.Wrapf(err, "service %d (%s)", svc.ID, svc.Name)
		}
		if other, ok := seen[svc.ID]; ok {
			return errors.Errorf("duplicate service id %d (%s, %s)", svc.ID, other, svc.Name)
		}
		seen[svc.ID] = svc.Name
	}
	return nil
}
