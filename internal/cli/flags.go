package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/doridoridoriand/skymonitor/internal/config"
)

// optional holds a parsed flag value and whether the flag was given.
type optional[T any] struct {
	value T
	set   bool
}

func (o *optional[T]) store(v T) {
	o.value = v
	o.set = true
}

// Value returns the parsed value and whether the flag was set.
func (o *optional[T]) Value() (T, bool) {
	return o.value, o.set
}

func (o *optional[T]) render(format func(T) string) string {
	if !o.set {
		return ""
	}
	return format(o.value)
}

// OptionalDuration is a duration flag that only overrides when given.
type OptionalDuration struct{ optional[time.Duration] }

func (o *OptionalDuration) Set(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	o.store(v)
	return nil
}

func (o *OptionalDuration) String() string { return o.render(time.Duration.String) }
func (o *OptionalDuration) Type() string   { return "duration" }

// OptionalInt is an int flag that only overrides when given.
type OptionalInt struct{ optional[int] }

func (o *OptionalInt) Set(s string) error {
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	o.store(v)
	return nil
}

func (o *OptionalInt) String() string { return o.render(strconv.Itoa) }
func (o *OptionalInt) Type() string   { return "int" }

// OptionalString is a string flag that only overrides when given.
type OptionalString struct{ optional[string] }

func (o *OptionalString) Set(s string) error {
	o.store(s)
	return nil
}

func (o *OptionalString) String() string { return o.render(func(s string) string { return s }) }
func (o *OptionalString) Type() string   { return "string" }

// OptionalBool is a bool flag that only overrides when given. Register it
// with NoOptDefVal "true" so a bare flag enables it.
type OptionalBool struct{ optional[bool] }

func (o *OptionalBool) Set(s string) error {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	o.store(v)
	return nil
}

func (o *OptionalBool) String() string   { return o.render(strconv.FormatBool) }
func (o *OptionalBool) Type() string     { return "bool" }
func (o *OptionalBool) IsBoolFlag() bool { return true }

// OptionalLogFormat is a log format flag restricted to json and console.
type OptionalLogFormat struct{ optional[config.LogFormat] }

func (o *OptionalLogFormat) Set(s string) error {
	switch config.LogFormat(s) {
	case config.LogFormatJSON, config.LogFormatConsole:
		o.store(config.LogFormat(s))
		return nil
	default:
		return fmt.Errorf("invalid log format: %q (valid values: json, console)", s)
	}
}

func (o *OptionalLogFormat) String() string {
	return o.render(func(f config.LogFormat) string { return string(f) })
}
func (o *OptionalLogFormat) Type() string { return "format" }
