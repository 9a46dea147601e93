package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/doridoridoriand/skymonitor/internal/config"
	"github.com/doridoridoriand/skymonitor/internal/lifecycle"
	"github.com/doridoridoriand/skymonitor/internal/log"
)

const (
	Prompt = "Enter command ('exit' to quit):"

	msgInvalid            = "Invalid command."
	msgInvalidSkyMonitor  = "Invalid sky-monitor command."
	msgInvalidService     = "Invalid service command."
	msgInvalidApplication = "Invalid command for application/server."
)

// errHandled marks a command whose reply has already been written.
var errHandled = errors.New("handled")

// ErrDetached is returned by Run when input ended while monitoring is left running.
var ErrDetached = errors.New("console detached")

// Controller is the lifecycle surface driven by the command loop.
type Controller interface {
	Start(ctx context.Context, services []config.Service) error
	Stop(ctx context.Context) error
	Status(ctx context.Context, id int, dim config.Dimension) error
	List(ctx context.Context) error
	Active() bool
}

// Console reads sky-monitor commands line by line.
type Console struct {
	ctrl     Controller
	services []config.Service
	out      io.Writer
	logger   *log.Logger

	detachOnEOF bool
}

// Option configures a Console.
type Option func(*Console)

// WithDetachOnEOF keeps active monitoring running when input ends.
func WithDetachOnEOF() Option {
	return func(c *Console) {
		c.detachOnEOF = true
	}
}

// New creates a console dispatching to ctrl.
func New(ctrl Controller, services []config.Service, out io.Writer, logger *log.Logger, opts ...Option) *Console {
	if logger == nil {
		logger = log.Nop()
	}
	c := &Console{ctrl: ctrl, services: services, out: out, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run prompts and executes lines from in until exit or end of input.
// Monitoring still active at that point is stopped, unless the console
// detaches on end of input, in which case Run returns ErrDetached.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintln(c.out, Prompt)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				c.shutdown(ctx)
				return err
			}
			if c.detachOnEOF && c.ctrl.Active() {
				c.logger.Info("input closed, monitoring continues", nil)
				return ErrDetached
			}
			c.shutdown(ctx)
			return nil
		}
		if c.Execute(ctx, scanner.Text()) {
			c.shutdown(ctx)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Execute runs one line and reports whether it asked to exit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	if strings.EqualFold(strings.TrimSpace(line), "exit") {
		return true
	}

	tokens := strings.Fields(strings.ToLower(line))
	if len(tokens) == 0 || tokens[0] != "sky-monitor" {
		fmt.Fprintln(c.out, msgInvalid)
		return false
	}

	// A fresh tree per line keeps cobra from reusing the previous context.
	root := c.commands()
	root.SetArgs(tokens[1:])
	if err := root.ExecuteContext(ctx); err != nil && !handled(err) {
		c.logger.LogError("console", err, map[string]interface{}{"command": line})
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}
	return false
}

func (c *Console) shutdown(ctx context.Context) {
	if c.ctrl.Active() {
		if err := c.ctrl.Stop(ctx); err != nil {
			c.logger.LogError("console", err, nil)
		}
	}
}

func (c *Console) commands() *cobra.Command {
	root := &cobra.Command{
		Use:                "sky-monitor",
		Args:               cobra.ArbitraryArgs,
		DisableFlagParsing: true,
		SilenceErrors:      true,
		SilenceUsage:       true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "start" || (!cmd.HasParent() && len(args) == 0) {
				return nil
			}
			if !c.ctrl.Active() {
				fmt.Fprintln(c.out, lifecycle.MsgNotStarted)
				return errHandled
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				fmt.Fprintln(c.out, msgInvalid)
				return nil
			}
			fmt.Fprintln(c.out, msgInvalidSkyMonitor)
			return nil
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetHelpCommand(&cobra.Command{
		Use:    "no-help",
		Hidden: true,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(c.out, msgInvalidSkyMonitor)
		},
	})
	root.SetOut(c.out)
	root.SetErr(c.out)

	root.AddCommand(
		&cobra.Command{
			Use:                "start",
			Args:               cobra.ArbitraryArgs,
			DisableFlagParsing: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.ctrl.Start(cmd.Context(), c.services)
			},
		},
		&cobra.Command{
			Use:                "stop",
			Args:               cobra.ArbitraryArgs,
			DisableFlagParsing: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.ctrl.Stop(cmd.Context())
			},
		},
		&cobra.Command{
			Use:                "service list",
			Args:               cobra.ArbitraryArgs,
			DisableFlagParsing: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				if len(args) != 1 || args[0] != "list" {
					fmt.Fprintln(c.out, msgInvalidService)
					return nil
				}
				return c.ctrl.List(cmd.Context())
			},
		},
		c.statusCommand(config.DimensionApplication),
		c.statusCommand(config.DimensionServer),
	)
	return root
}

func (c *Console) statusCommand(dim config.Dimension) *cobra.Command {
	return &cobra.Command{
		Use:                string(dim) + " status <id>",
		Args:               cobra.ArbitraryArgs,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 || args[0] != "status" {
				fmt.Fprintln(c.out, msgInvalidApplication)
				return nil
			}
			id, err := strconv.Atoi(args[1])
			if err != nil {
				fmt.Fprintf(c.out, "Invalid service ID: %s\n", args[1])
				return nil
			}
			return c.ctrl.Status(cmd.Context(), id, dim)
		},
	}
}

// handled reports errors whose operator message was already written.
func handled(err error) bool {
	return errors.Is(err, errHandled) ||
		errors.Is(err, lifecycle.ErrNotActive) ||
		errors.Is(err, lifecycle.ErrAlreadyActive) ||
		errors.Is(err, lifecycle.ErrServiceNotFound)
}
