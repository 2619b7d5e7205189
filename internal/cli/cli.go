package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/specialistvlad/ortrain/internal/app"
	"github.com/specialistvlad/ortrain/internal/config"
	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(format string, args ...any) *ExitError {
	return &ExitError{Code: 2, Message: fmt.Sprintf(format, args...)}
}

// Command names the subcommand selected on the command line.
type Command int

const (
	CommandTrain Command = iota + 1
	CommandPipelines
)

// Invocation is a parsed command line.
type Invocation struct {
	Command Command
	// Config is set for CommandTrain.
	Config *app.Config
	// ConfigPath is the optional configuration of CommandPipelines. When set,
	// its namespaces replace Namespaces.
	ConfigPath string
	Namespaces []string
}

type trainFlags struct {
	config          string
	workers         int
	logLevel        string
	logFormat       string
	healthcheckPort int
	maxIterations   int
}

type pipelinesFlags struct {
	config     string
	namespaces []string
}

// Parse processes command-line arguments. It returns the Invocation, a
// boolean indicating if the program should exit cleanly (help, version, no
// subcommand), or an ExitError.
func Parse(args []string, output io.Writer) (*Invocation, bool, error) {
	slog.Debug("CLI parser started.")
	if args == nil {
		// cobra falls back to os.Args on nil.
		args = []string{}
	}

	var inv *Invocation
	root := newRootCommand(&inv)
	root.SetOut(output)
	root.SetErr(output)
	root.SetArgs(args)

	if err := root.Execute(); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return nil, false, exitErr
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	if inv == nil {
		slog.Debug("No command selected, exiting.")
		return nil, true, nil
	}
	slog.Debug("CLI parser finished successfully.", "command", inv.Command)
	return inv, false, nil
}

func newRootCommand(inv **Invocation) *cobra.Command {
	root := &cobra.Command{
		Use:   "ortrain",
		Short: "Train object recognition models from recorded observations",
		Long: "ortrain feeds the observations of each configured object through the\n" +
			"registered training pipelines and stores one model per object and pipeline.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.AddCommand(newTrainCommand(inv), newPipelinesCommand(inv))
	return root
}

func newTrainCommand(inv **Invocation) *cobra.Command {
	var flags trainFlags
	cmd := &cobra.Command{
		Use:   "train [CONFIG]",
		Short: "Train models for the objects of a configuration file",
		Long: "Train models for every object listed in CONFIG (.json, .yaml or .hcl).\n" +
			"The path may be given as an argument or with --config.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := flags.config
			if path == "" && len(args) > 0 {
				path = args[0]
			}
			if path == "" {
				return usageError("a configuration file is required: ortrain train --config <file>")
			}
			if _, err := os.Stat(path); err != nil {
				return usageError("cannot read configuration file: %v", err)
			}

			cfg, err := app.NewConfig(app.Config{
				ConfigPath:      path,
				LogFormat:       flags.logFormat,
				LogLevel:        flags.logLevel,
				HealthcheckPort: flags.healthcheckPort,
				WorkerCount:     flags.workers,
				MaxIterations:   flags.maxIterations,
			})
			if err != nil {
				return usageError("%v", err)
			}
			*inv = &Invocation{Command: CommandTrain, Config: cfg}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.config, "config", "c", "", "Path to the training configuration file.")
	f.IntVar(&flags.workers, "workers", 1, "Number of objects trained concurrently.")
	f.StringVar(&flags.logLevel, "log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	f.StringVar(&flags.logFormat, "log-format", "text", "Log output format. Options: 'text' or 'json'.")
	f.IntVar(&flags.healthcheckPort, "healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")
	f.IntVar(&flags.maxIterations, "max-iterations", 0, "Feed at most this many observations per object. 0 feeds them all.")
	return cmd
}

func newPipelinesCommand(inv **Invocation) *cobra.Command {
	var flags pipelinesFlags
	cmd := &cobra.Command{
		Use:   "pipelines",
		Short: "List the registered training pipelines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.config != "" {
				if _, err := os.Stat(flags.config); err != nil {
					return usageError("cannot read configuration file: %v", err)
				}
			}
			if len(flags.namespaces) == 0 {
				return usageError("at least one namespace is required")
			}
			*inv = &Invocation{Command: CommandPipelines, ConfigPath: flags.config, Namespaces: flags.namespaces}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.config, "config", "c", "", "Take the namespaces from this configuration file.")
	f.StringSliceVarP(&flags.namespaces, "namespace", "n", []string{config.DefaultNamespace}, "Pipeline namespaces to list.")
	return cmd
}
