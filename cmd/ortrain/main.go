package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/specialistvlad/ortrain/internal/app"
	"github.com/specialistvlad/ortrain/internal/cli"
	"github.com/specialistvlad/ortrain/internal/config"
)

// main is the entrypoint for the ortrain application.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Stdout, os.Args[1:])
	stop()

	// The real main function handles errors and exit codes.
	if err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run encapsulates the main application logic for easier testing and error handling.
func run(ctx context.Context, outW io.Writer, args []string) (err error) {
	inv, shouldExit, err := cli.Parse(args, outW)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	// A pipeline module that panics outside registration must still produce
	// a clean exit message.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("application panicked: %v", r)
		}
	}()

	loader := config.NewLoader()
	switch inv.Command {
	case cli.CommandTrain:
		a, err := app.NewApp(ctx, outW, inv.Config, loader)
		if err != nil {
			return err
		}
		return a.Run(ctx)

	case cli.CommandPipelines:
		namespaces := inv.Namespaces
		if inv.ConfigPath != "" {
			model, err := loader.Load(ctx, inv.ConfigPath)
			if err != nil {
				return err
			}
			namespaces = model.Namespaces
		}
		return app.ListPipelines(ctx, outW, app.CoreCatalog(), namespaces)

	default:
		return fmt.Errorf("unhandled command %d", inv.Command)
	}
}
