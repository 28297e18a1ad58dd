package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/goforj/godump"
	"github.com/luccadibe/jobctl/internal"
	"github.com/luccadibe/jobctl/internal/config"
	"github.com/urfave/cli/v3"
)

const defaultConfigPath = "~/.config/jobctl/config.yaml"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:  "jobctl",
		Usage: "run shell scripts locally, over ssh or on a batch cluster",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   defaultConfigPath,
				Usage:   "path to the configuration file",
				Sources: cli.EnvVars("JOBCTL_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			configCommand(),
			backendsCommand(),
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "submit a script and print its output",
		ArgsUsage: "[-- backend options]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "backend", Aliases: []string{"b"}, Usage: "backend name (local, ssh, slurm)"},
			&cli.StringFlag{Name: "shell", Usage: "interpreter for the script"},
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "read the script from a file instead of stdin"},
			&cli.BoolFlag{Name: "bg", Usage: "run the job in the background"},
			&cli.StringFlag{Name: "handle", Usage: "name to store a background job under"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			logger, closeLog, err := internal.NewLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer func() { _ = closeLog() }()

			script, err := readScript(c.String("file"))
			if err != nil {
				return err
			}

			o := internal.NewOrchestrator(ctx, cfg, logger, os.Stdout, os.Stderr)
			req := internal.Request{
				Backend:    c.String("backend"),
				Shell:      c.String("shell"),
				Args:       c.Args().Slice(),
				Script:     script,
				Background: c.Bool("bg"),
				Handle:     c.String("handle"),
			}
			res, err := o.Run(ctx, req)
			if err != nil || !req.Background {
				return err
			}

			fmt.Fprintf(os.Stderr, "Background task %s\n", res.TaskID)
			// tasks observe ctx themselves, so wait without it to let them clean up
			waitErr := o.Runner.(*internal.GoroutineRunner).Wait(context.WithoutCancel(ctx))
			if req.Handle != "" {
				waitErr = errors.Join(waitErr, o.FetchOutput(context.WithoutCancel(ctx), req.Handle))
			}
			return errors.Join(waitErr, ctx.Err())
		},
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "print the resolved configuration",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "default", Usage: "print the built-in default configuration file"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Bool("default") {
				fmt.Print(config.GetDefaultConfigFile())
				return nil
			}
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			fmt.Print(godump.DumpStr(cfg))
			return nil
		},
	}
}

func backendsCommand() *cli.Command {
	return &cli.Command{
		Name:  "backends",
		Usage: "list the available backends",
		Action: func(ctx context.Context, c *cli.Command) error {
			fmt.Println(strings.Join(internal.NewRegistry().Names(), "\n"))
			return nil
		},
	}
}

func readScript(path string) ([]byte, error) {
	if path == "" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(config.ExpandTilde(path))
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	return data, nil
}
