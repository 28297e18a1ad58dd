package execution

import (
	"context"
	"errors"
	"log"
	"os"
	"time"
)

// Local execution client for running commands locally
type localClient struct {
	driver Driver
	settle time.Duration
	logger *log.Logger
}

// NewLocalClient creates a new local execution client. Commands are started
// with driver, so a cancelled command goes through the escalation ladder.
func NewLocalClient(driver Driver, settle time.Duration, logger *log.Logger) ExecutionClient {
	return &localClient{driver: driver, settle: settle, logger: logger}
}

// RunCommand executes the command locally and waits for it to exit.
func (c *localClient) RunCommand(ctx context.Context, req CommandRequest) (CommandResult, error) {
	if len(req.Args) == 0 {
		return CommandResult{ExitCode: -1}, errors.New("empty command")
	}

	p, err := c.driver.Start(ctx, StartRequest{Args: req.Args, Stdin: req.Stdin})
	if err != nil {
		return CommandResult{ExitCode: -1}, err
	}
	status, err := Communicate(ctx, p, c.settle, c.logger)
	if err != nil {
		return CommandResult{ExitCode: -1}, err
	}

	stdout, stderr := p.Output()
	return CommandResult{
		Stdout:   string(stdout),
		Stderr:   string(stderr),
		ExitCode: status.Code,
	}, nil
}

// ReadFile reads a local file.
func (c *localClient) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Close closes the local client (no-op for local execution)
func (c *localClient) Close() error {
	// Nothing to close for local execution
	return nil
}
