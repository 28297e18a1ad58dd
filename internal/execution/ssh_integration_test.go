//go:build integration

package execution

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/luccadibe/jobctl/internal/config"
)

const (
	testKeyPath    = "./testdata/ssh/test_key"
	testUsername   = "testuser"
	commandTimeout = 10 * time.Second
)

var testHost = config.Host{
	IP:       "localhost",
	Port:     2222,
	Username: testUsername,
	KeyFile:  testKeyPath,
}

func TestSSHClientConnectionWithInvalidKey(t *testing.T) {
	host := testHost
	host.KeyFile = "./testdata/ssh/nonexistent_key"

	_, err := NewSSHClient(host, DefaultSettleDelay, discardLogger())
	if err == nil {
		t.Fatal("expected error for invalid key file, got nil")
	}
	if !strings.Contains(err.Error(), "error creating ssh client") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestSSHClientRunMultipleCommands(t *testing.T) {
	client, err := NewSSHClient(testHost, DefaultSettleDelay, discardLogger())
	if err != nil {
		t.Fatalf("failed to create SSH client: %v", err)
	}
	defer client.Close()

	tests := []struct {
		name     string
		args     []string
		stdin    string
		contains string
	}{
		{name: "whoami", args: []string{"whoami"}, contains: testUsername},
		{name: "quoted argument", args: []string{"echo", "hello world"}, contains: "hello world"},
		{name: "stdin script", args: []string{"sh"}, stdin: "echo from-stdin\n", contains: "from-stdin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()

			req := CommandRequest{Args: tt.args}
			if tt.stdin != "" {
				req.Stdin = []byte(tt.stdin)
			}
			res, err := client.RunCommand(ctx, req)
			if err != nil {
				t.Fatalf("failed to run %v: %v", tt.args, err)
			}
			if !strings.Contains(res.Stdout, tt.contains) {
				t.Errorf("expected output to contain %q, got %q", tt.contains, res.Stdout)
			}
		})
	}
}

func TestSSHClientContextCancellation(t *testing.T) {
	client, err := NewSSHClient(testHost, DefaultSettleDelay, discardLogger())
	if err != nil {
		t.Fatalf("failed to create SSH client: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = client.RunCommand(ctx, CommandRequest{Args: []string{"sleep", "10"}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSSHClientReadFile(t *testing.T) {
	client, err := NewSSHClient(testHost, DefaultSettleDelay, discardLogger())
	if err != nil {
		t.Fatalf("failed to create SSH client: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if _, err := client.RunCommand(ctx, CommandRequest{Args: []string{"sh", "-c", "echo result > /tmp/jobctl-it.out"}}); err != nil {
		t.Fatalf("failed to write remote file: %v", err)
	}
	data, err := client.ReadFile(ctx, "/tmp/jobctl-it.out")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if strings.TrimSpace(string(data)) != "result" {
		t.Fatalf("unexpected file content %q", data)
	}
}

func TestSSHDriverInterrupt(t *testing.T) {
	driver, err := NewSSHDriver(testHost, 0)
	if err != nil {
		t.Fatalf("failed to create SSH driver: %v", err)
	}
	defer driver.Close()

	p, err := driver.Start(context.Background(), StartRequest{Args: []string{"sleep", "30"}})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	Interrupt(p, DefaultSettleDelay, discardLogger())
	_ = driver.Close()
	select {
	case <-p.Done():
	case <-time.After(commandTimeout):
		t.Fatal("remote session did not end")
	}
}
