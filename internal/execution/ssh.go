package execution

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	scp "github.com/bramvdbogaerde/go-scp"
	"github.com/luccadibe/jobctl/internal/config"
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/ssh"
	"golang.org/x/term"
)

const (
	DEFAULT_SSH_PORT = 22
)

// all things SSH here

type sshClient struct {
	client *ssh.Client
	host   config.Host
	settle time.Duration
	logger *log.Logger
}

// NewSSHClient connects to host and returns an ExecutionClient running commands there.
func NewSSHClient(host config.Host, settle time.Duration, logger *log.Logger) (ExecutionClient, error) {
	client, err := connect(host)
	if err != nil {
		return nil, errors.New("error creating ssh client: " + err.Error())
	}
	return &sshClient{client: client, host: host, settle: settle, logger: logger}, nil
}

func (c *sshClient) Close() error {
	return c.client.Close()
}

// RunCommand runs a command on the remote host and waits for it.
// If the context is done, the remote process goes through the escalation ladder.
func (c *sshClient) RunCommand(ctx context.Context, req CommandRequest) (CommandResult, error) {
	if len(req.Args) == 0 {
		return CommandResult{ExitCode: -1}, errors.New("empty command")
	}
	p, err := startSession(ctx, c.client, StartRequest{Args: req.Args, Stdin: req.Stdin}, 0)
	if err != nil {
		return CommandResult{ExitCode: -1}, err
	}
	status, err := Communicate(ctx, p, c.settle, c.logger)
	if err != nil {
		return CommandResult{ExitCode: -1}, err
	}
	if status.Code == -1 && status.Err != nil {
		return CommandResult{ExitCode: -1}, errors.New("error running command: " + status.Err.Error())
	}
	stdout, stderr := p.Output()
	return CommandResult{Stdout: string(stdout), Stderr: string(stderr), ExitCode: status.Code}, nil
}

// ReadFile copies a remote file into memory over scp.
func (c *sshClient) ReadFile(ctx context.Context, path string) ([]byte, error) {
	client, err := scp.NewClientBySSH(c.client)
	if err != nil {
		return nil, errors.New("error creating scp client: " + err.Error())
	}
	defer client.Close()

	var buf bytes.Buffer
	if err := client.CopyFromRemotePassThru(ctx, &buf, path, nil); err != nil {
		return nil, fmt.Errorf("error copying file %s: %w", path, err)
	}
	return buf.Bytes(), nil
}

// SSHDriver starts processes as sessions on one ssh connection.
type SSHDriver struct {
	client    *ssh.Client
	maxOutput int
}

// NewSSHDriver connects to host.
func NewSSHDriver(host config.Host, maxOutput int) (*SSHDriver, error) {
	client, err := connect(host)
	if err != nil {
		return nil, errors.New("error creating ssh client: " + err.Error())
	}
	return &SSHDriver{client: client, maxOutput: maxOutput}, nil
}

// Start runs req.Args, shell-quoted, as a remote command.
func (d *SSHDriver) Start(ctx context.Context, req StartRequest) (Process, error) {
	if len(req.Args) == 0 {
		return nil, errors.New("empty command")
	}
	return startSession(ctx, d.client, req, d.maxOutput)
}

func (d *SSHDriver) Close() error {
	return d.client.Close()
}

type sshProcess struct {
	id      string
	session *ssh.Session
	stdout  *captureBuffer
	stderr  *captureBuffer
	done    chan struct{}

	mu     sync.Mutex
	status ExitStatus
	exited bool
}

func startSession(ctx context.Context, client *ssh.Client, req StartRequest, maxOutput int) (*sshProcess, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	session, err := client.NewSession()
	if err != nil {
		return nil, errors.New("error creating new session: " + err.Error())
	}

	if req.UsePTY {
		modes := ssh.TerminalModes{
			ssh.ECHO:          1,
			ssh.TTY_OP_ISPEED: 14400,
			ssh.TTY_OP_OSPEED: 14400,
		}
		width, height := termSize()
		if err := session.RequestPty("xterm-256color", height, width, modes); err != nil {
			session.Close()
			return nil, errors.New("error requesting PTY: " + err.Error())
		}
	}

	p := &sshProcess{
		id:      ulid.Make().String(),
		session: session,
		stdout:  newCaptureBuffer(maxOutput),
		stderr:  newCaptureBuffer(maxOutput),
		done:    make(chan struct{}),
	}
	if req.Stdin != nil {
		session.Stdin = bytes.NewReader(req.Stdin)
	}
	session.Stdout = p.stdout
	session.Stderr = p.stderr

	if err := session.Start(JoinArgs(req.Args)); err != nil {
		session.Close()
		return nil, err
	}
	go p.wait()
	return p, nil
}

func (p *sshProcess) wait() {
	err := p.session.Wait()
	code := 0
	if err != nil {
		var exitError *ssh.ExitError
		if errors.As(err, &exitError) {
			code = exitError.ExitStatus()
		} else {
			code = -1
		}
	}
	_ = p.session.Close()

	p.mu.Lock()
	p.status = ExitStatus{Code: code, Err: err}
	p.exited = true
	p.mu.Unlock()
	close(p.done)
}

func (p *sshProcess) ID() string            { return p.id }
func (p *sshProcess) Done() <-chan struct{} { return p.done }

func (p *sshProcess) Poll() (ExitStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, p.exited
}

func (p *sshProcess) Signal(sig Signal) error {
	if _, exited := p.Poll(); exited {
		return os.ErrProcessDone
	}
	var s ssh.Signal
	switch sig {
	case SignalInterrupt:
		s = ssh.SIGINT
	case SignalTerminate:
		s = ssh.SIGTERM
	default:
		s = ssh.SIGKILL
	}
	if err := p.session.Signal(s); err != nil {
		return errors.New("error sending " + sig.String() + " signal: " + err.Error())
	}
	return nil
}

func (p *sshProcess) Output() ([]byte, []byte) {
	return p.stdout.Bytes(), p.stderr.Bytes()
}

// TODO: implement Password auth, for now only key auth is supported
func connect(host config.Host) (*ssh.Client, error) {
	var key ssh.Signer
	var err error
	keyFile, err := os.ReadFile(config.ExpandTilde(host.KeyFile))
	if err != nil {
		return nil, err
	}

	if host.KeyPassword != "" {
		key, err = ssh.ParsePrivateKeyWithPassphrase(keyFile, []byte(host.KeyPassword))

	} else {
		key, err = ssh.ParsePrivateKey(keyFile)

	}
	if err != nil {
		return nil, errors.New("error reading key file: " + err.Error())
	}

	sshConfig := &ssh.ClientConfig{
		User: host.Username,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(key),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	port := host.Port
	if port == 0 {
		port = DEFAULT_SSH_PORT
	}

	client, err := ssh.Dial("tcp", fmt.Sprintf("%s:%d", host.IP, port), sshConfig)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// termSize returns the terminal size
func termSize() (width, height int) {
	width, height = 80, 40
	if os.Stdout != nil {
		if term.IsTerminal(int(os.Stdout.Fd())) {
			if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
				return w, h
			}
		}
	}
	return width, height
}
