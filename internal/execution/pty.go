package execution

import (
	"io"
	"os"

	"github.com/creack/pty"
)

// startPTY runs the command on a pseudo-terminal. Both streams land in stdout.
func (p *localProcess) startPTY(stdin []byte) error {
	ptmx, err := pty.Start(p.cmd)
	if err != nil {
		return err
	}
	if os.Stdout != nil {
		_ = pty.InheritSize(os.Stdout, ptmx)
	}

	// If stdin provided, stream it into the PTY.
	if stdin != nil {
		go func() {
			_, _ = ptmx.Write(stdin)
		}()
	}

	p.copyDone = make(chan struct{})
	go func() {
		// reads fail with EIO once the child side is closed
		_, _ = io.Copy(p.stdout, ptmx)
		_ = ptmx.Close()
		close(p.copyDone)
	}()
	return nil
}
