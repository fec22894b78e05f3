//go:build unix

package worker

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// signalTerminate asks the child to exit with SIGTERM. A child that is
// already gone is not an error.
func signalTerminate(p *os.Process) error {
	err := p.Signal(unix.SIGTERM)
	if errors.Is(err, os.ErrProcessDone) || errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
