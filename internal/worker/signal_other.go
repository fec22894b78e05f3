//go:build !unix

package worker

import (
	"errors"
	"os"
)

// signalTerminate stops the child. Platforms without SIGTERM only offer
// Process.Kill.
func signalTerminate(p *os.Process) error {
	err := p.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
