//go:build !windows

package shell

import (
	"os"
	"syscall"
)

// terminate asks the process to exit; the hard kill comes from WaitDelay.
func terminate(p *os.Process) error {
	if p == nil {
		return nil
	}
	return p.Signal(syscall.SIGTERM)
}
