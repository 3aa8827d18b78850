//go:build windows

package shell

import "os"

// terminate kills outright; Windows has no SIGTERM equivalent for
// arbitrary processes.
func terminate(p *os.Process) error {
	if p == nil {
		return nil
	}
	return p.Kill()
}
