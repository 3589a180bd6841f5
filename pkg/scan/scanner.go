// Package scan discovers listening TCP sockets on the machine the agent
// runs on. The /proc text parsing lives in pure functions so it can be
// tested anywhere; only the filesystem walk is linux-specific.
package scan

import "sshfwd/pkg/protocol"

// Scanner produces one snapshot of the machine's listening ports per call.
type Scanner interface {
	Scan() (*protocol.ScanResult, error)
}

// New returns the scanner for the platform this binary was built for.
func New() Scanner {
	return newPlatformScanner()
}
