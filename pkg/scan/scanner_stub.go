//go:build !linux

package scan

import (
	"os"
	"os/user"

	"sshfwd/pkg/protocol"
)

type stubScanner struct{}

func newPlatformScanner() Scanner {
	return &stubScanner{}
}

// Scan on non-linux platforms reports no ports and says why, so the
// operator sees an explanation instead of a silent empty table.
func (s *stubScanner) Scan() (*protocol.ScanResult, error) {
	hostname, _ := os.Hostname()
	username := "unknown"
	if u, err := user.Current(); err == nil {
		username = u.Username
	}
	result := protocol.NewScanResult(hostname, username, nil,
		[]string{"port scanning is only implemented for linux"})
	return &result, nil
}
