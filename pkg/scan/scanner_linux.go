//go:build linux

package scan

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"sshfwd/pkg/protocol"
)

type linuxScanner struct{}

func newPlatformScanner() Scanner {
	return &linuxScanner{}
}

// Scan reads /proc/net/tcp and /proc/net/tcp6 and resolves the owning
// process of each LISTEN socket through /proc/[pid]/fd. Sockets whose
// owner cannot be resolved (typically another user's process when not
// root) are still reported, without pid or command.
func (s *linuxScanner) Scan() (*protocol.ScanResult, error) {
	var warnings []string

	tcp, err := os.ReadFile("/proc/net/tcp")
	if err != nil {
		return nil, fmt.Errorf("read /proc/net/tcp: %w", err)
	}
	// tcp6 is absent on IPv4-only kernels, that is not an error.
	tcp6, _ := os.ReadFile("/proc/net/tcp6")

	entries := parseProcNetTCP(string(tcp), protocol.ProtocolTCP)
	entries = append(entries, parseProcNetTCP(string(tcp6), protocol.ProtocolTCP6)...)
	entries = dedupEntries(entries)

	owners := resolveSocketOwners(entries, &warnings)

	ports := make([]protocol.ListeningPort, 0, len(entries))
	for _, e := range entries {
		port := protocol.ListeningPort{Port: e.port, Protocol: e.protocol}
		if owner, ok := owners[e.inode]; ok {
			pid := owner.pid
			port.PID = &pid
			port.Command = owner.command
		}
		ports = append(ports, port)
	}

	result := protocol.NewScanResult(hostname(), username(uint32(os.Getuid())), ports, warnings)
	return &result, nil
}

type processOwner struct {
	pid     uint32
	command string
}

// resolveSocketOwners walks /proc/[pid]/fd looking for socket:[inode]
// links matching the listening sockets. Only processes whose uid matches
// a socket's uid are inspected, which keeps the walk cheap and avoids
// pointless permission errors.
func resolveSocketOwners(entries []tcpEntry, warnings *[]string) map[uint64]processOwner {
	owners := make(map[uint64]processOwner)
	if len(entries) == 0 {
		return owners
	}

	wantInodes := make(map[uint64]bool, len(entries))
	wantUIDs := make(map[uint32]bool, len(entries))
	for _, e := range entries {
		wantInodes[e.inode] = true
		wantUIDs[e.uid] = true
	}

	procEntries, err := os.ReadDir("/proc")
	if err != nil {
		*warnings = append(*warnings, fmt.Sprintf("cannot read /proc: %v", err))
		return owners
	}

	for _, pe := range procEntries {
		pid, err := strconv.ParseUint(pe.Name(), 10, 32)
		if err != nil {
			continue
		}

		uid, ok := readUID(fmt.Sprintf("/proc/%d/status", pid))
		if !ok || !wantUIDs[uid] {
			continue
		}

		fdDir := fmt.Sprintf("/proc/%d/fd", pid)
		fds, err := os.ReadDir(fdDir)
		if err != nil {
			if os.IsPermission(err) {
				*warnings = append(*warnings, fmt.Sprintf("permission denied reading %s", fdDir))
			}
			continue
		}

		for _, fd := range fds {
			link, err := os.Readlink(filepath.Join(fdDir, fd.Name()))
			if err != nil || !strings.HasPrefix(link, "socket:[") {
				continue
			}
			inodeStr := strings.TrimSuffix(strings.TrimPrefix(link, "socket:["), "]")
			inode, err := strconv.ParseUint(inodeStr, 10, 64)
			if err != nil || !wantInodes[inode] {
				continue
			}
			if _, taken := owners[inode]; taken {
				continue
			}
			owners[inode] = processOwner{pid: uint32(pid), command: commandName(uint32(pid))}
		}
	}
	return owners
}

// readUID pulls the real uid out of /proc/[pid]/status.
func readUID(path string) (uint32, bool) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	for _, line := range strings.Split(string(content), "\n") {
		rest, ok := strings.CutPrefix(line, "Uid:")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return 0, false
		}
		uid, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return 0, false
		}
		return uint32(uid), true
	}
	return 0, false
}

// commandName prefers the short comm name, falling back to the first
// cmdline token for processes that rewrite their comm.
func commandName(pid uint32) string {
	comm, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err == nil {
		if name := strings.TrimSpace(string(comm)); name != "" {
			return name
		}
	}
	cmdline, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return ""
	}
	args := strings.Split(string(cmdline), "\x00")
	if len(args) == 0 {
		return ""
	}
	return filepath.Base(args[0])
}

func hostname() string {
	if content, err := os.ReadFile("/etc/hostname"); err == nil {
		if h := strings.TrimSpace(string(content)); h != "" {
			return h
		}
	}
	h, _ := os.Hostname()
	return h
}

// username resolves a uid through /etc/passwd. NSS-only users fall back
// to a uid tag rather than an error.
func username(uid uint32) string {
	if content, err := os.ReadFile("/etc/passwd"); err == nil {
		for _, line := range strings.Split(string(content), "\n") {
			fields := strings.Split(line, ":")
			if len(fields) < 3 {
				continue
			}
			if fileUID, err := strconv.ParseUint(fields[2], 10, 32); err == nil && uint32(fileUID) == uid {
				return fields[0]
			}
		}
	}
	return fmt.Sprintf("uid:%d", uid)
}
