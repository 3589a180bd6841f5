package protocol

import "sort"

// Protocol is the transport tag for a listening socket.
type Protocol string

const (
	ProtocolTCP  Protocol = "tcp"
	ProtocolTCP6 Protocol = "tcp6"
)

// Unknown is what absent optional fields (pid, command) render as.
const Unknown = "unknown"

// ListeningPort is a single listening socket reported by the agent.
// PID and Command are optional on the wire; absence means the agent
// could not resolve the owning process.
type ListeningPort struct {
	Port     uint16   `json:"port"`
	Protocol Protocol `json:"protocol"`
	PID      *uint32  `json:"pid,omitempty"`
	Command  string   `json:"command,omitempty"`
}

// PIDValue returns the pid for sorting, 0 when unresolved.
func (p ListeningPort) PIDValue() uint32 {
	if p.PID == nil {
		return 0
	}
	return *p.PID
}

// CommandDisplay returns the command string, or "unknown" when absent.
func (p ListeningPort) CommandDisplay() string {
	if p.Command == "" {
		return Unknown
	}
	return p.Command
}

func protoOrder(p Protocol) int {
	if p == ProtocolTCP6 {
		return 1
	}
	return 0
}

// Less orders ports by (port, pid, protocol).
func (p ListeningPort) Less(other ListeningPort) bool {
	if p.Port != other.Port {
		return p.Port < other.Port
	}
	if p.PIDValue() != other.PIDValue() {
		return p.PIDValue() < other.PIDValue()
	}
	return protoOrder(p.Protocol) < protoOrder(other.Protocol)
}

// ScanResult is one snapshot of a remote host's listening ports.
// Ports are deduplicated by (port, protocol) and sorted by
// (port, pid, protocol) at construction; a ScanResult is never
// mutated after that.
type ScanResult struct {
	Hostname string          `json:"hostname"`
	Username string          `json:"username"`
	Ports    []ListeningPort `json:"ports"`
	Warnings []string        `json:"warnings"`
}

// NewScanResult builds a normalized ScanResult.
func NewScanResult(hostname, username string, ports []ListeningPort, warnings []string) ScanResult {
	return ScanResult{
		Hostname: hostname,
		Username: username,
		Ports:    NormalizePorts(ports),
		Warnings: warnings,
	}
}

// NormalizePorts deduplicates by (port, protocol) and sorts by
// (port, pid, protocol). The result is deterministic for any input order.
func NormalizePorts(ports []ListeningPort) []ListeningPort {
	type key struct {
		port  uint16
		proto Protocol
	}
	seen := make(map[key]bool, len(ports))
	out := make([]ListeningPort, 0, len(ports))
	for _, p := range ports {
		k := key{p.Port, p.Protocol}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
