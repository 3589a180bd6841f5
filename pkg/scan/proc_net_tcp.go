package scan

import (
	"encoding/hex"
	"net"
	"strconv"
	"strings"

	"sshfwd/pkg/protocol"
)

// 0A is the TCP_LISTEN state in /proc/net/tcp.
const listenState = "0A"

// tcpEntry is one LISTEN row from /proc/net/tcp or /proc/net/tcp6.
type tcpEntry struct {
	protocol  protocol.Protocol
	localAddr string
	port      uint16
	uid       uint32
	inode     uint64
}

// parseProcNetTCP parses /proc/net/tcp[6] content. It takes the file
// content as a string rather than a path so the parsing is testable on
// any platform. Rows that are not LISTEN or do not parse are skipped.
func parseProcNetTCP(content string, proto protocol.Protocol) []tcpEntry {
	var entries []tcpEntry
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if i == 0 {
			continue // header
		}
		fields := strings.Fields(line)
		if len(fields) < 10 {
			continue
		}
		if fields[3] != listenState {
			continue
		}

		addr, port, ok := parseAddress(fields[1], proto)
		if !ok {
			continue
		}
		uid, err := strconv.ParseUint(fields[7], 10, 32)
		if err != nil {
			continue
		}
		inode, err := strconv.ParseUint(fields[9], 10, 64)
		if err != nil {
			continue
		}

		entries = append(entries, tcpEntry{
			protocol:  proto,
			localAddr: addr,
			port:      uint16(port),
			uid:       uint32(uid),
			inode:     inode,
		})
	}
	return entries
}

// parseAddress decodes the hex "address:port" pair. The kernel writes
// addresses in host byte order, so each 32-bit group is byte-reversed.
func parseAddress(addrPort string, proto protocol.Protocol) (string, uint16, bool) {
	addrHex, portHex, found := strings.Cut(addrPort, ":")
	if !found {
		return "", 0, false
	}
	port, err := strconv.ParseUint(portHex, 16, 16)
	if err != nil {
		return "", 0, false
	}

	b, err := hex.DecodeString(addrHex)
	if err != nil {
		return "", 0, false
	}

	switch proto {
	case protocol.ProtocolTCP:
		if len(b) != 4 {
			return "", 0, false
		}
		ip := net.IPv4(b[3], b[2], b[1], b[0])
		return ip.String(), uint16(port), true
	case protocol.ProtocolTCP6:
		if len(b) != 16 {
			return "", 0, false
		}
		ip := make(net.IP, 16)
		for i := 0; i < 4; i++ {
			ip[i*4+0] = b[i*4+3]
			ip[i*4+1] = b[i*4+2]
			ip[i*4+2] = b[i*4+1]
			ip[i*4+3] = b[i*4+0]
		}
		return ip.String(), uint16(port), true
	}
	return "", 0, false
}

// normalizeAddr maps IPv4-mapped IPv6 addresses to their IPv4 form so a
// dual-stack listener does not show up twice.
func normalizeAddr(addr string) string {
	if v4, ok := strings.CutPrefix(addr, "::ffff:"); ok {
		return v4
	}
	return addr
}

// dedupEntries drops entries that share (port, normalized address),
// keeping the first occurrence. Distinct bind addresses on the same port
// survive.
func dedupEntries(entries []tcpEntry) []tcpEntry {
	seen := make(map[string]struct{}, len(entries))
	out := entries[:0]
	for _, e := range entries {
		key := strconv.Itoa(int(e.port)) + "/" + normalizeAddr(e.localAddr)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, e)
	}
	return out
}
