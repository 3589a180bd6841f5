package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sshfwd/pkg/protocol"
)

const sampleTCP = `  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode
   0: 0100007F:0539 00000000:0000 0A 00000000:00000000 00:00000000 00000000   108        0 12345 1 0000000000000000 100 0 0 10 0
   1: 00000000:0050 00000000:0000 0A 00000000:00000000 00:00000000 00000000     0        0 67890 1 0000000000000000 100 0 0 10 0
   2: 0100007F:1F90 AC10000A:D904 01 00000000:00000000 00:00000000 00000000  1000        0 11111 1 0000000000000000 100 0 0 10 0
`

const sampleTCP6 = `  sl  local_address                         remote_address                        st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode
   0: 00000000000000000000000000000000:1F90 00000000000000000000000000000000:0000 0A 00000000:00000000 00:00000000 00000000  1000        0 22222 1 0000000000000000 100 0 0 10 0
   1: 00000000000000000000000001000000:0539 00000000000000000000000000000000:0000 0A 00000000:00000000 00:00000000 00000000   108        0 33333 1 0000000000000000 100 0 0 10 0
`

func TestParseProcNetTCPListenOnly(t *testing.T) {
	entries := parseProcNetTCP(sampleTCP, protocol.ProtocolTCP)
	require.Len(t, entries, 2, "established rows must be skipped")

	assert.Equal(t, "127.0.0.1", entries[0].localAddr)
	assert.Equal(t, uint16(1337), entries[0].port)
	assert.Equal(t, uint32(108), entries[0].uid)
	assert.Equal(t, uint64(12345), entries[0].inode)

	assert.Equal(t, "0.0.0.0", entries[1].localAddr)
	assert.Equal(t, uint16(80), entries[1].port)
	assert.Equal(t, uint32(0), entries[1].uid)
	assert.Equal(t, uint64(67890), entries[1].inode)
}

func TestParseProcNetTCP6(t *testing.T) {
	entries := parseProcNetTCP(sampleTCP6, protocol.ProtocolTCP6)
	require.Len(t, entries, 2)

	assert.Equal(t, "::", entries[0].localAddr)
	assert.Equal(t, uint16(8080), entries[0].port)
	assert.Equal(t, uint64(22222), entries[0].inode)

	assert.Equal(t, "::1", entries[1].localAddr)
	assert.Equal(t, uint16(1337), entries[1].port)
}

func TestParseAddressIPv4MappedIPv6(t *testing.T) {
	addr, port, ok := parseAddress("0000000000000000FFFF00000100007F:0539", protocol.ProtocolTCP6)
	require.True(t, ok)
	// net.IP renders IPv4-mapped addresses in their dotted form.
	assert.Equal(t, "127.0.0.1", addr)
	assert.Equal(t, uint16(1337), port)
}

func TestParseAddressRejectsGarbage(t *testing.T) {
	_, _, ok := parseAddress("nonsense", protocol.ProtocolTCP)
	assert.False(t, ok)

	_, _, ok = parseAddress("0100007F", protocol.ProtocolTCP)
	assert.False(t, ok, "missing port separator")

	_, _, ok = parseAddress("0100:0539", protocol.ProtocolTCP)
	assert.False(t, ok, "truncated address")
}

func TestParseEmptyAndHeaderOnly(t *testing.T) {
	assert.Empty(t, parseProcNetTCP("", protocol.ProtocolTCP))

	header := "  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode\n"
	assert.Empty(t, parseProcNetTCP(header, protocol.ProtocolTCP))
}

func TestDedupKeepsDistinctBindAddresses(t *testing.T) {
	entries := []tcpEntry{
		{protocol: protocol.ProtocolTCP, localAddr: "0.0.0.0", port: 8080, inode: 111},
		{protocol: protocol.ProtocolTCP6, localAddr: "::", port: 8080, inode: 222},
	}
	assert.Len(t, dedupEntries(entries), 2)
}

func TestDedupDropsIPv4MappedDuplicate(t *testing.T) {
	entries := []tcpEntry{
		{protocol: protocol.ProtocolTCP, localAddr: "127.0.0.1", port: 1337, inode: 111},
		{protocol: protocol.ProtocolTCP6, localAddr: "::ffff:127.0.0.1", port: 1337, inode: 222},
	}
	deduped := dedupEntries(entries)
	require.Len(t, deduped, 1)
	assert.Equal(t, uint64(111), deduped[0].inode, "first occurrence wins")
}
