package protocol

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pid(v uint32) *uint32 { return &v }

func sampleScan() ScanResult {
	return NewScanResult("server1", "deploy", []ListeningPort{
		{Port: 8080, Protocol: ProtocolTCP6, PID: pid(200)},
		{Port: 5432, Protocol: ProtocolTCP, PID: pid(100), Command: "postgres"},
	}, []string{"permission denied reading /proc/999/fd"})
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	scan := sampleScan()
	require.NoError(t, EncodeScan(&buf, scan))

	line := buf.String()
	require.True(t, strings.HasSuffix(line, "\n"))
	require.Equal(t, 1, strings.Count(line, "\n"), "wire unit must be a single line")

	resp, err := DecodeLine([]byte(strings.TrimSuffix(line, "\n")))
	require.NoError(t, err)
	require.Equal(t, ResponseOk, resp.Kind)
	assert.Equal(t, scan, resp.Scan)
}

func TestDecodeErrorEnvelope(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeError(&buf, "scan failed: /proc/net/tcp unreadable"))

	resp, err := DecodeLine(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
	require.NoError(t, err)
	assert.Equal(t, ResponseError, resp.Kind)
	assert.Equal(t, "scan failed: /proc/net/tcp unreadable", resp.Err)
}

func TestDecodeAbsentOptionalFields(t *testing.T) {
	line := `{"result":{"hostname":"h","username":"u","ports":[{"port":80,"protocol":"tcp"}],"warnings":[]}}`
	resp, err := DecodeLine([]byte(line))
	require.NoError(t, err)
	require.Equal(t, ResponseOk, resp.Kind)
	require.Len(t, resp.Scan.Ports, 1)

	p := resp.Scan.Ports[0]
	assert.Nil(t, p.PID)
	assert.Equal(t, Unknown, p.CommandDisplay())
	assert.Equal(t, uint32(0), p.PIDValue())
}

func TestDecodeUnrecognizedEnvelope(t *testing.T) {
	resp, err := DecodeLine([]byte(`{"heartbeat":42}`))
	require.NoError(t, err)
	assert.Equal(t, ResponseUnrecognized, resp.Kind)
}

func TestDecodeMalformedLine(t *testing.T) {
	_, err := DecodeLine([]byte(`{"result":`))
	assert.Error(t, err)
}

func TestNormalizePortsDeterministicOrder(t *testing.T) {
	a := []ListeningPort{
		{Port: 8080, Protocol: ProtocolTCP6, PID: pid(200)},
		{Port: 5432, Protocol: ProtocolTCP, PID: pid(100), Command: "postgres"},
		{Port: 5432, Protocol: ProtocolTCP6, PID: pid(100), Command: "postgres"},
	}
	b := []ListeningPort{a[2], a[0], a[1]}

	assert.Equal(t, NormalizePorts(a), NormalizePorts(b), "ordering must not depend on arrival order")
}

func TestNormalizePortsDeduplicates(t *testing.T) {
	ports := NormalizePorts([]ListeningPort{
		{Port: 443, Protocol: ProtocolTCP, PID: pid(10)},
		{Port: 443, Protocol: ProtocolTCP, PID: pid(10)},
		{Port: 443, Protocol: ProtocolTCP6, PID: pid(10)},
	})
	require.Len(t, ports, 2)
	assert.Equal(t, ProtocolTCP, ports[0].Protocol)
	assert.Equal(t, ProtocolTCP6, ports[1].Protocol)
}

func TestSortKeyPortPidProtocol(t *testing.T) {
	ports := NormalizePorts([]ListeningPort{
		{Port: 80, Protocol: ProtocolTCP, PID: pid(5)},
		{Port: 80, Protocol: ProtocolTCP6, PID: pid(2)},
		{Port: 22, Protocol: ProtocolTCP},
	})
	require.Len(t, ports, 3)
	assert.Equal(t, uint16(22), ports[0].Port)
	// pid is compared before protocol, so the tcp6 socket with the lower
	// pid sorts ahead of the tcp one.
	assert.Equal(t, ProtocolTCP6, ports[1].Protocol)
	assert.Equal(t, ProtocolTCP, ports[2].Protocol)
}
