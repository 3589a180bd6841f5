package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sshfwd/pkg/discovery"
	"sshfwd/pkg/protocol"
	"sshfwd/pkg/ui"
)

func TestDiscoveryMsgCarriesScanResult(t *testing.T) {
	scan := protocol.NewScanResult("server1", "deploy", []protocol.ListeningPort{
		{Port: 5432, Protocol: protocol.ProtocolTCP},
	}, nil)

	msg := discoveryMsg(discovery.Event{Kind: discovery.EventScan, Scan: scan})

	scanMsg, ok := msg.(ui.ScanMsg)
	require.True(t, ok)
	assert.Equal(t, "server1", scanMsg.Scan.Hostname)
	require.Len(t, scanMsg.Scan.Ports, 1)
	assert.Equal(t, uint16(5432), scanMsg.Scan.Ports[0].Port)
}

func TestDiscoveryMsgKinds(t *testing.T) {
	msg := discoveryMsg(discovery.Event{Kind: discovery.EventWarning, Message: "bad line"})
	assert.Equal(t, ui.ScanWarningMsg{Text: "bad line"}, msg)

	msg = discoveryMsg(discovery.Event{Kind: discovery.EventTimeout, Timeouts: 2})
	assert.Equal(t, ui.ScanWarningMsg{Text: "scan timed out (attempt 2)"}, msg)

	msg = discoveryMsg(discovery.Event{Kind: discovery.EventFailed, Message: "agent stream ended"})
	assert.Equal(t, ui.ScanFailedMsg{Reason: "agent stream ended"}, msg)
}
