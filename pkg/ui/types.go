package ui

import (
	"time"

	"sshfwd/pkg/forward"
	"sshfwd/pkg/protocol"
)

// ConnectionState tracks the lifecycle of the discovery link.
type ConnectionState int

const (
	StateConnecting ConnectionState = iota
	StateConnected
	StateDisconnected
)

// Messages delivered to Update. The external ones are produced by the
// bridge goroutines in cmd/sshfwd; tickMsg is internal.

// ScanMsg carries one decoded scan snapshot.
type ScanMsg struct {
	Scan protocol.ScanResult
}

// ScanWarningMsg carries a transient discovery warning (decode error,
// timeout attempt 1 or 2). Logged, never fatal.
type ScanWarningMsg struct {
	Text string
}

// ScanFailedMsg means the discovery stream stopped for good.
type ScanFailedMsg struct {
	Reason string
}

// ForwardEventMsg wraps a forward manager event.
type ForwardEventMsg struct {
	Event forward.Event
}

type tickMsg time.Time

// forwardEntry is the application core's view of one forward.
type forwardEntry struct {
	localPort   uint16
	status      forward.Status
	connections int
}

// RowType distinguishes port rows from the group separator.
type RowType int

const (
	RowTypePort RowType = iota
	RowTypeSeparator
)

// displayRow is one derived table row. PortIndex points into the
// model's sorted port slice, -1 for the separator.
type displayRow struct {
	Type      RowType
	PortIndex int
}

// portModal is the custom-port input sub-state. Entered from an
// unforwarded row or automatically on a bind error.
type portModal struct {
	remotePort uint16
	buffer     string
	errMsg     string
}
