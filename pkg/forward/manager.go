// Package forward owns the local listeners and the per-port forwarding
// state machine. Each forward is an independent concurrent unit: a failure
// in one tunnel never affects the others or the discovery stream.
package forward

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync/atomic"

	"sshfwd/pkg/logging"
)

// Dialer is the direct-tcpip slice of the SSH session. *sshx.Session
// satisfies it; tests substitute a local dialer.
type Dialer interface {
	OpenDirectTCPIP(host string, port uint16) (net.Conn, error)
}

// Status is the lifecycle state of one forward.
type Status int

const (
	StatusStarting Status = iota
	StatusActive
	StatusPaused
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusActive:
		return "active"
	case StatusPaused:
		return "paused"
	}
	return "unknown"
}

// CommandKind discriminates forward commands.
type CommandKind int

const (
	CmdStart CommandKind = iota
	CmdStop
	CmdPause
	CmdReactivate
)

// Command instructs the manager to change one forward's state. Commands
// are issued only by the application core.
type Command struct {
	Kind       CommandKind
	RemotePort uint16
	LocalPort  uint16
	RemoteHost string
}

// EventKind discriminates forward events.
type EventKind int

const (
	EventStarted EventKind = iota
	EventStopped
	EventPaused
	EventBindError
	EventConnCount
)

// Event reports a state change back to the application core.
type Event struct {
	Kind        EventKind
	RemotePort  uint16
	LocalPort   uint16
	Message     string // bind error text
	Connections int
}

// handle tracks one forward. When paused, the listener is gone but the
// local port is remembered for reactivation.
type handle struct {
	localPort  uint16
	remoteHost string
	ln         net.Listener
	cancel     context.CancelFunc
	paused     bool
}

// stop closes the listener synchronously (so the port is free before a
// re-bind) and cancels the per-forward context, which closes any live
// tunnel connections.
func (h *handle) stop() {
	if h.ln != nil {
		h.ln.Close()
		h.ln = nil
	}
	h.cancel()
}

// Manager serializes all forward state changes through its command loop.
type Manager struct {
	dialer   Dialer
	commands chan Command
	events   chan<- Event
	handles  map[uint16]*handle
}

// NewManager wires a manager to the session capability and an event sink.
// Call Run from its own goroutine.
func NewManager(dialer Dialer, events chan<- Event) *Manager {
	return &Manager{
		dialer:   dialer,
		commands: make(chan Command, 64),
		events:   events,
		handles:  make(map[uint16]*handle),
	}
}

// Commands is the channel the application core dispatches into.
func (m *Manager) Commands() chan<- Command {
	return m.commands
}

// Run processes commands until the channel closes, then stops every
// listener.
func (m *Manager) Run() {
	for cmd := range m.commands {
		switch cmd.Kind {
		case CmdStart:
			m.handleStart(cmd.RemotePort, cmd.LocalPort, cmd.RemoteHost)
		case CmdStop:
			m.handleStop(cmd.RemotePort)
		case CmdPause:
			m.handlePause(cmd.RemotePort)
		case CmdReactivate:
			m.handleReactivate(cmd.RemotePort, cmd.LocalPort, cmd.RemoteHost)
		}
	}
	for port, h := range m.handles {
		h.stop()
		delete(m.handles, port)
	}
}

// handleStart binds the loopback listener and starts the accept loop.
// Two Starts for the same remote port in quick succession are last-wins:
// the earlier listener is torn down before the new bind.
func (m *Manager) handleStart(remotePort, localPort uint16, remoteHost string) {
	if h, ok := m.handles[remotePort]; ok {
		h.stop()
		delete(m.handles, remotePort)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", localPort))
	if err != nil {
		// No fallback port, ever: the operator picked this one.
		logging.LogError("forward %d: bind 127.0.0.1:%d: %v", remotePort, localPort, err)
		m.events <- Event{Kind: EventBindError, RemotePort: remotePort, LocalPort: localPort, Message: err.Error()}
		return
	}

	boundPort := uint16(ln.Addr().(*net.TCPAddr).Port)
	ctx, cancel := context.WithCancel(context.Background())
	m.handles[remotePort] = &handle{localPort: boundPort, remoteHost: remoteHost, ln: ln, cancel: cancel}

	m.events <- Event{Kind: EventStarted, RemotePort: remotePort, LocalPort: boundPort}
	logging.LogDebug("forward %d: listening on 127.0.0.1:%d", remotePort, boundPort)

	go m.acceptLoop(ctx, ln, remotePort, remoteHost)
}

func (m *Manager) acceptLoop(ctx context.Context, ln net.Listener, remotePort uint16, remoteHost string) {
	var conns atomic.Int32
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		count := int(conns.Add(1))
		m.notifyConnCount(ctx, remotePort, count)

		go func() {
			m.tunnel(ctx, conn, remoteHost, remotePort)
			m.notifyConnCount(ctx, remotePort, int(conns.Add(-1)))
		}()
	}
}

// notifyConnCount reports the live connection count unless the forward is
// already being torn down.
func (m *Manager) notifyConnCount(ctx context.Context, remotePort uint16, count int) {
	if ctx.Err() != nil {
		return
	}
	m.events <- Event{Kind: EventConnCount, RemotePort: remotePort, Connections: count}
}

// tunnel splices one accepted connection onto a direct-tcpip channel.
// A channel-open failure closes only this socket.
func (m *Manager) tunnel(ctx context.Context, local net.Conn, remoteHost string, remotePort uint16) {
	remote, err := m.dialer.OpenDirectTCPIP(remoteHost, remotePort)
	if err != nil {
		logging.LogError("forward %d: %v", remotePort, err)
		local.Close()
		return
	}

	stop := context.AfterFunc(ctx, func() {
		local.Close()
		remote.Close()
	})
	defer stop()

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(remote, local)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(local, remote)
		done <- struct{}{}
	}()

	// Either direction closing ends the tunnel; closing both conns unblocks
	// the other copy.
	<-done
	local.Close()
	remote.Close()
	<-done
}

func (m *Manager) handleStop(remotePort uint16) {
	if h, ok := m.handles[remotePort]; ok {
		h.stop()
		delete(m.handles, remotePort)
	}
	m.events <- Event{Kind: EventStopped, RemotePort: remotePort}
}

// handlePause tears the listener down but keeps the handle so the local
// port survives for reactivation.
func (m *Manager) handlePause(remotePort uint16) {
	if h, ok := m.handles[remotePort]; ok {
		h.stop()
		h.paused = true
	}
	m.events <- Event{Kind: EventPaused, RemotePort: remotePort}
}

// handleReactivate re-binds with the remembered local port. When there is
// no in-memory handle (fresh process, persisted forward) the command's
// port is used.
func (m *Manager) handleReactivate(remotePort, localPort uint16, remoteHost string) {
	if h, ok := m.handles[remotePort]; ok {
		localPort = h.localPort
	}
	m.handleStart(remotePort, localPort, remoteHost)
}
