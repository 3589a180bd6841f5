package forward

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoDialer stands in for the SSH session: every direct-tcpip open is a
// plain TCP connection to a local echo server.
type echoDialer struct {
	addr string
}

func (d *echoDialer) OpenDirectTCPIP(host string, port uint16) (net.Conn, error) {
	return net.Dial("tcp", d.addr)
}

func startEchoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				buf := make([]byte, 256)
				for {
					n, err := conn.Read(buf)
					if err != nil {
						conn.Close()
						return
					}
					conn.Write(buf[:n])
				}
			}()
		}
	}()
	return ln.Addr().String()
}

func startManager(t *testing.T) (*Manager, chan Event) {
	t.Helper()
	events := make(chan Event, 64)
	m := NewManager(&echoDialer{addr: startEchoServer(t)}, events)
	go m.Run()
	t.Cleanup(func() { close(m.commands) })
	return m, events
}

// waitEvent returns the next event of the wanted kind, skipping connection
// count updates, which arrive at unpredictable points.
func waitEvent(t *testing.T, events chan Event, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == EventConnCount {
				continue
			}
			require.Equal(t, kind, ev.Kind, "unexpected event %+v", ev)
			return ev
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %d", kind)
		}
	}
}

func TestStartForwardsTraffic(t *testing.T) {
	m, events := startManager(t)

	m.Commands() <- Command{Kind: CmdStart, RemotePort: 5432, LocalPort: 0, RemoteHost: "localhost"}
	started := waitEvent(t, events, EventStarted)
	assert.Equal(t, uint16(5432), started.RemotePort)
	require.NotZero(t, started.LocalPort)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", started.LocalPort))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))
}

func TestBindErrorOnOccupiedPort(t *testing.T) {
	m, events := startManager(t)

	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()
	port := uint16(taken.Addr().(*net.TCPAddr).Port)

	m.Commands() <- Command{Kind: CmdStart, RemotePort: 9090, LocalPort: port, RemoteHost: "localhost"}
	ev := waitEvent(t, events, EventBindError)
	assert.Equal(t, uint16(9090), ev.RemotePort)
	assert.Equal(t, port, ev.LocalPort)
	assert.NotEmpty(t, ev.Message)
}

func TestStopReleasesPort(t *testing.T) {
	m, events := startManager(t)

	m.Commands() <- Command{Kind: CmdStart, RemotePort: 8080, LocalPort: 0, RemoteHost: "localhost"}
	started := waitEvent(t, events, EventStarted)

	m.Commands() <- Command{Kind: CmdStop, RemotePort: 8080}
	waitEvent(t, events, EventStopped)

	// Stop closed the listener before emitting the event, so the port is
	// free again.
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", started.LocalPort))
	require.NoError(t, err)
	ln.Close()
}

func TestPauseRemembersLocalPort(t *testing.T) {
	m, events := startManager(t)

	m.Commands() <- Command{Kind: CmdStart, RemotePort: 6379, LocalPort: 0, RemoteHost: "localhost"}
	started := waitEvent(t, events, EventStarted)

	m.Commands() <- Command{Kind: CmdPause, RemotePort: 6379}
	waitEvent(t, events, EventPaused)

	// Reactivation ignores the command's local port in favor of the one
	// the forward had before the pause.
	m.Commands() <- Command{Kind: CmdReactivate, RemotePort: 6379, LocalPort: 0, RemoteHost: "localhost"}
	again := waitEvent(t, events, EventStarted)
	assert.Equal(t, started.LocalPort, again.LocalPort)
}

func TestReactivateWithoutHandleUsesCommandPort(t *testing.T) {
	m, events := startManager(t)

	free, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := uint16(free.Addr().(*net.TCPAddr).Port)
	free.Close()

	m.Commands() <- Command{Kind: CmdReactivate, RemotePort: 3306, LocalPort: port, RemoteHost: "localhost"}
	started := waitEvent(t, events, EventStarted)
	assert.Equal(t, port, started.LocalPort)
}

func TestDoubleStartIsLastWins(t *testing.T) {
	m, events := startManager(t)

	m.Commands() <- Command{Kind: CmdStart, RemotePort: 4000, LocalPort: 0, RemoteHost: "localhost"}
	first := waitEvent(t, events, EventStarted)

	// The second start reuses the exact port the first one bound. The old
	// listener must be gone before the new bind or this flakes.
	m.Commands() <- Command{Kind: CmdStart, RemotePort: 4000, LocalPort: first.LocalPort, RemoteHost: "localhost"}
	second := waitEvent(t, events, EventStarted)
	assert.Equal(t, first.LocalPort, second.LocalPort)
}
