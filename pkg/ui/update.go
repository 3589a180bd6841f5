package ui

import (
	"fmt"
	"strconv"
	"strings"

	"sshfwd/pkg/forward"
	"sshfwd/pkg/logging"
	"sshfwd/pkg/protocol"

	tea "github.com/charmbracelet/bubbletea"
)

// handleScan absorbs one scan snapshot: updates identity and connection
// state, reconciles forwards against the reported ports, and rebuilds
// the display ordering around the previously selected port.
func (m *Model) handleScan(scan protocol.ScanResult) {
	prevSelected, haveSelected := m.selectedPort()

	m.hostname = scan.Hostname
	m.username = scan.Username
	m.lastScanAt = nowFunc()
	m.connState = StateConnected
	m.disconnectReason = ""

	for _, w := range scan.Warnings {
		logging.LogDebug("scan warning from %s: %s", scan.Hostname, w)
	}

	// Ports come normalized from the codec; subsets keep that order.
	m.ports = scan.Ports

	current := make(map[uint16]bool, len(m.ports))
	for _, p := range m.ports {
		current[p.Port] = true
	}

	// Forwards whose remote port vanished go dormant; paused ones whose
	// port came back restart with their remembered local port. No user
	// interaction either way.
	for remotePort, entry := range m.forwards {
		switch entry.status {
		case forward.StatusActive, forward.StatusStarting:
			if !current[remotePort] {
				entry.status = forward.StatusPaused
				m.dispatch(forward.Command{Kind: forward.CmdPause, RemotePort: remotePort})
			}
		case forward.StatusPaused:
			if current[remotePort] {
				entry.status = forward.StatusStarting
				m.dispatch(forward.Command{
					Kind:       forward.CmdReactivate,
					RemotePort: remotePort,
					LocalPort:  entry.localPort,
					RemoteHost: m.remoteHost(),
				})
			}
		}
	}

	if m.notificationsEnabled {
		if summary := diffPorts(m.prevPorts, m.ports); summary != "" {
			m.statusMsg = summary
		}
	}
	m.prevPorts = m.ports

	m.adjustSelection(prevSelected, haveSelected)
	m.refreshTable()
}

// diffPorts summarizes port appearances and disappearances between two
// scans for the status line. Empty when nothing changed or on the very
// first scan.
func diffPorts(prev, curr []protocol.ListeningPort) string {
	if prev == nil {
		return ""
	}
	prevSet := make(map[uint16]protocol.ListeningPort, len(prev))
	for _, p := range prev {
		prevSet[p.Port] = p
	}
	currSet := make(map[uint16]protocol.ListeningPort, len(curr))
	for _, p := range curr {
		currSet[p.Port] = p
	}

	var changes []string
	for _, p := range curr {
		if _, ok := prevSet[p.Port]; !ok {
			changes = append(changes, fmt.Sprintf("+%d (%s)", p.Port, p.CommandDisplay()))
		}
	}
	for _, p := range prev {
		if _, ok := currSet[p.Port]; !ok {
			changes = append(changes, fmt.Sprintf("-%d", p.Port))
		}
	}
	if len(changes) == 0 {
		return ""
	}
	return "Ports: " + strings.Join(changes, " ")
}

func (m *Model) handleForwardEvent(evt forward.Event) {
	switch evt.Kind {
	case forward.EventStarted:
		if entry, ok := m.forwards[evt.RemotePort]; ok {
			entry.localPort = evt.LocalPort
			entry.status = forward.StatusActive
		}
		m.persist()

	case forward.EventStopped:
		delete(m.forwards, evt.RemotePort)
		m.persist()
		m.adjustSelection(evt.RemotePort, true)

	case forward.EventPaused:
		if entry, ok := m.forwards[evt.RemotePort]; ok {
			entry.status = forward.StatusPaused
		}

	case forward.EventBindError:
		// The failed entry is dropped; the modal holds the failed port
		// and error so the operator can pick another.
		buffer := strconv.Itoa(int(evt.RemotePort))
		if entry, ok := m.forwards[evt.RemotePort]; ok {
			buffer = strconv.Itoa(int(entry.localPort))
		}
		delete(m.forwards, evt.RemotePort)
		m.modal = &portModal{
			remotePort: evt.RemotePort,
			buffer:     buffer,
			errMsg:     evt.Message,
		}
		m.adjustSelection(evt.RemotePort, true)

	case forward.EventConnCount:
		if entry, ok := m.forwards[evt.RemotePort]; ok {
			entry.connections = evt.Connections
		}
	}
	m.refreshTable()
}

func (m *Model) updateNormal(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc", "ctrl+c":
		return m, tea.Quit

	case "j", "down":
		m.moveSelection(1)

	case "k", "up":
		m.moveSelection(-1)

	case "g":
		m.selectedIndex = 0
		m.refreshTable()

	case "G":
		for i := len(m.displayRows) - 1; i >= 0; i-- {
			if m.displayRows[i].Type == RowTypePort {
				m.selectedIndex = i
				break
			}
		}
		m.refreshTable()

	case "enter", "f":
		m.toggleSelectedForward()

	case "F":
		if remotePort, ok := m.selectedPort(); ok {
			if _, exists := m.forwards[remotePort]; !exists {
				m.modal = &portModal{
					remotePort: remotePort,
					buffer:     strconv.Itoa(int(remotePort)),
				}
			}
		}

	case "n":
		m.notificationsEnabled = !m.notificationsEnabled
		if m.notificationsEnabled {
			m.statusMsg = "Notifications on"
		} else {
			m.statusMsg = "Notifications off"
		}
	}
	return m, nil
}

// toggleSelectedForward starts a same-port forward on an unforwarded
// row and stops an existing one.
func (m *Model) toggleSelectedForward() {
	remotePort, ok := m.selectedPort()
	if !ok {
		return
	}
	m.errorMsg = ""
	m.statusMsg = ""

	if _, exists := m.forwards[remotePort]; exists {
		m.dispatch(forward.Command{Kind: forward.CmdStop, RemotePort: remotePort})
		return
	}

	m.forwards[remotePort] = &forwardEntry{
		localPort: remotePort,
		status:    forward.StatusStarting,
	}
	m.dispatch(forward.Command{
		Kind:       forward.CmdStart,
		RemotePort: remotePort,
		LocalPort:  remotePort,
		RemoteHost: m.remoteHost(),
	})
	m.adjustSelection(remotePort, true)
	m.refreshTable()
}

// moveSelection steps the cursor, hopping over the separator row.
func (m *Model) moveSelection(delta int) {
	if len(m.displayRows) == 0 {
		return
	}
	next := m.selectedIndex + delta
	if next >= 0 && next < len(m.displayRows) && m.displayRows[next].Type == RowTypeSeparator {
		next += delta
	}
	if next < 0 || next >= len(m.displayRows) {
		return
	}
	m.selectedIndex = next
	m.refreshTable()
}

func (m *Model) updateModal(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case msg.String() == "esc":
		m.modal = nil

	case msg.String() == "enter":
		m.confirmModal()

	case msg.String() == "backspace":
		if len(m.modal.buffer) > 0 {
			m.modal.buffer = m.modal.buffer[:len(m.modal.buffer)-1]
		}
		m.modal.errMsg = ""

	case len(msg.Runes) == 1 && msg.Runes[0] >= '0' && msg.Runes[0] <= '9':
		if len(m.modal.buffer) < 5 {
			m.modal.buffer += string(msg.Runes)
		}
		// Any edit clears the displayed error without resubmitting.
		m.modal.errMsg = ""
	}
	return m, nil
}

// confirmModal validates the buffer as a port and issues the Start. A
// forward already on that remote port is stopped first, so the new bind
// and the old teardown are ordered by the manager's command loop.
func (m *Model) confirmModal() {
	localPort, err := strconv.ParseUint(m.modal.buffer, 10, 16)
	if err != nil || localPort == 0 {
		m.modal.errMsg = fmt.Sprintf("invalid port: %q", m.modal.buffer)
		return
	}

	remotePort := m.modal.remotePort
	if _, exists := m.forwards[remotePort]; exists {
		m.dispatch(forward.Command{Kind: forward.CmdStop, RemotePort: remotePort})
	}
	m.forwards[remotePort] = &forwardEntry{
		localPort: uint16(localPort),
		status:    forward.StatusStarting,
	}
	m.dispatch(forward.Command{
		Kind:       forward.CmdStart,
		RemotePort: remotePort,
		LocalPort:  uint16(localPort),
		RemoteHost: m.remoteHost(),
	})

	m.modal = nil
	m.adjustSelection(remotePort, true)
	m.refreshTable()
}
