package ui

import (
	"fmt"
	"strconv"
	"strings"

	"sshfwd/pkg/forward"
	"sshfwd/pkg/protocol"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// refreshTable projects the display rows into the table widget and
// moves its cursor to the selection. Pure projection; business state is
// only read here.
func (m *Model) refreshTable() {
	rows := make([]table.Row, 0, len(m.displayRows))
	for _, dr := range m.displayRows {
		switch dr.Type {
		case RowTypeSeparator:
			sep := strings.Repeat("─", 7)
			rows = append(rows, table.Row{sep, sep, sep, sep, sep})
		case RowTypePort:
			p := m.ports[dr.PortIndex]
			rows = append(rows, table.Row{
				m.fwdCell(p.Port),
				strconv.Itoa(int(p.Port)),
				string(p.Protocol),
				pidCell(p),
				p.CommandDisplay(),
			})
		}
	}
	m.portsTable.SetRows(rows)
	if len(rows) > 0 {
		m.portsTable.SetCursor(m.selectedIndex)
	}
}

func pidCell(p protocol.ListeningPort) string {
	if p.PID == nil {
		return "-"
	}
	return strconv.Itoa(int(*p.PID))
}

// fwdCell renders the forward status column: "->:port" active,
// "||:port" paused, spinner while starting, blank when unforwarded.
func (m *Model) fwdCell(remotePort uint16) string {
	entry, ok := m.forwards[remotePort]
	if !ok {
		return ""
	}
	switch entry.status {
	case forward.StatusActive:
		cell := fmt.Sprintf("->:%d", entry.localPort)
		if entry.connections > 0 {
			cell = fmt.Sprintf("%s (%d)", cell, entry.connections)
		}
		return cell
	case forward.StatusPaused:
		return fmt.Sprintf("||:%d", entry.localPort)
	default:
		return m.spin.View()
	}
}

func (m *Model) View() string {
	title := m.renderTitle()

	var body string
	switch {
	case m.modal != nil:
		body = m.renderModal()
	case len(m.ports) == 0:
		body = m.renderSplash()
	default:
		body = m.portsTable.View()
	}

	message := m.renderMessage()

	help := ActionNormal
	if m.modal != nil {
		help = ActionModal
	}
	helpText := lipgloss.NewStyle().Foreground(lipgloss.Color(ColorHelp)).Render(help)

	if message != "" {
		return lipgloss.JoinVertical(lipgloss.Left, title, "", body, message, helpText)
	}
	return lipgloss.JoinVertical(lipgloss.Left, title, "", body, helpText)
}

// renderTitle builds the header line: connection indicator, identity,
// port and forward counts.
func (m *Model) renderTitle() string {
	var indicator, color string
	switch m.connState {
	case StateConnecting:
		indicator, color = CharConnecting, ColorPaused
	case StateConnected:
		indicator, color = CharConnected, ColorActive
	default:
		indicator, color = CharDisconnected, ColorError
	}

	conn := m.destination
	if m.username != "" && m.hostname != "" {
		conn = fmt.Sprintf("%s@%s", m.username, m.hostname)
	}

	activeFwd := 0
	for _, e := range m.forwards {
		if e.status == forward.StatusActive {
			activeFwd++
		}
	}

	parts := []string{
		lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render(indicator),
		lipgloss.NewStyle().Foreground(lipgloss.Color(ColorTitle)).Bold(true).Render(conn),
		lipgloss.NewStyle().Foreground(lipgloss.Color(ColorHelp)).Render(fmt.Sprintf("│ %d ports", len(m.ports))),
	}
	if activeFwd > 0 {
		parts = append(parts,
			lipgloss.NewStyle().Foreground(lipgloss.Color(ColorActive)).Render(fmt.Sprintf("│ %d fwd", activeFwd)))
	}
	if m.connState == StateDisconnected && m.disconnectReason != "" {
		parts = append(parts,
			lipgloss.NewStyle().Foreground(lipgloss.Color(ColorError)).Render("│ "+m.disconnectReason))
	}
	return " " + strings.Join(parts, " ")
}

func (m *Model) renderSplash() string {
	var status string
	switch m.connState {
	case StateConnecting:
		status = m.spin.View() + " Connecting..."
	case StateConnected:
		status = "Waiting for ports..."
	default:
		status = "Disconnected"
		if m.disconnectReason != "" {
			status = "Disconnected: " + m.disconnectReason
		}
	}

	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorBorder)).
		Padding(1, 4).
		Render(status)

	height := m.height - ViewOffset
	if height < MinTableHeight {
		height = MinTableHeight
	}
	return lipgloss.Place(m.width, height, lipgloss.Center, lipgloss.Center, box)
}

// renderModal draws the custom-port input centered in the table area.
func (m *Model) renderModal() string {
	var lines []string
	if m.modal.errMsg != "" {
		lines = append(lines,
			lipgloss.NewStyle().Foreground(lipgloss.Color(ColorError)).Render(m.modal.errMsg))
	}
	lines = append(lines, fmt.Sprintf("Local port: %s█", m.modal.buffer))

	content := lipgloss.JoinVertical(lipgloss.Left, lines...)
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorTitle)).
		Padding(1, 2).
		Render(fmt.Sprintf("Forward port %d\n\n%s", m.modal.remotePort, content))

	height := m.height - ViewOffset
	if height < MinTableHeight {
		height = MinTableHeight
	}
	return lipgloss.Place(m.width, height, lipgloss.Center, lipgloss.Center, box)
}

func (m *Model) renderMessage() string {
	if m.errorMsg != "" {
		return lipgloss.NewStyle().Foreground(lipgloss.Color(ColorError)).Render("ERROR: " + m.errorMsg)
	}
	if m.statusMsg != "" {
		return lipgloss.NewStyle().Foreground(lipgloss.Color(ColorStatus)).Render(m.statusMsg)
	}
	return ""
}
