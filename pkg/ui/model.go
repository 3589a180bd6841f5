package ui

import (
	"fmt"
	"time"

	"sshfwd/pkg/forward"
	"sshfwd/pkg/logging"
	"sshfwd/pkg/protocol"
	"sshfwd/pkg/store"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Swappable clock for staleness tests.
var nowFunc = time.Now

// Model is the single authoritative application state. It is mutated
// only inside Update; every other goroutine talks to it through
// messages on the events channel.
type Model struct {
	destination string
	hostname    string
	username    string

	connState        ConnectionState
	disconnectReason string

	ports     []protocol.ListeningPort
	prevPorts []protocol.ListeningPort
	forwards  map[uint16]*forwardEntry

	displayRows   []displayRow
	selectedIndex int
	portsTable    table.Model

	modal *portModal
	spin  spinner.Model

	notificationsEnabled bool
	statusMsg            string
	errorMsg             string

	lastScanAt time.Time
	startedAt  time.Time

	store    *store.Store
	commands chan<- forward.Command
	events   <-chan tea.Msg

	width  int
	height int
}

// NewModel wires the application core to the forward command channel,
// the external event channel, and the persistence store. Persisted
// forwards come back as Paused; the first scan reactivates the ones
// whose remote port still exists.
func NewModel(destination string, commands chan<- forward.Command, events <-chan tea.Msg, st *store.Store, persisted []store.PersistedForward, notify bool) *Model {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color(ColorBorder)).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color(ColorSelectedFg)).
		Background(lipgloss.Color(ColorSelectedBg)).
		Bold(false)

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := &Model{
		destination:          destination,
		connState:            StateConnecting,
		forwards:             make(map[uint16]*forwardEntry),
		spin:                 sp,
		notificationsEnabled: notify,
		startedAt:            time.Now(),
		store:                st,
		commands:             commands,
		events:               events,
		width:                80,
		height:               24,
	}

	for _, pf := range persisted {
		m.forwards[pf.RemotePort] = &forwardEntry{
			localPort: pf.LocalPort,
			status:    forward.StatusPaused,
		}
	}

	m.portsTable = table.New(
		table.WithColumns(m.tableColumns()),
		table.WithFocused(true),
		table.WithHeight(10),
		table.WithStyles(s),
	)
	return m
}

func (m *Model) tableColumns() []table.Column {
	commandWidth := m.width - (9 + 8 + 7 + 9) - 12
	if commandWidth < 20 {
		commandWidth = 20
	}
	return []table.Column{
		{Title: ColFwd, Width: 9},
		{Title: ColPort, Width: 8},
		{Title: ColProto, Width: 7},
		{Title: ColPID, Width: 9},
		{Title: ColCommand, Width: commandWidth},
	}
}

// waitForEvent blocks on the external event channel. Re-issued after
// every delivered message so the bridge never stalls.
func waitForEvent(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-events
		if !ok {
			return nil
		}
		return msg
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, tickCmd(), waitForEvent(m.events))
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		tableHeight := m.height - ViewOffset
		if tableHeight < MinTableHeight {
			tableHeight = MinTableHeight
		}
		m.portsTable.SetHeight(tableHeight)
		m.portsTable.SetColumns(m.tableColumns())
		m.refreshTable()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		if m.hasStartingForward() || m.connState == StateConnecting {
			m.refreshTable()
		}
		return m, cmd

	case tickMsg:
		m.handleTick()
		return m, tickCmd()

	case tea.KeyMsg:
		if m.modal != nil {
			return m.updateModal(msg)
		}
		return m.updateNormal(msg)

	case ScanMsg:
		m.handleScan(msg.Scan)
		return m, waitForEvent(m.events)

	case ScanWarningMsg:
		logging.LogDebug("discovery warning: %s", msg.Text)
		return m, waitForEvent(m.events)

	case ScanFailedMsg:
		m.connState = StateDisconnected
		m.disconnectReason = msg.Reason
		logging.LogError("discovery failed: %s", msg.Reason)
		return m, waitForEvent(m.events)

	case ForwardEventMsg:
		m.handleForwardEvent(msg.Event)
		return m, waitForEvent(m.events)
	}

	return m, nil
}

func (m *Model) hasStartingForward() bool {
	for _, e := range m.forwards {
		if e.status == forward.StatusStarting {
			return true
		}
	}
	return false
}

// handleTick flips Connected to Disconnected when scans stop arriving.
func (m *Model) handleTick() {
	if m.connState == StateConnected && !m.lastScanAt.IsZero() &&
		nowFunc().Sub(m.lastScanAt) >= stalenessThreshold {
		m.connState = StateDisconnected
		m.disconnectReason = "no scan data received"
		logging.LogError("connection stale: no scan for %s", stalenessThreshold)
	}
}

// remoteHost is the host direct-tcpip channels target. The scan's
// hostname once known, the destination before that.
func (m *Model) remoteHost() string {
	if m.hostname != "" {
		return m.hostname
	}
	return m.destination
}

func (m *Model) dispatch(cmd forward.Command) {
	select {
	case m.commands <- cmd:
	default:
		logging.LogError("forward command channel full, dropping command kind %d", cmd.Kind)
	}
}

// persist rewrites the destination's saved forwards from the current
// map. Bind errors never reach the map, so nothing broken is saved.
func (m *Model) persist() {
	if m.store == nil {
		return
	}
	forwards := make([]store.PersistedForward, 0, len(m.forwards))
	for remotePort, entry := range m.forwards {
		forwards = append(forwards, store.PersistedForward{
			RemotePort: remotePort,
			LocalPort:  entry.localPort,
		})
	}
	if err := m.store.Save(m.destination, forwards); err != nil {
		logging.LogError("failed to persist forwards: %v", err)
		m.errorMsg = fmt.Sprintf("persist failed: %v", err)
	}
}
