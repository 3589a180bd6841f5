package ui

// buildDisplayRows derives the table ordering from the sorted port list
// and the forward map: forwarded ports first, one separator when both
// groups are non-empty, then everything else. Ports arrive sorted by
// (port, pid, protocol), so both groups inherit that order.
func buildDisplayRows(m *Model) []displayRow {
	var forwarded, unforwarded []displayRow
	for i, p := range m.ports {
		row := displayRow{Type: RowTypePort, PortIndex: i}
		if _, ok := m.forwards[p.Port]; ok {
			forwarded = append(forwarded, row)
		} else {
			unforwarded = append(unforwarded, row)
		}
	}

	rows := make([]displayRow, 0, len(forwarded)+1+len(unforwarded))
	rows = append(rows, forwarded...)
	if len(forwarded) > 0 && len(unforwarded) > 0 {
		rows = append(rows, displayRow{Type: RowTypeSeparator, PortIndex: -1})
	}
	rows = append(rows, unforwarded...)
	return rows
}

// selectedPort returns the remote port under the cursor, false on a
// separator or empty table.
func (m *Model) selectedPort() (uint16, bool) {
	if m.selectedIndex < 0 || m.selectedIndex >= len(m.displayRows) {
		return 0, false
	}
	row := m.displayRows[m.selectedIndex]
	if row.Type != RowTypePort {
		return 0, false
	}
	return m.ports[row.PortIndex].Port, true
}

// adjustSelection recomputes the display rows and re-locates the cursor
// by port identity, so highlighting follows a port across group moves.
// When the port is gone the cursor clamps to the last port row.
func (m *Model) adjustSelection(targetPort uint16, haveTarget bool) {
	m.displayRows = buildDisplayRows(m)
	if len(m.displayRows) == 0 {
		m.selectedIndex = 0
		return
	}

	if haveTarget {
		for i, row := range m.displayRows {
			if row.Type == RowTypePort && m.ports[row.PortIndex].Port == targetPort {
				m.selectedIndex = i
				return
			}
		}
	}

	lastPort := 0
	for i, row := range m.displayRows {
		if row.Type == RowTypePort {
			lastPort = i
		}
	}
	if m.selectedIndex > lastPort {
		m.selectedIndex = lastPort
	}
	if m.selectedIndex < len(m.displayRows) && m.displayRows[m.selectedIndex].Type == RowTypeSeparator {
		if m.selectedIndex > 0 {
			m.selectedIndex--
		}
	}
}
