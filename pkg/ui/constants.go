package ui

import "time"

// Table column titles
const (
	ColFwd     = "FWD"
	ColPort    = "PORT"
	ColProto   = "PROTO"
	ColPID     = "PID"
	ColCommand = "COMMAND"
)

// Key hints shown in the bottom bar
const (
	ActionNormal = "j/k: Navigate | g/G: Top/Bottom | enter/f: Forward | F: Custom Port | n: Notifications | q: Quit"
	ActionModal  = "enter: Confirm | esc: Cancel"
)

// Connection indicator characters
const (
	CharConnecting   = "◌"
	CharConnected    = "●"
	CharDisconnected = "✕"
)

// A scan is expected every 2s; three missed cadences means the remote
// side is gone.
const stalenessThreshold = 6 * time.Second

// Numeric constants for layout
const (
	MinTableHeight = 4
	ViewOffset     = 6 // non-table lines (title, spacing, status, help)
)

// Lipgloss colors
const (
	ColorBorder     = "240"
	ColorSelectedFg = "229"
	ColorSelectedBg = "57"
	ColorTitle      = "14"  // Cyan
	ColorHelp       = "245" // Grey
	ColorError      = "9"   // Red
	ColorStatus     = "10"  // Green
	ColorActive     = "10"  // Green
	ColorPaused     = "11"  // Yellow
)
