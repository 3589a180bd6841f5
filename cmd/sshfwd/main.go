package main

import (
	"flag"
	"fmt"
	"os"

	"sshfwd/pkg/agent"
	"sshfwd/pkg/discovery"
	"sshfwd/pkg/forward"
	"sshfwd/pkg/logging"
	"sshfwd/pkg/sshx"
	"sshfwd/pkg/store"
	"sshfwd/pkg/ui"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	agentPath := flag.String("agent-path", "", "Path to a locally built agent binary (overrides the bundled one)")
	noNotify := flag.Bool("no-notify", false, "Disable port change notifications in the status line")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <[user@]hostname[:port]>\n\nOptions:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	destination := flag.Arg(0)

	logging.Init()
	logging.LogDebug("sshfwd starting, destination %s", destination)

	if *agentPath != "" {
		if _, err := os.Stat(*agentPath); err != nil {
			fatalf("Agent binary not found at: %s", *agentPath)
		}
	}

	target, err := sshx.ParseDestination(destination)
	if err != nil {
		fatalf("Invalid destination %q: %v", destination, err)
	}

	// Everything that can fail fatally happens before the TUI owns the
	// terminal: connect, deploy, spawn.
	fmt.Fprintf(os.Stderr, "Connecting to %s...\n", target.Addr())
	session, err := sshx.Connect(target)
	if err != nil {
		fatalf("Connection failed: %v", err)
	}
	defer session.Close()

	fmt.Fprintln(os.Stderr, "Connected. Deploying agent...")
	deployer := agent.NewManager(session, *agentPath)
	agentStdout, warnings, err := deployer.DeployAndSpawn()
	if err != nil {
		fatalf("Deployment failed: %v", err)
	}
	for _, w := range warnings {
		logging.LogError("deploy warning: %s", w)
	}

	st, err := store.Open()
	if err != nil {
		// A broken store loses persistence, not the session.
		logging.LogError("store unavailable: %v", err)
		st = nil
	} else {
		defer st.Close()
	}

	var persisted []store.PersistedForward
	if st != nil {
		persisted, err = st.Load(destination)
		if err != nil {
			logging.LogError("failed to load persisted forwards: %v", err)
		}
	}

	// Bridge: discovery events and forward events both funnel into one
	// tea.Msg channel; the model's waitForEvent drains it.
	events := make(chan tea.Msg, 64)

	forwardEvents := make(chan forward.Event, 64)
	manager := forward.NewManager(session, forwardEvents)
	go manager.Run()
	go func() {
		for evt := range forwardEvents {
			events <- ui.ForwardEventMsg{Event: evt}
		}
	}()

	stream := discovery.New(agentStdout)
	go stream.Run()
	go func() {
		for evt := range stream.Events() {
			events <- discoveryMsg(evt)
		}
	}()

	model := ui.NewModel(destination, manager.Commands(), events, st, persisted, !*noNotify)
	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fatalf("Error: %v", err)
	}

	// Closing the agent's stdout ends the remote loop; the next session
	// cleans up anything left via the stale PID check.
	agentStdout.Close()
}

// discoveryMsg converts a discovery event into the message the model
// consumes. Timeouts surface as warnings; only EventFailed is terminal.
func discoveryMsg(evt discovery.Event) tea.Msg {
	switch evt.Kind {
	case discovery.EventScan:
		return ui.ScanMsg{Scan: evt.Scan}
	case discovery.EventWarning:
		return ui.ScanWarningMsg{Text: evt.Message}
	case discovery.EventTimeout:
		return ui.ScanWarningMsg{Text: fmt.Sprintf("scan timed out (attempt %d)", evt.Timeouts)}
	case discovery.EventFailed:
		return ui.ScanFailedMsg{Reason: evt.Message}
	}
	return nil
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
