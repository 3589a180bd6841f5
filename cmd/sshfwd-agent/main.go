// The agent runs on the remote host, enumerating listening ports every
// two seconds and writing one JSON line per scan to stdout. It exits
// when stdout breaks, which is how the client side shuts it down.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"sshfwd/pkg/protocol"
	"sshfwd/pkg/scan"
)

const version = "0.3.0"

const scanInterval = 2 * time.Second

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	once := flag.Bool("once", false, "Emit a single scan and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	writePIDFile()

	scanner := scan.New()
	out := bufio.NewWriter(os.Stdout)

	for {
		result, err := scanner.Scan()
		if err != nil {
			if werr := protocol.EncodeError(out, err.Error()); werr != nil {
				return
			}
		} else {
			if werr := protocol.EncodeScan(out, *result); werr != nil {
				return
			}
		}
		if out.Flush() != nil {
			return
		}

		if *once {
			return
		}
		time.Sleep(scanInterval)
	}
}

// writePIDFile records our pid so the next deployment can tell a live
// agent from a leftover one. Best effort, the loop runs regardless.
func writePIDFile() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	dir := filepath.Join(home, ".sshfwd")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return
	}
	pid := strconv.Itoa(os.Getpid())
	_ = os.WriteFile(filepath.Join(dir, "agent.pid"), []byte(pid), 0644)
}
