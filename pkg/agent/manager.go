// Package agent deploys the remote scanner binary and spawns it, making
// sure exactly one correctly-versioned instance is running before the
// discovery stream attaches.
package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"sshfwd/pkg/logging"
	"sshfwd/pkg/sshx"
)

const (
	remoteDir     = ".sshfwd"
	remoteName    = "sshfwd-agent"
	remotePIDFile = ".sshfwd/agent.pid"
)

// Runner is the slice of the SSH session the manager needs. *sshx.Session
// satisfies it; tests substitute a recorder.
type Runner interface {
	Exec(cmd string) (sshx.ExecResult, error)
	ExecWithStdin(cmd string, stdin []byte) (sshx.ExecResult, error)
	StartStream(cmd string) (io.ReadCloser, error)
}

// ErrUnsupportedPlatform is returned when the remote host is not in the
// supported platform set.
var ErrUnsupportedPlatform = errors.New("unsupported remote platform")

// Platform is a detected remote OS/architecture pair.
type Platform struct {
	OS   string
	Arch string
}

func (p Platform) String() string {
	return p.OS + "-" + p.Arch
}

var supportedPlatforms = map[Platform]bool{
	{OS: "linux", Arch: "x86_64"}:   true,
	{OS: "linux", Arch: "aarch64"}:  true,
	{OS: "darwin", Arch: "x86_64"}:  true,
	{OS: "darwin", Arch: "aarch64"}: true,
}

// Manager handles the remote agent binary lifecycle.
type Manager struct {
	runner       Runner
	overridePath string // --agent-path, empty for the prebuilt lookup
}

func NewManager(runner Runner, overridePath string) *Manager {
	return &Manager{runner: runner, overridePath: overridePath}
}

// DeployAndSpawn makes sure the agent binary is current on the remote host,
// clears any stale instance, and spawns a fresh one. The returned stream is
// the agent's stdout; the warnings are non-fatal anomalies the caller may
// surface.
func (m *Manager) DeployAndSpawn() (io.ReadCloser, []string, error) {
	platform, err := m.DetectPlatform()
	if err != nil {
		return nil, nil, err
	}

	binary, err := m.resolveBinary(platform)
	if err != nil {
		return nil, nil, err
	}

	localHash := sha256Hex(binary)
	dir := remoteDir + "/" + platform.Arch
	path := dir + "/" + remoteName

	if remote, err := m.remoteHash(path); err != nil || remote != localHash {
		logging.LogDebug("agent: uploading %d bytes to %s", len(binary), path)
		if err := m.upload(binary, dir, path); err != nil {
			return nil, nil, err
		}
	} else {
		logging.LogDebug("agent: remote binary at %s is current", path)
	}

	warnings := m.killStaleAgent()

	stream, err := m.runner.StartStream(path)
	if err != nil {
		return nil, warnings, fmt.Errorf("agent deployment failed: %w", err)
	}
	return stream, warnings, nil
}

// DetectPlatform runs one diagnostic command and maps its output onto the
// supported platform set.
func (m *Manager) DetectPlatform() (Platform, error) {
	out, err := m.runner.Exec("uname -sm")
	if err != nil {
		return Platform{}, fmt.Errorf("platform detection failed: %w", err)
	}
	fields := strings.Fields(string(out.Stdout))
	if len(fields) < 2 {
		return Platform{}, fmt.Errorf("platform detection failed: unexpected uname output %q",
			strings.TrimSpace(string(out.Stdout)))
	}

	platform := Platform{OS: normalizeOS(fields[0]), Arch: normalizeArch(fields[1])}
	if !supportedPlatforms[platform] {
		return Platform{}, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, platform)
	}
	return platform, nil
}

// resolveBinary loads the agent binary for the platform: the explicit
// override if given, otherwise prebuilt-agents/<os>-<arch>/ next to the
// executable.
func (m *Manager) resolveBinary(platform Platform) ([]byte, error) {
	if m.overridePath != "" {
		data, err := os.ReadFile(m.overridePath)
		if err != nil {
			return nil, fmt.Errorf("agent deployment failed: cannot read %s: %w", m.overridePath, err)
		}
		return data, nil
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("agent deployment failed: %w", err)
	}
	path := filepath.Join(filepath.Dir(exe), "prebuilt-agents", platform.String(), remoteName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agent deployment failed: no agent binary for %s at %s: %w",
			platform, path, err)
	}
	return data, nil
}

// remoteHash probes the installed binary's SHA-256. sha256sum covers Linux,
// the openssl fallback covers macOS.
func (m *Manager) remoteHash(path string) (string, error) {
	cmd := fmt.Sprintf("sha256sum '%s' 2>/dev/null || openssl dgst -sha256 '%s' 2>/dev/null", path, path)
	out, err := m.runner.Exec(cmd)
	if err != nil {
		return "", err
	}
	if !out.Success {
		return "", fmt.Errorf("remote agent not found at %s", path)
	}
	for _, field := range strings.Fields(string(out.Stdout)) {
		if len(field) == 64 && isHex(field) {
			return field, nil
		}
	}
	return "", fmt.Errorf("could not parse remote hash output: %s", strings.TrimSpace(string(out.Stdout)))
}

// upload streams the binary to a temporary path and renames it into place.
// The rename is the only point at which the installed path becomes valid;
// nothing ever executes a partially written file.
func (m *Manager) upload(binary []byte, dir, path string) error {
	if out, err := m.runner.Exec(fmt.Sprintf("mkdir -p '%s'", dir)); err != nil || !out.Success {
		return fmt.Errorf("agent deployment failed: cannot create %s: %s", dir, execFailure(out, err))
	}

	tmp := path + ".tmp"
	if out, err := m.runner.ExecWithStdin(fmt.Sprintf("cat > '%s'", tmp), binary); err != nil || !out.Success {
		return fmt.Errorf("agent deployment failed: upload to %s: %s", tmp, execFailure(out, err))
	}

	out, err := m.runner.Exec(fmt.Sprintf("mv '%s' '%s' && chmod +x '%s'", tmp, path, path))
	if err != nil || !out.Success {
		return fmt.Errorf("agent deployment failed: install at %s: %s", path, execFailure(out, err))
	}
	return nil
}

// killStaleAgent terminates a leftover agent from a previous session. It
// only kills a process whose command name matches the agent's, so a reused
// PID belonging to something else is left alone (with a warning).
func (m *Manager) killStaleAgent() []string {
	out, err := m.runner.Exec("cat " + remotePIDFile)
	if err != nil || !out.Success {
		return nil
	}
	pidStr := strings.TrimSpace(string(out.Stdout))
	pid, err := strconv.ParseUint(pidStr, 10, 32)
	if err != nil {
		return nil
	}

	verify := fmt.Sprintf("cat /proc/%d/comm 2>/dev/null || ps -p %d -o comm= 2>/dev/null", pid, pid)
	out, err = m.runner.Exec(verify)
	if err != nil {
		return nil
	}
	comm := strings.TrimSpace(string(out.Stdout))
	if comm == "" {
		// PID file is leftover from a process that already exited.
		return nil
	}
	if filepath.Base(comm) != remoteName {
		warning := fmt.Sprintf("stale PID file names pid %d but that process is %q; leaving it alone", pid, comm)
		logging.LogError("agent: %s", warning)
		return []string{warning}
	}

	logging.LogDebug("agent: killing stale agent pid %d", pid)
	if _, err := m.runner.Exec(fmt.Sprintf("kill %d", pid)); err != nil {
		logging.LogError("agent: failed to kill stale agent pid %d: %v", pid, err)
	}
	return nil
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

func execFailure(out sshx.ExecResult, err error) string {
	if err != nil {
		return err.Error()
	}
	return strings.TrimSpace(string(out.Stderr))
}

// normalizeOS maps `uname -s` output to the platform set's OS names.
func normalizeOS(raw string) string {
	switch raw {
	case "Linux":
		return "linux"
	case "Darwin":
		return "darwin"
	default:
		return strings.ToLower(raw)
	}
}

// normalizeArch maps `uname -m` output to the platform set's arch names.
func normalizeArch(raw string) string {
	switch raw {
	case "arm64", "aarch64":
		return "aarch64"
	case "x86_64", "amd64":
		return "x86_64"
	default:
		return strings.ToLower(raw)
	}
}
