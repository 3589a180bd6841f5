// Package sshx wraps one multiplexed SSH connection behind the two
// capabilities the rest of the program needs: exec channels and
// direct-tcpip channels.
package sshx

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"sshfwd/pkg/logging"
)

// Session is one live SSH connection. All exec and direct-tcpip channels
// are multiplexed over it; no further network connections are opened.
type Session struct {
	client *ssh.Client
	target Target
}

// ExecResult is the outcome of a remote command run to completion.
type ExecResult struct {
	Stdout  []byte
	Stderr  []byte
	Success bool
}

// Connect dials the target and authenticates via the ssh-agent socket
// and/or default identity files.
func Connect(target Target) (*Session, error) {
	auth := authMethods()
	if len(auth) == 0 {
		return nil, fmt.Errorf("no SSH auth available: no agent socket and no usable key in ~/.ssh")
	}

	cfg := &ssh.ClientConfig{
		User: target.User,
		Auth: auth,
		// Host keys are accepted on first use; the tool manages forwards,
		// it is not a host-key policy enforcement point.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         15 * time.Second,
	}

	client, err := ssh.Dial("tcp", target.Addr(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target.Addr(), err)
	}
	logging.LogDebug("sshx: connected to %s as %s", target.Addr(), target.User)
	return &Session{client: client, target: target}, nil
}

func authMethods() []ssh.AuthMethod {
	var methods []ssh.AuthMethod

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		} else {
			logging.LogError("sshx: cannot reach ssh-agent: %v", err)
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return methods
	}
	var signers []ssh.Signer
	for _, name := range []string{"id_ed25519", "id_rsa", "id_ecdsa"} {
		data, err := os.ReadFile(filepath.Join(home, ".ssh", name))
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			logging.LogDebug("sshx: skipping %s: %v", name, err)
			continue
		}
		signers = append(signers, signer)
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}
	return methods
}

// Exec runs a command over a fresh exec channel and waits for it.
// A non-zero exit status is not an error; it is reported via Success.
func (s *Session) Exec(cmd string) (ExecResult, error) {
	return s.exec(cmd, nil)
}

// ExecWithStdin runs a command feeding it the given bytes on stdin.
func (s *Session) ExecWithStdin(cmd string, stdin []byte) (ExecResult, error) {
	return s.exec(cmd, stdin)
}

func (s *Session) exec(cmd string, stdin []byte) (ExecResult, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to open exec channel: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr
	if stdin != nil {
		sess.Stdin = bytes.NewReader(stdin)
	}

	err = sess.Run(cmd)
	res := ExecResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), Success: err == nil}
	if err != nil {
		if _, ok := err.(*ssh.ExitError); ok {
			return res, nil
		}
		return res, fmt.Errorf("remote command failed: %w", err)
	}
	return res, nil
}

// streamCloser ties an exec channel's stdout to its session so that
// closing the reader tears the channel down (which in turn closes the
// remote process's pipe and makes it exit).
type streamCloser struct {
	io.Reader
	sess *ssh.Session
}

func (sc *streamCloser) Close() error {
	return sc.sess.Close()
}

// StartStream starts a long-running remote command and returns its stdout
// as a byte stream. The command keeps running until the stream is closed.
func (s *Session) StartStream(cmd string) (io.ReadCloser, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open exec channel: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("failed to attach to remote stdout: %w", err)
	}
	if err := sess.Start(cmd); err != nil {
		sess.Close()
		return nil, fmt.Errorf("failed to start %q: %w", cmd, err)
	}
	return &streamCloser{Reader: stdout, sess: sess}, nil
}

// OpenDirectTCPIP opens a direct-tcpip channel to (host, port) on the
// remote side, multiplexed over this connection.
func (s *Session) OpenDirectTCPIP(host string, port uint16) (net.Conn, error) {
	conn, err := s.client.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return nil, fmt.Errorf("direct-tcpip to %s:%d failed: %w", host, port, err)
	}
	return conn, nil
}

// Close tears down the SSH connection and every channel on it.
func (s *Session) Close() error {
	return s.client.Close()
}
