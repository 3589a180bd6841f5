package sshx

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// ErrBadDestination indicates the destination string could not be resolved
// into a connectable target.
var ErrBadDestination = errors.New("invalid destination")

// Target is a resolved connection destination.
type Target struct {
	User string
	Host string
	Port int
}

// Addr returns the host:port dial address.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// ParseDestination resolves "user@host[:port]". A missing user falls back
// to $USER; a missing port falls back to 22.
func ParseDestination(destination string) (Target, error) {
	t := Target{Port: 22}

	rest := destination
	if user, host, ok := strings.Cut(rest, "@"); ok {
		if user == "" {
			return Target{}, fmt.Errorf("%w: empty user in %q", ErrBadDestination, destination)
		}
		t.User = user
		rest = host
	} else {
		t.User = os.Getenv("USER")
	}

	if host, portStr, ok := strings.Cut(rest, ":"); ok {
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return Target{}, fmt.Errorf("%w: bad port %q in %q", ErrBadDestination, portStr, destination)
		}
		t.Host = host
		t.Port = port
	} else {
		t.Host = rest
	}

	if t.Host == "" {
		return Target{}, fmt.Errorf("%w: empty host in %q", ErrBadDestination, destination)
	}
	if t.User == "" {
		return Target{}, fmt.Errorf("%w: no user in %q and $USER unset", ErrBadDestination, destination)
	}
	return t, nil
}
