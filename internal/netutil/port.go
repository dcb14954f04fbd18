// Package netutil provides TCP port probing, allocation and reclamation
// helpers used by the supervisor before spawning and while tearing down
// dev servers.
package netutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const (
	// DefaultMaxPortAttempts bounds the forward scan in FindAvailablePort.
	DefaultMaxPortAttempts = 100
	// DefaultReleaseWait is how long WaitForRelease polls by default.
	DefaultReleaseWait = 10 * time.Second
	// DefaultReleasePoll is the polling interval of WaitForRelease.
	DefaultReleasePoll = 500 * time.Millisecond
)

// probeAddrs are tried in order: loopback first, then wildcard. A server may
// bind either, so both must be clear before a port counts as free.
var probeAddrs = []string{"127.0.0.1", ""}

// IsPortInUse reports whether a listener is currently bound to port on the
// loopback or wildcard address. Bind errors other than EADDRINUSE are treated
// as "not in use" so ambiguous OS errors never block a start.
func IsPortInUse(port int) bool {
	for _, host := range probeAddrs {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			if isAddrInUse(err) {
				return true
			}
			continue
		}
		_ = ln.Close()
	}
	return false
}

// isAddrInUse unwraps the syscall error behind a failed bind.
func isAddrInUse(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		var sysErr *os.SyscallError
		if errors.As(opErr.Err, &sysErr) {
			return errors.Is(sysErr.Err, syscall.EADDRINUSE)
		}
	}
	return strings.Contains(err.Error(), "address already in use")
}

// FindAvailablePort scans start, start+1, ... and returns the first port not
// in use. The scan is order-sensitive: the lowest free port wins.
func FindAvailablePort(start, maxAttempts int) (int, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxPortAttempts
	}
	for p := start; p < start+maxAttempts; p++ {
		if !IsPortInUse(p) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("no available port in range %d-%d", start, start+maxAttempts-1)
}

// WaitForRelease polls until port is free or maxWait elapses. It absorbs the
// window where a previous server on the same port is still shutting down.
func WaitForRelease(ctx context.Context, port int, maxWait, poll time.Duration) bool {
	if maxWait <= 0 {
		maxWait = DefaultReleaseWait
	}
	if poll <= 0 {
		poll = DefaultReleasePoll
	}
	deadline := time.Now().Add(maxWait)
	for {
		if !IsPortInUse(port) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(poll):
		}
	}
}

// PIDsListeningOn returns the PIDs of processes listening on port, discovered
// via lsof. An empty slice means nothing was found (or lsof is unavailable).
func PIDsListeningOn(port int) []int {
	out, err := exec.Command("lsof", "-ti", ":"+strconv.Itoa(port)).Output()
	if err != nil {
		return nil
	}
	var pids []int
	for _, f := range strings.Fields(string(out)) {
		if pid, err := strconv.Atoi(f); err == nil && pid > 0 {
			pids = append(pids, pid)
		}
	}
	return pids
}

// KillByPort sends SIGKILL to every process listening on port. It is the
// last-resort reclamation step for orphaned servers that were never tracked.
func KillByPort(port int) error {
	pids := PIDsListeningOn(port)
	if len(pids) == 0 {
		return fmt.Errorf("no process listening on port %d", port)
	}
	var firstErr error
	for _, pid := range pids {
		if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("kill pid %d on port %d: %w", pid, port, err)
		}
	}
	return firstErr
}
