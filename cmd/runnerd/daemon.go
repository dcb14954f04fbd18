package main

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
)

// daemonArgs builds the detached child's argument list from scratch rather
// than filtering the parent's, so --daemonize can never propagate and restart
// the cycle. The config path and pid file carry through; --logfile does not,
// because the parent already wires the child's stdout/stderr to that file.
func daemonArgs(flags *ServeFlags) []string {
	args := []string{"serve"}
	if flags.ConfigPath != "" {
		args = append(args, "--config="+flags.ConfigPath)
	}
	if flags.PidFile != "" {
		args = append(args, "--pidfile="+flags.PidFile)
	}
	return args
}

// spawnDaemon re-executes the current binary as a detached serve process in
// its own session. The child writes its own pid file once it is listening;
// the parent only reports the pid and returns.
func spawnDaemon(flags *ServeFlags) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	cmd := exec.Command(self, daemonArgs(flags)...) // #nosec G204 -- re-exec of self
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = nil
	if flags.LogFile != "" {
		// #nosec G304 -- operator-chosen log destination
		logF, err := os.OpenFile(flags.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open daemon log %s: %w", flags.LogFile, err)
		}
		defer func() { _ = logF.Close() }()
		cmd.Stdout = logF
		cmd.Stderr = logF
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn daemon: %w", err)
	}
	fmt.Printf("daemon started, pid %d\n", cmd.Process.Pid)
	return nil
}

func writePidFile(path string, pid int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644)
}

func removePidFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
