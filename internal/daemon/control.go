package daemon

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// EnvMarker is set in the environment of the re-executed child so it
// serves in the foreground instead of detaching again.
const EnvMarker = "CUBQUEUE_DAEMON"

const (
	stopTimeout      = 10 * time.Second
	stopPollInterval = 100 * time.Millisecond
)

var (
	// ErrAlreadyRunning is returned when a live daemon is recorded.
	ErrAlreadyRunning = errors.New("cubqueue daemon is already running")
	// ErrNotRunning is returned when no live daemon is recorded.
	ErrNotRunning = errors.New("cubqueue daemon is not running")
)

// StartDetached re-executes the current binary as a session leader with
// its output appended to the daemon log, records the child PID and
// returns without waiting for it.
func (d *Daemon) StartDetached() (int, error) {
	if pid, ok := d.livePID(); ok {
		return pid, ErrAlreadyRunning
	}

	if err := os.MkdirAll(d.cfg.BaseDir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create base directory: %w", err)
	}

	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("failed to locate executable: %w", err)
	}

	logFile, err := os.OpenFile(d.cfg.LogPath(), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to open daemon log: %w", err)
	}
	defer logFile.Close()

	devNull, err := os.Open(os.DevNull)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	cmd := exec.Command(exe, "start",
		"--base-dir", d.cfg.BaseDir,
		"--host", d.cfg.Host,
		"--port", strconv.Itoa(d.cfg.Port),
	)
	cmd.Env = append(os.Environ(), EnvMarker+"=1")
	cmd.Stdin = devNull
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	// A new session detaches the child from the controlling terminal.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start daemon process: %w", err)
	}

	pid := cmd.Process.Pid
	if err := d.writePID(pid); err != nil {
		cmd.Process.Kill()
		return 0, err
	}
	cmd.Process.Release()

	return pid, nil
}

// Stop signals the recorded daemon to shut down, escalating to SIGKILL
// after the stop timeout, and clears the PID record.
func (d *Daemon) Stop() error {
	pid, err := d.readPID()
	if err != nil {
		return ErrNotRunning
	}
	if !processAlive(pid) {
		d.clearPID()
		return ErrNotRunning
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		d.clearPID()
		return ErrNotRunning
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		d.clearPID()
		return ErrNotRunning
	}

	deadline := time.Now().Add(stopTimeout)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			d.clearPID()
			return nil
		}
		time.Sleep(stopPollInterval)
	}

	d.log.Warn("daemon ignored SIGTERM, killing", "pid", pid)
	if err := proc.Kill(); err != nil {
		d.clearPID()
		return fmt.Errorf("failed to kill daemon process %d: %w", pid, err)
	}
	d.clearPID()
	return nil
}

// IsRunning probes the recorded PID. A stale record left by a crashed
// daemon is cleared as a side effect.
func (d *Daemon) IsRunning() bool {
	pid, err := d.readPID()
	if err != nil {
		return false
	}
	if processAlive(pid) {
		return true
	}
	d.clearPID()
	return false
}

// livePID returns the recorded PID when it names a live process,
// clearing stale records on the way.
func (d *Daemon) livePID() (int, bool) {
	pid, err := d.readPID()
	if err != nil {
		return 0, false
	}
	if !processAlive(pid) {
		d.clearPID()
		return 0, false
	}
	return pid, true
}

func (d *Daemon) readPID() (int, error) {
	data, err := os.ReadFile(d.cfg.PIDPath())
	if err != nil {
		return 0, err
	}
	raw := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(raw)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid record %q", raw)
	}
	return pid, nil
}

func (d *Daemon) writePID(pid int) error {
	if err := os.WriteFile(d.cfg.PIDPath(), []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	return nil
}

func (d *Daemon) clearPID() {
	if err := os.Remove(d.cfg.PIDPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.log.Warn("failed to remove pid file", "error", err)
	}
}

// clearOwnPID removes the record only while it still names this
// process, so a replacement daemon's record survives.
func (d *Daemon) clearOwnPID() {
	if pid, err := d.readPID(); err == nil && pid == os.Getpid() {
		d.clearPID()
	}
}

// processAlive reports whether a process with the given pid exists.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
