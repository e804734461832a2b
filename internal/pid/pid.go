package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/jolt/internal/errors"
)

// Write writes the current process ID to the PID file, refusing if a
// live daemon already owns it.
func Write(path string) error {
	errFactory := errors.New()

	if running, _ := Running(path); running {
		return errFactory.New(errors.ErrAlreadyRunning)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		if os.IsPermission(err) {
			return errFactory.Wrap(errors.ErrPermissionDenied, err)
		}
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Running reports whether the PID file points at a live process, and
// that PID.
func Running(path string) (bool, int) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, 0
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false, 0
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, 0
	}
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return false, 0
	}

	return true, pid
}

// Remove removes the PID file.
func Remove(path string) error {
	errFactory := errors.New()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	if err := os.Remove(path); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}
