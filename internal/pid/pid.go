// Package pid guards a resource against concurrent runs with a PID file.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/fogpdm/internal/errors"
)

const defaultName = "fogpdm.pid"

// File is an acquired PID file.
type File struct {
	path string
}

// PathFor returns the PID file guarding a result database. An empty
// database path maps to a shared file in the temp directory.
func PathFor(dbPath string) string {
	if dbPath == "" {
		return filepath.Join(os.TempDir(), defaultName)
	}
	return dbPath + ".pid"
}

// Acquire writes the current process ID to path. It fails with
// ErrAlreadyRunning if the file names a live process; a file left behind by
// a dead process is replaced.
func Acquire(path string) (*File, error) {
	errFactory := errors.New()

	if data, err := os.ReadFile(path); err == nil {
		if running(strings.TrimSpace(string(data))) {
			return nil, errFactory.WithData(errors.ErrAlreadyRunning, struct{ Path string }{path})
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, errFactory.Wrap(errors.ErrInternal, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, errFactory.Wrap(errors.ErrInternal, err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, errFactory.WithData(errors.ErrAlreadyRunning, struct{ Path string }{path})
		}
		return nil, errFactory.Wrap(errors.ErrInternal, err)
	}
	defer f.Close()

	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		return nil, errFactory.Wrap(errors.ErrInternal, err)
	}

	return &File{path: path}, nil
}

func running(content string) bool {
	pid, err := strconv.Atoi(content)
	if err != nil || pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// Path returns the file's location.
func (f *File) Path() string {
	return f.path
}

// Release removes the PID file.
func (f *File) Release() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}
	return nil
}
