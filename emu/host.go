package emu

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"sync/atomic"
)

// Target (newlib) errno values.
const (
	EPERM        = 1
	ENOENT       = 2
	EIO          = 5
	EBADF        = 9
	EACCES       = 13
	EFAULT       = 14
	EEXIST       = 17
	ENOTDIR      = 20
	EISDIR       = 21
	EINVAL       = 22
	EMFILE       = 24
	EFBIG        = 27
	ENOSPC       = 28
	ESPIPE       = 29
	EROFS        = 30
	EPIPE        = 32
	ENOSYS       = 88
	ENAMETOOLONG = 91
)

// Host is the set of host services a running program may call into. Host
// failures are reported as errors and converted to target errno values with
// TargetErrno; they never stop the simulation.
type Host interface {
	Read(fd int, p []byte) (int, error)
	Write(fd int, p []byte) (int, error)
	Open(path string, flags int, perm os.FileMode) (int, error)
	Close(fd int) error
	Lseek(fd int, offset int64, whence int) (int64, error)
	Unlink(path string) error
	Ftruncate(fd int, size int64) error
	Truncate(path string, size int64) error
	Getpid() int

	// PollQuit reports whether the host wants the simulation to stop.
	PollQuit() bool
}

// DefaultHost serves the standard streams from the configured reader and
// writers and every other descriptor from an FDTable of host files.
type DefaultHost struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	fds    *FDTable
	quit   atomic.Bool
}

// NewDefaultHost creates a host bound to the given standard streams. A nil
// stdin reads as end of file.
func NewDefaultHost(stdin io.Reader, stdout, stderr io.Writer) *DefaultHost {
	return &DefaultHost{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		fds:    NewFDTable(),
	}
}

// FDTable returns the host's descriptor table.
func (h *DefaultHost) FDTable() *FDTable {
	return h.fds
}

// Read reads from fd.
func (h *DefaultHost) Read(fd int, p []byte) (int, error) {
	if fd != 0 {
		return h.fds.Read(fd, p)
	}

	if !h.fds.IsOpen(0) {
		return 0, ErrBadFD
	}
	if h.stdin == nil {
		return 0, io.EOF
	}

	return h.stdin.Read(p)
}

// Write writes to fd.
func (h *DefaultHost) Write(fd int, p []byte) (int, error) {
	var w io.Writer
	switch fd {
	case 1:
		w = h.stdout
	case 2:
		w = h.stderr
	default:
		return h.fds.Write(fd, p)
	}

	if !h.fds.IsOpen(fd) {
		return 0, ErrBadFD
	}
	if w == nil {
		return len(p), nil
	}

	return w.Write(p)
}

// Open opens a host file.
func (h *DefaultHost) Open(path string, flags int, perm os.FileMode) (int, error) {
	return h.fds.Open(path, flags, perm)
}

// Close closes fd.
func (h *DefaultHost) Close(fd int) error {
	return h.fds.Close(fd)
}

// Lseek repositions fd.
func (h *DefaultHost) Lseek(fd int, offset int64, whence int) (int64, error) {
	return h.fds.Seek(fd, offset, whence)
}

// Unlink removes a host file.
func (h *DefaultHost) Unlink(path string) error {
	return os.Remove(path)
}

// Ftruncate resizes the file behind fd.
func (h *DefaultHost) Ftruncate(fd int, size int64) error {
	return h.fds.Truncate(fd, size)
}

// Truncate resizes a host file by path.
func (h *DefaultHost) Truncate(path string, size int64) error {
	return os.Truncate(path, size)
}

// Getpid returns the host process id.
func (h *DefaultHost) Getpid() int {
	return os.Getpid()
}

// RequestQuit makes the next PollQuit report true. It is safe to call from
// any goroutine.
func (h *DefaultHost) RequestQuit() {
	h.quit.Store(true)
}

// PollQuit reports and clears a pending quit request.
func (h *DefaultHost) PollQuit() bool {
	return h.quit.Swap(false)
}

// CloseAll releases every host file opened by the target.
func (h *DefaultHost) CloseAll() {
	h.fds.CloseAll()
}

// TargetErrno converts a host error into a target errno value. A nil error
// maps to 0 and unrecognized errors map to EIO.
func TargetErrno(err error) int {
	if err == nil {
		return 0
	}

	switch {
	case errors.Is(err, ErrBadFD):
		return EBADF
	case errors.Is(err, ErrIllegalSeek):
		return ESPIPE
	}

	if errno, ok := hostErrno(err); ok {
		return errno
	}

	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ENOENT
	case errors.Is(err, fs.ErrExist):
		return EEXIST
	case errors.Is(err, fs.ErrPermission):
		return EACCES
	case errors.Is(err, fs.ErrInvalid):
		return EINVAL
	case errors.Is(err, fs.ErrClosed):
		return EBADF
	}

	return EIO
}
