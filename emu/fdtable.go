package emu

import (
	"errors"
	"os"
	"sync"
)

// ErrBadFD is returned for file descriptors that are not open.
var ErrBadFD = errors.New("bad file descriptor")

// ErrIllegalSeek is returned when seeking a stream that cannot seek.
var ErrIllegalSeek = errors.New("illegal seek")

// FileDescriptor represents an open file descriptor.
type FileDescriptor struct {
	HostFile *os.File // Host file handle (nil for the standard streams)
	Path     string   // Original path, or stdin/stdout/stderr
	Flags    int      // Host open flags
	IsOpen   bool     // Whether the FD is currently open
}

// FDTable maps target file descriptors to host files.
type FDTable struct {
	fds    map[int]*FileDescriptor
	nextFD int
	mu     sync.Mutex
}

// NewFDTable creates a new file descriptor table with standard streams initialized.
func NewFDTable() *FDTable {
	t := &FDTable{
		fds:    make(map[int]*FileDescriptor),
		nextFD: 3,
	}

	// The standard streams have no host file; the host serves them from
	// its configured reader and writers.
	t.fds[0] = &FileDescriptor{Path: "stdin", IsOpen: true}
	t.fds[1] = &FileDescriptor{Path: "stdout", IsOpen: true}
	t.fds[2] = &FileDescriptor{Path: "stderr", IsOpen: true}

	return t
}

// Open opens a host file and returns a new file descriptor. Descriptors
// are never reused, so a stale fd held by the target cannot alias a newer
// file.
func (t *FDTable) Open(path string, flags int, mode os.FileMode) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	hostFile, err := os.OpenFile(path, flags, mode)
	if err != nil {
		return -1, err
	}

	fd := t.nextFD
	t.nextFD++

	t.fds[fd] = &FileDescriptor{
		HostFile: hostFile,
		Path:     path,
		Flags:    flags,
		IsOpen:   true,
	}

	return fd, nil
}

// Close closes a file descriptor.
func (t *FDTable) Close(fd int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.fds[fd]
	if !exists || !entry.IsOpen {
		return ErrBadFD
	}

	entry.IsOpen = false

	if entry.HostFile == nil {
		return nil
	}

	err := entry.HostFile.Close()
	entry.HostFile = nil

	return err
}

// CloseAll closes every host file and restores the standard streams.
func (t *FDTable) CloseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for fd, entry := range t.fds {
		if fd > 2 && entry.IsOpen && entry.HostFile != nil {
			_ = entry.HostFile.Close()
			entry.HostFile = nil
		}

		entry.IsOpen = fd <= 2
	}
}

// Get returns the file descriptor entry if it exists and is open.
func (t *FDTable) Get(fd int) (*FileDescriptor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.fds[fd]
	if !exists || !entry.IsOpen {
		return nil, false
	}

	return entry, true
}

// IsOpen checks if a file descriptor is open.
func (t *FDTable) IsOpen(fd int) bool {
	_, ok := t.Get(fd)
	return ok
}

// hostFile returns the host file behind fd. Standard streams return nil
// with no error.
func (t *FDTable) hostFile(fd int) (*os.File, error) {
	entry, ok := t.Get(fd)
	if !ok {
		return nil, ErrBadFD
	}

	return entry.HostFile, nil
}

// Read reads from a host file.
func (t *FDTable) Read(fd int, buf []byte) (int, error) {
	f, err := t.hostFile(fd)
	if err != nil {
		return 0, err
	}
	if f == nil {
		return 0, ErrBadFD
	}

	return f.Read(buf)
}

// Write writes to a host file.
func (t *FDTable) Write(fd int, buf []byte) (int, error) {
	f, err := t.hostFile(fd)
	if err != nil {
		return 0, err
	}
	if f == nil {
		return 0, ErrBadFD
	}

	return f.Write(buf)
}

// Seek sets the file position for the given file descriptor.
func (t *FDTable) Seek(fd int, offset int64, whence int) (int64, error) {
	f, err := t.hostFile(fd)
	if err != nil {
		return 0, err
	}
	if f == nil {
		return 0, ErrIllegalSeek
	}

	return f.Seek(offset, whence)
}

// Truncate changes the size of the file behind fd.
func (t *FDTable) Truncate(fd int, size int64) error {
	f, err := t.hostFile(fd)
	if err != nil {
		return err
	}
	if f == nil {
		return os.ErrInvalid
	}

	return f.Truncate(size)
}
