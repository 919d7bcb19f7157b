//go:build unix

package emu

import (
	"errors"

	"golang.org/x/sys/unix"
)

var unixErrnos = map[unix.Errno]int{
	unix.EPERM:        EPERM,
	unix.ENOENT:       ENOENT,
	unix.EIO:          EIO,
	unix.EBADF:        EBADF,
	unix.EACCES:       EACCES,
	unix.EFAULT:       EFAULT,
	unix.EEXIST:       EEXIST,
	unix.ENOTDIR:      ENOTDIR,
	unix.EISDIR:       EISDIR,
	unix.EINVAL:       EINVAL,
	unix.EMFILE:       EMFILE,
	unix.EFBIG:        EFBIG,
	unix.ENOSPC:       ENOSPC,
	unix.ESPIPE:       ESPIPE,
	unix.EROFS:        EROFS,
	unix.EPIPE:        EPIPE,
	unix.ENOSYS:       ENOSYS,
	unix.ENAMETOOLONG: ENAMETOOLONG,
}

// hostErrno maps the host errno carried by err onto newlib numbering.
func hostErrno(err error) (int, bool) {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return 0, false
	}

	if target, ok := unixErrnos[errno]; ok {
		return target, true
	}

	return EIO, true
}
