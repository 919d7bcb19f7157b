package emu

import (
	"errors"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Syscall numbers written to the syscall port. They follow newlib's
// libgloss numbering; truncate and ftruncate have no newlib number and use
// the simulator callback numbering.
const (
	SyscallExit      uint8 = 1
	SyscallOpen      uint8 = 2
	SyscallClose     uint8 = 3
	SyscallRead      uint8 = 4
	SyscallWrite     uint8 = 5
	SyscallLseek     uint8 = 6
	SyscallUnlink    uint8 = 7
	SyscallGetpid    uint8 = 8
	SyscallTruncate  uint8 = 24
	SyscallFtruncate uint8 = 25
)

// Target open(2) flags.
const (
	targetOAccMode = 0x0003
	targetOWronly  = 0x0001
	targetORdwr    = 0x0002
	targetOAppend  = 0x0008
	targetOCreat   = 0x0200
	targetOTrunc   = 0x0400
	targetOExcl    = 0x0800
)

// MaxPathLen bounds the NUL-terminated strings read from the data space.
const MaxPathLen = 1024

// SyscallResult represents the result of a syscall execution.
type SyscallResult struct {
	// Exited is true if the syscall caused program termination.
	Exited bool

	// ExitCode is the exit status if Exited is true.
	ExitCode int
}

// SyscallHandler is the interface for handling target syscalls.
type SyscallHandler interface {
	// Handle executes the syscall whose number was just stored to the
	// syscall port. avr-gcc calling convention:
	//   - Syscall number in the syscall port
	//   - 16-bit arguments in r25:r24, r23:r22, r21:r20
	//   - 32-bit arguments in r25..r22 or r23..r20, by position
	//   - Result in r25:r24 (r25..r22 for lseek)
	//   - Target errno in r19:r18, 0 on success
	Handle() SyscallResult
}

// DefaultSyscallHandler forwards syscalls to a Host.
type DefaultSyscallHandler struct {
	regFile *RegFile
	memory  *Memory
	host    Host
	logger  logrus.FieldLogger
}

// NewDefaultSyscallHandler creates a default syscall handler.
func NewDefaultSyscallHandler(
	regFile *RegFile,
	memory *Memory,
	host Host,
	logger logrus.FieldLogger,
) *DefaultSyscallHandler {
	return &DefaultSyscallHandler{
		regFile: regFile,
		memory:  memory,
		host:    host,
		logger:  logger,
	}
}

// Handle executes the syscall indicated by the syscall port.
func (h *DefaultSyscallHandler) Handle() SyscallResult {
	num := h.memory.Data.Read8(PortSyscall)

	switch num {
	case SyscallExit:
		return h.handleExit()
	case SyscallOpen:
		h.handleOpen()
	case SyscallClose:
		h.handleClose()
	case SyscallRead:
		h.handleRead()
	case SyscallWrite:
		h.handleWrite()
	case SyscallLseek:
		h.handleLseek()
	case SyscallUnlink:
		h.handleUnlink()
	case SyscallGetpid:
		h.setResult(int16(h.host.Getpid()))
	case SyscallTruncate:
		h.handleTruncate()
	case SyscallFtruncate:
		h.handleFtruncate()
	default:
		h.handleUnknown(num)
	}

	return SyscallResult{}
}

func (h *DefaultSyscallHandler) arg16(i int) uint16 {
	return h.regFile.Word(uint8(24 - 2*i))
}

func (h *DefaultSyscallHandler) arg32(lowReg uint8) uint32 {
	return uint32(h.regFile.Word(lowReg)) | uint32(h.regFile.Word(lowReg+2))<<16
}

// handleExit handles exit(status).
func (h *DefaultSyscallHandler) handleExit() SyscallResult {
	return SyscallResult{
		Exited:   true,
		ExitCode: int(int16(h.arg16(0))),
	}
}

// handleOpen handles open(path, flags, mode).
func (h *DefaultSyscallHandler) handleOpen() {
	path, errno := h.readString(h.arg16(0))
	if errno != 0 {
		h.setError(errno)
		return
	}

	flags := hostOpenFlags(h.arg16(1))
	mode := os.FileMode(h.arg16(2)) & os.ModePerm

	fd, err := h.host.Open(path, flags, mode)
	if err != nil {
		h.setError(TargetErrno(err))
		return
	}

	h.setResult(int16(fd))
}

// handleClose handles close(fd).
func (h *DefaultSyscallHandler) handleClose() {
	if err := h.host.Close(int(int16(h.arg16(0)))); err != nil {
		h.setError(TargetErrno(err))
		return
	}

	h.setResult(0)
}

// maxTransfer keeps read and write counts representable in the signed
// 16-bit result.
const maxTransfer = 0x7FFF

// handleRead handles read(fd, buf, count).
func (h *DefaultSyscallHandler) handleRead() {
	fd := int(int16(h.arg16(0)))
	bufPtr := uint32(h.arg16(1))
	count := min(int(h.arg16(2)), maxTransfer)

	buf := make([]byte, count)
	n, err := h.host.Read(fd, buf)
	if err != nil && !errors.Is(err, io.EOF) && n == 0 {
		h.setError(TargetErrno(err))
		return
	}

	h.memory.Data.Load(bufPtr, buf[:n])
	h.setResult(int16(n))
}

// handleWrite handles write(fd, buf, count).
func (h *DefaultSyscallHandler) handleWrite() {
	fd := int(int16(h.arg16(0)))
	bufPtr := uint32(h.arg16(1))
	count := min(int(h.arg16(2)), maxTransfer)

	buf := make([]byte, count)
	for i := range buf {
		buf[i] = h.memory.Data.Read8(bufPtr + uint32(i))
	}

	n, err := h.host.Write(fd, buf)
	if err != nil && n == 0 {
		h.setError(TargetErrno(err))
		return
	}

	h.setResult(int16(n))
}

// handleLseek handles lseek(fd, offset, whence). The offset and result are
// 32-bit.
func (h *DefaultSyscallHandler) handleLseek() {
	fd := int(int16(h.arg16(0)))
	offset := int64(int32(h.arg32(20)))
	whence := int(int16(h.regFile.Word(18)))

	pos, err := h.host.Lseek(fd, offset, whence)
	if err != nil {
		h.setResult32(-1)
		h.setErrno(TargetErrno(err))
		return
	}

	h.setResult32(int32(pos))
	h.setErrno(0)
}

// handleUnlink handles unlink(path).
func (h *DefaultSyscallHandler) handleUnlink() {
	path, errno := h.readString(h.arg16(0))
	if errno != 0 {
		h.setError(errno)
		return
	}

	if err := h.host.Unlink(path); err != nil {
		h.setError(TargetErrno(err))
		return
	}

	h.setResult(0)
}

// handleTruncate handles truncate(path, length).
func (h *DefaultSyscallHandler) handleTruncate() {
	path, errno := h.readString(h.arg16(0))
	if errno != 0 {
		h.setError(errno)
		return
	}

	if err := h.host.Truncate(path, int64(int32(h.arg32(20)))); err != nil {
		h.setError(TargetErrno(err))
		return
	}

	h.setResult(0)
}

// handleFtruncate handles ftruncate(fd, length).
func (h *DefaultSyscallHandler) handleFtruncate() {
	fd := int(int16(h.arg16(0)))

	if err := h.host.Ftruncate(fd, int64(int32(h.arg32(20)))); err != nil {
		h.setError(TargetErrno(err))
		return
	}

	h.setResult(0)
}

// handleUnknown handles unrecognized syscalls.
func (h *DefaultSyscallHandler) handleUnknown(num uint8) {
	h.logger.WithField("syscall", num).Warn("unknown syscall")
	h.setError(ENOSYS)
}

// readString reads a NUL-terminated string from the data space.
func (h *DefaultSyscallHandler) readString(addr uint16) (string, int) {
	var buf []byte

	for i := 0; i < MaxPathLen; i++ {
		b := h.memory.Data.Read8(uint32(addr) + uint32(i))
		if b == 0 {
			return string(buf), 0
		}

		buf = append(buf, b)
	}

	return "", ENAMETOOLONG
}

func (h *DefaultSyscallHandler) setResult(v int16) {
	h.regFile.SetWord(24, uint16(v))
	h.setErrno(0)
}

func (h *DefaultSyscallHandler) setResult32(v int32) {
	h.regFile.SetWord(22, uint16(v))
	h.regFile.SetWord(24, uint16(uint32(v)>>16))
}

func (h *DefaultSyscallHandler) setErrno(errno int) {
	h.regFile.SetWord(18, uint16(errno))
}

// setError returns -1 and records errno.
func (h *DefaultSyscallHandler) setError(errno int) {
	h.regFile.SetWord(24, 0xFFFF)
	h.setErrno(errno)
}

// hostOpenFlags translates target open flags to host os flags.
func hostOpenFlags(flags uint16) int {
	var host int

	switch flags & targetOAccMode {
	case targetOWronly:
		host = os.O_WRONLY
	case targetORdwr:
		host = os.O_RDWR
	default:
		host = os.O_RDONLY
	}

	if flags&targetOAppend != 0 {
		host |= os.O_APPEND
	}
	if flags&targetOCreat != 0 {
		host |= os.O_CREATE
	}
	if flags&targetOTrunc != 0 {
		host |= os.O_TRUNC
	}
	if flags&targetOExcl != 0 {
		host |= os.O_EXCL
	}

	return host
}
