package emu

// Simulator ports in the data space. A store to one of them performs a host
// action after the byte is written.
const (
	PortAbort   = 0x49 // exit(1)
	PortExit    = 0x4F // exit(r25:r24)
	PortSyscall = 0x51 // run the syscall whose number is stored
	PortConsole = 0x52 // write the stored byte to fd 1
)

// store writes a byte on behalf of an instruction and runs the port action
// if addr is a simulator port.
func (e *Emulator) store(addr uint32, v uint8) {
	data := e.memory.Data
	addr &= uint32(data.Size() - 1)
	data.Write8(addr, v)

	switch addr {
	case PortConsole:
		if _, err := e.host.Write(1, []byte{v}); err != nil {
			e.logger.WithError(err).Warn("console write failed")
		}
	case PortExit:
		e.requestExit(int(e.regFile.SignedWord(24)))
	case PortAbort:
		e.requestExit(1)
	case PortSyscall:
		if res := e.syscallHandler.Handle(); res.Exited {
			e.requestExit(res.ExitCode)
		}
	}
}

func (e *Emulator) requestExit(code int) {
	e.pending = &StopReason{Kind: Exited, Code: code}
}
