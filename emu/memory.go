package emu

import (
	"errors"
	"fmt"

	"github.com/sarchlab/avrsim/insts"
)

// Default memory geometry for the largest classic AVR parts.
const (
	DefaultFlashWords = 128 * 1024
	DefaultDataSize   = 64 * 1024

	// DataSpaceBase is where the data space starts in the harness address
	// map. Addresses below it are flash bytes.
	DataSpaceBase = 0x800000
)

// ErrBadWidth is returned for accesses whose width is not 1, 2, 4 or 8.
var ErrBadWidth = errors.New("unsupported access width")

// AlignmentPolicy selects how multi-byte accesses are checked.
type AlignmentPolicy int

const (
	// AlignNone accepts accesses at any address.
	AlignNone AlignmentPolicy = iota

	// AlignStrict rejects multi-byte accesses that are not naturally
	// aligned with a *BusError.
	AlignStrict
)

// BusError reports a misaligned access under AlignStrict.
type BusError struct {
	Space string
	Addr  uint32
	Width int
}

func (e *BusError) Error() string {
	return fmt.Sprintf("misaligned %d-byte %s access at 0x%X", e.Width, e.Space, e.Addr)
}

func checkAccess(space string, policy AlignmentPolicy, addr uint32, width int) error {
	switch width {
	case 1, 2, 4, 8:
	default:
		return fmt.Errorf("%s access of %d bytes: %w", space, width, ErrBadWidth)
	}

	if policy == AlignStrict && addr%uint32(width) != 0 {
		return &BusError{Space: space, Addr: addr, Width: width}
	}

	return nil
}

func mustPowerOfTwo(what string, n int) {
	if n <= 0 || n&(n-1) != 0 {
		panic(fmt.Sprintf("%s must be a power of two, got %d", what, n))
	}
}

type codeCell struct {
	word  uint16
	inst  insts.Instruction
	valid bool
}

// CodeMemory is the flash. Each word slot carries a memoized decode of its
// contents that is dropped whenever the slot is written.
type CodeMemory struct {
	cells   []codeCell
	mask    uint32
	align   AlignmentPolicy
	decoder *insts.Decoder
}

// NewCodeMemory creates a flash of the given number of 16-bit words.
func NewCodeMemory(words int, align AlignmentPolicy) *CodeMemory {
	mustPowerOfTwo("flash size", words)

	return &CodeMemory{
		cells:   make([]codeCell, words),
		mask:    uint32(words - 1),
		align:   align,
		decoder: insts.NewDecoder(),
	}
}

// Words returns the flash size in words.
func (m *CodeMemory) Words() int {
	return len(m.cells)
}

// Mask returns the word-index mask.
func (m *CodeMemory) Mask() uint32 {
	return m.mask
}

// Fetch returns the decoded instruction at word index pc, decoding the slot
// on first use.
func (m *CodeMemory) Fetch(pc uint32) *insts.Instruction {
	cell := &m.cells[pc&m.mask]
	if !cell.valid {
		cell.inst = m.decoder.Decode(cell.word)
		cell.valid = true
	}

	return &cell.inst
}

// Cached reports whether the slot at pc holds a valid decode.
func (m *CodeMemory) Cached(pc uint32) bool {
	return m.cells[pc&m.mask].valid
}

// Word returns the raw opcode word at word index pc.
func (m *CodeMemory) Word(pc uint32) uint16 {
	return m.cells[pc&m.mask].word
}

// SetWord stores an opcode word and drops the slot's decode.
func (m *CodeMemory) SetWord(pc uint32, word uint16) {
	cell := &m.cells[pc&m.mask]
	cell.word = word
	cell.valid = false
}

// Byte reads the flash byte at a byte address. The low byte of a word is at
// the even address.
func (m *CodeMemory) Byte(addr uint32) uint8 {
	word := m.Word(addr >> 1)
	if addr&1 != 0 {
		return uint8(word >> 8)
	}

	return uint8(word)
}

// SetByte writes one flash byte.
func (m *CodeMemory) SetByte(addr uint32, v uint8) {
	word := m.Word(addr >> 1)
	if addr&1 != 0 {
		word = word&0x00FF | uint16(v)<<8
	} else {
		word = word&0xFF00 | uint16(v)
	}

	m.SetWord(addr>>1, word)
}

// Read reads a little-endian value of width bytes at a byte address.
func (m *CodeMemory) Read(addr uint32, width int) (uint64, error) {
	if err := checkAccess("flash", m.align, addr, width); err != nil {
		return 0, err
	}

	var v uint64
	for i := width - 1; i >= 0; i-- {
		v = v<<8 | uint64(m.Byte(addr+uint32(i)))
	}

	return v, nil
}

// Write writes a little-endian value of width bytes at a byte address.
func (m *CodeMemory) Write(addr uint32, width int, value uint64) error {
	if err := checkAccess("flash", m.align, addr, width); err != nil {
		return err
	}

	for i := 0; i < width; i++ {
		m.SetByte(addr+uint32(i), uint8(value>>(8*i)))
	}

	return nil
}

// Load copies bytes into flash starting at a byte address.
func (m *CodeMemory) Load(addr uint32, data []byte) {
	for i, b := range data {
		m.SetByte(addr+uint32(i), b)
	}
}

// DataMemory is the byte-addressed data space: registers, I/O and SRAM.
type DataMemory struct {
	data  []byte
	mask  uint32
	align AlignmentPolicy
}

// NewDataMemory creates a data space of size bytes.
func NewDataMemory(size int, align AlignmentPolicy) *DataMemory {
	mustPowerOfTwo("data size", size)
	if size <= AddrSREG {
		panic(fmt.Sprintf("data size must cover the I/O registers, got %d", size))
	}

	return &DataMemory{
		data:  make([]byte, size),
		mask:  uint32(size - 1),
		align: align,
	}
}

// Size returns the data space size in bytes.
func (m *DataMemory) Size() int {
	return len(m.data)
}

// Bytes exposes the backing store.
func (m *DataMemory) Bytes() []byte {
	return m.data
}

// Read8 reads one byte. The address wraps at the data space size.
func (m *DataMemory) Read8(addr uint32) uint8 {
	return m.data[addr&m.mask]
}

// Write8 writes one byte. The address wraps at the data space size.
func (m *DataMemory) Write8(addr uint32, v uint8) {
	m.data[addr&m.mask] = v
}

// Read reads a little-endian value of width bytes.
func (m *DataMemory) Read(addr uint32, width int) (uint64, error) {
	if err := checkAccess("data", m.align, addr, width); err != nil {
		return 0, err
	}

	var v uint64
	for i := width - 1; i >= 0; i-- {
		v = v<<8 | uint64(m.Read8(addr+uint32(i)))
	}

	return v, nil
}

// Write writes a little-endian value of width bytes.
func (m *DataMemory) Write(addr uint32, width int, value uint64) error {
	if err := checkAccess("data", m.align, addr, width); err != nil {
		return err
	}

	for i := 0; i < width; i++ {
		m.Write8(addr+uint32(i), uint8(value>>(8*i)))
	}

	return nil
}

// Load copies bytes into the data space.
func (m *DataMemory) Load(addr uint32, data []byte) {
	for i, b := range data {
		m.Write8(addr+uint32(i), b)
	}
}

// Memory bundles flash and data space behind the harness address map:
// byte addresses below DataSpaceBase are flash, DataSpaceBase+n is data
// byte n.
type Memory struct {
	Code *CodeMemory
	Data *DataMemory
}

// NewMemory creates both address spaces.
func NewMemory(flashWords, dataSize int, align AlignmentPolicy) *Memory {
	return &Memory{
		Code: NewCodeMemory(flashWords, align),
		Data: NewDataMemory(dataSize, align),
	}
}

// ReadBuffer reads up to n bytes. Flash and data reads stop at the end of
// their space; addresses outside both spaces read as n zero bytes.
func (m *Memory) ReadBuffer(addr uint32, n int) []byte {
	if n <= 0 {
		return []byte{}
	}

	flashBytes := uint32(m.Code.Words()) << 1

	switch {
	case addr < DataSpaceBase:
		var out []byte
		for ; n > 0 && addr < flashBytes; n-- {
			out = append(out, m.Code.Byte(addr))
			addr++
		}

		return out
	case addr-DataSpaceBase < uint32(m.Data.Size()):
		off := addr - DataSpaceBase
		end := min(int(off)+n, m.Data.Size())
		out := make([]byte, end-int(off))
		copy(out, m.Data.data[off:end])

		return out
	default:
		return make([]byte, n)
	}
}

// WriteBuffer writes data and returns how many bytes were stored. Writes
// outside both spaces are dropped.
func (m *Memory) WriteBuffer(addr uint32, data []byte) int {
	flashBytes := uint32(m.Code.Words()) << 1

	switch {
	case addr < DataSpaceBase:
		n := 0
		for ; n < len(data) && addr < flashBytes; n++ {
			m.Code.SetByte(addr, data[n])
			addr++
		}

		return n
	case addr-DataSpaceBase < uint32(m.Data.Size()):
		off := addr - DataSpaceBase
		return copy(m.Data.data[off:], data)
	default:
		return 0
	}
}
