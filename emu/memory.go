package emu

import (
	"encoding/binary"
	"fmt"

	"github.com/sarchlab/akita/v4/mem/mem"
)

// Memory is the data memory of a program: a contiguous little-endian
// region starting at a base address.
type Memory struct {
	base    uint64
	size    uint64
	storage *mem.Storage
}

// NewMemory creates size bytes of zeroed memory at base.
func NewMemory(base, size uint64) *Memory {
	return &Memory{base: base, size: size, storage: mem.NewStorage(max(size, 1))}
}

// Base returns the first address.
func (m *Memory) Base() uint64 { return m.base }

// Size returns the number of bytes.
func (m *Memory) Size() uint64 { return m.size }

func (m *Memory) check(addr, n uint64) error {
	if addr < m.base || addr+n > m.base+m.size || addr+n < addr {
		return fmt.Errorf("access of %d bytes at 0x%x is outside [0x%x, 0x%x)",
			n, addr, m.base, m.base+m.size)
	}
	return nil
}

// Read returns n bytes at addr.
func (m *Memory) Read(addr, n uint64) ([]byte, error) {
	if err := m.check(addr, n); err != nil {
		return nil, err
	}
	return m.storage.Read(addr-m.base, n)
}

// Write stores data at addr.
func (m *Memory) Write(addr uint64, data []byte) error {
	if err := m.check(addr, uint64(len(data))); err != nil {
		return err
	}
	return m.storage.Write(addr-m.base, data)
}

// ReadUint reads a size-byte little-endian value.
func (m *Memory) ReadUint(addr uint64, size int) (uint64, error) {
	b, err := m.Read(addr, uint64(size))
	if err != nil {
		return 0, err
	}
	buf := make([]byte, 8)
	copy(buf, b)
	return binary.LittleEndian.Uint64(buf), nil
}

// WriteUint stores the low size bytes of v little-endian.
func (m *Memory) WriteUint(addr uint64, size int, v uint64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return m.Write(addr, buf[:size])
}
