package chipset

import (
	"github.com/es40emu/es40/internal/fabric"
)

// RAM is the byte-addressable, byte-for-byte read/write main memory
// array presented to the bus fabric at address 0. It is deliberately
// dumb: the memory controller's job here is address decode and DMA
// pointer escape, not any particular DRAM timing model, the same way
// DPR and Flash are flat backing arrays behind a thin Read/Write shim.
type RAM struct {
	data []byte
}

// NewRAM allocates a zeroed memory array of the given size in bytes.
func NewRAM(size uint64) *RAM {
	return &RAM{data: make([]byte, size)}
}

func (r *RAM) Read(rangeID int, address uint64, size fabric.Size) uint64 {
	if address+uint64(size) > uint64(len(r.data)) {
		return 0
	}
	return fabric.ReadLE(r.data, int(address), size)
}

func (r *RAM) Write(rangeID int, address uint64, size fabric.Size, value uint64) {
	if address+uint64(size) > uint64(len(r.data)) {
		return
	}
	fabric.WriteLE(r.data, int(address), size, value)
}

func (r *RAM) Bytes(rangeID int) []byte { return r.data }
