package chipset

import (
	"sync"

	"github.com/es40emu/es40/internal/fabric"
)

const (
	// DPRBase and DPRRangeLength per spec §6: 1 MiB address window,
	// sparsely decoded one backing byte per 64 bytes of address space
	// (original_source/src/DPR.cpp: `a = address >> 6`).
	DPRBase        = uint64(0x0000_0801_1000_0000)
	DPRRangeLength = uint64(1) << 20
	dprBackingSize = DPRRangeLength >> 6 // 16KiB
)

// DPR is the dual-port SRAM used by SRM console firmware as a
// mailbox/scratch area for system identification, environmental
// telemetry, and the remote-management-style command protocol at the
// top of its address space (command code at offset 0xFE, completion
// code at 0xFC, per DPR.cpp).
type DPR struct {
	mu  sync.Mutex
	ram [dprBackingSize]byte
}

func NewDPR() *DPR {
	d := &DPR{}
	d.seedIdentity()
	return d
}

// seedIdentity fills in the static system-identification fields the
// console reads at boot (CPU/SROM/Pchip/DIM status bytes, cache size,
// memory array descriptors), grounded on DPR.cpp's constructor.
func (d *DPR) seedIdentity() {
	for i := 0; i < 4; i++ {
		base := i * 0x20
		d.ram[base+0x00] = 1    // EV6 BIST
		d.ram[base+0x02] = 1    // STR status
		d.ram[base+0x03] = 1    // CSC status
		d.ram[base+0x04] = 1    // Pchip0 status
		d.ram[base+0x05] = 1    // Pchip1 status
		d.ram[base+0x06] = 1    // DIMx status
		d.ram[base+0x07] = 1    // TIG bus status
		d.ram[base+0x08] = 0xDD // DPR test started
		d.ram[base+0x09] = 1    // DPR status
		d.ram[base+0x0A] = 0xFF // CPU speed status
		d.ram[base+0x16] = 0    // no error
		d.ram[base+0x1F] = 8    // cache size in MB
	}
	if len(d.ram) > 0 {
		d.ram[0] = 1
		d.ram[1] = 0x80 // CPU 0 present
	}
	d.ram[0xDA] = 0xAA // TIG load
	d.ram[0x80] = 0xF0 // DIMM array 0 descriptor
	d.ram[0x81] = 0x01 // 64 MB
	d.ram[0x90] = 0xFF // PSU/vterm present
	d.ram[0x92] = 0x07 // AC inputs valid
}

func (d *DPR) Read(rangeID int, address uint64, size fabric.Size) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	a := address >> 6
	if int(a) >= len(d.ram) {
		return 0
	}
	return uint64(d.ram[a])
}

func (d *DPR) Write(rangeID int, address uint64, size fabric.Size, value uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a := address >> 6
	if int(a) >= len(d.ram) {
		return
	}
	d.ram[a] = byte(value)
	if a == 0xFF {
		d.dispatchCommand()
	}
}

// dispatchCommand handles the RMC-style command protocol at 0xFE
// (command code) / 0xFF (command id), writing a completion code to
// 0xFC. Only command 0 ("no-op"/unsupported) is modeled; anything else
// reports "invalid code" rather than failing silently, since the
// console probes this interface at boot.
func (d *DPR) dispatchCommand() {
	const (
		offCompletionCode = 0xFC
		offResponseID     = 0xFD
		offCommandCode    = 0xFE
		offCommandID      = 0xFF
	)
	d.ram[offResponseID] = d.ram[offCommandID]
	switch d.ram[offCommandCode] {
	case 0x00:
		d.ram[offCompletionCode] = 0x00 // ok
	default:
		d.ram[offCompletionCode] = 0x81 // invalid code
	}
}

func (d *DPR) Bytes(rangeID int) []byte { return d.ram[:] }
