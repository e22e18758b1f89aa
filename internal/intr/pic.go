package intr

import (
	"sync"

	"github.com/es40emu/es40/internal/fabric"
	log "github.com/es40emu/es40/pkg/minilog"
)

// CPUIRQLine is the single CPU-visible line this chipset raises for the
// whole PIC cascade (line 55, per §6's memory map / §4.3).
const CPUIRQLine = 55

const (
	modeSTD = iota
	modeInit0
	modeInit1
	modeInit2
)

// PICPair emulates the two cascaded 8259A controllers found behind the
// ALi M1543C south bridge. Controller 1's output feeds IRQ2 on
// controller 0. "asserted" plays the combined role of IRR/ISR that the
// source used: it is set when an IRQ line is raised and cleared by EOI,
// which is adequate fidelity for guest OSes that don't depend on
// distinguishing in-service from pending (see spec Non-goals).
type PICPair struct {
	mu sync.Mutex

	mask      [2]uint8
	asserted  [2]uint8
	edgeLevel [2]uint8
	mode      [2]int
	intvec    [2]uint8

	cpuLine CPULine
}

func NewPICPair(cpuLine CPULine) *PICPair {
	return &PICPair{cpuLine: cpuLine}
}

// Interrupt raises IRQ number irq (0-15, linear across both controllers,
// matching the pci.InterruptSink contract used for PCI-routed lines as
// well as the south bridge's own fixed IRQ assignments).
func (p *PICPair) Interrupt(irq int, asserted bool) {
	ctrl, local := irq/8, irq%8
	if asserted {
		p.assert(ctrl, local)
	} else {
		p.deassert(ctrl, local)
	}
}

// Assert raises IRQ `local` (0-7) on controller `ctrl` (0 or 1),
// cascading controller 1 through controller 0's IRQ2 and finally
// raising the CPU line, per §4.3 step 3-5.
func (p *PICPair) Assert(ctrl, local int) { p.assert(ctrl, local) }

// Deassert lowers IRQ `local` on controller `ctrl` directly (used by
// level-triggered devices that can retract their own request, as
// distinct from the guest issuing an EOI).
func (p *PICPair) Deassert(ctrl, local int) { p.deassert(ctrl, local) }

func (p *PICPair) assert(ctrl, local int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.assertLocked(ctrl, local)
}

func (p *PICPair) assertLocked(ctrl, local int) {
	bit := uint8(1) << uint(local)

	if p.mask[ctrl]&bit != 0 {
		return // masked
	}
	if p.asserted[ctrl]&bit != 0 {
		return // already asserted
	}
	p.asserted[ctrl] |= bit

	log.Debug("pic: assert ctrl=%d irq=%d", ctrl, local)

	if ctrl == 1 {
		p.assertLocked(0, 2) // cascade pin
	}
	if ctrl == 0 {
		p.cpuLine.SetInterrupt(CPUIRQLine, true)
	}
}

func (p *PICPair) deassert(ctrl, local int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deassertLocked(ctrl, local)
}

func (p *PICPair) deassertLocked(ctrl, local int) {
	bit := uint8(1) << uint(local)
	if p.asserted[ctrl]&bit == 0 {
		return
	}
	p.asserted[ctrl] &^= bit

	if ctrl == 1 && p.asserted[1] == 0 {
		p.deassertLocked(0, 2)
	}
	if ctrl == 0 && p.asserted[0] == 0 {
		p.cpuLine.SetInterrupt(CPUIRQLine, false)
	}
}

// Read implements fabric.Component. rangeID selects which controller's
// 2-byte port window (0 or 1) is being decoded; rangeID 2 selects the
// edge/level register pair at +0x4D0.
func (p *PICPair) Read(rangeID int, offset uint64, size fabric.Size) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if rangeID == edgeLevelRange {
		return uint64(p.edgeLevel[offset])
	}

	ctrl := rangeID
	switch offset {
	case 0:
		return 0 // ISR/IRR select via OCW3 not modeled; not required by supported guests
	case 1:
		return uint64(p.mask[ctrl])
	}
	return 0
}

func (p *PICPair) Write(rangeID int, offset uint64, size fabric.Size, value uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if rangeID == edgeLevelRange {
		p.edgeLevel[offset] = uint8(value)
		return
	}

	ctrl := rangeID
	data := uint8(value)

	switch offset {
	case 0:
		if data&0x10 != 0 {
			// ICW1: begin initialization sequence
			p.mode[ctrl] = modeInit0
			return
		}
		if data&0x08 != 0 {
			// OCW3: ISR/IRR/poll select, not modeled
			return
		}
		// OCW2
		op := (data >> 5) & 7
		level := int(data & 7)
		switch op {
		case 1: // non-specific EOI
			p.asserted[ctrl] = 0
			if ctrl == 1 {
				p.asserted[0] &^= 1 << 2
			}
			if p.asserted[0] == 0 {
				p.cpuLine.SetInterrupt(CPUIRQLine, false)
			}
		case 3: // specific EOI
			p.asserted[ctrl] &^= 1 << uint(level)
			if ctrl == 1 && p.asserted[1] == 0 {
				p.asserted[0] &^= 1 << 2
			}
			if p.asserted[0] == 0 {
				p.cpuLine.SetInterrupt(CPUIRQLine, false)
			}
		}

	case 1:
		switch p.mode[ctrl] {
		case modeInit0:
			p.intvec[ctrl] = data & 0xf8
			p.mode[ctrl] = modeInit1
		case modeInit1:
			p.mode[ctrl] = modeInit2 // ICW3: cascade wiring, fixed on this platform
		case modeInit2:
			p.mode[ctrl] = modeSTD // ICW4
		case modeSTD:
			p.mask[ctrl] = data
			p.asserted[ctrl] &^= data
		}
	}
}

const edgeLevelRange = 2

// ReadVector returns the interrupt vector delivered during a PCI IACK
// cycle: the highest-priority asserted, unmasked bit's base vector plus
// its bit index, consulting controller 1 when controller 0's cascade
// bit (IRQ2) is the lowest set bit.
func (p *PICPair) ReadVector() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()

	a0 := p.asserted[0]
	for bit := 0; bit < 8; bit++ {
		if a0&(1<<uint(bit)) == 0 {
			continue
		}
		if bit == 2 {
			a1 := p.asserted[1]
			for bit1 := 0; bit1 < 8; bit1++ {
				if a1&(1<<uint(bit1)) != 0 {
					return p.intvec[1] + uint8(bit1)
				}
			}
			continue
		}
		return p.intvec[0] + uint8(bit)
	}
	return 0
}

// LineAsserted reports whether the CPU-visible cascade line is held,
// i.e. controller 0 has any unmasked asserted bit. Exposed for the
// invariant in spec §8 and for tests.
func (p *PICPair) LineAsserted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.asserted[0] != 0
}

// IMR returns controller ctrl's current interrupt mask register.
func (p *PICPair) IMR(ctrl int) uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mask[ctrl]
}
