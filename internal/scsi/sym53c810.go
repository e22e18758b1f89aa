package scsi

import (
	"sync"

	"github.com/es40emu/es40/internal/devrt"
	"github.com/es40emu/es40/internal/fabric"
	"github.com/es40emu/es40/internal/pci"
)

// Controller is one Sym53C810 instance: its 128-byte register file,
// ALU carry flag, SCRIPTS execution state, and the SCSI bus/targets it
// drives as initiator.
type Controller struct {
	mu sync.Mutex

	regs [128]byte

	aluCarry bool

	executing    bool
	waitReselect bool
	waitJump     uint32
	disconnected bool

	dstatStack, sist0Stack, sist1Stack byte

	irqAsserted bool

	Bus *Bus

	fab *fabric.Fabric
	fn  *pci.Function
}

// New constructs a Sym53C810 wired to the given fabric; the PCI
// function (for config-space mirroring and interrupt delivery) is
// attached separately via AttachFunction once it exists.
func New(fab *fabric.Fabric) *Controller {
	c := &Controller{fab: fab, Bus: newBus()}
	c.chipReset()
	return c
}

func (c *Controller) AttachFunction(fn *pci.Function) {
	c.fn = fn
	fn.ConfigReadCustom = c.configReadCustom
	fn.ConfigWriteCustom = c.configWriteCustom
}

// configReadCustom/configWriteCustom mirror the upper 128 bytes of PCI
// configuration space onto the register file (Sym53C810.cpp's
// config_read_custom/config_write_custom: "Lower 80 bytes are normal,
// upper 80 bytes reflect into the register space").
func (c *Controller) configReadCustom(address uint64, size fabric.Size) (uint64, bool) {
	if address < 0x80 {
		return 0, false
	}
	return c.Read(1, address-0x80, size), true
}

func (c *Controller) configWriteCustom(address uint64, size fabric.Size, value uint64) bool {
	if address < 0x80 {
		return false
	}
	c.Write(1, address-0x80, size, value)
	return true
}

// chipReset restores the register file to its post-reset values.
func (c *Controller) chipReset() {
	c.executing = false
	c.waitReselect = false
	c.irqAsserted = false
	c.regs = [128]byte{}
	c.w8(regSCNTL0, 0x80|0x40) // ARB1|ARB0
	c.w8(regDSTAT, dstatDFE)
	c.w8(regCTEST1, 0xF0) // FMT
	c.w8(regCTEST2, 0x01) // DACK
	c.w8(regMACNTL, 0x40)
	c.w8(regGPCNTL, 0x0F)
	c.w8(regSTEST0, 0x03)
}

// Read/Write implement fabric.Component over the memory-mapped register
// window (BAR 0 as cmd/es40 wires it); rangeID is not consulted.
func (c *Controller) Read(rangeID int, offset uint64, size fabric.Size) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	off := int(offset)
	switch off {
	case regISTAT:
		return uint64(c.readISTAT())
	case regDSTAT:
		return uint64(c.readDSTAT())
	case regSIST0:
		return uint64(c.readSIST0())
	case regSIST1:
		return uint64(c.readSIST1())
	}
	if off+int(size) > len(c.regs) {
		return 0
	}
	return fabric.ReadLE(c.regs[:], off, size)
}

func (c *Controller) Write(rangeID int, offset uint64, size fabric.Size, value uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	off := int(offset)
	switch off {
	case regSCNTL0:
		c.writeSCNTL0(byte(value))
		return
	case regISTAT:
		c.writeISTAT(byte(value))
		return
	case regDSP:
		c.w32(regDSP, uint32(value))
		c.executing = true
		return
	}
	if off+int(size) > len(c.regs) {
		return
	}
	fabric.WriteLE(c.regs[:], off, size, value)
}

func (c *Controller) writeSCNTL0(v byte) {
	c.w8(regSCNTL0, v&0xFB|c.regs[regSCNTL0]&^0xFB)
}

// writeISTAT mirrors the source's handling of the write-1-to-clear
// INTF bit and the SIGP semaphore waking a parked Wait-Reselect.
func (c *Controller) writeISTAT(v byte) {
	c.regs[regISTAT] = (c.regs[regISTAT] &^ 0xF0) | (v & 0xF0)
	if v&istatIntf != 0 {
		c.regs[regISTAT] &^= istatIntf
	}
	if v&istatAbrt != 0 || v&istatSrst != 0 {
		c.chipReset()
	}
	if v&istatSigp != 0 && c.waitReselect {
		c.waitReselect = false
		c.w32(regDSP, c.waitJump)
		c.executing = true
	}
}

// readISTAT/readDSTAT/readSIST0/readSIST1 implement the register's
// read-and-clear semantics and promote shadow-stacked interrupts.
func (c *Controller) readISTAT() byte { return c.regs[regISTAT] }

func (c *Controller) readDSTAT() byte {
	v := c.regs[regDSTAT]
	c.regs[regDSTAT] = 0
	c.evalInterrupts()
	return v
}

func (c *Controller) readSIST0() byte {
	v := c.regs[regSIST0]
	c.regs[regSIST0] = 0
	c.evalInterrupts()
	return v
}

func (c *Controller) readSIST1() byte {
	v := c.regs[regSIST1]
	c.regs[regSIST1] = 0
	c.evalInterrupts()
	return v
}

// setInterrupt latches a new interrupt bit into the live register, or
// the shadow stack behind it if ISTAT.DIP/SIP is already set, then
// re-evaluates the interrupt line (Sym53C810.cpp's set_interrupt).
func (c *Controller) setInterrupt(reg int, bit byte) {
	stacked := c.tb8(regISTAT, istatDip) || c.tb8(regISTAT, istatSip)
	switch reg {
	case regDSTAT:
		if stacked {
			c.dstatStack |= bit
		} else {
			c.regs[regDSTAT] |= bit
		}
	case regSIST0:
		if stacked {
			c.sist0Stack |= bit
		} else {
			c.regs[regSIST0] |= bit
		}
	case regSIST1:
		if stacked {
			c.sist1Stack |= bit
		} else {
			c.regs[regSIST1] |= bit
		}
	case regISTAT:
		c.regs[regISTAT] |= bit
	}
	c.evalInterrupts()
}

// evalInterrupts promotes the shadow stack once the live registers are
// clear, computes ISTAT.DIP/SIP, decides whether to halt execution,
// and raises/lowers the PCI interrupt line.
func (c *Controller) evalInterrupts() {
	willAssert := false
	willHalt := false

	if c.regs[regSIST0] == 0 && c.regs[regSIST1] == 0 && c.regs[regDSTAT] == 0 {
		c.regs[regSIST0] |= c.sist0Stack
		c.regs[regSIST1] |= c.sist1Stack
		c.regs[regDSTAT] |= c.dstatStack
		c.sist0Stack, c.sist1Stack, c.dstatStack = 0, 0, 0
	}

	if c.regs[regDSTAT]&dstatFatal != 0 {
		willHalt = true
		c.sb8(regISTAT, istatDip, true)
		if c.regs[regDSTAT]&c.regs[regDIEN]&dstatFatal != 0 {
			willAssert = true
		}
	} else {
		c.sb8(regISTAT, istatDip, false)
	}

	if c.regs[regSIST0] != 0 || c.regs[regSIST1] != 0 {
		c.sb8(regISTAT, istatSip, true)
		if c.regs[regSIST0]&(sist0Fatal|c.regs[regSIEN0]) != 0 ||
			c.regs[regSIST1]&(sist1Fatal|c.regs[regSIEN1]) != 0 {
			willHalt = true
			if c.regs[regSIST0]&c.regs[regSIEN0] != 0 || c.regs[regSIST1]&c.regs[regSIEN1] != 0 {
				willAssert = true
			}
		}
	} else {
		c.sb8(regISTAT, istatSip, false)
	}

	if c.tb8(regISTAT, istatIntf) {
		willAssert = true
	}
	if c.tb8(regDCNTL, dcntlIrqd) {
		willAssert = false
	}

	if willHalt {
		c.executing = false
	}
	if willAssert != c.irqAsserted {
		c.irqAsserted = willAssert
		if c.fn != nil {
			c.fn.DoInterrupt(willAssert)
		}
	}
}

// RunWorker drives the SCRIPTS interpreter on the device runtime's
// cooperative loop: one Step per iteration while state.executing holds
// and the worker hasn't been asked to stop.
func (c *Controller) RunWorker(w *devrt.Worker) error {
	for !w.ShouldStop() {
		c.mu.Lock()
		running := c.executing
		c.mu.Unlock()
		if !running {
			w.WaitWork(devrt.DefaultIdlePoll)
			continue
		}
		c.Step()
	}
	return nil
}
