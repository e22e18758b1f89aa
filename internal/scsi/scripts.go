package scsi

import "github.com/es40emu/es40/internal/fabric"

// Step executes exactly one SCRIPTS instruction, grounded on
// Sym53C810.cpp's execute(): fetch DBC/DCMD and DSPS from guest
// memory at DSP, advance DSP by 8 (or 12 for Memory Move), dispatch on
// the DCMD[7:6] family, then raise DSTAT.SSI if single-step mode is
// armed.
func (c *Controller) Step() {
	c.mu.Lock()
	if !c.executing {
		c.mu.Unlock()
		return
	}
	dsp := c.r32(regDSP)
	word0 := c.fab.ReadMem(uint64(dsp), fabric.Size32)
	word1 := c.fab.ReadMem(uint64(dsp)+4, fabric.Size32)
	c.w32(regDBC, uint32(word0))
	c.w32(regDSPS, uint32(word1))
	c.w32(regDSP, dsp+8)

	optype := (c.r8(regDCMD) >> 6) & 3
	switch optype {
	case 0:
		c.executeBlockMove()
	case 1:
		opcode := (c.r8(regDCMD) >> 3) & 7
		if opcode < 5 {
			c.executeIO()
		} else {
			c.executeRW()
		}
	case 2:
		c.executeTC()
	case 3:
		if (c.r8(regDCMD)>>5)&1 != 0 {
			c.executeLoadStore()
		} else {
			c.executeMemoryMove()
		}
	}

	if c.tb8(regDCNTL, dcntlSsm) {
		c.setInterrupt(regDSTAT, dstatSSI)
	}
	c.mu.Unlock()
}

// checkPhase implements Sym53C810.cpp's check_phase: a selection
// timeout latches SIST1.STO and frees the bus; a phase mismatch while
// disconnected backs DSP up to retry; otherwise report whether the
// live phase matches chkPhase.
func (c *Controller) checkPhase(chkPhase int) int {
	real := c.Bus.Phase()
	if real == PhaseArbitration {
		c.setInterrupt(regSIST1, sist1Sto)
		c.Bus.Free()
		return -1
	}
	if real == PhaseFree && c.disconnected {
		c.w32(regDSP, c.r32(regDSP)-8)
		return -1
	}
	if int(real) == chkPhase {
		return 1
	}
	return 0
}

// executeBlockMove implements the Block Move family (spec §4.5):
// table-indirect or direct (start, count) addressing, a phase gate,
// and a bulk guest-memory transfer in the direction the phase implies.
func (c *Controller) executeBlockMove() {
	dcmd := c.r8(regDCMD)
	tableIndirect := (dcmd>>4)&1 != 0
	indirect := (dcmd>>5)&1 != 0
	scsiPhase := int(dcmd & 7)

	if c.checkPhase(scsiPhase) <= 0 {
		return
	}

	var start, count uint32
	switch {
	case tableIndirect:
		addr := (c.r32(regDSA) + uint32(sext24(c.r32(regDSPS)))) &^ 3
		count = uint32(c.fab.ReadMem(uint64(addr), fabric.Size32)) & 0x00FFFFFF
		start = uint32(c.fab.ReadMem(uint64(addr)+4, fabric.Size32))
	case indirect:
		c.setInterrupt(regDSTAT, dstatIID)
		return
	default:
		start = c.r32(regDSPS)
		count = c.getDBC()
	}

	c.w32(regDNAD, start)
	c.setDBC(count)
	if count == 0 {
		c.setInterrupt(regDSTAT, dstatIID)
		return
	}

	expected := c.Bus.ExpectedXfer()
	if int(count) > expected {
		count = uint32(expected)
	}
	if count == 0 {
		return
	}

	xfer := c.Bus.XferPtr(int(count))
	if xfer == nil {
		return
	}

	switch Phase(scsiPhase) {
	case PhaseCommand, PhaseDataOut, PhaseMsgOut:
		buf, ok := c.fab.PtrToMem(uint64(c.r32(regDNAD)), uint64(len(xfer)))
		if ok {
			copy(xfer, buf)
		}
		c.w32(regDNAD, c.r32(regDNAD)+uint32(len(xfer)))
	case PhaseStatus, PhaseDataIn, PhaseMsgIn:
		buf, ok := c.fab.PtrToMem(uint64(c.r32(regDNAD)), uint64(len(xfer)))
		if ok {
			copy(buf, xfer)
		}
		c.w32(regDNAD, c.r32(regDNAD)+uint32(len(xfer)))
	}

	c.w8(regSFBR, xfer[0])
	c.Bus.XferDone()
}

// executeIO implements the I/O family's Select / Wait Disconnect /
// Wait Reselect / Set / Clear opcodes.
func (c *Controller) executeIO() {
	dcmd := c.r8(regDCMD)
	opcode := (dcmd >> 3) & 7
	relative := (dcmd>>2)&1 != 0
	dbc := c.getDBC()
	destination := int((dbc >> 16) & 0x0F)
	scCarry := (dbc>>10)&1 != 0
	scAck := (dbc>>6)&1 != 0
	scAtn := (dbc>>3)&1 != 0

	c.w32(regDNAD, c.r32(regDSPS))
	destAddr := c.r32(regDNAD)
	if relative {
		destAddr = c.r32(regDSP) + uint32(sext24(c.r32(regDNAD)))
	}

	switch opcode {
	case 0: // Select
		c.w8(regSDID, byte(destination))
		if !c.Bus.Arbitrate() {
			c.w32(regDSP, c.r32(regDSP)-8)
			return
		}
		ok := c.Bus.Select(destination)
		if ok {
			c.sb8(regSCNTL2, scntl2Sdu, true)
		} else {
			c.setInterrupt(regSIST1, sist1Sto)
		}

	case 1: // Wait Disconnect
		c.Bus.Free()

	case 2: // Wait Reselect
		if c.tb8(regISTAT, istatSigp) {
			c.w32(regDSP, destAddr)
		} else {
			c.waitReselect = true
			c.waitJump = destAddr
			c.executing = false
		}

	case 3: // Set
		if scAck {
			c.sb8(regSOCL, socl0Ack, true)
		}
		if scAtn {
			c.sb8(regSOCL, socl0Atn, true)
		}
		if scCarry {
			c.aluCarry = true
		}

	case 4: // Clear
		if scAck {
			c.sb8(regSOCL, socl0Ack, false)
		}
		if scAtn {
			c.sb8(regSOCL, socl0Atn, false)
		}
		if scCarry {
			c.aluCarry = false
		}
	}
}

// executeRW implements the register-arithmetic opcode (DCMD[5:3]≥5
// within the I/O-or-R/W family): data8/SFBR operand, one of eight ALU
// operators, writing back to SFBR or a register.
func (c *Controller) executeRW() {
	dcmd := c.r8(regDCMD)
	opcode := (dcmd >> 3) & 7
	oper := dcmd & 7
	dbc := c.getDBC()
	useSFBR := (dbc>>23)&1 != 0
	regAddr := int((dbc >> 16) & 0x7F)
	imm := byte(dbc >> 8)

	data8 := imm
	if useSFBR {
		data8 = c.r8(regSFBR)
	}

	switch opcode {
	case 5: // regA = op(SFBR, data8)
		c.w8(regAddr&0x7F, aluOp(oper, c.r8(regSFBR), data8, &c.aluCarry))
	case 6: // SFBR = op(regA, data8)
		a := c.r8(regAddr & 0x7F)
		c.w8(regSFBR, aluOp(oper, a, data8, &c.aluCarry))
	case 7: // regA = op(regA, data8)
		a := c.r8(regAddr & 0x7F)
		c.w8(regAddr&0x7F, aluOp(oper, a, data8, &c.aluCarry))
	}
}

// aluOp applies one of the eight SCRIPTS register-move ALU operators.
func aluOp(oper byte, a, data8 byte, carry *bool) byte {
	switch oper {
	case 0:
		return data8
	case 1:
		return a << 1
	case 2:
		return a | data8
	case 3:
		return a ^ data8
	case 4:
		return a & data8
	case 5:
		return a >> 1
	case 6:
		sum := uint16(a) + uint16(data8)
		*carry = sum > 0xFF
		return byte(sum)
	case 7:
		c := uint16(0)
		if *carry {
			c = 1
		}
		sum := uint16(a) + uint16(data8) + c
		*carry = sum > 0xFF
		return byte(sum)
	}
	return a
}

// executeTC implements the Transfer Control family: a carry/SFBR-data/
// phase predicate gating Jump, Call, Return, and Interrupt.
func (c *Controller) executeTC() {
	dcmd := c.r8(regDCMD)
	opcode := (dcmd >> 3) & 7
	scsiPhase := int(dcmd & 7)
	dbc := c.getDBC()
	relative := (dbc>>23)&1 != 0
	carryTest := (dbc>>21)&1 != 0
	interruptFly := (dbc>>20)&1 != 0
	jumpIf := (dbc>>19)&1 != 0
	cmpData := (dbc>>18)&1 != 0
	cmpPhase := (dbc>>17)&1 != 0
	cmpMask := byte(dbc >> 8)
	cmpDat := byte(dbc)

	var destAddr uint32
	if relative {
		destAddr = c.r32(regDSP) + uint32(sext24(c.r32(regDSPS)))
	} else {
		destAddr = c.r32(regDSPS)
	}

	var doIt bool
	switch {
	case carryTest:
		doIt = c.aluCarry == jumpIf
	case cmpData || cmpPhase:
		doIt = true
		if cmpData {
			if ((c.r8(regSFBR) &^ cmpMask) == (cmpDat &^ cmpMask)) != jumpIf {
				doIt = false
			}
		}
		if cmpPhase {
			if (c.checkPhase(scsiPhase) > 0) != jumpIf {
				doIt = false
			}
		}
	default:
		doIt = jumpIf
	}

	switch opcode {
	case 0: // Jump
		if doIt {
			c.w32(regDSP, destAddr)
		}
	case 1: // Call
		if doIt {
			c.w32(regTEMP, c.r32(regDSP))
			c.w32(regDSP, destAddr)
		}
	case 2: // Return
		if doIt {
			c.w32(regDSP, c.r32(regTEMP))
		}
	case 3: // Interrupt
		if doIt {
			if interruptFly {
				c.setInterrupt(regISTAT, istatIntf)
			} else {
				c.setInterrupt(regDSTAT, dstatSIR)
			}
		}
	}
}

// executeLoadStore implements byte-granular register<->memory moves
// (DSA-relative or absolute). The byte count is the low three DBC bits,
// so one instruction moves at most 7 bytes; an 8-byte move cannot be
// encoded.
func (c *Controller) executeLoadStore() {
	dcmd := c.r8(regDCMD)
	isLoad := dcmd&1 != 0
	dsaRelative := (dcmd>>4)&1 != 0
	dbc := c.getDBC()
	regAddr := int((dbc >> 16) & 0x7F)
	byteCount := int(dbc & 7)

	var memAddr uint32
	if dsaRelative {
		memAddr = c.r32(regDSA) + uint32(sext24(c.r32(regDSPS)))
	} else {
		memAddr = c.r32(regDSPS)
	}

	for i := 0; i < byteCount; i++ {
		if isLoad {
			v := byte(c.fab.ReadMem(uint64(memAddr)+uint64(i), fabric.Size8))
			if regAddr+i < len(c.regs) {
				c.regs[regAddr+i] = v
			}
		} else {
			var v byte
			if regAddr+i < len(c.regs) {
				v = c.regs[regAddr+i]
			}
			c.fab.WriteMem(uint64(memAddr)+uint64(i), fabric.Size8, uint64(v))
		}
	}
}

// executeMemoryMove implements the three-DWORD Memory Move
// instruction: fetch the destination DWORD, then bulk-copy DBC bytes
// from DSPS to it. The bulk-read-then-bulk-write order means dst==src
// leaves memory unchanged, per spec §8's round-trip property.
func (c *Controller) executeMemoryMove() {
	dsp := c.r32(regDSP)
	dest := uint32(c.fab.ReadMem(uint64(dsp), fabric.Size32))
	c.w32(regDSP, dsp+4)

	count := c.getDBC()
	if count == 0 {
		return
	}
	src, ok := c.fab.PtrToMem(uint64(c.r32(regDSPS)), uint64(count))
	if !ok {
		return
	}
	buf := make([]byte, count)
	copy(buf, src)
	dst, ok := c.fab.PtrToMem(uint64(dest), uint64(count))
	if ok {
		copy(dst, buf)
	}
}
