package nic

// MII implements the bit-serial management interface multiplexed
// through CSR9's MDC/MDO/MDIO lines (spec §4.6). It shifts in 32-bit
// frames and decodes the OP and REGAD fields of the 802.3 clause-22
// format. On a read frame DataOut holds bit 15 of the addressed PHY
// register; the 16 data bits are not shifted out one by one, and write
// frames are ignored. All PHY registers read as zero until SetRegister
// seeds them.
type MII struct {
	lastClk   bool
	bitCount  int
	shiftIn   uint32
	dataOut   bool
	driving   bool
	phyRegs   [32]uint16
}

// Clock is called on every CSR9 write with the new MDC/MDO/direction
// state; a rising MDC edge shifts one bit.
func (m *MII) Clock(mdc, mdo, dir bool) {
	if !m.lastClk && mdc {
		m.shiftIn = (m.shiftIn << 1) | b2u(mdo)
		m.bitCount++
		if m.bitCount == 32 {
			m.decodeFrame(m.shiftIn)
			m.bitCount = 0
		}
	}
	m.lastClk = mdc
	m.driving = dir
}

// decodeFrame handles a full 32-bit management frame once a read
// request's header has clocked in: preamble bits are skipped by
// bitCount reaching 32 only after 32 raw bits, which in practice means
// the driver's 32-bit preamble is what reaches here first and is
// ignored; each later 32-bit group (14-bit header + 2-bit TA + 16 data
// bits) is decoded here by its OP and REGAD fields.
func (m *MII) decodeFrame(frame uint32) {
	op := (frame >> 28) & 0x3
	reg := (frame >> 18) & 0x1f
	if op == 0x2 { // read
		m.dataOut = m.phyRegs[reg]&0x8000 != 0
	}
}

// SetRegister seeds PHY register state (e.g. BMSR link-up) directly,
// without a guest-driven sequence.
func (m *MII) SetRegister(reg int, value uint16) {
	if reg >= 0 && reg < len(m.phyRegs) {
		m.phyRegs[reg] = value
	}
}

// DataOut is sampled by readMIIROM as MIIROM_MDI.
func (m *MII) DataOut() bool { return m.dataOut }

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
