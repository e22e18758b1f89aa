package scsi

import (
	"testing"

	"github.com/es40emu/es40/internal/fabric"
	"github.com/es40emu/es40/internal/pci"
)

type fakeRAM struct {
	buf []byte
}

func (r *fakeRAM) Read(rangeID int, offset uint64, size fabric.Size) uint64 {
	return fabric.ReadLE(r.buf, int(offset), size)
}
func (r *fakeRAM) Write(rangeID int, offset uint64, size fabric.Size, value uint64) {
	fabric.WriteLE(r.buf, int(offset), size, value)
}
func (r *fakeRAM) Bytes(rangeID int) []byte { return r.buf }

func newTestController(t *testing.T) (*Controller, *fabric.Fabric, *fakeRAM) {
	t.Helper()
	fab := fabric.New()
	ram := &fakeRAM{buf: make([]byte, 1<<20)}
	if err := fab.RegisterMemory(ram, 0, 0, uint64(len(ram.buf)), fabric.Memory, fabric.Legacy, "ram"); err != nil {
		t.Fatalf("RegisterMemory: %v", err)
	}
	c := New(fab)
	return c, fab, ram
}

func TestRegisterReadWriteRoundTrip(t *testing.T) {
	c, _, _ := newTestController(t)
	c.Write(1, regSCRATCHA, fabric.Size32, 0xdeadbeef)
	if got := c.Read(1, regSCRATCHA, fabric.Size32); got != 0xdeadbeef {
		t.Fatalf("SCRATCHA round trip = %#x", got)
	}
}

func TestConfigSpaceMirrorsUpperBytesToRegisters(t *testing.T) {
	c, fab, _ := newTestController(t)
	fn := pci.NewFunction(fab, c, func(isIO bool, v uint32) uint64 { return uint64(v) }, nil,
		"scsi0", 0x1000, 0x0001, 0x010000, [6]bool{}, [6]uint32{})
	c.AttachFunction(fn)

	fn.ConfigWrite(0x80+regSCRATCHA, fabric.Size32, 0x11223344)
	if got := c.Read(1, regSCRATCHA, fabric.Size32); got != 0x11223344 {
		t.Fatalf("config-space write did not mirror into register file: %#x", got)
	}
	if got := fn.ConfigRead(0x80+regSCRATCHA, fabric.Size32); got != 0x11223344 {
		t.Fatalf("config-space read did not mirror from register file: %#x", got)
	}
}

func TestInterruptStackingShadowsAndReplays(t *testing.T) {
	c, fab, _ := newTestController(t)
	fn := pci.NewFunction(fab, c, func(isIO bool, v uint32) uint64 { return uint64(v) }, nil,
		"scsi0", 0x1000, 0x0001, 0x010000, [6]bool{}, [6]uint32{})
	c.AttachFunction(fn)

	c.Write(1, regDIEN, fabric.Size8, 0x04)
	c.setInterrupt(regDSTAT, dstatSIR)
	if c.Read(1, regISTAT, fabric.Size8)&istatDip == 0 {
		t.Fatal("expected ISTAT.DIP set after fatal DSTAT interrupt")
	}

	c.Write(1, regSIEN0, fabric.Size8, sist0MA)
	c.setInterrupt(regSIST0, sist0MA)
	if c.Read(1, regSIST0, fabric.Size8) != 0 {
		t.Fatal("expected SIST0 to be shadowed while DSTAT interrupt is still pending")
	}

	c.readDSTAT() // clears DSTAT, should promote the shadow stack

	// ISTAT first: reading SIST0 clears it, which drops SIP again.
	if c.Read(1, regISTAT, fabric.Size8)&istatSip == 0 {
		t.Fatal("expected ISTAT.SIP set once SIST0 promoted")
	}
	if got := c.Read(1, regSIST0, fabric.Size8); got&sist0MA == 0 {
		t.Fatalf("expected shadowed SIST0.MA to be promoted after DSTAT cleared, got %#x", got)
	}
}

func TestBlockMoveTransfersDataInPhase(t *testing.T) {
	c, _, ram := newTestController(t)
	target := NewTarget(NewMemBackend(make([]byte, 4096), false), false, 512)
	c.Bus.Attach(0, target)

	for i := 0; i < 16; i++ {
		target.dati.data[i] = byte(i)
	}
	target.dati.avail = 16
	target.dati.cursor = 0
	target.phase = PhaseDataIn
	c.Bus.selected = target
	c.Bus.phase = PhaseDataIn

	const scriptAddr = 0x100
	const destAddr = 0x2000

	// Direct-addressed Block Move, DATA_IN phase, count=16, dest=destAddr.
	dcmd := byte(0) // block move family (bits 7:6 = 00)
	dcmd |= byte(PhaseDataIn)
	word0 := uint32(dcmd)<<24 | 16
	word1 := uint32(destAddr)
	fabric.WriteLE32(ram.buf, scriptAddr, uint64(word0))
	fabric.WriteLE32(ram.buf, scriptAddr+4, uint64(word1))

	c.w32(regDSP, scriptAddr)
	c.executing = true
	c.Step()

	if c.r8(regSFBR) != 0x00 {
		t.Fatalf("SFBR = %#x, want 0x00", c.r8(regSFBR))
	}
	for i := 0; i < 16; i++ {
		if got := ram.buf[destAddr+i]; got != byte(i) {
			t.Fatalf("guest byte %d = %#x, want %#x", i, got, byte(i))
		}
	}
	if got := c.r32(regDSP); got != scriptAddr+8 {
		t.Fatalf("DSP after Block Move = %#x, want %#x", got, scriptAddr+8)
	}
}

func TestMemoryMoveCopiesAndAdvancesDSP(t *testing.T) {
	c, fab, ram := newTestController(t)
	_ = fab

	const scriptAddr = 0x100
	const srcAddr = 0x3000
	const dstAddr = 0x4000
	payload := make([]byte, 256)
	for i := range payload {
		payload[i] = byte(i)
	}
	copy(ram.buf[srcAddr:], payload)

	dcmd := byte(3<<6) | byte(0<<5) // Memory Move family, not Load/Store
	fabric.WriteLE32(ram.buf, scriptAddr, uint64(dcmd)<<24|256)
	fabric.WriteLE32(ram.buf, scriptAddr+4, uint64(srcAddr))
	fabric.WriteLE32(ram.buf, scriptAddr+8, uint64(dstAddr))

	c.w32(regDSP, scriptAddr)
	c.executing = true
	c.Step()

	for i := range payload {
		if got := ram.buf[dstAddr+i]; got != payload[i] {
			t.Fatalf("dst byte %d = %#x, want %#x", i, got, payload[i])
		}
	}
	if got := c.r32(regDSP); got != scriptAddr+12 {
		t.Fatalf("DSP after Memory Move = %#x, want %#x", got, scriptAddr+12)
	}
}

func TestMemoryMoveSameSrcDstLeavesMemoryUnchanged(t *testing.T) {
	c, _, ram := newTestController(t)
	const scriptAddr = 0x100
	const addr = 0x3000
	payload := []byte{1, 2, 3, 4}
	copy(ram.buf[addr:], payload)

	dcmd := byte(3 << 6)
	fabric.WriteLE32(ram.buf, scriptAddr, uint64(dcmd)<<24|4)
	fabric.WriteLE32(ram.buf, scriptAddr+4, uint64(addr))
	fabric.WriteLE32(ram.buf, scriptAddr+8, uint64(addr))

	c.w32(regDSP, scriptAddr)
	c.executing = true
	c.Step()

	for i, want := range payload {
		if got := ram.buf[addr+i]; got != want {
			t.Fatalf("byte %d = %#x, want %#x (unchanged)", i, got, want)
		}
	}
}

func TestInquiryReturnsVendorString(t *testing.T) {
	target := NewTarget(NewMemBackend(make([]byte, 4096), false), false, 512)
	cdb := []byte{cdbInquiry, 0x00, 0x00, 0x00, 0x24, 0x00}
	copy(target.cmd.data, cdb)
	target.cmd.cursor = len(cdb)

	target.executeCDB()

	if target.dati.avail != 0x24 {
		t.Fatalf("INQUIRY response length = %d, want 0x24", target.dati.avail)
	}
	if target.dati.data[0] != 0x00 {
		t.Fatalf("INQUIRY device-type byte = %#x, want 0x00", target.dati.data[0])
	}
	vendor := string(target.dati.data[8:36])
	if vendor[:3] != "DEC" {
		t.Fatalf("INQUIRY vendor string = %q", vendor)
	}
}

func TestReadCapacityReturnsLastLBA(t *testing.T) {
	backend := NewMemBackend(make([]byte, 512*10), false)
	target := NewTarget(backend, false, 512)
	cdb := []byte{cdbReadCapacity, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	copy(target.cmd.data, cdb)
	target.cmd.cursor = len(cdb)

	target.executeCDB()

	lastLBA := uint32(target.dati.data[0])<<24 | uint32(target.dati.data[1])<<16 |
		uint32(target.dati.data[2])<<8 | uint32(target.dati.data[3])
	if lastLBA != 9 {
		t.Fatalf("READ CAPACITY last LBA = %d, want 9", lastLBA)
	}
}

func TestWrite10ThenRead10RoundTrip(t *testing.T) {
	backend := NewMemBackend(make([]byte, 512*10), false)
	target := NewTarget(backend, false, 512)

	writeCDB := []byte{cdbWrite10, 0, 0, 0, 0, 1, 0, 0, 1, 0}
	copy(target.cmd.data, writeCDB)
	target.cmd.cursor = len(writeCDB)
	if needsData := target.executeCDB(); !needsData {
		t.Fatal("expected WRITE(10) to request Data Out first")
	}
	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = 0x5A
	}
	copy(target.dato.data, payload)
	target.executeCDB()
	if target.stat.data[0] != 0x00 {
		t.Fatalf("WRITE(10) status = %#x, want GOOD", target.stat.data[0])
	}

	readCDB := []byte{cdbRead10, 0, 0, 0, 0, 1, 0, 0, 1, 0}
	copy(target.cmd.data, readCDB)
	target.cmd.cursor = len(readCDB)
	target.executeCDB()
	if target.dati.avail != 512 {
		t.Fatalf("READ(10) avail = %d, want 512", target.dati.avail)
	}
	for i, want := range payload {
		if got := target.dati.data[i]; got != want {
			t.Fatalf("read-back byte %d = %#x, want %#x", i, got, want)
		}
	}
}

func TestModeSenseCachingPage(t *testing.T) {
	target := NewTarget(NewMemBackend(make([]byte, 4096), false), false, 512)
	cdb := []byte{cdbModeSense, 0, mpCaching, 0, 24, 0}
	copy(target.cmd.data, cdb)
	target.cmd.cursor = len(cdb)

	target.executeCDB()

	if target.stat.data[0] != 0x00 {
		t.Fatalf("MODE SENSE status = %#x, want GOOD", target.stat.data[0])
	}
	if target.dati.data[12] != mpCaching {
		t.Fatalf("page code at offset 12 = %#x, want %#x", target.dati.data[12], mpCaching)
	}
}

func TestSelectAndIOSetsBusPhase(t *testing.T) {
	c, _, _ := newTestController(t)
	target := NewTarget(NewMemBackend(make([]byte, 4096), false), false, 512)
	c.Bus.Attach(3, target)

	if !c.Bus.Select(3) {
		t.Fatal("expected Select to succeed for attached target")
	}
	if c.Bus.Phase() != PhaseMsgOut {
		t.Fatalf("bus phase after selection = %v, want PhaseMsgOut", c.Bus.Phase())
	}
}

func TestSelectUnattachedTargetTimesOut(t *testing.T) {
	c, _, _ := newTestController(t)
	if c.Bus.Select(5) {
		t.Fatal("expected Select of unattached target to fail")
	}
}
