package nic

import (
	"testing"

	"github.com/es40emu/es40/internal/fabric"
	"github.com/es40emu/es40/internal/netio"
)

// fakeRAM is a minimal MemBacked component standing in for guest memory.
type fakeRAM struct {
	base uint64
	buf  []byte
}

func (r *fakeRAM) Read(rangeID int, offset uint64, size fabric.Size) uint64 {
	return fabric.ReadLE(r.buf, int(offset), size)
}
func (r *fakeRAM) Write(rangeID int, offset uint64, size fabric.Size, value uint64) {
	fabric.WriteLE(r.buf, int(offset), size, value)
}
func (r *fakeRAM) Bytes(rangeID int) []byte { return r.buf }

func newTestFabric(t *testing.T) (*fabric.Fabric, *fakeRAM) {
	t.Helper()
	fab := fabric.New()
	ram := &fakeRAM{base: 0, buf: make([]byte, 1<<20)}
	if err := fab.RegisterMemory(ram, 0, 0, uint64(len(ram.buf)), fabric.Memory, fabric.Legacy, "ram"); err != nil {
		t.Fatalf("RegisterMemory: %v", err)
	}
	return fab, ram
}

func putDescriptor(buf []byte, off int, status, control uint32, buf1, buf2 uint64) {
	fabric.WriteLE32(buf, off+0, uint64(status))
	fabric.WriteLE32(buf, off+4, uint64(control))
	fabric.WriteLE32(buf, off+8, buf1)
	fabric.WriteLE32(buf, off+12, buf2)
}

func TestCSRReadWriteRoundTrip(t *testing.T) {
	fab, _ := newTestFabric(t)
	n := New(fab, nil, [6]byte{0x08, 0x00, 0x2b, 1, 2, 3}, nil)

	n.Write(0, csrOpMode, fabric.Size32, opModeSR|opModeST)
	got := n.Read(0, csrOpMode, fabric.Size32)
	if got != opModeSR|opModeST {
		t.Fatalf("OPMODE round trip = %#x", got)
	}
}

func TestRxDescriptorDeliversFrameAndRaisesStatus(t *testing.T) {
	fab, ram := newTestFabric(t)
	lb := netio.NewLoopback()
	n := New(fab, lb, [6]byte{0x08, 0x00, 0x2b, 1, 2, 3}, nil)
	n.filter.SetPromiscuous(true)

	const descAddr = 0x1000
	const bufAddr = 0x2000
	putDescriptor(ram.buf, descAddr, rdesOwn, 1500, bufAddr, 0)
	n.Write(0, csrRxList, fabric.Size32, descAddr)

	frame := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 0x08, 0x00}
	if err := lb.WritePacketData(frame); err != nil {
		t.Fatalf("WritePacketData: %v", err)
	}

	n.PollRx()

	status := fabric.LE32(ram.buf, descAddr)
	if status&rdesOwn != 0 {
		t.Fatalf("descriptor ownership not returned to driver: status=%#x", status)
	}
	gotLen := (status >> 16) & 0xffff
	if int(gotLen) != len(frame) {
		t.Fatalf("frame length = %d, want %d", gotLen, len(frame))
	}
	if status&rdesFS == 0 {
		t.Fatal("expected TDSTAT_Rx_FS set on delivered frame")
	}
	if status&rdesLS == 0 {
		t.Fatal("expected TDSTAT_Rx_LS set on delivered frame")
	}
	if status&rdesCE != 0 {
		t.Fatal("expected TDSTAT_Rx_CE clear: no CRC errors are modeled")
	}
	if n.csr[csrStatus>>3]&statusRI == 0 {
		t.Fatal("expected RI bit set in CSR5 after receive")
	}
	deliveredBuf := ram.buf[bufAddr : bufAddr+len(frame)]
	for i, b := range frame {
		if deliveredBuf[i] != b {
			t.Fatalf("delivered byte %d = %#x, want %#x", i, deliveredBuf[i], b)
		}
	}
}

func TestTxDescriptorTransmitsAndSetsInterrupt(t *testing.T) {
	fab, ram := newTestFabric(t)
	lb := netio.NewLoopback()
	n := New(fab, lb, [6]byte{0x08, 0x00, 0x2b, 1, 2, 3}, nil)

	const descAddr = 0x4000
	const bufAddr = 0x5000
	frame := []byte{0xaa, 0xbb, 0xcc, 0xdd}
	copy(ram.buf[bufAddr:], frame)
	putDescriptor(ram.buf, descAddr, tdesOwn, uint32(len(frame))|0x02000000, bufAddr, 0)
	n.Write(0, csrTxList, fabric.Size32, descAddr)

	n.Write(0, csrTxPoll, fabric.Size32, 1)

	status := fabric.LE32(ram.buf, descAddr)
	if status&tdesOwn != 0 {
		t.Fatal("tx descriptor ownership not released")
	}
	if n.csr[csrStatus>>3]&statusTI == 0 {
		t.Fatal("expected TI bit set in CSR5 after transmit")
	}

	got, ok, err := lb.ReadPacketData()
	if err != nil || !ok {
		t.Fatalf("expected transmitted frame on loopback: ok=%v err=%v", ok, err)
	}
	if len(got) != len(frame) || got[0] != frame[0] {
		t.Fatalf("transmitted frame mismatch: %v", got)
	}
}

func TestSetupFrameLoadsFilterAndAcceptsMatchingFrame(t *testing.T) {
	fab, ram := newTestFabric(t)
	n := New(fab, netio.NewLoopback(), [6]byte{0x08, 0x00, 0x2b, 1, 2, 3}, nil)

	const descAddr = 0x6000
	const bufAddr = 0x7000
	setup := make([]byte, setupFrameLen)
	mac := [6]byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01}
	setup[0], setup[1] = mac[0], mac[1]
	setup[4], setup[5] = mac[2], mac[3]
	setup[8], setup[9] = mac[4], mac[5]
	copy(ram.buf[bufAddr:], setup)
	putDescriptor(ram.buf, descAddr, tdesOwn, uint32(setupFrameLen)|0x08000000, bufAddr, 0)
	n.Write(0, csrTxList, fabric.Size32, descAddr)

	n.Write(0, csrTxPoll, fabric.Size32, 1)

	frame := append(append([]byte{}, mac[:]...), make([]byte, 20)...)
	if !n.filter.Accepts(frame) {
		t.Fatal("expected filter to accept frame addressed to loaded MAC")
	}
	other := append([]byte{1, 1, 1, 1, 1, 1}, make([]byte, 20)...)
	if n.filter.Accepts(other) {
		t.Fatal("expected filter to reject frame addressed to unrelated MAC")
	}
}

func TestMIIReadFrameReturnsRegisterBit(t *testing.T) {
	fab, _ := newTestFabric(t)
	n := New(fab, nil, [6]byte{0x08, 0x00, 0x2b, 1, 2, 3}, nil)
	n.mii.SetRegister(1, 0x8000) // BMSR link-up bit

	clockFrame := func(frame uint32) {
		for i := 31; i >= 0; i-- {
			bit := (frame >> uint(i)) & 1
			// MDC low
			n.Write(0, csrMIIROM, fabric.Size32, uint64(bit<<17)) // MDO, MDC=0
			// MDC rising edge
			n.Write(0, csrMIIROM, fabric.Size32, uint64(bit<<17)|0x00010000)
		}
	}

	// ST=01, OP=10 (read), PHYAD=0, REGAD=00001, TA=10, then 16 zero bits.
	frame := uint32(0x01<<30) | uint32(0x02<<28) | uint32(0<<23) | uint32(1<<18) | uint32(0x2<<16)
	clockFrame(frame)

	if !n.mii.DataOut() {
		t.Fatal("expected MII DataOut to reflect register bit 15 after read frame")
	}
}

func TestSROMReadOpcodeShiftsOutWord(t *testing.T) {
	image := make([]byte, 128)
	image[0], image[1] = 0x34, 0x12 // word 0 = 0x1234

	s := NewSROM(image)

	clockBit := func(bit bool) {
		s.Clock(true, false, bit)
		s.Clock(true, true, bit)
	}

	// opcode 110 (read), 3 bits
	clockBit(true)
	clockBit(true)
	clockBit(false)
	// address 000000 (6 bits) -> word 0
	for i := 0; i < 6; i++ {
		clockBit(false)
	}

	var out uint16
	for i := 0; i < 16; i++ {
		s.Clock(true, false, false)
		s.Clock(true, true, false)
		out <<= 1
		if s.DataOut() {
			out |= 1
		}
	}
	if out != 0x1234 {
		t.Fatalf("SROM shifted out %#x, want 0x1234", out)
	}
}
