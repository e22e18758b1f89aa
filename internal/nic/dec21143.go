// Package nic implements the DEC 21143 ("Tulip") PCI Ethernet
// controller: the CSR register file, the Rx/Tx descriptor ring walker,
// the bit-serial MII and SROM interfaces multiplexed through CSR9, and
// the setup-packet perfect-match address filter (spec §4.6, §12).
package nic

import (
	"sync"

	"github.com/es40emu/es40/internal/devrt"
	"github.com/es40emu/es40/internal/fabric"
	"github.com/es40emu/es40/internal/netio"
	"github.com/es40emu/es40/internal/pci"
	log "github.com/es40emu/es40/pkg/minilog"
)

// CSR byte offsets (each CSR is 8 bytes apart on a 32-bit-bus Tulip,
// original_source/src/DEC21143_tulipreg.hpp).
const (
	csrBusMode   = 0x00
	csrTxPoll    = 0x08
	csrRxPoll    = 0x10
	csrRxList    = 0x18
	csrTxList    = 0x20
	csrStatus    = 0x28
	csrOpMode    = 0x30
	csrIntEn     = 0x38
	csrMissed    = 0x40
	csrMIIROM    = 0x48
	numCSRs      = 32
)

const (
	statusRI  = 0x00000040 // Rx interrupt
	statusTI  = 0x00000001 // Tx interrupt
	opModeSR  = 0x00000002 // start receive
	opModeST  = 0x00002000 // start transmit

	tdesOwn = 0x80000000
	rdesOwn = 0x80000000

	// Rx descriptor status bits (DEC21143_tulipreg.hpp TDSTAT_Rx_*):
	// this single-descriptor Rx model never chains a frame across
	// buffers, so every delivered frame is both its own first and last
	// segment (DEC21143.cpp's dec21143_receive sets FS when
	// rx.current.used == 0 and LS once rx.current.used >= rx.current.len,
	// both true here on the one and only writeback per frame).
	rdesFS = 0x00000200
	rdesLS = 0x00000100
	rdesCE = 0x00000002 // CRC error; this core never computes a bad CRC
)

// descriptor is the 4-word Tulip ring descriptor layout (status,
// control/length, buffer1, buffer2-or-next).
type descriptor struct {
	status  uint32
	control uint32
	buf1    uint64
	buf2    uint64
}

// DEC21143 is one NIC instance, with its own register file, descriptor
// ring cursors, MAC filter, and host packet backend.
type DEC21143 struct {
	mu sync.Mutex

	csr [numCSRs]uint32
	mac [6]byte

	mii  MII
	srom SROM

	filter Filter

	rxRing, txRing uint64
	rxCur, txCur   uint64

	fab     *fabric.Fabric
	backend netio.Backend
	irq     *pci.Function
}

func New(fab *fabric.Fabric, backend netio.Backend, mac [6]byte, sromImage []byte) *DEC21143 {
	n := &DEC21143{fab: fab, backend: backend, mac: mac}
	n.srom = NewSROM(sromImage)
	n.csr[csrStatus>>3] = 0
	return n
}

// AttachFunction lets the NIC route its interrupt through a PCI
// function once construction order allows it (the PCI function must
// exist before DoInterrupt can be called).
func (n *DEC21143) AttachFunction(fn *pci.Function) { n.irq = fn }

func (n *DEC21143) csrIndex(offset uint64) int { return int(offset >> 3) }

func (n *DEC21143) Read(rangeID int, offset uint64, size fabric.Size) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	idx := n.csrIndex(offset)
	if idx == n.csrIndex(csrMIIROM) {
		return uint64(n.readMIIROM())
	}
	if idx < numCSRs {
		return uint64(n.csr[idx])
	}
	return 0
}

func (n *DEC21143) Write(rangeID int, offset uint64, size fabric.Size, value uint64) {
	n.mu.Lock()

	idx := n.csrIndex(offset)
	v := uint32(value)

	switch offset {
	case csrRxList:
		n.rxRing = uint64(v)
		n.rxCur = n.rxRing
	case csrTxList:
		n.txRing = uint64(v)
		n.txCur = n.txRing
	case csrMIIROM:
		n.writeMIIROM(v)
		n.mu.Unlock()
		return
	case csrOpMode:
		n.csr[idx] = v
	case csrTxPoll:
		n.mu.Unlock()
		n.pollTx()
		return
	default:
		if idx < numCSRs {
			n.csr[idx] = v
		}
	}
	n.mu.Unlock()
}

// readMIIROM composes CSR9 from the MII/SROM bit-serial state, per
// DEC21143_tulipreg.hpp's MIIROM_* bit layout.
func (n *DEC21143) readMIIROM() uint32 {
	v := n.csr[csrMIIROM>>3] &^ (0x00080000 | 0x00000008)
	if n.mii.DataOut() {
		v |= 0x00080000 // MIIROM_MDI
	}
	if n.srom.DataOut() {
		v |= 0x00000008 // MIIROM_SROMDO
	}
	return v
}

func (n *DEC21143) writeMIIROM(v uint32) {
	n.csr[csrMIIROM>>3] = v
	srCS := v&0x00000001 != 0
	srSK := v&0x00000002 != 0
	srDI := v&0x00000004 != 0
	n.srom.Clock(srCS, srSK, srDI)

	mdc := v&0x00010000 != 0
	mdo := v&0x00020000 != 0
	dir := v&0x00040000 != 0 // 1 = PHY driving (read), 0 = controller driving (write)
	n.mii.Clock(mdc, mdo, dir)
}

// pollTx walks the Tx ring once, transmitting every owned descriptor
// until it finds one the driver still owns.
func (n *DEC21143) pollTx() {
	for {
		n.mu.Lock()
		if n.txCur == 0 {
			n.mu.Unlock()
			return
		}
		desc, ok := n.readDescriptor(n.txCur)
		if !ok || desc.status&tdesOwn == 0 {
			n.mu.Unlock()
			return
		}
		isSetup := desc.control&0x08000000 != 0 // TDCTL_SET
		length := int(desc.control & 0x7ff)
		buf, ok := n.fab.PtrToMem(desc.buf1, uint64(length))
		n.mu.Unlock()
		if !ok {
			return
		}

		if isSetup {
			n.filter.LoadSetupFrame(buf)
		} else if n.backend != nil {
			if err := n.backend.WritePacketData(buf); err != nil {
				log.Warn("nic: transmit failed: %v", err)
			}
		}

		n.mu.Lock()
		desc.status = 0 // return ownership to the driver
		n.writeDescriptorStatus(n.txCur, desc.status)
		n.csr[csrStatus>>3] |= statusTI
		next := n.nextDescriptor(desc, n.txCur, n.txRing)
		n.txCur = next
		n.mu.Unlock()
		n.raiseIRQ()

		if next == 0 {
			return
		}
	}
}

// PollRx is driven by the device runtime worker: deliver one inbound
// frame (if any) into the next owned Rx descriptor.
func (n *DEC21143) PollRx() {
	if n.backend == nil {
		return
	}
	data, ok, err := n.backend.ReadPacketData()
	if err != nil {
		log.Warn("nic: receive failed: %v", err)
		return
	}
	if !ok {
		return
	}
	if !n.filter.Accepts(data) {
		return
	}

	n.mu.Lock()
	if n.rxCur == 0 {
		n.mu.Unlock()
		return
	}
	desc, ok := n.readDescriptor(n.rxCur)
	if !ok || desc.status&rdesOwn == 0 {
		n.mu.Unlock()
		return
	}
	buf, ok := n.fab.PtrToMem(desc.buf1, uint64(len(data)))
	if !ok {
		n.mu.Unlock()
		return
	}
	copy(buf, data)
	// Own CRC bytes aren't generated (spec's documented CRC non-goal),
	// so TDSTAT_Rx_CE is never set; FS/LS both apply since a frame is
	// always delivered whole into a single descriptor.
	desc.status = uint32(len(data))<<16 | rdesFS | rdesLS
	desc.status &^= rdesCE
	n.writeDescriptorStatus(n.rxCur, desc.status)
	n.csr[csrStatus>>3] |= statusRI
	next := n.nextDescriptor(desc, n.rxCur, n.rxRing)
	n.rxCur = next
	n.mu.Unlock()
	n.raiseIRQ()
}

func (n *DEC21143) readDescriptor(addr uint64) (descriptor, bool) {
	b, ok := n.fab.PtrToMem(addr, 16)
	if !ok {
		return descriptor{}, false
	}
	return descriptor{
		status:  uint32(fabric.LE32(b, 0)),
		control: uint32(fabric.LE32(b, 4)),
		buf1:    fabric.LE32(b, 8),
		buf2:    fabric.LE32(b, 12),
	}, true
}

func (n *DEC21143) writeDescriptorStatus(addr uint64, status uint32) {
	if b, ok := n.fab.PtrToMem(addr, 4); ok {
		fabric.WriteLE32(b, 0, uint64(status))
	}
}

// nextDescriptor advances the ring cursor: chained mode (control bit
// TDCTL_CH) follows buf2 as the next descriptor address; otherwise the
// ring is contiguous and wraps at TDCTL_ER/RDCTL_ER back to base.
func (n *DEC21143) nextDescriptor(d descriptor, cur, base uint64) uint64 {
	const endOfRing = 0x02000000
	const chained = 0x01000000
	if d.control&chained != 0 {
		return d.buf2
	}
	if d.control&endOfRing != 0 {
		return base
	}
	return cur + 16
}

func (n *DEC21143) raiseIRQ() {
	if n.irq == nil {
		return
	}
	n.mu.Lock()
	asserted := n.csr[csrStatus>>3]&n.csr[csrIntEn>>3] != 0
	n.mu.Unlock()
	n.irq.DoInterrupt(asserted)
}

// RunWorker polls the Rx backend on the device runtime's cooperative
// loop.
func (n *DEC21143) RunWorker(w *devrt.Worker) error {
	for !w.ShouldStop() {
		n.PollRx()
		w.WaitWork(devrt.DefaultIdlePoll)
	}
	return nil
}
