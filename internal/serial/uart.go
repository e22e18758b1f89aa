// Package serial implements the 16550-ish UART pair exposed to the
// guest at legacy I/O offsets +0x3F8 and +0x2F8 (spec §6), backed by a
// telnet-filtered TCP listener or a pty, either of which can trigger
// Graceful shutdown via the guest-operator break-menu.
package serial

import (
	"sync"

	"github.com/es40emu/es40/internal/fabric"
	"github.com/es40emu/es40/internal/intr"
)

// Register bit layout grounded on original_source/src/Serial.cpp's
// ReadMem/WriteMem.
const (
	lcrDLAB = 0x80

	iirNoInterrupt = 0x01
	iirTHREmpty    = 0x02
	iirRxReady     = 0x04

	lsrTHRE    = 0x20
	lsrTSRE    = 0x40
	lsrRxReady = 0x01

	ierRxAvail = 0x01
	ierTHRE    = 0x02
)

const rcvBufSize = 256

// UART emulates one 16550-class serial port: divisor latch pair,
// IER/IIR/LCR/MCR/LSR/MSR, and an RBR/THR byte pair backed by a small
// receive ring buffer fed by a Backend (telnet listener or pty).
type UART struct {
	mu sync.Mutex

	dll, dlm   byte
	ier        byte
	iir        byte
	lcr        byte
	mcr        byte
	lsr        byte
	msr        byte

	rcv     [rcvBufSize]byte
	rcvR, rcvW int

	pic       *intr.PICPair
	irqLine   int
	out       Backend
}

// Backend is the host-side transport a UART's transmitted bytes are
// written to (a telnet session, a pty master, ...).
type Backend interface {
	WriteByte(b byte) error
}

func NewUART(pic *intr.PICPair, irqLine int, out Backend) *UART {
	return &UART{
		lsr:     lsrTHRE | lsrTSRE,
		msr:     0x30, // CTS, DSR
		iir:     iirNoInterrupt,
		pic:     pic,
		irqLine: irqLine,
		out:     out,
	}
}

func (u *UART) Read(rangeID int, offset uint64, size fabric.Size) uint64 {
	u.mu.Lock()
	defer u.mu.Unlock()

	switch offset {
	case 0:
		if u.lcr&lcrDLAB != 0 {
			return uint64(u.dll)
		}
		return uint64(u.popRx())
	case 1:
		if u.lcr&lcrDLAB != 0 {
			return uint64(u.dlm)
		}
		return uint64(u.ier)
	case 2:
		d := u.iir
		u.iir = iirNoInterrupt
		return uint64(d)
	case 3:
		return uint64(u.lcr)
	case 4:
		return uint64(u.mcr)
	case 5:
		if u.rcvR != u.rcvW {
			u.lsr = lsrTHRE | lsrTSRE | lsrRxReady
		} else {
			u.lsr = lsrTHRE | lsrTSRE
		}
		return uint64(u.lsr)
	case 6:
		return uint64(u.msr)
	default:
		return 0
	}
}

func (u *UART) Write(rangeID int, offset uint64, size fabric.Size, value uint64) {
	u.mu.Lock()
	d := byte(value)

	switch offset {
	case 0:
		if u.lcr&lcrDLAB != 0 {
			u.dll = d
			u.mu.Unlock()
			u.refreshInterrupt()
			return
		}
		out := u.out
		u.mu.Unlock()
		if out != nil {
			out.WriteByte(d)
		}
		u.refreshInterrupt()
		return
	case 1:
		if u.lcr&lcrDLAB != 0 {
			u.dlm = d
		} else {
			u.ier = d
		}
	case 3:
		u.lcr = d
	case 4:
		u.mcr = d
	}
	u.mu.Unlock()
	u.refreshInterrupt()
}

// PushRx enqueues a byte received from the backend into the UART's
// receive buffer, dropping it if full (a misbehaving/disconnected
// guest must not block the backend's reader goroutine).
func (u *UART) PushRx(b byte) {
	u.mu.Lock()
	next := (u.rcvW + 1) % rcvBufSize
	if next != u.rcvR {
		u.rcv[u.rcvW] = b
		u.rcvW = next
	}
	u.mu.Unlock()
	u.refreshInterrupt()
}

func (u *UART) popRx() byte {
	if u.rcvR == u.rcvW {
		return 0
	}
	b := u.rcv[u.rcvR]
	u.rcvR = (u.rcvR + 1) % rcvBufSize
	return b
}

// refreshInterrupt recomputes IIR and asserts/deasserts the UART's
// line, grounded on Serial.cpp: Rx-data-available takes priority over
// THR-empty.
func (u *UART) refreshInterrupt() {
	u.mu.Lock()
	iir := byte(iirNoInterrupt)
	if u.ier&ierRxAvail != 0 && u.rcvR != u.rcvW {
		iir = iirRxReady
	} else if u.ier&ierTHRE != 0 {
		iir = iirTHREmpty
	}
	u.iir = iir
	asserted := iir != iirNoInterrupt
	u.mu.Unlock()

	if u.pic != nil {
		u.pic.Interrupt(u.irqLine, asserted)
	}
}
