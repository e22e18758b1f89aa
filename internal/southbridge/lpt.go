package southbridge

import (
	"io"

	"github.com/es40emu/es40/internal/fabric"
	log "github.com/es40emu/es40/pkg/minilog"
)

// Centronics parallel-port register bits at legacy I/O offset +0x3BC
// (data/status/control), grounded on spec §12.
const (
	lptStatusBusy   = 0x80
	lptStatusAck    = 0x40
	lptStatusPError = 0x20
	lptStatusSelect = 0x10

	lptCtrlStrobe    = 0x01
	lptCtrlAutoLF    = 0x02
	lptCtrlInit      = 0x04
	lptCtrlSelectIn  = 0x08
)

// LPT emulates a Centronics-style parallel port. When out is non-nil
// (lpt.outfile configured), a byte latched by the guest is written to
// it on the strobe transition that real printers treat as "data
// valid"; with out == nil the port behaves as a loopback device that
// simply reflects status bits back, enough for firmware probes that
// check for printer presence without needing a file sink.
type LPT struct {
	data    byte
	ctrl    byte
	status  byte
	out     io.Writer
	lastStb bool
}

func NewLPT(out io.Writer) *LPT {
	return &LPT{
		status: lptStatusSelect | lptStatusPError,
		out:    out,
	}
}

func (l *LPT) Read(rangeID int, offset uint64, size fabric.Size) uint64 {
	switch offset {
	case 0:
		return uint64(l.data)
	case 1:
		return uint64(l.status)
	case 2:
		return uint64(l.ctrl)
	default:
		return 0
	}
}

func (l *LPT) Write(rangeID int, offset uint64, size fabric.Size, value uint64) {
	data := byte(value)
	switch offset {
	case 0:
		l.data = data
	case 2:
		l.ctrl = data
		strobe := data&lptCtrlStrobe != 0
		if strobe && !l.lastStb {
			l.latch()
		}
		l.lastStb = strobe
	}
}

func (l *LPT) latch() {
	if l.out == nil {
		return
	}
	if _, err := l.out.Write([]byte{l.data}); err != nil {
		log.Warn("lpt: write to output sink failed: %v", err)
	}
}
