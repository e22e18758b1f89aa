package scsi

// buffer is one direction of a target's per-phase transfer staging
// area: bytes already written in (for OUT phases) or bytes available
// to read out (for IN phases), with a cursor tracking how much the
// initiator has consumed so far. Grounded on Disk.cpp's
// state.scsi.{cmd,dati,dato,stat,msgi,msgo} members.
type buffer struct {
	data     []byte
	cursor   int // written (OUT) or read (IN)
	avail    int // available (IN) or expected (OUT)
}

func (b *buffer) reset() {
	b.cursor = 0
	b.avail = 0
}

// Target is one SCSI device attached to the bus: its command/data/
// status/message buffers, sense data, and the CDB dispatcher that
// drives them (cdb.go).
type Target struct {
	id int

	Backend  DiskBackend
	IsCDROM  bool

	cmd  buffer
	dati buffer
	dato buffer
	stat buffer
	msgi buffer
	msgo buffer

	sense     [18]byte
	senseLen  int
	lunSelected bool

	blockSize uint32
	phase     Phase
}

// NewTarget constructs a target backed by the given disk; blockSize is
// the initial SCSI block size (512 for a hard disk, 2048 for CD-ROM).
func NewTarget(backend DiskBackend, isCDROM bool, blockSize uint32) *Target {
	t := &Target{Backend: backend, IsCDROM: isCDROM, blockSize: blockSize}
	t.cmd.data = make([]byte, 256)
	t.dati.data = make([]byte, 1<<20)
	t.dato.data = make([]byte, 1<<16)
	t.stat.data = make([]byte, 16)
	t.msgi.data = make([]byte, 16)
	t.msgo.data = make([]byte, 16)
	return t
}

// onSelected resets per-command state and enters Message Out, matching
// CDisk::scsi_select_me for a non-ATAPI device.
func (t *Target) onSelected() {
	t.msgo.reset()
	t.msgi.reset()
	t.cmd.reset()
	t.dati.reset()
	t.dato.reset()
	t.stat.reset()
	t.lunSelected = false
	t.phase = PhaseMsgOut
}

func (t *Target) expectedXfer(phase Phase) int {
	switch phase {
	case PhaseDataOut:
		return t.dato.avail - t.dato.cursor
	case PhaseDataIn:
		return t.dati.avail - t.dati.cursor
	case PhaseCommand:
		return 256 - t.cmd.cursor
	case PhaseStatus:
		return t.stat.avail - t.stat.cursor
	case PhaseMsgOut:
		return 256 - t.msgo.cursor
	case PhaseMsgIn:
		return t.msgi.avail - t.msgi.cursor
	}
	return 0
}

func (t *Target) xferPtr(phase Phase, count int) []byte {
	var b *buffer
	switch phase {
	case PhaseDataOut:
		b = &t.dato
	case PhaseDataIn:
		b = &t.dati
	case PhaseCommand:
		b = &t.cmd
	case PhaseStatus:
		b = &t.stat
	case PhaseMsgOut:
		b = &t.msgo
	case PhaseMsgIn:
		b = &t.msgi
	default:
		return nil
	}
	if b.cursor+count > len(b.data) {
		count = len(b.data) - b.cursor
	}
	if count < 0 {
		count = 0
	}
	s := b.data[b.cursor : b.cursor+count]
	b.cursor += count
	return s
}

// xferDone implements CDisk::scsi_xfer_done_me's phase-transition
// state machine. Extended message negotiation (SDTR/WDTR) is not
// modeled: this core's guest drivers run async-narrow and never
// require it, so Message Out always falls straight through to Command.
func (t *Target) xferDone(phase Phase) Phase {
	switch phase {
	case PhaseDataOut:
		if t.dato.cursor < t.dato.avail {
			return phase
		}
		t.executeCDB()
		if t.dati.avail > 0 {
			return PhaseDataIn
		}
		return PhaseStatus

	case PhaseDataIn:
		if t.dati.cursor < t.dati.avail {
			return phase
		}
		return PhaseStatus

	case PhaseCommand:
		needsDataOut := t.executeCDB()
		if needsDataOut {
			return PhaseDataOut
		}
		if t.dati.avail > 0 {
			return PhaseDataIn
		}
		return PhaseStatus

	case PhaseStatus:
		if t.stat.cursor < t.stat.avail {
			return phase
		}
		return PhaseMsgIn

	case PhaseMsgOut:
		return PhaseCommand

	case PhaseMsgIn:
		if t.msgi.cursor < t.msgi.avail {
			return phase
		}
		if t.cmd.cursor > 0 {
			return PhaseFree
		}
		return PhaseCommand
	}
	return phase
}
