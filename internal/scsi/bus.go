package scsi

import "sync"

// Phase is a SCSI bus phase, encoded the conventional way as the
// {MSG, C/D, I/O} signal triple (so DATA_OUT=0 .. MSG_IN=7), matching
// the numbering original_source/src/Disk.cpp's scsi_*_phase functions
// and switch statements assume.
type Phase int

const (
	PhaseDataOut Phase = 0
	PhaseDataIn  Phase = 1
	PhaseCommand Phase = 2
	PhaseStatus  Phase = 3
	PhaseMsgOut  Phase = 6
	PhaseMsgIn   Phase = 7
	PhaseFree    Phase = -1
	PhaseArbitration Phase = -2
)

// Bus is the SCSI bus shared by one initiator (the controller) and up
// to eight targets. Only a single outstanding selection is modeled:
// real multi-initiator arbitration never matters on this guest.
type Bus struct {
	mu       sync.Mutex
	phase    Phase
	selected *Target
	targets  [8]*Target

	selectTimeoutArmed bool
}

func newBus() *Bus {
	return &Bus{phase: PhaseFree}
}

// Attach registers a target at the given SCSI ID (0-7).
func (b *Bus) Attach(id int, t *Target) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t.id = id
	b.targets[id] = t
}

// Arbitrate reports whether the bus is free to arbitrate; in this
// single-initiator model it always is.
func (b *Bus) Arbitrate() bool { return true }

// Select attempts selection of the target at id, returning false (a
// selection timeout) if no target answers.
func (b *Bus) Select(id int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.targets[id&0x07]
	if t == nil {
		b.phase = PhaseArbitration
		return false
	}
	b.selected = t
	t.onSelected()
	b.phase = t.phase
	return true
}

// Free releases the bus back to the idle state.
func (b *Bus) Free() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.selected = nil
	b.phase = PhaseFree
}

func (b *Bus) Phase() Phase {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase
}

func (b *Bus) setPhase(p Phase) {
	b.phase = p
}

// ExpectedXfer returns how many bytes the selected target still
// expects (OUT phases) or still has available (IN phases) in the
// current phase, grounded on CDisk::scsi_expected_xfer_me.
func (b *Bus) ExpectedXfer() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.selected == nil {
		return 0
	}
	return b.selected.expectedXfer(b.phase)
}

// XferPtr returns a slice of length count the initiator can read from
// or write into for the current phase, advancing that phase's cursor
// (CDisk::scsi_xfer_ptr_me).
func (b *Bus) XferPtr(count int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.selected == nil {
		return nil
	}
	return b.selected.xferPtr(b.phase, count)
}

// XferDone processes a completed transfer, possibly executing the
// pending CDB and transitioning to the next phase
// (CDisk::scsi_xfer_done_me).
func (b *Bus) XferDone() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.selected == nil {
		return
	}
	next := b.selected.xferDone(b.phase)
	if next != b.phase {
		b.phase = next
		if next == PhaseFree {
			b.selected = nil
		}
	}
}
