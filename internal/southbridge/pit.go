package southbridge

import (
	"sync"

	"github.com/es40emu/es40/internal/fabric"
	"github.com/es40emu/es40/internal/intr"
)

// pit channel modes (low nibble of the 8254 control word, bits 1-3),
// grounded on original_source/src/AliM1543C.cpp's pit_write/pit_clock.
const (
	pitModeTerminalCount = 0
	pitModeSquareWave    = 3
)

const pitChannels = 3

// PIT emulates the 8254 programmable interval timer at legacy I/O
// offset +0x40 (spec §6). Channel 0 drives IRQ0 (the guest's periodic
// tick), channel 1 is the (unmodeled) RAM refresh channel, channel 2
// is the speaker/generic timer. Decided Open Question (§9): each tick
// of the emulated clock decrements every unmasked channel once, and a
// channel in square-wave mode decrements a second time after reload,
// matching the original's PIT_DEC-twice-per-clock behavior for mode 3
// rather than modeling it as channel-2-specific — the original applies
// it uniformly to any channel programmed for mode 3.
type PIT struct {
	mu sync.Mutex

	status [pitChannels]uint8
	// accessMode is the control-word access pattern as Write decodes it
	// (0=latch, 1=high byte only, 2=low byte only, 3=high byte then low
	// byte), distinct from the operating
	// mode (terminal-count/square-wave/...) embedded in status bits
	// 1-3 that Tick clocks against.
	accessMode [pitChannels]uint8
	counter    [pitChannels]uint16
	reload     [pitChannels]uint16

	pic *intr.PICPair
}

func NewPIT(pic *intr.PICPair) *PIT {
	p := &PIT{pic: pic}
	for i := range p.status {
		p.status[i] = 0x40 // invalid/null counter, per reset state
	}
	return p
}

// Read implements fabric.Component. The real 8254 supports a counter
// latch read-back; the guest firmware this core targets never issues
// one, so (matching the original) reads return 0.
func (p *PIT) Read(rangeID int, offset uint64, size fabric.Size) uint64 {
	return 0
}

func (p *PIT) Write(rangeID int, offset uint64, size fabric.Size, value uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := int(offset)
	data := uint8(value)

	if ch == 3 { // control word
		if data == 0 {
			return
		}
		sel := (data & 0xc0) >> 6
		if sel == 3 {
			p.status[3%pitChannels] = 0xc0 // readback command, unsupported
			return
		}
		p.status[sel] = data & 0x3f
		p.accessMode[sel] = (data & 0x30) >> 4
		return
	}

	if ch < 0 || ch >= pitChannels {
		return
	}

	switch p.accessMode[ch] {
	case 0: // latch command, no data byte expected here
		return
	case 1, 3: // MSB-only, or the first (high-byte) half of LSB-then-MSB
		p.reload[ch] = (p.reload[ch] & 0xff) | uint16(data)<<8
		p.counter[ch] = p.reload[ch]
		if p.accessMode[ch] == 3 {
			p.accessMode[ch] = 2 // next write completes the low byte
		} else {
			p.status[ch] &^= 0xc0
		}
	case 2: // LSB-only, or the completing (low-byte) half of LSB-then-MSB
		p.reload[ch] = (p.reload[ch] &^ 0xff) | uint16(data)
		if (p.status[ch]&0x30)>>4 == 3 && p.reload[ch] == 0 {
			p.counter[ch] = 0 // represents 65536, wraps as uint16(0)
		} else {
			p.counter[ch] = p.reload[ch]
		}
		p.status[ch] &^= 0xc0
	}
}

// Tick advances every channel by one emulated clock period; called
// from the south bridge's worker loop, not from the bus fabric.
func (p *PIT) Tick() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < pitChannels; i++ {
		if p.status[i]&0x40 != 0 {
			continue // no count programmed
		}
		p.decrement(i)

		switch (p.status[i] & 0x0e) >> 1 {
		case pitModeTerminalCount:
			if p.counter[i] == 0 {
				p.status[i] |= 0xc0
			}
		case pitModeSquareWave:
			if p.counter[i] == 0 {
				if p.status[i]&0x80 != 0 {
					p.status[i] &^= 0x80
				} else {
					p.status[i] |= 0x80
					if i == 0 && p.pic != nil {
						p.pic.Interrupt(0, true)
						p.pic.Interrupt(0, false)
					}
				}
				p.counter[i] = p.reload[i]
			}
			p.decrement(i)
		}
	}
}

func (p *PIT) decrement(i int) {
	if p.counter[i] == 0 {
		return
	}
	p.counter[i]--
}
