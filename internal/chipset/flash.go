package chipset

import (
	"github.com/es40emu/es40/internal/fabric"
)

// flash command-sequence modes, named for the JEDEC-style AMD flash
// command set the guest's firmware programs against (spec §6, grounded
// on original_source/src/Flash.cpp's WriteMem state machine).
type flashMode int

const (
	flashRead flashMode = iota
	flashStep1
	flashStep2
	flashAutoSelect
	flashProgram
	flashEraseStep3
	flashEraseStep4
	flashEraseStep5
	flashConfirm0
	flashConfirm1
)

const (
	flashSize = 2 * 1024 * 1024
	// FlashRangeLength is the address window the flash decodes over;
	// one byte of flash per 64 bytes of address space, unused bits
	// ignored (sparse decode, matching the dual-port SRAM below).
	FlashRangeLength = uint64(flashSize) << 6
	FlashBase        = uint64(0x0000_0801_0000_0000)
)

// Flash emulates the AMD-style program/erase command sequencer sitting
// in front of a flat byte array of boot ROM contents.
type Flash struct {
	data []byte
	mode flashMode
}

// NewFlash creates a flash device pre-filled with 0xFF (erased) or,
// when initial is non-nil, seeded from a loaded ROM image (rom.flash
// config key).
func NewFlash(initial []byte) *Flash {
	f := &Flash{data: make([]byte, flashSize)}
	for i := range f.data {
		f.data[i] = 0xFF
	}
	copy(f.data, initial)
	return f
}

func (f *Flash) Read(rangeID int, address uint64, size fabric.Size) uint64 {
	a := address >> 6

	switch f.mode {
	case flashAutoSelect:
		switch a {
		case 0:
			return 1 // manufacturer ID
		case 1:
			return 0xAD // device ID
		default:
			return 0
		}
	case flashConfirm1:
		f.mode = flashConfirm0
		return 0x80
	case flashConfirm0:
		f.mode = flashRead
		return 0x80
	default:
		if int(a) < len(f.data) {
			return uint64(f.data[a])
		}
		return 0
	}
}

func (f *Flash) Write(rangeID int, address uint64, size fabric.Size, value uint64) {
	a := address >> 6

	switch f.mode {
	case flashRead, flashAutoSelect:
		if a == 0x5555 && value == 0xAA {
			f.mode = flashStep1
			return
		}
		f.mode = flashRead
		return

	case flashStep1:
		if a == 0x2AAA && value == 0x55 {
			f.mode = flashStep2
			return
		}
		f.mode = flashRead
		return

	case flashStep2:
		if a != 0x5555 {
			f.mode = flashRead
			return
		}
		switch value {
		case 0x90:
			f.mode = flashAutoSelect
		case 0xA0:
			f.mode = flashProgram
		case 0x80:
			f.mode = flashEraseStep3
		default:
			f.mode = flashRead
		}
		return

	case flashEraseStep3:
		if a == 0x5555 && value == 0xAA {
			f.mode = flashEraseStep4
			return
		}
		f.mode = flashRead
		return

	case flashEraseStep4:
		if a == 0x2AAA && value == 0x55 {
			f.mode = flashEraseStep5
			return
		}
		f.mode = flashRead
		return

	case flashEraseStep5:
		switch {
		case a == 0x5555 && value == 0x10:
			for i := range f.data {
				f.data[i] = 0xFF
			}
			f.mode = flashConfirm1
			return
		case value == 0x30:
			blockStart := (a >> 16) << 16
			blockEnd := blockStart + (1 << 16)
			if int(blockEnd) > len(f.data) {
				blockEnd = uint64(len(f.data))
			}
			for i := blockStart; i < blockEnd; i++ {
				f.data[i] = 0xFF
			}
			f.mode = flashConfirm1
			return
		default:
			f.mode = flashRead
			return
		}
	}

	// flashProgram: program one byte, then fall back to read mode.
	if int(a) < len(f.data) {
		f.data[a] = byte(value)
	}
	f.mode = flashRead
}

func (f *Flash) Bytes(rangeID int) []byte { return f.data }
