package southbridge

import (
	"sync"
	"time"

	"github.com/es40emu/es40/internal/fabric"
	"github.com/es40emu/es40/internal/intr"
)

// MC146818 register indices within the 128-byte CMOS RAM, grounded on
// original_source/src/AliM1543C.cpp's RTC_REG_* constants.
const (
	rtcRegSeconds = 0x00
	rtcRegMinutes = 0x02
	rtcRegHours   = 0x04
	rtcRegWeekday = 0x06
	rtcRegDay     = 0x07
	rtcRegMonth   = 0x08
	rtcRegYear    = 0x09
	rtcRegA       = 0x0A
	rtcRegB       = 0x0B
	rtcRegC       = 0x0C
	rtcRegD       = 0x0D

	rtcUIP  = 0x80 // register A: update in progress
	rtcSET  = 0x80 // register B: halt updates while guest sets the clock
	rtcDM   = 0x04 // register B: data mode, 1 = binary, 0 = BCD
	rtc2412 = 0x02 // register B: 1 = 24-hour, 0 = 12-hour
	rtcPIE  = 0x40 // register B: periodic interrupt enable
	rtcUIE  = 0x10 // register B: update-ended interrupt enable

	rtcUF = 0x10 // register C: update-ended interrupt flag
	rtcPF = 0x40 // register C: periodic interrupt flag
	rtcIRQ = 0x80 // register C: any enabled flag set

	rtcVRT = 0x80 // register D: valid RAM and time
)

// RTC emulates the ALi south bridge's MC146818-compatible time-of-year
// clock at legacy I/O offset +0x70 (index register) / +0x71 (data
// register). Decided Open Question (§9, RTC UIP heuristic): rather
// than model the exact ~2228us update window, UIP is raised on the
// register-A read that follows a register-A read, and is cleared
// (firing the update-ended interrupt if enabled) on the register-A
// read after that; the divider bits are not consulted — enough for firmware/OS polling loops
// that spin on UIP to observe a transition without a real-time wait.
type RTC struct {
	mu      sync.Mutex
	ram     [128]byte
	index   uint8
	pic     *intr.PICPair
	uipPend bool

	lastPeriodic time.Time
}

func NewRTC(pic *intr.PICPair, seedVGAConsole bool) *RTC {
	r := &RTC{pic: pic, lastPeriodic: time.Time{}}
	r.ram[rtcRegA] = 0x26
	r.ram[rtcRegB] = rtc2412
	r.ram[rtcRegD] = rtcVRT
	if seedVGAConsole {
		r.ram[0x17] = 1
	}
	r.syncClock()
	return r
}

func (r *RTC) Read(rangeID int, offset uint64, size fabric.Size) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch offset {
	case 0:
		return uint64(r.index)
	case 1:
		return uint64(r.readData())
	default:
		return 0
	}
}

func (r *RTC) Write(rangeID int, offset uint64, size fabric.Size, value uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := uint8(value)
	switch offset {
	case 0:
		r.index = data & 0x7f
	case 1:
		r.writeData(data)
	}
}

func (r *RTC) readData() uint8 {
	switch r.index {
	case rtcRegA:
		if r.uipPend {
			r.ram[rtcRegA] |= rtcUIP
			r.uipPend = false
		} else if r.ram[rtcRegA]&rtcUIP != 0 {
			r.ram[rtcRegA] &^= rtcUIP
			if r.ram[rtcRegB]&rtcUIE != 0 {
				r.ram[rtcRegC] |= rtcUF | rtcIRQ
			}
			r.syncClock()
		} else {
			r.uipPend = true
		}
	case rtcRegC:
		v := r.ram[rtcRegC]
		r.ram[rtcRegC] = 0
		return v
	}
	return r.ram[r.index]
}

func (r *RTC) writeData(data uint8) {
	if r.index == rtcRegB {
		wasSet := r.ram[rtcRegB]&rtcSET != 0
		nowSet := data&rtcSET != 0
		if wasSet && !nowSet {
			r.syncClock()
		}
	}
	r.ram[r.index] = data
}

// syncClock regenerates the time registers from the host clock,
// respecting the binary/BCD and 12/24-hour mode bits in register B.
func (r *RTC) syncClock() {
	now := time.Now()
	mode := r.ram[rtcRegB]
	binary := mode&rtcDM != 0
	h24 := mode&rtc2412 != 0

	hour := now.Hour()
	pm := byte(0)
	if !h24 {
		pm = byte(0)
		if hour >= 12 {
			pm = 0x80
		}
		hour = hour % 12
		if hour == 0 {
			hour = 12
		}
	}

	enc := func(v int) byte {
		if binary {
			return byte(v)
		}
		return toBCD(byte(v))
	}

	r.ram[rtcRegSeconds] = enc(now.Second())
	r.ram[rtcRegMinutes] = enc(now.Minute())
	r.ram[rtcRegHours] = enc(hour) | pm
	r.ram[rtcRegWeekday] = enc(int(now.Weekday()) + 1)
	r.ram[rtcRegDay] = enc(now.Day())
	r.ram[rtcRegMonth] = enc(int(now.Month()))
	r.ram[rtcRegYear] = enc(now.Year() % 100)
}

func toBCD(v byte) byte {
	return ((v / 10) << 4) | (v % 10)
}

// Tick raises the periodic interrupt once per call while PIE is set
// and register A selects a nonzero rate; the rate value does not
// change how often it fires. Called from the south bridge's worker
// loop alongside the PIT.
func (r *RTC) Tick() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ram[rtcRegB]&rtcPIE == 0 {
		return
	}
	rate := r.ram[rtcRegA] & 0x0f
	if rate == 0 {
		return
	}
	r.ram[rtcRegC] |= rtcPF | rtcIRQ
	if r.pic != nil {
		r.pic.Interrupt(8, true)
		r.pic.Interrupt(8, false)
	}
}
