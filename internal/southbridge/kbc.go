package southbridge

import (
	"github.com/es40emu/es40/internal/fabric"
	"github.com/es40emu/es40/internal/intr"
)

const (
	kbcFIFOMax = 1024

	kbcStatusOBF      = 0x01 // output buffer full (data port has a byte)
	kbcStatusIBF      = 0x02 // input buffer full (host hasn't consumed our command)
	kbcStatusCmdData  = 0x08 // last write to 0x64 was a command byte
	kbcStatusAuxData  = 0x20 // next byte at 0x60 came from the mouse, not keyboard
)

// set2to1 is the 8042's scancode-set-2-to-set-1 translation table
// (spec §12, grounded on Keyboard.cpp's translation8042), indexed by
// the low 7 bits of a make-code byte in scancode set 2; entries past
// what real hardware defines for common keys are left zero and the
// byte is passed through untranslated.
var set2to1 = [128]byte{
	0x01: 0x43, 0x03: 0x3f, 0x04: 0x3d, 0x05: 0x3b, 0x06: 0x3c, 0x07: 0x58,
	0x09: 0x44, 0x0a: 0x42, 0x0b: 0x40, 0x0c: 0x3e, 0x0d: 0x0f, 0x0e: 0x29,
	0x11: 0x38, 0x12: 0x2a, 0x14: 0x1d, 0x15: 0x10, 0x16: 0x02, 0x1a: 0x2c,
	0x1b: 0x1f, 0x1c: 0x1e, 0x1d: 0x11, 0x1e: 0x03, 0x1f: 0x5b, 0x21: 0x2e,
	0x22: 0x2d, 0x23: 0x20, 0x24: 0x12, 0x25: 0x05, 0x26: 0x06, 0x29: 0x39,
	0x2a: 0x2f, 0x2b: 0x21, 0x2c: 0x14, 0x2e: 0x04, 0x2f: 0x07, 0x32: 0x30,
	0x33: 0x31, 0x34: 0x1c, 0x35: 0x22, 0x36: 0x08, 0x3a: 0x32, 0x3b: 0x24,
	0x3c: 0x2e, 0x3e: 0x09, 0x41: 0x33, 0x42: 0x25, 0x43: 0x17, 0x44: 0x0a,
	0x49: 0x34, 0x4a: 0x35, 0x4e: 0x0c, 0x4d: 0x18, 0x55: 0x0d, 0x58: 0x3a,
	0x66: 0x0e, 0x76: 0x01, 0x5a: 0x1c,
}

type kbcFIFO struct {
	buf  []byte
	head int
}

func (f *kbcFIFO) push(b byte) {
	if len(f.buf) >= kbcFIFOMax {
		return
	}
	f.buf = append(f.buf, b)
}

func (f *kbcFIFO) pop() (byte, bool) {
	if len(f.buf) == 0 {
		return 0, false
	}
	b := f.buf[0]
	f.buf = f.buf[1:]
	return b, true
}

func (f *kbcFIFO) empty() bool { return len(f.buf) == 0 }

// KBC emulates the 8042 keyboard controller at legacy I/O offsets
// +0x60 (data) / +0x64 (status/command), including the Set-2-to-Set-1
// scancode translation and a minimal IntelliMouse 4-byte packet mode
// (spec §12).
type KBC struct {
	kbdQueue kbcFIFO
	auxQueue kbcFIFO

	statusReg  byte
	cmdByte    byte
	translate  bool
	expectData bool // a command byte is waiting for a data-port parameter
	pendingCmd byte
	auxEnabled bool

	mouseMagicStep int
	intelliMouse   bool
	mouseButtons   byte

	pic *intr.PICPair
}

func NewKBC(pic *intr.PICPair) *KBC {
	return &KBC{
		cmdByte:   0x45, // translate enabled, kbd+mouse clocks enabled, IRQ1 enabled
		translate: true,
		pic:       pic,
	}
}

func (k *KBC) Read(rangeID int, offset uint64, size fabric.Size) uint64 {
	switch offset {
	case 0: // data port 0x60
		if !k.kbdQueue.empty() {
			b, _ := k.kbdQueue.pop()
			k.refreshStatus()
			return uint64(b)
		}
		if !k.auxQueue.empty() {
			b, _ := k.auxQueue.pop()
			k.refreshStatus()
			return uint64(b)
		}
		return 0
	case 4: // status port 0x64
		k.refreshStatus()
		return uint64(k.statusReg)
	default:
		return 0
	}
}

func (k *KBC) Write(rangeID int, offset uint64, size fabric.Size, value uint64) {
	data := byte(value)
	switch offset {
	case 0:
		k.writeData(data)
	case 4:
		k.writeCommand(data)
	}
}

func (k *KBC) writeCommand(cmd byte) {
	switch cmd {
	case 0x20: // read command byte
		k.kbdQueue.push(k.cmdByte)
	case 0x60: // write command byte (data follows)
		k.pendingCmd = cmd
		k.expectData = true
	case 0xA7: // disable mouse
		k.auxEnabled = false
	case 0xA8: // enable mouse
		k.auxEnabled = true
	case 0xAD: // disable keyboard
		k.cmdByte |= 0x10
	case 0xAE: // enable keyboard
		k.cmdByte &^= 0x10
	case 0xD4: // next data-port write goes to the mouse
		k.pendingCmd = cmd
		k.expectData = true
	}
	k.refreshStatus()
}

func (k *KBC) writeData(data byte) {
	if k.expectData {
		k.expectData = false
		switch k.pendingCmd {
		case 0x60:
			k.cmdByte = data
			k.translate = data&0x40 != 0
		case 0xD4:
			k.handleMouseCommand(data)
		case 0xF3:
			k.SampleRate(data)
		}
		k.refreshStatus()
		return
	}
	k.handleKeyboardCommand(data)
}

func (k *KBC) handleKeyboardCommand(data byte) {
	switch data {
	case 0xFF: // reset
		k.kbdQueue.push(0xFA)
		k.kbdQueue.push(0xAA)
	case 0xF0: // set scancode set: ack only, single-set-2 table is all this core models
		k.kbdQueue.push(0xFA)
	default:
		k.kbdQueue.push(0xFA)
	}
	k.refreshStatus()
}

// mouseMagicSequence is the 200,100,80 sample-rate handshake real
// drivers send to switch a PS/2 mouse into IntelliMouse (wheel) mode.
var mouseMagicSequence = [3]byte{200, 100, 80}

func (k *KBC) handleMouseCommand(data byte) {
	switch data {
	case 0xFF: // reset
		k.auxQueue.push(0xFA)
		k.auxQueue.push(0xAA)
		k.auxQueue.push(0x00)
		k.mouseMagicStep = 0
		k.intelliMouse = false
	case 0xF3: // set sample rate, data byte follows as a plain data-port write
		k.pendingCmd = 0xF3
		k.expectData = true
		k.auxQueue.push(0xFA)
		return
	default:
		k.auxQueue.push(0xFA)
	}
	k.refreshStatus()
}

// SampleRate feeds the byte following an 0xF3 set-sample-rate command;
// three consecutive rates of 200, 100, 80 arm IntelliMouse mode,
// matching real PS/2 mouse firmware.
func (k *KBC) SampleRate(rate byte) {
	if rate == mouseMagicSequence[k.mouseMagicStep] {
		k.mouseMagicStep++
		if k.mouseMagicStep == len(mouseMagicSequence) {
			k.intelliMouse = true
			k.mouseMagicStep = 0
		}
	} else {
		k.mouseMagicStep = 0
	}
}

func (k *KBC) refreshStatus() {
	k.statusReg &^= kbcStatusOBF | kbcStatusAuxData
	if !k.kbdQueue.empty() {
		k.statusReg |= kbcStatusOBF
	} else if !k.auxQueue.empty() {
		k.statusReg |= kbcStatusOBF | kbcStatusAuxData
	}
}

// InjectKey enqueues a Set-2 make/break code, translating to Set-1
// first unless the guest has disabled translation.
func (k *KBC) InjectKey(set2Code byte, release bool) {
	code := set2Code
	if release {
		// Set 2 break is 0xF0 prefix + make code; Set 1 break is
		// make-code | 0x80, so the prefix collapses once translated.
	}
	if k.translate {
		code = set2to1[set2Code&0x7f]
		if code == 0 {
			code = set2Code
		}
	}
	if release {
		code |= 0x80
	}
	k.kbdQueue.push(code)
	k.refreshStatus()
	if k.pic != nil {
		k.pic.Interrupt(1, true)
		k.pic.Interrupt(1, false)
	}
}

// InjectMouse enqueues a standard 3-byte PS/2 mouse packet, extended to
// 4 bytes with the wheel delta when IntelliMouse mode has been armed.
func (k *KBC) InjectMouse(dx, dy int8, buttons byte, wheel int8) {
	if !k.auxEnabled {
		return
	}
	b0 := byte(0x08) | (buttons & 0x07)
	if dx < 0 {
		b0 |= 0x10
	}
	if dy < 0 {
		b0 |= 0x20
	}
	k.auxQueue.push(b0)
	k.auxQueue.push(byte(dx))
	k.auxQueue.push(byte(dy))
	if k.intelliMouse {
		k.auxQueue.push(byte(wheel))
	}
	k.refreshStatus()
	if k.pic != nil {
		k.pic.Interrupt(12, true)
		k.pic.Interrupt(12, false)
	}
}
