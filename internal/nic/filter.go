package nic

import "bytes"

// Filter implements the Tulip perfect-match address filter loaded via
// a setup frame descriptor (TDCTL_SET): a 192-byte block of 16 slots,
// each a 6-byte MAC address padded to a 4-byte-aligned stride so the
// whole block packs into 192 bytes as 16-bit little-endian halfwords
// per original_source/src/DEC21143_tulipreg.hpp's perfect-filtering
// layout (spec §12). Hash filtering is not implemented: nothing in
// this core drives multicast traffic that would need it.
type Filter struct {
	addrs     [16][6]byte
	valid     [16]bool
	promisc   bool
	broadcast bool
}

const setupFrameLen = 192
const setupSlots = 16

// LoadSetupFrame parses a 192-byte perfect-match setup descriptor into
// 16 MAC address slots. Each slot is stored as three little-endian
// 16-bit words (12 bytes per slot, 16 slots = 192 bytes).
func (f *Filter) LoadSetupFrame(buf []byte) {
	if len(buf) < setupFrameLen {
		return
	}
	for slot := 0; slot < setupSlots; slot++ {
		off := slot * 12
		var mac [6]byte
		mac[0], mac[1] = buf[off+0], buf[off+1]
		mac[2], mac[3] = buf[off+4], buf[off+5]
		mac[4], mac[5] = buf[off+8], buf[off+9]
		f.addrs[slot] = mac
		f.valid[slot] = mac != [6]byte{}
	}
	f.broadcast = true
}

// SetPromiscuous toggles acceptance of every frame regardless of
// destination address (opModeSR's companion OPMODE_PR bit).
func (f *Filter) SetPromiscuous(on bool) { f.promisc = on }

// Accepts reports whether an inbound Ethernet frame's destination
// address matches the loaded filter.
func (f *Filter) Accepts(frame []byte) bool {
	if f.promisc {
		return true
	}
	if len(frame) < 6 {
		return false
	}
	dst := frame[0:6]
	if f.broadcast && bytes.Equal(dst, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}) {
		return true
	}
	for i, valid := range f.valid {
		if valid && bytes.Equal(dst, f.addrs[i][:]) {
			return true
		}
	}
	return false
}
