package intr

import "testing"

func initPIC(p *PICPair, ctrl int, base uint8) {
	// ICW1
	p.Write(ctrl, 0, 1, 0x10)
	// ICW2: base vector
	p.Write(ctrl, 1, 1, uint64(base))
	// ICW3: cascade wiring (ignored)
	p.Write(ctrl, 1, 1, 0x04)
	// ICW4
	p.Write(ctrl, 1, 1, 0x01)
	// OCW1: unmask everything
	p.Write(ctrl, 1, 1, 0x00)
}

func TestPICCascadeEOI(t *testing.T) {
	lf := NewLineFabric()
	p := NewPICPair(lf)

	initPIC(p, 0, 0x20)
	initPIC(p, 1, 0x28)

	// assert IRQ 9 == IRQ 1 on controller 1
	p.Interrupt(9, true)

	if !p.LineAsserted() {
		t.Fatal("expected cascade line asserted")
	}
	if !lf.IsAsserted(CPUIRQLine) {
		t.Fatal("expected CPU line raised")
	}

	if v := p.ReadVector(); v != 0x29 {
		t.Fatalf("IACK vector = %#x, want 0x29", v)
	}

	// non-specific EOI to controller 1, then controller 0
	p.Write(1, 0, 1, 0x20)
	p.Write(0, 0, 1, 0x20)

	if p.LineAsserted() {
		t.Fatal("expected line to fall after EOI")
	}
	if lf.IsAsserted(CPUIRQLine) {
		t.Fatal("expected CPU line to fall after EOI")
	}
}

func TestPICMaskRoundTrip(t *testing.T) {
	lf := NewLineFabric()
	p := NewPICPair(lf)

	initPIC(p, 0, 0x20)
	p.Write(0, 1, 1, 0xA5)

	if got := p.IMR(0); got != 0xA5 {
		t.Fatalf("IMR = %#x, want 0xa5", got)
	}
}

func TestPICMaskedInterruptDropped(t *testing.T) {
	lf := NewLineFabric()
	p := NewPICPair(lf)
	initPIC(p, 0, 0x20)

	p.Write(0, 1, 1, 0xFF) // mask everything
	p.Interrupt(3, true)

	if p.LineAsserted() {
		t.Fatal("masked interrupt must not assert the line")
	}
}

func TestPICAlreadyAssertedDropped(t *testing.T) {
	lf := NewLineFabric()
	p := NewPICPair(lf)
	initPIC(p, 0, 0x20)

	p.Interrupt(3, true)
	p.Interrupt(3, true) // second assert should be a no-op, not stack

	p.Write(0, 0, 1, 0x20) // non-specific EOI clears it once
	if p.LineAsserted() {
		t.Fatal("expected single EOI to fully clear a double-asserted IRQ")
	}
}
