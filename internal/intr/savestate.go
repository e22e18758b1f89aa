package intr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

func (p *PICPair) SaveTag() string { return "PIC" }

// SaveState serializes both controllers' mask/asserted/edge-level/mode/
// vector arrays — everything needed to resume cascade state exactly,
// including an in-progress ICW initialization sequence.
func (p *PICPair) SaveState() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var buf bytes.Buffer
	buf.Write(p.mask[:])
	buf.Write(p.asserted[:])
	buf.Write(p.edgeLevel[:])
	buf.Write(p.intvec[:])
	for _, m := range p.mode {
		binary.Write(&buf, binary.LittleEndian, uint32(m))
	}
	return buf.Bytes(), nil
}

func (p *PICPair) LoadState(blob []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	want := len(p.mask) + len(p.asserted) + len(p.edgeLevel) + len(p.intvec) + len(p.mode)*4
	if len(blob) < want {
		return fmt.Errorf("intr: save blob too short: have %d want %d", len(blob), want)
	}
	r := bytes.NewReader(blob)
	for _, dst := range [][]byte{p.mask[:], p.asserted[:], p.edgeLevel[:], p.intvec[:]} {
		if _, err := io.ReadFull(r, dst); err != nil {
			return fmt.Errorf("intr: reading register array: %w", err)
		}
	}
	for i := range p.mode {
		var m uint32
		if err := binary.Read(r, binary.LittleEndian, &m); err != nil {
			return fmt.Errorf("intr: reading mode: %w", err)
		}
		p.mode[i] = int(m)
	}
	return nil
}
