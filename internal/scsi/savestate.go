package scsi

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// SaveTag identifies this controller's save-state section. The tag is
// the same fixed string for every controller; no PCI address or other
// per-controller prefix is added to it.
func (c *Controller) SaveTag() string { return "SCSI" }

// SaveState serializes the register file and the execution state not
// already reflected in it: the ALU carry flag, the SCRIPTS run/parked
// flags, and the interrupt shadow stack.
func (c *Controller) SaveState() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var buf bytes.Buffer
	buf.Write(c.regs[:])
	binary.Write(&buf, binary.LittleEndian, c.aluCarry)
	binary.Write(&buf, binary.LittleEndian, c.executing)
	binary.Write(&buf, binary.LittleEndian, c.waitReselect)
	binary.Write(&buf, binary.LittleEndian, c.waitJump)
	binary.Write(&buf, binary.LittleEndian, c.disconnected)
	binary.Write(&buf, binary.LittleEndian, c.dstatStack)
	binary.Write(&buf, binary.LittleEndian, c.sist0Stack)
	binary.Write(&buf, binary.LittleEndian, c.sist1Stack)
	binary.Write(&buf, binary.LittleEndian, c.irqAsserted)
	return buf.Bytes(), nil
}

// LoadState restores exactly what SaveState wrote. The PCI interrupt
// line is re-evaluated afterward rather than trusted from the blob,
// since fn may not have been attached at the point of this call.
func (c *Controller) LoadState(blob []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(blob) < len(c.regs) {
		return fmt.Errorf("scsi: save blob too short: %d bytes", len(blob))
	}
	r := bytes.NewReader(blob)
	if _, err := io.ReadFull(r, c.regs[:]); err != nil {
		return fmt.Errorf("scsi: reading register file: %w", err)
	}
	for _, dst := range []interface{}{
		&c.aluCarry, &c.executing, &c.waitReselect, &c.waitJump,
		&c.disconnected, &c.dstatStack, &c.sist0Stack, &c.sist1Stack,
		&c.irqAsserted,
	} {
		if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
			return fmt.Errorf("scsi: reading execution state: %w", err)
		}
	}
	c.evalInterrupts()
	return nil
}
