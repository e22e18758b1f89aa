// Package intr implements the interrupt fabric shared between device
// worker threads and the CPU threads, and the cascaded 8259A PIC pair
// that sits on top of it.
package intr

import "sync"

// CPULine is implemented by each emulated CPU: it observes transitions
// of the single platform interrupt line (line 55 on this chipset, tied
// to the PIC cascade) that the chipset raises toward it.
type CPULine interface {
	SetInterrupt(line int, asserted bool)
}

// LineFabric tracks per-line assert state and broadcasts edge-free level
// transitions to every attached CPU. This is the "Interrupt Fabric" of
// §2: per-CPU IRQ line state and deassertion propagation, independent of
// (and sitting below) the 8259 pair's own internal latches.
type LineFabric struct {
	mu       sync.Mutex
	cpus     []CPULine
	asserted map[int]bool
}

func NewLineFabric() *LineFabric {
	return &LineFabric{asserted: map[int]bool{}}
}

func (lf *LineFabric) Attach(c CPULine) {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	lf.cpus = append(lf.cpus, c)
}

// SetInterrupt updates line's state and, on an actual transition,
// notifies every attached CPU. Redundant assert/deassert calls are
// dropped, matching the PIC's own "if already asserted, drop" rule one
// level up.
func (lf *LineFabric) SetInterrupt(line int, asserted bool) {
	lf.mu.Lock()
	if lf.asserted[line] == asserted {
		lf.mu.Unlock()
		return
	}
	lf.asserted[line] = asserted
	cpus := append([]CPULine(nil), lf.cpus...)
	lf.mu.Unlock()

	for _, c := range cpus {
		c.SetInterrupt(line, asserted)
	}
}

func (lf *LineFabric) IsAsserted(line int) bool {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return lf.asserted[line]
}
