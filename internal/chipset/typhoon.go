// Package chipset implements the Typhoon-class memory controller / PCI
// host bridge that ties the bus fabric, PCI config space, and interrupt
// fabric together (spec §6 "External Interfaces"): the PCI
// configuration-space window, the PCI IACK (interrupt vector fetch)
// window, and the legacy I/O space base devices register themselves
// under directly.
package chipset

import (
	"github.com/es40emu/es40/internal/fabric"
	"github.com/es40emu/es40/internal/intr"
	"github.com/es40emu/es40/internal/pci"
	log "github.com/es40emu/es40/pkg/minilog"
)

const (
	// LegacyIOBase is where the PIC, PIT, RTC, KBC, UARTs, LPT, DMA page
	// registers and the edge/level register live, each at its own
	// +offset (spec §6).
	LegacyIOBase = uint64(0x0000_0801_FC00_0000)

	// ConfigBase is the origin of the PCI configuration-space window;
	// addresses within it decode as base + (bus<<33) + (dev<<11) +
	// (func<<8) + offset.
	ConfigBase = uint64(0x0000_0801_FE00_0000)
	configSize = uint64(1) << 33

	// IACKBase is the single-location PCI interrupt-acknowledge window.
	IACKBase = uint64(0x0000_0801_F800_0000)
	iackSize = uint64(0x1000)
)

// Typhoon is the host bridge: it owns no storage of its own, it routes
// the two address-decoded windows (PCI config space, PCI IACK) to the
// PCI devices and interrupt controller registered with it.
type Typhoon struct {
	fab     *fabric.Fabric
	pic     *intr.PICPair
	devices map[uint16]*pci.Device // key: bus<<8 | dev
}

func New(fab *fabric.Fabric, pic *intr.PICPair) *Typhoon {
	t := &Typhoon{
		fab:     fab,
		pic:     pic,
		devices: make(map[uint16]*pci.Device),
	}
	return t
}

// Attach registers the host bridge's own two windows with the fabric.
// Called once at system construction, after the PIC pair exists.
func (t *Typhoon) Attach() error {
	if err := t.fab.RegisterMemory(configComponent{t}, 0, ConfigBase, configSize, fabric.Memory, fabric.Legacy, "typhoon-config"); err != nil {
		return err
	}
	if err := t.fab.RegisterMemory(iackComponent{t}, 0, IACKBase, iackSize, fabric.Memory, fabric.Legacy, "typhoon-iack"); err != nil {
		return err
	}
	return nil
}

// RegisterDevice makes a PCI device's functions reachable through the
// configuration-space window at the given bus/device number.
func (t *Typhoon) RegisterDevice(dev *pci.Device) {
	key := uint16(dev.Bus)<<8 | uint16(dev.Dev)
	t.devices[key] = dev
	log.Debug("typhoon: registered PCI device bus=%d dev=%d", dev.Bus, dev.Dev)
}

func (t *Typhoon) decode(addr uint64) (fn *pci.Function, offset uint64, ok bool) {
	rel := addr - ConfigBase
	bus := (rel >> 33) & 0xFF
	dev := (rel >> 11) & 0x1F
	funcNo := (rel >> 8) & 0x7
	offset = rel & 0xFF

	d, found := t.devices[uint16(bus)<<8|uint16(dev)]
	if !found {
		return nil, 0, false
	}
	fn = d.Funcs[funcNo]
	if fn == nil {
		return nil, 0, false
	}
	return fn, offset, true
}

// configComponent implements fabric.Component over the PCI config
// space window by decoding bus/dev/func/offset out of the address and
// forwarding to that function's config space.
type configComponent struct{ t *Typhoon }

func (c configComponent) Read(rangeID int, offsetInRange uint64, size fabric.Size) uint64 {
	fn, offset, ok := c.t.decode(ConfigBase + offsetInRange)
	if !ok {
		return ^uint64(0)
	}
	return fn.ConfigRead(offset, size)
}

func (c configComponent) Write(rangeID int, offsetInRange uint64, size fabric.Size, value uint64) {
	fn, offset, ok := c.t.decode(ConfigBase + offsetInRange)
	if !ok {
		return
	}
	fn.ConfigWrite(offset, size, value)
}

// iackComponent implements fabric.Component over the single-location
// IACK window: any access reads the cascaded PIC pair's current
// interrupt vector, per AliM1543C's pic_read_vector.
type iackComponent struct{ t *Typhoon }

func (c iackComponent) Read(rangeID int, offset uint64, size fabric.Size) uint64 {
	return uint64(c.t.pic.ReadVector())
}

func (c iackComponent) Write(rangeID int, offset uint64, size fabric.Size, value uint64) {
	// IACK window is read-only; guest writes here are a misprogrammed
	// access and are dropped rather than aborting (spec §7).
}
