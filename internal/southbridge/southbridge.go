// Package southbridge implements the ALi M1543C-class south bridge:
// the 8254 PIT, MC146818 RTC, 8042 keyboard/mouse controller, a
// Centronics parallel port, and the 8237 DMA page registers, all
// living in the legacy I/O window (spec §6).
package southbridge

import (
	"github.com/es40emu/es40/internal/devrt"
	"github.com/es40emu/es40/internal/fabric"
	"github.com/es40emu/es40/internal/intr"
)

const (
	offPIC0        = 0x20
	offPIC1        = 0xA0
	offPIT         = 0x40
	offRTC         = 0x70
	offKBC         = 0x60
	offKBCAlt      = 0x64
	offLPT         = 0x3BC
	offDMA0Channel = 0x00
	offDMA0Main    = 0x08
	offDMAPage     = 0x80
	offDMA1Channel = 0xC0
	offDMA1Main    = 0xD0
	offEdgeLevel   = 0x4D0
)

// SouthBridge wires the south-bridge devices into the fabric at their
// legacy I/O offsets, and drives the PIT/RTC tick loop on a single
// device-runtime worker, mirroring the original's one-thread ALi
// south bridge (AliM1543C::run).
type SouthBridge struct {
	PIC *intr.PICPair
	PIT *PIT
	RTC *RTC
	KBC *KBC
	LPT *LPT
	DMA *DMA

	worker *devrt.Worker
}

func New(pic *intr.PICPair, lptOut lptWriter, seedVGAConsole bool) *SouthBridge {
	return &SouthBridge{
		PIC: pic,
		PIT: NewPIT(pic),
		RTC: NewRTC(pic, seedVGAConsole),
		KBC: NewKBC(pic),
		LPT: NewLPT(lptOut),
		DMA: NewDMA(),
	}
}

// pic rangeIDs, mirroring intr.PICPair's own Read/Write rangeID
// convention (controller index, plus a third range for the shared
// edge/level register pair).
const (
	picRange0         = 0
	picRange1         = 1
	picEdgeLevelRange = 2
)

// lptWriter is io.Writer, spelled out locally so callers that pass nil
// don't need to import "io" just to spell out the interface.
type lptWriter interface {
	Write(p []byte) (int, error)
}

// Attach registers every south-bridge device with the fabric at its
// legacy-space offset (spec §6's base + N list).
func (s *SouthBridge) Attach(fab *fabric.Fabric, legacyBase uint64) error {
	regs := []struct {
		comp    fabric.Component
		rangeID int
		offset  uint64
		length  uint64
		name    string
	}{
		{s.PIT, 0, offPIT, 4, "pit"},
		{s.RTC, 0, offRTC, 2, "rtc"},
		// one range spanning data (+0) and status/command (+4), so KBC
		// sees the offsets its Read/Write switch on
		{s.KBC, 0, offKBC, offKBCAlt - offKBC + 1, "kbc"},
		{s.LPT, 0, offLPT, 3, "lpt"},
		{s.DMA, dmaRangeCtrl0Ch, offDMA0Channel, 8, "dma0-channel"},
		{s.DMA, dmaRangeCtrl0Main, offDMA0Main, 8, "dma0-main"},
		{s.DMA, dmaRangePage, offDMAPage, 16, "dma-page"},
		{s.DMA, dmaRangeCtrl1Ch, offDMA1Channel, 16, "dma1-channel"},
		{s.DMA, dmaRangeCtrl1Main, offDMA1Main, 16, "dma1-main"},
		{s.PIC, picRange0, offPIC0, 2, "pic0"},
		{s.PIC, picRange1, offPIC1, 2, "pic1"},
		{s.PIC, picEdgeLevelRange, offEdgeLevel, 2, "pic-edge-level"},
	}
	for _, r := range regs {
		if err := fab.RegisterMemory(r.comp, r.rangeID, legacyBase+r.offset, r.length, fabric.IO, fabric.Legacy, r.name); err != nil {
			return err
		}
	}
	return nil
}

// StartWorker launches the PIT/RTC tick loop as a device-runtime
// worker registered with rt so its death is visible to the watchdog.
func (s *SouthBridge) StartWorker(rt *devrt.Runtime) {
	s.worker = devrt.NewWorker("southbridge")
	rt.Register(s.worker)
	s.worker.Start(func(w *devrt.Worker) error {
		for !w.ShouldStop() {
			s.PIT.Tick()
			s.RTC.Tick()
			w.WaitWork(devrt.DefaultIdlePoll)
		}
		return nil
	})
}
