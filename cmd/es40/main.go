// es40 boots an ES40-class Alpha AXP system: it wires the bus fabric,
// Typhoon chipset, south bridge, serial ports, NIC, and SCSI controller
// from a config file, starts each device's worker thread, and runs the
// watchdog loop until a Graceful shutdown is requested from a serial
// break-menu or the control socket.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/es40emu/es40/internal/chipset"
	"github.com/es40emu/es40/internal/config"
	"github.com/es40emu/es40/internal/devrt"
	"github.com/es40emu/es40/internal/es40err"
	"github.com/es40emu/es40/internal/fabric"
	"github.com/es40emu/es40/internal/intr"
	"github.com/es40emu/es40/internal/monitor"
	"github.com/es40emu/es40/internal/netio"
	"github.com/es40emu/es40/internal/nic"
	"github.com/es40emu/es40/internal/pci"
	"github.com/es40emu/es40/internal/saverestore"
	"github.com/es40emu/es40/internal/scsi"
	"github.com/es40emu/es40/internal/serial"
	"github.com/es40emu/es40/internal/southbridge"
	log "github.com/es40emu/es40/pkg/minilog"
)

var (
	f_config    = flag.String("config", "/etc/es40.conf", "path to the system configuration file")
	f_monitor   = flag.String("monitor", "/var/run/es40.sock", "control-socket path for es40mon")
	f_statefile = flag.String("state", "", "save-state file written on graceful shutdown")
	f_loadstate = flag.String("loadstate", "", "save-state file to restore from at boot")
	f_savemem   = flag.Bool("savemem", false, "include main memory in save-state files (large)")
	f_logLevel  = flag.String("level", "info", "log level: debug, info, warn, error")
)

func usage() {
	fmt.Println("usage: es40 [option]...")
	flag.PrintDefaults()
}

func parseLevel(s string) (log.Level, bool) {
	switch s {
	case "debug":
		return log.DEBUG, true
	case "info":
		return log.INFO, true
	case "warn":
		return log.WARN, true
	case "error":
		return log.ERROR, true
	default:
		return log.INFO, false
	}
}

// system holds every top-level component main wires together, so the
// watchdog loop, the monitor command handlers, and save/restore all
// have one place to reach them from.
type system struct {
	fab     *fabric.Fabric
	lines   *intr.LineFabric
	pic     *intr.PICPair
	bridge  *chipset.Typhoon
	south   *southbridge.SouthBridge
	scsi    *scsi.Controller
	nic     *nic.DEC21143
	rt      *devrt.Runtime
	reg     *saverestore.Registry
	ram     *chipset.RAM
	uarts   []*serial.UART

	mu      sync.Mutex
	stopped bool
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if level, ok := parseLevel(*f_logLevel); ok {
		log.AddLogger("stderr", os.Stderr, level, false)
	} else {
		log.Warn("es40: unknown -level %q, leaving default", *f_logLevel)
	}

	cfg, err := config.LoadFile(*f_config)
	if err != nil {
		log.Fatal("es40: loading config: %v", err)
	}

	sys, err := build(cfg)
	if err != nil {
		log.Fatal("es40: %v", err)
	}

	if *f_loadstate != "" {
		if err := sys.restore(*f_loadstate); err != nil {
			log.Fatal("es40: restoring state: %v", err)
		}
	}

	mon := monitor.NewServer(*f_monitor)
	sys.registerCommands(mon)
	if err := mon.Start(); err != nil {
		log.Fatal("es40: starting monitor: %v", err)
	}
	defer mon.Stop()

	sys.rt.StartThreads()
	sys.startWorkers()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Info("es40: system running, monitor socket %s", *f_monitor)

	for {
		select {
		case sig := <-sigCh:
			log.Info("es40: received %v, shutting down", sig)
			sys.shutdown(mon)
			return
		case <-time.After(devrt.DefaultIdlePoll * 10):
			if err := sys.rt.CheckState(); err != nil {
				log.Error("es40: %v", err)
				sys.shutdown(mon)
				return
			}
		}
	}
}

// build constructs every component named in the package map and wires
// it into the fabric, following the south bridge's own
// construct-then-Attach two-step pattern throughout.
func build(cfg *config.Tree) (*system, error) {
	fab := fabric.New()

	memSize, err := cfg.Size("memory.size", 128<<20)
	if err != nil {
		return nil, err
	}
	ram := chipset.NewRAM(memSize)
	if err := fab.RegisterMemory(ram, 0, 0, memSize, fabric.Memory, fabric.Legacy, "ram"); err != nil {
		return nil, err
	}

	lines := intr.NewLineFabric()
	pic := intr.NewPICPair(lines)

	bridge := chipset.New(fab, pic)
	if err := bridge.Attach(); err != nil {
		return nil, err
	}

	dpr := chipset.NewDPR()
	if err := fab.RegisterMemory(dpr, 0, chipset.DPRBase, chipset.DPRRangeLength, fabric.Memory, fabric.Legacy, "dpr"); err != nil {
		return nil, err
	}

	var romImage []byte
	if path := cfg.String("rom.flash", ""); path != "" {
		romImage, err = os.ReadFile(path)
		if err != nil {
			return nil, es40err.Wrap(es40err.Configuration, "es40", err)
		}
	}
	flash := chipset.NewFlash(romImage)
	if err := fab.RegisterMemory(flash, 0, chipset.FlashBase, chipset.FlashRangeLength, fabric.Memory, fabric.Legacy, "flash"); err != nil {
		return nil, err
	}

	seedVGA, err := cfg.Bool("vga_console", false)
	if err != nil {
		return nil, err
	}
	south := southbridge.New(pic, os.Stdout, seedVGA)
	if err := south.Attach(fab, chipset.LegacyIOBase); err != nil {
		return nil, err
	}

	rt := devrt.NewRuntime()
	south.StartWorker(rt)

	sys := &system{
		fab:    fab,
		lines:  lines,
		pic:    pic,
		bridge: bridge,
		south:  south,
		rt:     rt,
		reg:    &saverestore.Registry{},
		ram:    ram,
	}

	sys.reg.Register(pic)

	if err := sys.buildSerial(cfg); err != nil {
		return nil, err
	}
	if err := sys.buildSCSI(cfg); err != nil {
		return nil, err
	}
	if err := sys.buildNIC(cfg); err != nil {
		return nil, err
	}

	if *f_savemem {
		sys.reg.Register(sys.ram)
	}

	return sys, nil
}

// buildSerial wires the 16550 UART pair at +0x3F8 / +0x2F8, each
// backed by either a pty or a telnet listener per the serial.N.backend
// config key, mirroring the south bridge's own per-device construct-
// then-register step.
func (s *system) buildSerial(cfg *config.Tree) error {
	const (
		offCOM1 = 0x3F8
		offCOM2 = 0x2F8
	)
	ports := []struct {
		name   string
		irq    int
		offset uint64
	}{
		{"0", 4, offCOM1},
		{"1", 3, offCOM2},
	}

	for _, p := range ports {
		sec := cfg.Section("serial." + p.name)
		if !sec.Has("backend") {
			continue
		}

		var u *serial.UART
		backendKind := sec.String("backend", "pty")
		switch backendKind {
		case "pty":
			u = serial.NewUART(s.pic, p.irq, nil)
			pb, err := serial.NewPtyBackend(u)
			if err != nil {
				return es40err.Wrap(es40err.Configuration, "es40", err)
			}
			go pb.ReadLoop()
		case "telnet":
			addr, err := sec.Require("address")
			if err != nil {
				return err
			}
			u = serial.NewUART(s.pic, p.irq, nil)
			tb, err := serial.NewTelnetBackend(addr, u, func() { s.requestGraceful("break-menu on serial " + p.name) })
			if err != nil {
				return err
			}
			w := devrt.NewWorker("serial" + p.name)
			s.rt.Register(w)
			w.Start(func(w *devrt.Worker) error {
				// Serve blocks in Accept with no stop-aware select of its
				// own, so closing the listener on stop is what actually
				// unblocks the join in Worker.Stop.
				served := make(chan struct{})
				go func() {
					defer close(served)
					tb.Serve()
				}()
				for !w.ShouldStop() {
					select {
					case <-served:
						return nil
					default:
						w.WaitWork(devrt.DefaultIdlePoll)
					}
				}
				tb.Close()
				<-served
				return nil
			})
		default:
			return es40err.New(es40err.Configuration, "es40", "serial.%s.backend: unknown backend %q", p.name, backendKind)
		}

		if err := s.fab.RegisterMemory(u, 0, chipset.LegacyIOBase+p.offset, 8, fabric.IO, fabric.Legacy, "uart"+p.name); err != nil {
			return err
		}
		s.uarts = append(s.uarts, u)
	}
	return nil
}

// buildSCSI constructs the Sym53C810 controller, attaches its disks
// from scsi.N.image config sections, and registers its PCI function
// and worker, the same bus/dev/func assignment convention the NIC uses
// below.
func (s *system) buildSCSI(cfg *config.Tree) error {
	const bus, dev, fn = 0, 9, 0

	ctrl := scsi.New(s.fab)
	device := pci.NewDevice(bus, dev)

	barIO := [6]bool{}
	barMask := [6]uint32{0: 0xFFFFFF00}
	translate := func(isIO bool, barValue uint32) uint64 {
		if isIO {
			return chipset.LegacyIOBase + uint64(barValue)
		}
		return uint64(barValue)
	}
	pfn := pci.NewFunction(s.fab, ctrl, translate, s.pic, "scsi0", 0x1000, 0x0001, 0x010000, barIO, barMask)
	pfn.SetInterruptPin(1)
	device.Funcs[fn] = pfn
	s.bridge.RegisterDevice(device)
	ctrl.AttachFunction(pfn)

	for i, idx := range cfg.IndexedSections("scsi") {
		sec := cfg.Section(fmt.Sprintf("scsi.%s", idx))
		imagePath, err := sec.Require("image")
		if err != nil {
			return err
		}
		data, err := os.ReadFile(imagePath)
		if err != nil {
			return es40err.Wrap(es40err.Configuration, "es40", err)
		}
		readOnly, err := sec.Bool("readonly", false)
		if err != nil {
			return err
		}
		isCDROM, err := sec.Bool("cdrom", false)
		if err != nil {
			return err
		}
		blockSize := uint32(512)
		if isCDROM {
			blockSize = 2048
		}
		backend := scsi.NewMemBackend(data, readOnly)
		target := scsi.NewTarget(backend, isCDROM, blockSize)
		ctrl.Bus.Attach(i, target)
	}

	w := devrt.NewWorker("scsi0")
	s.rt.Register(w)
	w.Start(ctrl.RunWorker)

	s.scsi = ctrl
	s.reg.Register(ctrl)
	s.reg.Register(pfn)
	return nil
}

// buildNIC constructs the DEC 21143 and its host packet backend
// (gopacket/pcap on nic.adapter, loopback otherwise).
func (s *system) buildNIC(cfg *config.Tree) error {
	sec := cfg.Section("nic")
	if !sec.Has("mac") && !sec.Has("adapter") {
		return nil
	}

	var mac [6]byte
	macStr := sec.String("mac", "02:00:00:00:00:01")
	if _, err := fmt.Sscanf(macStr, "%02x:%02x:%02x:%02x:%02x:%02x",
		&mac[0], &mac[1], &mac[2], &mac[3], &mac[4], &mac[5]); err != nil {
		return es40err.New(es40err.Configuration, "es40", "nic.mac: malformed address %q", macStr)
	}

	var backend netio.Backend
	if iface := sec.String("adapter", ""); iface != "" {
		pb, err := netio.OpenPcap(iface)
		if err != nil {
			return err
		}
		backend = pb
	} else {
		backend = netio.NewLoopback()
	}

	var sromImage []byte
	if path := sec.String("srom", ""); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return es40err.Wrap(es40err.Configuration, "es40", err)
		}
		sromImage = data
	}

	n := nic.New(s.fab, backend, mac, sromImage)

	const bus, dev, fn = 0, 11, 0
	device := pci.NewDevice(bus, dev)
	barIO := [6]bool{}
	barMask := [6]uint32{0: 0xFFFFFF80}
	translate := func(isIO bool, barValue uint32) uint64 { return uint64(barValue) }
	pfn := pci.NewFunction(s.fab, n, translate, s.pic, "nic0", 0x1011, 0x0019, 0x020000, barIO, barMask)
	pfn.SetInterruptPin(1)
	device.Funcs[fn] = pfn
	s.bridge.RegisterDevice(device)
	n.AttachFunction(pfn)

	w := devrt.NewWorker("nic0")
	s.rt.Register(w)
	w.Start(n.RunWorker)

	s.nic = n
	s.reg.Register(pfn)
	return nil
}

func (s *system) startWorkers() {
	// every device worker is already started during build(); this call
	// exists so main's intent (construct, then run) reads in one place.
}

// requestGraceful is the break-menu/monitor path into Graceful
// shutdown: it just logs and lets main's signal-handling select loop
// notice via a synthetic SIGTERM to itself, since every shutdown path
// funnels through the same save-and-exit sequence.
func (s *system) requestGraceful(reason string) {
	log.Info("es40: graceful shutdown requested: %s", reason)
	syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
}

func (s *system) shutdown(mon *monitor.Server) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.rt.StopThreads()

	if *f_statefile != "" {
		if err := s.save(*f_statefile); err != nil {
			log.Error("es40: save-state on shutdown: %v", err)
		}
	}

	mon.Broadcast(monitor.Event{Event: "SHUTDOWN"})
}

func (s *system) save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return es40err.Wrap(es40err.Runtime, "es40", err)
	}
	defer f.Close()
	return s.reg.Save(f)
}

func (s *system) restore(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return es40err.Wrap(es40err.Configuration, "es40", err)
	}
	defer f.Close()
	return s.reg.Restore(f)
}
