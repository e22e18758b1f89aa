// Package fabric implements the bus fabric: a uniform address-decoded
// memory/I-O routing layer that dispatches reads and writes from the CPU
// threads to the owning chipset/device component, with correct endian
// handling and a fast-path pointer escape for bulk DMA.
package fabric

import (
	"sort"
	"sync"

	log "github.com/es40emu/es40/pkg/minilog"
	"github.com/es40emu/es40/internal/es40err"
)

type Size int

const (
	Size8  Size = 1
	Size16 Size = 2
	Size32 Size = 4
	Size64 Size = 8
)

type Kind int

const (
	Memory Kind = iota
	IO
)

type Origin int

const (
	Legacy Origin = iota
	PCIBAR
)

// Component is implemented by anything the fabric can route a decoded
// access to: the chipset itself, a PCI function's BAR, or a legacy I-O
// window. rangeID lets one component own several disjoint ranges (e.g.
// six BARs) while sharing one Read/Write implementation.
type Component interface {
	Read(rangeID int, offset uint64, size Size) uint64
	Write(rangeID int, offset uint64, size Size, value uint64)
}

// MemBacked is implemented by components backed by a flat []byte, so the
// fabric can hand out a direct slice for bulk DMA (the SCRIPTS engine and
// the NIC's descriptor-ring walker both use this instead of word-at-a-time
// Read/Write).
type MemBacked interface {
	Component
	Bytes(rangeID int) []byte
}

type rangeEntry struct {
	component Component
	rangeID   int
	base      uint64
	length    uint64
	kind      Kind
	origin    Origin
	name      string
}

func (e *rangeEntry) contains(addr uint64) bool {
	return addr >= e.base && addr < e.base+e.length
}

// Fabric holds the ordered, non-overlapping set of registered address
// ranges and dispatches decoded accesses to their owning component.
type Fabric struct {
	mu     sync.RWMutex
	ranges []*rangeEntry

	once *log.OnceLog
}

func New() *Fabric {
	return &Fabric{once: log.NewOnceLog()}
}

// RegisterMemory registers a new address range. It is a precondition
// violation — not a guest-visible failure — for the new range to
// overlap any existing one; BAR relocation always unregisters the old
// range first.
func (f *Fabric) RegisterMemory(c Component, rangeID int, base, length uint64, kind Kind, origin Origin, name string) error {
	if length == 0 {
		return es40err.New(es40err.InvalidArgument, name, "zero-length range at %#x", base)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	e := &rangeEntry{component: c, rangeID: rangeID, base: base, length: length, kind: kind, origin: origin, name: name}

	i := sort.Search(len(f.ranges), func(i int) bool { return f.ranges[i].base >= base })
	if i > 0 {
		prev := f.ranges[i-1]
		if prev.base+prev.length > base {
			return es40err.New(es40err.InvalidArgument, name,
				"range [%#x,%#x) overlaps existing range %q [%#x,%#x)",
				base, base+length, prev.name, prev.base, prev.base+prev.length)
		}
	}
	if i < len(f.ranges) {
		next := f.ranges[i]
		if base+length > next.base {
			return es40err.New(es40err.InvalidArgument, name,
				"range [%#x,%#x) overlaps existing range %q [%#x,%#x)",
				base, base+length, next.name, next.base, next.base+next.length)
		}
	}

	f.ranges = append(f.ranges, nil)
	copy(f.ranges[i+1:], f.ranges[i:])
	f.ranges[i] = e

	log.Debug("fabric: registered %q range %d at [%#x,%#x)", name, rangeID, base, base+length)
	return nil
}

// UnregisterMemory removes every range owned by c with the given rangeID.
func (f *Fabric) UnregisterMemory(c Component, rangeID int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := f.ranges[:0]
	for _, e := range f.ranges {
		if e.component == c && e.rangeID == rangeID {
			log.Debug("fabric: unregistered %q range %d", e.name, rangeID)
			continue
		}
		out = append(out, e)
	}
	f.ranges = out
}

func (f *Fabric) find(addr uint64) *rangeEntry {
	f.mu.RLock()
	defer f.mu.RUnlock()

	i := sort.Search(len(f.ranges), func(i int) bool { return f.ranges[i].base+f.ranges[i].length > addr })
	if i < len(f.ranges) && f.ranges[i].contains(addr) {
		return f.ranges[i]
	}
	return nil
}

// ReadMem dispatches a decoded read. An unmapped access is not fatal: it
// returns zero and is logged once per distinct address, matching
// hardware behavior for undecoded addresses.
func (f *Fabric) ReadMem(addr uint64, size Size) uint64 {
	e := f.find(addr)
	if e == nil {
		f.once.Warn("fabric", "unmapped read at %#x (size %d)", addr, size)
		return 0
	}
	return e.component.Read(e.rangeID, addr-e.base, size)
}

// WriteMem dispatches a decoded write. An unmapped access silently drops.
func (f *Fabric) WriteMem(addr uint64, size Size, value uint64) {
	e := f.find(addr)
	if e == nil {
		f.once.Warn("fabric", "unmapped write at %#x (size %d)", addr, size)
		return
	}
	e.component.Write(e.rangeID, addr-e.base, size, value)
}

// PtrToMem returns a direct slice into the backing store of the range
// containing addr, if that range's owner is MemBacked and the whole
// [addr, addr+length) span fits inside it. Used by the SCRIPTS engine
// and the NIC for bulk guest-memory DMA instead of word-at-a-time access.
func (f *Fabric) PtrToMem(addr, length uint64) ([]byte, bool) {
	e := f.find(addr)
	if e == nil {
		return nil, false
	}
	mb, ok := e.component.(MemBacked)
	if !ok {
		return nil, false
	}
	buf := mb.Bytes(e.rangeID)
	off := addr - e.base
	if off+length > uint64(len(buf)) {
		return nil, false
	}
	return buf[off : off+length], true
}

// Ranges returns a snapshot of registered ranges, used by save/restore
// and diagnostics. The returned slice must not be mutated.
type RangeInfo struct {
	Name   string
	Base   uint64
	Length uint64
	Kind   Kind
	Origin Origin
}

func (f *Fabric) Ranges() []RangeInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]RangeInfo, len(f.ranges))
	for i, e := range f.ranges {
		out[i] = RangeInfo{Name: e.name, Base: e.base, Length: e.length, Kind: e.kind, Origin: e.origin}
	}
	return out
}
