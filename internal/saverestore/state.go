// Package saverestore implements the save-state mechanism: a file
// magic, then a flat sequence of tag- and length-prefixed sections
// (no per-section magic numbers), one per savable component, written in registration order and restored by
// tag lookup rather than position. The file *format* specifics (this
// particular magic, this particular section layout) are this core's
// own choice; no guest-visible semantics depend on it. The one-byte
// tag-length-then-bytes encoding follows the same register-name
// encoding a machine-snapshot save/load routine elsewhere in this
// codebase's reference corpus uses for its own variable-length fields.
package saverestore

import (
	"encoding/binary"
	"fmt"
	"io"

	log "github.com/es40emu/es40/pkg/minilog"
)

const (
	fileMagic   = "ES40STAT"
	fileVersion = uint32(1)
)

// Saveable is a component with state worth persisting across a
// save/restore cycle: a device's registers, a controller's phase
// machine, guest memory. SaveState returns an opaque blob; LoadState
// must accept exactly what SaveState produced for the same tag.
type Saveable interface {
	SaveTag() string
	SaveState() ([]byte, error)
	LoadState([]byte) error
}

// Registry is an ordered list of savable components. Save walks it in
// registration order; Restore looks each section up by tag so that
// component registration order need not match section order in an
// older file.
type Registry struct {
	components []Saveable
}

func (r *Registry) Register(s Saveable) {
	r.components = append(r.components, s)
}

// Save writes every registered component's state to w as one tag- and
// length-prefixed section per component, preceded by a file header
// (magic, version, section count). Sections carry no magic of their own.
func (r *Registry) Save(w io.Writer) error {
	if _, err := io.WriteString(w, fileMagic); err != nil {
		return fmt.Errorf("saverestore: writing file magic: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, fileVersion); err != nil {
		return fmt.Errorf("saverestore: writing file version: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(r.components))); err != nil {
		return fmt.Errorf("saverestore: writing section count: %w", err)
	}

	for _, c := range r.components {
		blob, err := c.SaveState()
		if err != nil {
			return fmt.Errorf("saverestore: %s: %w", c.SaveTag(), err)
		}
		if err := writeSection(w, c.SaveTag(), blob); err != nil {
			return fmt.Errorf("saverestore: %s: %w", c.SaveTag(), err)
		}
	}
	return nil
}

// Restore reads a file produced by Save and dispatches each section to
// the registered component whose tag matches, in the order sections
// appear in the file. A section whose tag has no registered component
// is skipped with a log line rather than failing the whole restore —
// this lets a newer save file be loaded by an older binary missing a
// device that was added later.
func (r *Registry) Restore(rd io.Reader) error {
	magic := make([]byte, len(fileMagic))
	if _, err := io.ReadFull(rd, magic); err != nil {
		return fmt.Errorf("saverestore: reading file magic: %w", err)
	}
	if string(magic) != fileMagic {
		return fmt.Errorf("saverestore: bad file magic %q", magic)
	}

	var version, count uint32
	if err := binary.Read(rd, binary.LittleEndian, &version); err != nil {
		return fmt.Errorf("saverestore: reading file version: %w", err)
	}
	if version != fileVersion {
		return fmt.Errorf("saverestore: unsupported file version %d", version)
	}
	if err := binary.Read(rd, binary.LittleEndian, &count); err != nil {
		return fmt.Errorf("saverestore: reading section count: %w", err)
	}

	byTag := make(map[string]Saveable, len(r.components))
	for _, c := range r.components {
		byTag[c.SaveTag()] = c
	}

	for i := uint32(0); i < count; i++ {
		tag, blob, err := readSection(rd)
		if err != nil {
			return fmt.Errorf("saverestore: section %d: %w", i, err)
		}
		c, ok := byTag[tag]
		if !ok {
			log.Info("saverestore: no component registered for tag %q, skipping", tag)
			continue
		}
		if err := c.LoadState(blob); err != nil {
			return fmt.Errorf("saverestore: %s: %w", tag, err)
		}
	}
	return nil
}

// writeSection emits a one-byte tag length, the tag bytes, a uint32
// blob length, then the blob itself.
func writeSection(w io.Writer, tag string, blob []byte) error {
	tagBytes := []byte(tag)
	if len(tagBytes) > 255 {
		return fmt.Errorf("save tag %q longer than 255 bytes", tag)
	}
	if _, err := w.Write([]byte{byte(len(tagBytes))}); err != nil {
		return err
	}
	if _, err := w.Write(tagBytes); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(blob))); err != nil {
		return err
	}
	_, err := w.Write(blob)
	return err
}

func readSection(r io.Reader) (string, []byte, error) {
	var tagLen [1]byte
	if _, err := io.ReadFull(r, tagLen[:]); err != nil {
		return "", nil, fmt.Errorf("reading tag length: %w", err)
	}
	tagBytes := make([]byte, tagLen[0])
	if _, err := io.ReadFull(r, tagBytes); err != nil {
		return "", nil, fmt.Errorf("reading tag: %w", err)
	}
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return "", nil, fmt.Errorf("reading length: %w", err)
	}
	blob := make([]byte, length)
	if _, err := io.ReadFull(r, blob); err != nil {
		return "", nil, fmt.Errorf("reading blob: %w", err)
	}
	return string(tagBytes), blob, nil
}
