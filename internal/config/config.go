// Package config loads the nested name-value configuration tree
// consumed at init (spec §6). Keys are dotted paths such as
// "serial.0.port"; values are stored and parsed on demand by the
// typed accessors below, mirroring the teacher's dotted response-map
// convention rather than decoding into a fixed struct up front, since
// components probe only the keys they recognize.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/es40emu/es40/internal/es40err"
)

// Tree is a flat dotted-key store with typed lookups and per-component
// prefix scoping (Section).
type Tree struct {
	values map[string]string
}

func New() *Tree {
	return &Tree{values: make(map[string]string)}
}

// Load reads "key = value" lines from r. Blank lines and lines whose
// first non-blank character is '#' are ignored. A malformed line
// (no '=' separator) raises Configuration, per §7's "configuration
// mistakes at init abort the emulator" policy.
func Load(r io.Reader) (*Tree, error) {
	t := New()
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			return nil, es40err.New(es40err.Configuration, "config", "line %d: missing '=' in %q", lineNo, line)
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" {
			return nil, es40err.New(es40err.Configuration, "config", "line %d: empty key", lineNo)
		}
		t.values[key] = val
	}
	if err := sc.Err(); err != nil {
		return nil, es40err.Wrap(es40err.Configuration, "config", err)
	}
	return t, nil
}

// LoadFile opens path and Loads it.
func LoadFile(path string) (*Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, es40err.Wrap(es40err.Configuration, "config", err)
	}
	defer f.Close()
	return Load(f)
}

func (t *Tree) Has(key string) bool {
	_, ok := t.values[key]
	return ok
}

func (t *Tree) String(key, def string) string {
	if v, ok := t.values[key]; ok {
		return v
	}
	return def
}

func (t *Tree) Bool(key string, def bool) (bool, error) {
	v, ok := t.values[key]
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, es40err.New(es40err.Configuration, "config", "key %q: %q is not a bool", key, v)
	}
	return b, nil
}

func (t *Tree) Int(key string, def int) (int, error) {
	v, ok := t.values[key]
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, es40err.New(es40err.Configuration, "config", "key %q: %q is not an int", key, v)
	}
	return n, nil
}

// Size parses a size-with-unit-suffix value (K, M, G; case-insensitive,
// suffix optional for a plain byte count), per the disk.size key.
func (t *Tree) Size(key string, def uint64) (uint64, error) {
	v, ok := t.values[key]
	if !ok {
		return def, nil
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, es40err.New(es40err.Configuration, "config", "key %q: empty size", key)
	}
	mult := uint64(1)
	suffix := v[len(v)-1]
	numPart := v
	switch suffix {
	case 'k', 'K':
		mult = 1 << 10
		numPart = v[:len(v)-1]
	case 'm', 'M':
		mult = 1 << 20
		numPart = v[:len(v)-1]
	case 'g', 'G':
		mult = 1 << 30
		numPart = v[:len(v)-1]
	}
	n, err := strconv.ParseUint(strings.TrimSpace(numPart), 10, 64)
	if err != nil {
		return 0, es40err.New(es40err.Configuration, "config", "key %q: %q is not a size", key, v)
	}
	return n * mult, nil
}

// Section returns the subtree of keys under "prefix." with the prefix
// stripped, e.g. Section("serial.0") over "serial.0.port"/"serial.0.address"
// yields a Tree keyed "port"/"address". Used by device constructors that
// are handed one instance's worth of config (serial.N, disk.N, ...).
func (t *Tree) Section(prefix string) *Tree {
	full := prefix + "."
	sub := New()
	for k, v := range t.values {
		if strings.HasPrefix(k, full) {
			sub.values[strings.TrimPrefix(k, full)] = v
		}
	}
	return sub
}

// IndexedSections returns each distinct path segment that follows
// "prefix." (the N of "serial.N.*"), in no particular order, for
// iterating indexed sections without knowing N in advance.
func (t *Tree) IndexedSections(prefix string) []string {
	seen := map[string]bool{}
	var out []string
	full := prefix + "."
	for k := range t.values {
		rest := strings.TrimPrefix(k, full)
		if rest == k {
			continue
		}
		idx := rest
		if dot := strings.IndexByte(rest, '.'); dot >= 0 {
			idx = rest[:dot]
		}
		if !seen[idx] {
			seen[idx] = true
			out = append(out, idx)
		}
	}
	return out
}

// Require returns the value of key or raises Configuration if unset.
func (t *Tree) Require(key string) (string, error) {
	v, ok := t.values[key]
	if !ok {
		return "", es40err.New(es40err.Configuration, "config", "required key %q missing", key)
	}
	return v, nil
}

func (t *Tree) Dump() string {
	var b strings.Builder
	for k, v := range t.values {
		fmt.Fprintf(&b, "%s = %s\n", k, v)
	}
	return b.String()
}
