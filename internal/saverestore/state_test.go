package saverestore

import (
	"bytes"
	"testing"
)

type fakeComponent struct {
	tag   string
	value uint32
}

func (f *fakeComponent) SaveTag() string { return f.tag }

func (f *fakeComponent) SaveState() ([]byte, error) {
	return []byte{byte(f.value), byte(f.value >> 8), byte(f.value >> 16), byte(f.value >> 24)}, nil
}

func (f *fakeComponent) LoadState(blob []byte) error {
	f.value = uint32(blob[0]) | uint32(blob[1])<<8 | uint32(blob[2])<<16 | uint32(blob[3])<<24
	return nil
}

func TestSaveRestoreRoundTrip(t *testing.T) {
	a := &fakeComponent{tag: "scsi", value: 0xdeadbeef}
	b := &fakeComponent{tag: "nic", value: 0x12345678}

	save := &Registry{}
	save.Register(a)
	save.Register(b)

	var buf bytes.Buffer
	if err := save.Save(&buf); err != nil {
		t.Fatalf("Save: %v", err)
	}

	aRestored := &fakeComponent{tag: "scsi"}
	bRestored := &fakeComponent{tag: "nic"}
	restore := &Registry{}
	restore.Register(aRestored)
	restore.Register(bRestored)

	if err := restore.Restore(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if aRestored.value != a.value {
		t.Fatalf("scsi value = %#x, want %#x", aRestored.value, a.value)
	}
	if bRestored.value != b.value {
		t.Fatalf("nic value = %#x, want %#x", bRestored.value, b.value)
	}
}

func TestSaveThenRestoreThenSaveYieldsByteIdenticalFiles(t *testing.T) {
	a := &fakeComponent{tag: "pit", value: 0x0000ffff}

	reg := &Registry{}
	reg.Register(a)

	var first bytes.Buffer
	if err := reg.Save(&first); err != nil {
		t.Fatalf("first Save: %v", err)
	}

	restored := &fakeComponent{tag: "pit"}
	restoreReg := &Registry{}
	restoreReg.Register(restored)
	if err := restoreReg.Restore(bytes.NewReader(first.Bytes())); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	var second bytes.Buffer
	if err := restoreReg.Save(&second); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Fatalf("save -> restore -> save not byte-identical:\n%x\n%x", first.Bytes(), second.Bytes())
	}
}

func TestRestoreSkipsUnknownTagWithoutFailing(t *testing.T) {
	a := &fakeComponent{tag: "extra", value: 1}
	save := &Registry{}
	save.Register(a)

	var buf bytes.Buffer
	if err := save.Save(&buf); err != nil {
		t.Fatalf("Save: %v", err)
	}

	restore := &Registry{} // no components registered
	if err := restore.Restore(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("Restore with no matching components should not fail: %v", err)
	}
}

func TestRestoreRejectsBadMagic(t *testing.T) {
	restore := &Registry{}
	if err := restore.Restore(bytes.NewReader([]byte("NOTASAVE"))); err == nil {
		t.Fatal("expected error for bad magic")
	}
}
