package netio

import (
	"testing"
	"time"
)

func TestLoopbackRoundTrip(t *testing.T) {
	lb := NewLoopback()
	defer lb.Close()

	if err := lb.WritePacketData([]byte{1, 2, 3}); err != nil {
		t.Fatalf("WritePacketData: %v", err)
	}

	data, ok, err := lb.ReadPacketData()
	if err != nil || !ok {
		t.Fatalf("ReadPacketData: ok=%v err=%v", ok, err)
	}
	if len(data) != 3 || data[0] != 1 {
		t.Fatalf("unexpected data: %v", data)
	}
}

func TestLoopbackCloseUnblocksReader(t *testing.T) {
	lb := NewLoopback()
	done := make(chan struct{})
	go func() {
		lb.ReadPacketData()
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	lb.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock a parked reader")
	}
}

func TestDescribeEthernetFrame(t *testing.T) {
	frame := make([]byte, 14+20)
	// destination/source MAC left zero, ethertype 0x0800 (IPv4)
	frame[12] = 0x08
	frame[13] = 0x00
	if got := describe(frame); got == "" {
		t.Fatal("expected a non-empty layer description")
	}
}
