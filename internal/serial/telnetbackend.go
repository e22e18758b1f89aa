package serial

import (
	"net"
	"sync"

	"github.com/es40emu/es40/internal/es40err"
	log "github.com/es40emu/es40/pkg/minilog"
)

// Telnet IAC negotiation bytes, grounded on
// original_source/src/telnet.h and Serial.cpp's inbound filter.
const (
	iacIAC   = 255
	iacDO    = 253
	iacDONT  = 254
	iacWILL  = 251
	iacWONT  = 252
	iacSB    = 250
	iacSE    = 240
	iacBreak = 243

	telOptEcho = 1
	telOptSGA  = 3
	telOptNAWS = 31
)

// BreakFunc is invoked when the remote end sends a telnet BREAK (the
// guest operator's break-menu trigger, spec §7's "Graceful shutdown
// via the break-menu on a serial port").
type BreakFunc func()

// TelnetBackend listens on a TCP port (serial.N.port) and filters IAC
// sequences out of the byte stream before handing data to the UART,
// grounded on Serial.cpp's ReadThread IAC state machine.
type TelnetBackend struct {
	mu       sync.Mutex
	ln       net.Listener
	conn     net.Conn
	uart     *UART
	onBreak  BreakFunc
	done     chan struct{}
}

func NewTelnetBackend(address string, uart *UART, onBreak BreakFunc) (*TelnetBackend, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, es40err.Wrap(es40err.Configuration, "serial", err)
	}
	t := &TelnetBackend{ln: ln, uart: uart, onBreak: onBreak, done: make(chan struct{})}
	uart.out = t
	return t, nil
}

// Serve accepts one client connection at a time, forever, until
// Close. Meant to run on a device-runtime worker.
func (t *TelnetBackend) Serve() {
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			select {
			case <-t.done:
				return
			default:
				log.Warn("serial: accept failed: %v", err)
				return
			}
		}
		t.mu.Lock()
		t.conn = conn
		t.mu.Unlock()
		t.negotiate(conn)
		t.readLoop(conn)
	}
}

func (t *TelnetBackend) negotiate(conn net.Conn) {
	conn.Write([]byte{iacIAC, iacWILL, telOptEcho})
	conn.Write([]byte{iacIAC, iacWILL, telOptSGA})
	conn.Write([]byte{iacIAC, iacDO, telOptNAWS})
}

func (t *TelnetBackend) readLoop(conn net.Conn) {
	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		t.filter(buf[:n])
	}
}

// filter strips telnet IAC sequences, forwarding only data bytes to
// the UART's receive buffer, and fires onBreak on IAC BREAK.
func (t *TelnetBackend) filter(b []byte) {
	for i := 0; i < len(b); i++ {
		if b[i] != iacIAC {
			t.uart.PushRx(b[i])
			continue
		}
		if i+1 >= len(b) {
			return
		}
		switch b[i+1] {
		case iacIAC:
			t.uart.PushRx(iacIAC)
			i++
		case iacBreak:
			i++
			if t.onBreak != nil {
				t.onBreak()
			}
		case iacSB:
			for i < len(b) && b[i] != iacSE {
				i++
			}
		case iacDO, iacDONT, iacWILL, iacWONT:
			i += 2
		default:
			i++
		}
	}
}

// WriteByte implements Backend by sending a single byte to the
// connected client, escaping IAC.
func (t *TelnetBackend) WriteByte(b byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	if b == iacIAC {
		_, err := conn.Write([]byte{iacIAC, iacIAC})
		return err
	}
	_, err := conn.Write([]byte{b})
	return err
}

func (t *TelnetBackend) Close() error {
	close(t.done)
	return t.ln.Close()
}
