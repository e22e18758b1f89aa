package serial

import (
	"os"

	"github.com/es40emu/es40/internal/es40err"
	"github.com/kr/pty"
)

// PtyBackend is the alternate serial backend used when a guest port is
// meant to be driven by a local command (serial.N.action) rather than
// a telnet listener — e.g. wiring console access straight into a
// local terminal program.
type PtyBackend struct {
	master *os.File
	uart   *UART
}

// NewPtyBackend allocates a pty pair and starts reading the master
// side into uart's receive buffer.
func NewPtyBackend(uart *UART) (*PtyBackend, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, es40err.Wrap(es40err.Configuration, "serial", err)
	}
	slave.Close()

	p := &PtyBackend{master: master, uart: uart}
	uart.out = p
	return p, nil
}

// ReadLoop copies bytes from the pty master into the UART's receive
// buffer; meant to run on a device-runtime worker.
func (p *PtyBackend) ReadLoop() {
	buf := make([]byte, 256)
	for {
		n, err := p.master.Read(buf)
		if err != nil {
			return
		}
		for _, b := range buf[:n] {
			p.uart.PushRx(b)
		}
	}
}

func (p *PtyBackend) WriteByte(b byte) error {
	_, err := p.master.Write([]byte{b})
	return err
}

func (p *PtyBackend) Name() string {
	return p.master.Name()
}

func (p *PtyBackend) Close() error {
	return p.master.Close()
}
