package modem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/jaracil/nagle"
	"go.bug.st/serial"
)

// Transport represents an established, bidirectional byte stream to a GSM modem.
//
// A Transport is assumed to be already connected and ready for use. It provides
// the low-level I/O primitives required to send AT commands and receive responses.
// Typical implementations include serial ports, TCP connections to emulators,
// or in-memory fakes used for testing.
type Transport interface {
	io.ReadWriteCloser
}

// Dialer opens a Transport to a GSM modem.
//
// Dialer abstracts how the modem connection is created (for example, via a
// serial port, TCP-based emulator, or test double) and is intended to be used
// during modem construction only. Once a Transport is obtained, the Dialer is
// no longer needed.
type Dialer interface {
	// Dial is responsible for creating and returning a connected Transport. It may
	// perform blocking operations and should respect cancellation and deadlines
	// provided by the context. Dial returns an error if the transport cannot be
	// established.
	Dial(ctx context.Context) (Transport, error)
}

// SerialDialer opens a GSM modem over a serial port using go.bug.st/serial.
//
// The returned serial.Port implements io.ReadWriteCloser and therefore
// satisfies the Transport interface.
type SerialDialer struct {
	// PortName is the OS device path (e.g. "/dev/ttyUSB0", "COM3").
	PortName string

	// Mode configures the serial port (baud, parity, etc.). If nil, the
	// library defaults are used (commonly 9600 8N1). Takes precedence
	// over BaudRate when both are set.
	Mode *serial.Mode

	// BaudRate is a convenience for callers that only care about the
	// baud and want the usual 8N1 framing; it is ignored if Mode is set.
	BaudRate int
}

// mode returns the serial.Mode to open the port with, building one from
// BaudRate when the caller didn't supply Mode directly.
func (d SerialDialer) mode() *serial.Mode {
	if d.Mode != nil {
		return d.Mode
	}
	if d.BaudRate == 0 {
		return nil
	}
	return &serial.Mode{
		BaudRate: d.BaudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
}

// Dial opens the serial port. If ctx is canceled before the open completes,
// Dial returns ctx.Err(). If the port opens concurrently with cancellation,
// the port is closed before returning.
func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if d.PortName == "" {
		return nil, ErrMissingPort
	}
	if ctx == nil {
		return nil, ErrNilContext
	}

	type result struct {
		p   serial.Port
		err error
	}

	ch := make(chan result, 1)

	// serial.Open does not accept a context, so we run it in a goroutine
	// and race it against ctx cancellation.
	go func() {
		p, err := serial.Open(d.PortName, d.mode())
		ch <- result{p: p, err: err}
	}()

	select {
	case <-ctx.Done():
		// If the open eventually succeeds, close it to avoid leaking the fd.
		go func() {
			r := <-ch
			if r.err == nil && r.p != nil {
				_ = r.p.Close()
			}
		}()
		return nil, ctx.Err()

	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrPortOpenFail, d.PortName, r.err)
		}
		return r.p, nil
	}
}

// TCPDialer opens a GSM modem over TCP, the shape used against modem
// emulators and test rigs rather than real hardware. When NagleSize is
// positive, writes are coalesced through github.com/jaracil/nagle so short
// successive AT command bytes go out in one packet instead of several,
// matching the wrapping jaracil-vmodem applies to its own PTY/TCP bridges.
type TCPDialer struct {
	Addr         string
	NagleSize    int
	NagleTimeout time.Duration
}

func (d TCPDialer) Dial(ctx context.Context) (Transport, error) {
	if d.Addr == "" {
		return nil, errors.New("modem: TCP address is required")
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", d.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial %q: %w", d.Addr, err)
	}
	if d.NagleSize <= 0 {
		return conn, nil
	}
	timeout := d.NagleTimeout
	if timeout <= 0 {
		timeout = 50 * time.Millisecond
	}
	return nagle.NewNagleWrapper(conn, d.NagleSize, timeout), nil
}
