// Package modem is the top-level façade pairing a Dialer-produced
// Transport with a device.Device: it owns dialing, the smsdb handle the
// device needs for SMS reassembly and delivery tracking, and the
// supervisor goroutine's lifecycle, while the actual AT command protocol
// lives in device.Device.
package modem

import (
	"context"
	"fmt"
	"sync"

	"github.com/nexmodem/qcore/device"
	"github.com/nexmodem/qcore/smsdb"
)

// Modem is one dialed connection to a GSM modem, supervised by a
// device.Device.
type Modem struct {
	mu sync.Mutex

	config    Config
	transport Transport
	dev       *device.Device
	db        *smsdb.DB
	closed    bool
}

// New dials config.Dialer, opens the smsdb handle the device needs, and
// constructs the device.Device that will drive the link. It does not
// start the supervisor loop; call Loop (typically in its own goroutine)
// once New returns.
func New(ctx context.Context, config Config) (*Modem, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	config.setDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	transport, err := config.Dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}

	db, err := smsdb.Open(config.SmsDBPath)
	if err != nil {
		transport.Close()
		return nil, fmt.Errorf("modem: open smsdb %q: %w", config.SmsDBPath, err)
	}

	sink := config.Sink
	if sink == nil {
		sink = noopSink{}
	}

	dev := device.New(transport, config.deviceConfig(), db, sink)

	return &Modem{
		config:    config,
		transport: transport,
		dev:       dev,
		db:        db,
	}, nil
}

// Loop drives the supervisor loop until ctx is canceled, Close is called,
// or the link fails. Callers are expected to run Loop in its own
// goroutine and read its error off the channel/variable they choose.
func (m *Modem) Loop(ctx context.Context) error {
	return m.dev.Run(ctx)
}

// Close requests the supervisor loop stop at its next opportunity and
// releases the smsdb handle. It does not block on Loop returning; repeated
// calls are safe.
func (m *Modem) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.dev.Terminate()
	return m.db.Close()
}

func (m *Modem) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Stats returns a snapshot of the underlying device's lifetime counters.
func (m *Modem) Stats() device.Stats {
	return m.dev.Stats()
}

// Dial enqueues an outbound call; see device.Device.Dial.
func (m *Modem) Dial(number, clir string, hold bool) error {
	if m.isClosed() {
		return ErrClosed
	}
	return m.dev.Dial(number, clir, hold)
}

// Answer enqueues acceptance of an incoming/waiting call.
func (m *Modem) Answer(callIdx int, disambiguate bool) {
	if m.isClosed() {
		return
	}
	m.dev.Answer(callIdx, disambiguate)
}

// HangUp enqueues call termination.
func (m *Modem) HangUp(callIdx int) {
	if m.isClosed() {
		return
	}
	m.dev.HangUp(callIdx)
}

// SendUSSD enqueues a USSD session start.
func (m *Modem) SendUSSD(code string) error {
	if m.isClosed() {
		return ErrClosed
	}
	return m.dev.SendUSSD(code)
}

// UserCommand enqueues an arbitrary operator-supplied AT command line.
func (m *Modem) UserCommand(line string) {
	if m.isClosed() {
		return
	}
	m.dev.UserCommand(line)
}
