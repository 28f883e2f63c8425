package modem

import "errors"

var (
	// ErrNilContext is returned when a nil context is passed to a function
	// that requires a valid context.
	//
	// This indicates a programming error. All functions that accept a context
	// parameter require a non-nil context, even if it's context.Background().
	ErrNilContext = errors.New("context is nil")

	// ErrMissingPort is returned when attempting to dial a serial connection
	// without specifying a port name.
	//
	// This indicates a configuration error. The PortName field must be set
	// to a valid device path (e.g., "/dev/ttyUSB0", "COM3") before dialing.
	ErrMissingPort = errors.New("missing required serial port name")

	// ErrPortOpenFail is returned when the underlying serial port cannot be
	// opened.
	//
	// This typically indicates a hardware issue (device not connected),
	// permission problem (insufficient access rights), or that another
	// process is already using the port. The wrapped error provides the
	// specific failure reason.
	ErrPortOpenFail = errors.New("failed to open serial port")

	// ErrNoDialer is returned by ConfigBuilder.Build and New when no Dialer
	// was supplied; there is no way to obtain a Transport without one.
	ErrNoDialer = errors.New("modem: config has no dialer")

	// ErrSIMPinRequired describes a SIM that needs a PIN while
	// Config.SimPIN is empty. No function in this package returns it: a
	// PIN-locked SIM aborts the device's init burst, and Loop returns a
	// corerr.KindDeviceDisabled error instead.
	ErrSIMPinRequired = errors.New("modem: SIM PIN required but not configured")

	// ErrClosed is returned by any method called on a Modem after Close.
	ErrClosed = errors.New("modem: closed")

	// ErrSendTimeout describes a send that the network did not confirm or
	// reject in time. No function in this package returns it: SendSMS
	// returns once the message is queued, and the delivery outcome arrives
	// as an events.SmsReport.
	ErrSendTimeout = errors.New("modem: send timed out waiting for network confirmation")
)
