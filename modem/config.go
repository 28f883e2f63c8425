package modem

import (
	"log/slog"
	"time"

	"github.com/nexmodem/qcore/device"
	"github.com/nexmodem/qcore/events"
)

func (c *Config) validate() error {
	if c.Dialer == nil {
		return ErrNoDialer
	}
	return nil
}

// Config configures a Modem. It carries both the Dialer-era fields
// (SimPIN, MinSendInterval, MaxRetries, EchoOn, ATTimeout, InitTimeout),
// which are stored and defaulted but not passed to the device, and the
// fields device.Config needs, since New builds a device.Device internally
// rather than driving the link itself.
type Config struct {
	Dialer Dialer
	SimPIN string

	MinSendInterval time.Duration
	MaxRetries      int
	EchoOn          bool
	ATTimeout       time.Duration
	InitTimeout     time.Duration

	DeviceID      string
	DataTTY       string
	AudioTTY      string
	IMEI          string
	IMSI          string
	ResetModem    bool
	CallWaiting   device.CallWaitingMode
	AutoDeleteSMS bool
	DisableSMS    bool
	CSMSTTL       time.Duration
	PollInterval  time.Duration
	DataTimeout   time.Duration

	// SmsDBPath is the smsdb.Open path backing multipart reassembly and
	// delivery-report tracking. Defaults to an in-memory database, which
	// is fine for a single process lifetime but loses reassembly state
	// across restarts; production callers should point this at a file.
	SmsDBPath string

	// Sink receives every event the underlying device emits (call state
	// changes, received SMS/USSD, delivery reports, lifecycle changes).
	// A caller that only needs SendSMS/SendUSSD/Dial's blocking-free enqueue
	// behavior can leave this nil; events are then discarded.
	Sink events.Sink

	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.MinSendInterval == 0 {
		c.MinSendInterval = time.Minute / 30
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.ATTimeout == 0 {
		c.ATTimeout = 5 * time.Second
	}
	if c.InitTimeout == 0 {
		c.InitTimeout = 30 * time.Second
	}
	if c.DeviceID == "" {
		c.DeviceID = "modem0"
	}
	if c.SmsDBPath == "" {
		c.SmsDBPath = ":memory:"
	}
}

func (c Config) deviceConfig() device.Config {
	return device.Config{
		ID:            c.DeviceID,
		DataTTY:       c.DataTTY,
		AudioTTY:      c.AudioTTY,
		IMEI:          c.IMEI,
		IMSI:          c.IMSI,
		ResetModem:    c.ResetModem,
		CallWaiting:   c.CallWaiting,
		AutoDeleteSMS: c.AutoDeleteSMS,
		DisableSMS:    c.DisableSMS,
		CSMSTTL:       c.CSMSTTL,
		PollInterval:  c.PollInterval,
		DataTimeout:   c.DataTimeout,
		Logger:        c.Logger,
	}
}

// ConfigBuilder builds a Config fluently. It exists because Config grew
// enough optional fields (device wiring on top of the original
// Dialer/SimPIN fields) that positional struct literals in tests and
// callers became error-prone.
type ConfigBuilder struct {
	cfg Config
}

// NewConfigBuilder starts a new Config under construction.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.cfg.Dialer = d
	return b
}

func (b *ConfigBuilder) WithSimPIN(pin string) *ConfigBuilder {
	b.cfg.SimPIN = pin
	return b
}

func (b *ConfigBuilder) WithMaxRetries(n int) *ConfigBuilder {
	b.cfg.MaxRetries = n
	return b
}

func (b *ConfigBuilder) WithMinSendInterval(d time.Duration) *ConfigBuilder {
	b.cfg.MinSendInterval = d
	return b
}

func (b *ConfigBuilder) WithEchoOn(on bool) *ConfigBuilder {
	b.cfg.EchoOn = on
	return b
}

func (b *ConfigBuilder) WithATTimeout(d time.Duration) *ConfigBuilder {
	b.cfg.ATTimeout = d
	return b
}

func (b *ConfigBuilder) WithInitTimeout(d time.Duration) *ConfigBuilder {
	b.cfg.InitTimeout = d
	return b
}

func (b *ConfigBuilder) WithDeviceID(id string) *ConfigBuilder {
	b.cfg.DeviceID = id
	return b
}

func (b *ConfigBuilder) WithSmsDBPath(path string) *ConfigBuilder {
	b.cfg.SmsDBPath = path
	return b
}

func (b *ConfigBuilder) WithDataTTY(path string) *ConfigBuilder {
	b.cfg.DataTTY = path
	return b
}

func (b *ConfigBuilder) WithAudioTTY(path string) *ConfigBuilder {
	b.cfg.AudioTTY = path
	return b
}

func (b *ConfigBuilder) WithIMEI(imei string) *ConfigBuilder {
	b.cfg.IMEI = imei
	return b
}

func (b *ConfigBuilder) WithIMSI(imsi string) *ConfigBuilder {
	b.cfg.IMSI = imsi
	return b
}

func (b *ConfigBuilder) WithResetModem(on bool) *ConfigBuilder {
	b.cfg.ResetModem = on
	return b
}

func (b *ConfigBuilder) WithCallWaiting(mode device.CallWaitingMode) *ConfigBuilder {
	b.cfg.CallWaiting = mode
	return b
}

func (b *ConfigBuilder) WithDisableSMS(on bool) *ConfigBuilder {
	b.cfg.DisableSMS = on
	return b
}

func (b *ConfigBuilder) WithAutoDeleteSMS(on bool) *ConfigBuilder {
	b.cfg.AutoDeleteSMS = on
	return b
}

func (b *ConfigBuilder) WithCSMSTTL(d time.Duration) *ConfigBuilder {
	b.cfg.CSMSTTL = d
	return b
}

func (b *ConfigBuilder) WithPollInterval(d time.Duration) *ConfigBuilder {
	b.cfg.PollInterval = d
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.cfg.Logger = l
	return b
}

func (b *ConfigBuilder) WithSink(s events.Sink) *ConfigBuilder {
	b.cfg.Sink = s
	return b
}

// Build validates the accumulated Config, applying defaults, and returns
// it ready for New. It returns ErrNoDialer if WithDialer was never called.
func (b *ConfigBuilder) Build() (Config, error) {
	cfg := b.cfg
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	cfg.setDefaults()
	return cfg, nil
}
