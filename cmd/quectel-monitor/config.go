package main

import (
	"fmt"
	"time"

	"github.com/nexmodem/qcore/device"
	"github.com/nexmodem/qcore/modem"
)

// Options is parsed by github.com/jessevdk/go-flags. It covers one
// device's worth of configuration plus the process-wide smsdb/CSMS/
// discovery settings.
type Options struct {
	Verbose []bool `short:"v" long:"verbose" description:"Show verbose debug logging"`

	SerialPort string `short:"p" long:"serial-port" description:"Serial port the modem is attached to" default:"/dev/ttyUSB0"`
	BaudRate   int    `short:"b" long:"baud-rate" description:"Baud rate for serial communication" default:"115200"`
	TCPAddr    string `long:"tcp-addr" description:"Dial a TCP modem emulator instead of a serial port (host:port)"`
	NagleSize  int    `long:"nagle-size" description:"Coalesce writes through this many bytes before flushing (TCP transport only, 0 disables)" default:"0"`
	SimPIN     string `long:"sim-pin" description:"SIM card PIN code, if required"`

	DeviceID    string `long:"device-id" description:"Device identifier used in logs and emitted events" default:"modem0"`
	DataTTY     string `long:"data-tty" description:"Path device.Config.DataTTY records for this device"`
	AudioTTY    string `long:"audio-tty" description:"Path device.Config.AudioTTY records for this device"`
	IMEI        string `long:"imei" description:"Device IMEI, if known ahead of discovery"`
	IMSI        string `long:"imsi" description:"SIM IMSI, if known ahead of discovery"`
	ResetModem  bool   `long:"reset-modem" description:"Recorded in device.Config.ResetModem; no reset command is sent"`
	CallWaiting string `long:"call-waiting" description:"disallowed, allowed, or auto" default:"auto"`

	AutoDeleteSMS bool   `long:"auto-delete-sms" description:"Delete SMS records from modem storage once fully reassembled"`
	DisableSMS    bool   `long:"disable-sms" description:"Reject SendSMS (the init burst still sends its SMS setup commands)"`
	InitialState  string `long:"initial-state" description:"stopped, started, or removed" default:"started"`

	SmsDBPath                string `long:"smsdb-path" description:"smsdb SQLite file (\":memory:\" for an ephemeral store)" default:"quectel-monitor.sqlite3"`
	CSMSTTLSeconds           int    `long:"csms-ttl-seconds" description:"Multipart SMS reassembly timeout" default:"300"`
	DiscoveryIntervalSeconds int    `long:"discovery-interval-seconds" description:"Interval between device rediscovery passes (reserved for multi-device hosts)" default:"60"`

	LogFile    string `long:"log-file" description:"Rotate structured logs through this file instead of stderr"`
	LogMaxSize int    `long:"log-max-size-mb" description:"Max size in MB before a log file is rotated" default:"50"`
	LogMaxAge  int    `long:"log-max-age-days" description:"Max age in days to retain rotated logs" default:"7"`
}

// callWaitingMode resolves Options.CallWaiting to the three-valued
// device.CallWaitingMode.
func (o Options) callWaitingMode() (device.CallWaitingMode, error) {
	switch o.CallWaiting {
	case "disallowed":
		return device.CallWaitingDisallowed, nil
	case "allowed":
		return device.CallWaitingAllowed, nil
	case "auto", "":
		return device.CallWaitingAuto, nil
	default:
		return 0, fmt.Errorf("unknown --call-waiting value %q", o.CallWaiting)
	}
}

// initialState is one of the three states a device can start in.
// "removed" and "stopped" both skip Loop; only "started" begins the
// supervisor loop immediately.
type initialState int

const (
	stateStopped initialState = iota
	stateStarted
	stateRemoved
)

func (o Options) initialStateValue() (initialState, error) {
	switch o.InitialState {
	case "stopped":
		return stateStopped, nil
	case "started", "":
		return stateStarted, nil
	case "removed":
		return stateRemoved, nil
	default:
		return 0, fmt.Errorf("unknown --initial-state value %q", o.InitialState)
	}
}

func (o Options) dialer() (modem.Dialer, error) {
	if o.TCPAddr != "" {
		return modem.TCPDialer{
			Addr:         o.TCPAddr,
			NagleSize:    o.NagleSize,
			NagleTimeout: 50 * time.Millisecond,
		}, nil
	}
	if o.SerialPort == "" {
		return nil, fmt.Errorf("one of --serial-port or --tcp-addr is required")
	}
	return modem.SerialDialer{PortName: o.SerialPort, BaudRate: o.BaudRate}, nil
}

// modemConfig converts Options into the modem.Config New needs, in the
// teacher's Build()-returns-ready-to-use shape.
func (o Options) modemConfig() (modem.Config, error) {
	dialer, err := o.dialer()
	if err != nil {
		return modem.Config{}, err
	}
	callWaiting, err := o.callWaitingMode()
	if err != nil {
		return modem.Config{}, err
	}

	return modem.NewConfigBuilder().
		WithDialer(dialer).
		WithSimPIN(o.SimPIN).
		WithDeviceID(o.DeviceID).
		WithDataTTY(o.DataTTY).
		WithAudioTTY(o.AudioTTY).
		WithIMEI(o.IMEI).
		WithIMSI(o.IMSI).
		WithResetModem(o.ResetModem).
		WithCallWaiting(callWaiting).
		WithAutoDeleteSMS(o.AutoDeleteSMS).
		WithDisableSMS(o.DisableSMS).
		WithCSMSTTL(time.Duration(o.CSMSTTLSeconds) * time.Second).
		WithSmsDBPath(o.SmsDBPath).
		Build()
}
