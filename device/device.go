// Package device implements the per-device supervisor loop: the unit
// that owns one modem link's ringbuffer, line framer, AT queue, call
// list, and cached vendor/capability flags, and drives them from bytes
// read off a Transport to events pushed to a Sink. A Device's internal
// state may only be mutated while its own mutex is held; the public
// methods below enqueue a Task and return without waiting for the
// modem's reply.
package device

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nexmodem/qcore/at"
	"github.com/nexmodem/qcore/atcmd"
	"github.com/nexmodem/qcore/atqueue"
	"github.com/nexmodem/qcore/callstate"
	"github.com/nexmodem/qcore/corerr"
	"github.com/nexmodem/qcore/dispatch"
	"github.com/nexmodem/qcore/events"
	"github.com/nexmodem/qcore/framer"
	"github.com/nexmodem/qcore/pdu"
	"github.com/nexmodem/qcore/smsdb"
	"github.com/nexmodem/qcore/vendorops"
)

// CallWaitingMode is the three-valued call_waiting config field.
type CallWaitingMode int

const (
	CallWaitingDisallowed CallWaitingMode = iota
	CallWaitingAllowed
	CallWaitingAuto
)

// Config holds one device's configuration: identity, TTY paths, vendor
// hints, and the behavioral toggles that shape the init burst and SMS
// handling.
type Config struct {
	ID            string
	DataTTY       string
	AudioTTY      string
	IMEI          string
	IMSI          string
	ResetModem    bool
	CallWaiting   CallWaitingMode
	AutoDeleteSMS bool
	DisableSMS    bool

	CSMSTTL      time.Duration
	PollInterval time.Duration
	DataTimeout  time.Duration

	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.CSMSTTL == 0 {
		c.CSMSTTL = 5 * time.Minute
	}
	if c.PollInterval == 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.DataTimeout == 0 {
		c.DataTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Stats are the lifetime counters a device accumulates over its life:
// bytes moved, AT tasks/commands issued, and call outcomes.
type Stats struct {
	ReadBytes, WriteBytes   uint64
	ATTasks, ATCmds         uint64
	CallsAnswered           uint64
	CallsInitiated          uint64
	CallsFailedIn           uint64
	CallsFailedOut          uint64
}

// ACD returns the average call duration in seconds across answered
// calls, or -1 if none have been answered yet (Open Question (i)).
func (s Stats) ACD(totalAnsweredSeconds float64) float64 {
	if s.CallsAnswered == 0 {
		return -1
	}
	return totalAnsweredSeconds / float64(s.CallsAnswered)
}

// Transport is the byte stream to a modem link, matching modem.Transport
// so the same Dialer-produced value can back either the façade or a
// Device directly.
type Transport interface {
	io.ReadWriteCloser
}

// Device is one supervised modem link.
type Device struct {
	mu sync.Mutex

	cfg       Config
	transport Transport
	frm       *framer.Framer
	queue     *atqueue.Queue
	calls     *callstate.Manager
	dctx      *dispatch.Context
	sink      events.Sink
	smsdb     *smsdb.DB

	vendor      vendorops.Ops
	pendingData []string // TypeData lines collected for the in-flight head Cmd
	terminate   chan struct{}
	stats       Stats

	nextPollAt time.Time // next AT+CLCC fallback poll, per cfg.PollInterval
	fatal      error
}

// New constructs a Device bound to transport. The transport is assumed
// already open; Device never dials it itself (that's the modem façade's
// job).
func New(transport Transport, cfg Config, db *smsdb.DB, sink events.Sink) *Device {
	cfg.setDefaults()
	calls := callstate.NewManager()
	d := &Device{
		cfg:       cfg,
		transport: transport,
		frm:       framer.New(4096),
		queue:     atqueue.New(),
		calls:     calls,
		smsdb:     db,
		sink:      sink,
		vendor:     vendorops.Quectel,
		terminate:  make(chan struct{}),
		nextPollAt: time.Now().Add(cfg.PollInterval),
	}
	d.dctx = &dispatch.Context{
		DeviceID:      cfg.ID,
		Calls:         calls,
		SMSDB:         db,
		Sink:          sink,
		AutoDeleteSMS: cfg.AutoDeleteSMS,
		CSMSTTL:       cfg.CSMSTTL,
	}
	return d
}

// Stats returns a snapshot of the device's lifetime counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Terminate requests the supervisor loop stop at its next opportunity.
func (d *Device) Terminate() {
	select {
	case <-d.terminate:
	default:
		close(d.terminate)
	}
}

func (d *Device) enqueue(cmds []atqueue.Cmd, atOnce bool) {
	if len(cmds) == 0 {
		return
	}
	d.queue.Add(cmds, atOnce)
	d.stats.ATTasks++
	d.stats.ATCmds += uint64(len(cmds))
}

func (d *Device) enqueueHead(cmds []atqueue.Cmd, atOnce bool) {
	if len(cmds) == 0 {
		return
	}
	d.queue.InsertHead(cmds, atOnce)
	d.stats.ATTasks++
	d.stats.ATCmds += uint64(len(cmds))
}

// ---- Public API: every call enqueues and returns; no reply is awaited. ----

// Dial enqueues an outbound call. clir is "" for no preamble.
func (d *Device) Dial(number, clir string, hold bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cmds, err := atcmd.Dial(number, clir, hold)
	if err != nil {
		return err
	}
	call := d.calls.Alloc(callstate.Outgoing, number)
	d.dctx.SetDialingUID(call.UID)
	d.stats.CallsInitiated++
	d.enqueue(cmds, true)
	return nil
}

// Answer enqueues acceptance of an incoming/waiting call.
func (d *Device) Answer(callIdx int, disambiguate bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enqueue(atcmd.Answer(callIdx, disambiguate), false)
	d.stats.CallsAnswered++
}

// HangUp enqueues call termination, choosing the command form via the
// cached vendor family.
func (d *Device) HangUp(callIdx int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	otherLive := len(d.calls.Live()) > 1
	d.enqueue(atcmd.HangUp(d.vendor.HangUp(callIdx, otherLive)), true)
}

// SendSMS enqueues an outbound text message, splitting it into PDU-mode
// parts and registering each part with smsdb so a later status report
// can be matched back to uid.
func (d *Device) SendSMS(ctx context.Context, dst, text string, statusReport bool) (uid string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cfg.DisableSMS {
		return "", corerr.New(corerr.KindDeviceDisabled, "SMS is disabled for this device")
	}
	if err := atcmd.ValidatePhoneNumber(dst); err != nil {
		return "", err
	}

	chunks, _, err := pdu.SplitText(text)
	if err != nil {
		return "", err
	}

	firstRef, err := d.smsdb.NextOutgoingRef(ctx, d.cfg.ID)
	if err != nil {
		return "", corerr.Wrap(corerr.KindSmsdb, err, "allocate outgoing reference")
	}
	uid = fmt.Sprintf("%s-%d-%d", d.cfg.ID, firstRef, time.Now().UnixNano())

	if err := d.smsdb.PutOutgoingMsg(ctx, smsdb.OutgoingMsg{
		UID: uid, Dev: d.cfg.ID, Dst: dst, Message: text, PartCount: len(chunks), SRR: statusReport,
	}, d.cfg.CSMSTTL); err != nil {
		return "", corerr.Wrap(corerr.KindSmsdb, err, "register outgoing message")
	}

	// Every part of a concatenated send shares one CSMS reference (here,
	// the first part's TP-MR) but carries its own TP-MR, since status
	// reports are correlated per part by TP-MR, not by CSMS reference.
	refs := make([]byte, len(chunks))
	refs[0] = firstRef
	for i := 1; i < len(chunks); i++ {
		ref, err := d.smsdb.NextOutgoingRef(ctx, d.cfg.ID)
		if err != nil {
			return "", corerr.Wrap(corerr.KindSmsdb, err, "allocate outgoing reference")
		}
		refs[i] = ref
	}

	var cmds []atqueue.Cmd
	for i, chunk := range chunks {
		submit := pdu.Submit{
			Destination:           pdu.NewAddress(dst),
			Text:                  chunk,
			MsgRef:                refs[i],
			StatusReportRequested: statusReport,
		}
		if len(chunks) > 1 {
			submit.Concat = &pdu.ConcatHeader{Ref: uint16(firstRef), Total: byte(len(chunks)), Part: byte(i + 1)}
		}
		tpdu, err := pdu.BuildSubmitTPDU(submit)
		if err != nil {
			return "", corerr.Wrap(corerr.KindBuildPdu, err, "build SMS-SUBMIT TPDU")
		}
		if err := d.smsdb.PutOutgoingPart(ctx, uid, refs[i]); err != nil {
			return "", corerr.Wrap(corerr.KindSmsdb, err, "register outgoing part")
		}
		// "00" is an empty SCA field: the modem uses the SIM's service center.
		cmds = append(cmds, atcmd.SMSSend(len(tpdu), "00"+pdu.HexEncode(tpdu))...)
	}

	d.enqueue(cmds, false)
	return uid, nil
}

// SendUSSD enqueues a USSD session start, encoding payload as GSM-7
// packed hex.
func (d *Device) SendUSSD(code string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := atcmd.ValidateUSSD(code); err != nil {
		return err
	}
	payload, err := pdu.EncodeGSM7Hex(code)
	if err != nil {
		return corerr.Wrap(corerr.KindEncodeGsm7, err, "encode USSD payload")
	}
	d.enqueue(atcmd.USSDSend(payload), false)
	return nil
}

// ListSMS enqueues an operator-triggered AT+CMGL listing of stored
// messages matching stat (e.g. 4 = all), for catching up on messages that
// arrived or were left unread while the link was down. Unlike the
// +CMTI-driven AT+CMGR fetch chain, this is not reactive to a
// notification; callers invoke it on demand.
func (d *Device) ListSMS(stat int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enqueue(atcmd.ListSMS(stat), false)
}

// UserCommand enqueues an arbitrary operator-supplied AT command line.
func (d *Device) UserCommand(line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enqueue(atcmd.UserCommand(line), false)
}

// ---- Supervisor loop ----

type readResult struct {
	data []byte
	err  error
}

// Run drives the supervisor loop until ctx is canceled, Terminate is
// called, or a fatal link error occurs. A background goroutine performs
// the blocking transport read (Go has no portable fd-select over an
// arbitrary io.Reader, so a reader goroutine feeding a channel is this
// package's translation of "wait_readable"), while the main loop
// multiplexes that channel against the AT queue's timeout deadline.
func (d *Device) Run(ctx context.Context) error {
	d.mu.Lock()
	d.enqueue(atcmd.InitBurst(), false)
	d.mu.Unlock()

	reads := make(chan readResult, 8)
	stopReader := make(chan struct{})
	go d.readLoop(reads, stopReader)
	defer close(stopReader)

	for {
		d.mu.Lock()
		d.expireOutgoingLocked(ctx)
		deadline, writePending := d.nextDeadlineLocked()
		var writeErr error
		if writePending {
			writeErr = d.writeHeadLocked()
		}
		d.mu.Unlock()

		if writeErr != nil {
			d.teardown(writeErr)
			return writeErr
		}

		timer := time.NewTimer(deadline)
		select {
		case <-ctx.Done():
			timer.Stop()
			d.teardown(ctx.Err())
			return ctx.Err()

		case <-d.terminate:
			timer.Stop()
			d.teardown(nil)
			return nil

		case rr := <-reads:
			timer.Stop()
			if rr.err != nil {
				d.teardown(rr.err)
				return rr.err
			}
			if err := d.handleBytes(rr.data); err != nil {
				d.teardown(err)
				return err
			}

		case <-timer.C:
			d.mu.Lock()
			d.handleTimeoutLocked()
			d.mu.Unlock()
		}
	}
}

func (d *Device) readLoop(out chan<- readResult, stop <-chan struct{}) {
	buf := make([]byte, 4096)
	for {
		n, err := d.transport.Read(buf)
		if n > 0 {
			cp := make([]byte, n)
			copy(cp, buf[:n])
			select {
			case out <- readResult{data: cp}:
			case <-stop:
				return
			}
		}
		if err != nil {
			select {
			case out <- readResult{err: corerr.Wrap(corerr.KindDeviceDisconnected, err, "transport read failed")}:
			case <-stop:
			}
			return
		}
	}
}

// nextDeadlineLocked reports how long the main loop should wait before
// reacting on its own (injecting a timeout, a liveness ping, or a
// fallback AT+CLCC poll), and whether the head command still needs to be
// written to the wire.
func (d *Device) nextDeadlineLocked() (time.Duration, bool) {
	cmd := d.queue.HeadCmd()
	if cmd == nil {
		idle := d.cfg.DataTimeout
		if untilPoll := time.Until(d.nextPollAt); untilPoll < idle {
			idle = untilPoll
		}
		if idle < 0 {
			idle = 0
		}
		return idle, false
	}
	if to, active := d.queue.Timeout(time.Now()); active {
		if to < 0 {
			return 0, false
		}
		return to, false
	}
	return 0, true
}

func (d *Device) writeHeadLocked() error {
	cmd := d.queue.HeadCmd()
	if cmd == nil {
		return nil
	}
	line := cmd.Name
	if t := d.queue.HeadTask(); t.AtOnce && len(t.Cmds) > 1 {
		parts := make([]string, len(t.Cmds))
		for i, c := range t.Cmds {
			parts[i] = strings.TrimPrefix(c.Name, "AT")
		}
		line = "AT" + strings.Join(parts, ";")
	}
	if !strings.HasSuffix(line, at.CtrlZ) {
		line += "\r"
	}
	n, err := d.transport.Write([]byte(line))
	d.stats.WriteBytes += uint64(n)
	d.queue.MarkWritten(time.Now())
	if err != nil {
		werr := atqueue.WriteFailed(cmd, err)
		d.queue.RemoveCmd(true)
		return werr
	}
	return nil
}

func (d *Device) handleTimeoutLocked() {
	cmd := d.queue.HeadCmd()
	if cmd == nil {
		now := time.Now()
		if !now.Before(d.nextPollAt) {
			d.nextPollAt = now.Add(d.cfg.PollInterval)
			d.enqueue(atcmd.PollCLCC(), false)
			return
		}
		d.enqueue(atcmd.Ping(), false)
		return
	}
	if _, active := d.queue.Timeout(time.Now()); !active {
		return // not written yet; the loop writes it on its next pass
	}
	d.pendingData = nil
	d.queue.RemoveCmd(false)
}

func (d *Device) handleBytes(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.ReadBytes += uint64(len(data))
	if err := d.frm.Feed(data); err != nil {
		return corerr.Wrap(corerr.KindTooBig, err, "ring buffer overflow")
	}
	for {
		line, ok := d.frm.Next()
		if !ok {
			break
		}
		d.handleLineLocked(line)
		if d.fatal != nil {
			err := d.fatal
			d.fatal = nil
			return err
		}
	}
	return nil
}

func (d *Device) handleLineLocked(line framer.Line) {
	text := strings.TrimSpace(line.Text)
	if line.Type == at.TypePrompt {
		text = at.Prompt // keep the trailing space so it matches Expect "> "
	}
	if text == "" {
		return
	}

	// +CREG:/+CEREG:/+CUSD:/+CSQ: lines are classified TypeData by
	// package at (a polled +CREG: response classifies the same way), but
	// the only place this driver's command table issues a command that
	// would poll for them
	// is the init burst's AT+CSQ, whose value dispatch.DispatchURC
	// already handles — so every line with one of these prefixes
	// belongs on the URC path regardless of Classify's verdict.
	if line.Type == at.TypeURC || isAlwaysURCLine(text) {
		out := dispatch.DispatchURC(d.dctx, text)
		d.applyOutcomeLocked(out)
		return
	}

	head := d.queue.HeadCmd()
	if head == nil {
		return
	}

	isTerminal := text == head.Expect || text == at.OK || text == at.ERROR ||
		strings.HasPrefix(text, at.CmeError) || strings.HasPrefix(text, at.CmsError)
	if !isTerminal {
		d.pendingData = append(d.pendingData, text)
		return
	}

	matched := text == head.Expect
	if !matched && head.Flags&atqueue.FlagSuppressError == 0 {
		d.cfg.Logger.Warn("AT command response did not match expectation",
			"device", d.cfg.ID, "cmd", head.Name, "expect", head.Expect, "got", text)
	}

	cmdName := head.Name
	data := d.pendingData
	d.pendingData = nil
	d.queue.RemoveCmd(matched)
	out := dispatch.Dispatch(d.dctx, cmdName, data, text)
	d.applyOutcomeLocked(out)
}

func isAlwaysURCLine(text string) bool {
	return strings.HasPrefix(text, at.UrcRegistration) ||
		strings.HasPrefix(text, at.UrcEPSRegistration) ||
		strings.HasPrefix(text, at.UrcUSSD) ||
		strings.HasPrefix(text, at.UrcSignalStrength)
}

func (d *Device) applyOutcomeLocked(out dispatch.Outcome) {
	if d.dctx.IsSimcomKnown {
		d.vendor = vendorops.ForIsSimcom(d.dctx.IsSimcom)
	}
	if len(out.InsertHead) > 0 {
		d.enqueueHead(out.InsertHead, false)
	}
	if len(out.Enqueue) > 0 {
		d.enqueue(out.Enqueue, false)
	}
	if out.ReinitBurst {
		d.sink.Emit(events.DeviceStateChanged{Device: d.cfg.ID, From: "ready", To: "reinitializing"})
		d.enqueueHead(atcmd.InitBurst(), false)
	}
	if out.AbortInit || out.Fatal != nil {
		if out.Fatal != nil {
			d.fatal = out.Fatal
		} else {
			d.fatal = corerr.New(corerr.KindDeviceDisabled, "device initialization aborted")
		}
	}
}

func (d *Device) expireOutgoingLocked(ctx context.Context) {
	_ = d.smsdb.ExpireIncoming(ctx, time.Now())
	msg, ok, err := d.smsdb.GetExpiredOutgoing(ctx, time.Now())
	if err != nil || !ok {
		return
	}
	_ = d.smsdb.DeleteOutgoing(ctx, msg.UID)
	d.sink.Emit(events.SmsReport{Device: d.cfg.ID, UID: msg.UID, Success: false, Expired: true})
}

func (d *Device) teardown(cause error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.calls.Live() {
		from := c.State
		d.calls.Transition(c, callstate.Released)
		d.sink.Emit(events.CallStateChanged{Device: d.cfg.ID, CallIdx: c.CallIndex, From: from.String(), To: callstate.Released.String(), Cause: "NORMAL_UNSPECIFIED"})
	}
	d.queue.Flush()
	d.transport.Close()
	to := "disconnected"
	from := "ready"
	if cause != nil {
		d.sink.Emit(events.DeviceStateChanged{Device: d.cfg.ID, From: from, To: to})
	} else {
		d.sink.Emit(events.DeviceStateChanged{Device: d.cfg.ID, From: from, To: "stopped"})
	}
}
