// Package dispatch is the response dispatcher: a
// two-level table keyed by (head command kind, observed result kind) for
// polled responses, plus a separate URC table for unsolicited
// notifications. Handlers mutate the Context they're given and return an
// Outcome telling the caller (package device) what to enqueue next and
// whether the device must tear down.
package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nexmodem/qcore/at"
	"github.com/nexmodem/qcore/atcmd"
	"github.com/nexmodem/qcore/atqueue"
	"github.com/nexmodem/qcore/callstate"
	"github.com/nexmodem/qcore/corerr"
	"github.com/nexmodem/qcore/events"
	"github.com/nexmodem/qcore/pdu"
	"github.com/nexmodem/qcore/smsdb"
)

// Context is the mutable device-scoped state a dispatch call reads and
// updates. Package device owns one Context per Device and serializes all
// access to it under its own mutex; dispatch itself holds no locks.
type Context struct {
	DeviceID string

	Calls *callstate.Manager
	SMSDB *smsdb.DB
	Sink  events.Sink

	IsSimcomKnown   bool
	IsSimcom        bool
	UseUCS2Encoding bool
	Initialized     bool
	HasSMS          bool
	AutoDeleteSMS   bool
	CSMSTTL         time.Duration

	FetchingSMS int   // storage index currently being fetched via AT+CMGR, 0 = none
	PendingSMS  []int // indices queued behind FetchingSMS

	Registered     bool
	LastRegistered bool
	RSSI           int // raw +CSQ value, 99 = unknown

	// dialingUID is the callstate UID of the most recently Alloc'd
	// outbound call not yet matched to a modem call_idx, used to adopt a
	// freshly appearing DIALING/ALERTING +CLCC line.
	dialingUID int
}

// SetDialingUID records the call a local Dial just allocated, so the
// next +CLCC refresh that reports a new DIALING/ALERTING line can adopt
// it instead of treating it as an unrecognized call.
func (c *Context) SetDialingUID(uid int) { c.dialingUID = uid }

// Outcome is what a dispatch call asks the supervisor to do next.
type Outcome struct {
	Enqueue      []atqueue.Cmd
	InsertHead   []atqueue.Cmd
	Fatal        error // non-nil triggers supervisor teardown
	AbortInit    bool
	ReinitBurst  bool // ^BOOT: mid-session, rerun InitBurst without teardown
}

func (o Outcome) merge(other Outcome) Outcome {
	o.Enqueue = append(o.Enqueue, other.Enqueue...)
	o.InsertHead = append(o.InsertHead, other.InsertHead...)
	if other.Fatal != nil {
		o.Fatal = other.Fatal
	}
	o.AbortInit = o.AbortInit || other.AbortInit
	o.ReinitBurst = o.ReinitBurst || other.ReinitBurst
	return o
}

// Dispatch handles the result of a command the queue was waiting on:
// cmdName is the Cmd.Name that was written, dataLines are any
// intermediate (TypeData) lines collected while waiting, and final is
// the terminal line ("OK", "ERROR", "+CME ERROR: 3", ...).
func Dispatch(ctx *Context, cmdName string, dataLines []string, final string) Outcome {
	ok := final == at.OK
	switch {
	case cmdName == "AT+CPIN?":
		return dispatchCPIN(ctx, dataLines, final)

	case strings.HasPrefix(cmdName, `AT+CSCS=`):
		ctx.UseUCS2Encoding = ok
		return Outcome{}

	case strings.HasPrefix(cmdName, "AT+CNMI") || strings.HasPrefix(cmdName, "AT+CPMS") || strings.HasPrefix(cmdName, "AT+CMGF"):
		return dispatchSMSCapability(ctx, ok)

	case strings.HasPrefix(cmdName, "AT+CVOICE") || strings.Contains(cmdName, "CPCMREG") || strings.Contains(cmdName, "QPCMV"):
		return dispatchVoiceFamily(ctx, dataLines)

	case cmdName == "AT+CLCC":
		return dispatchCLCCRefresh(ctx, dataLines)

	case strings.HasPrefix(cmdName, "AT+CMGR="):
		return dispatchCMGR(ctx, dataLines)

	case strings.HasPrefix(cmdName, "AT+CMGL="):
		return dispatchCMGL(ctx, dataLines)

	default:
		if final == "" {
			return Outcome{}
		}
		if !ok && final != "" {
			// Generic command error: logged by the caller, queue advances
			// regardless unless the command is in the small fatal list.
			if isFatalInitCommand(cmdName) {
				return Outcome{Fatal: corerr.New(corerr.KindDeviceDisconnected, "fatal init command failed: "+cmdName)}
			}
		}
		return Outcome{}
	}
}

func isFatalInitCommand(cmdName string) bool {
	for _, p := range []string{"AT+CGMI", "AT+CGMM", "AT+CGMR", "AT+CGSN", "AT+CIMI", "AT+CSSN"} {
		if strings.HasPrefix(cmdName, p) {
			return true
		}
	}
	return false
}

func dispatchCPIN(ctx *Context, dataLines []string, final string) Outcome {
	joined := strings.Join(append(dataLines, final), " ")
	switch {
	case strings.Contains(joined, "READY"):
		return Outcome{}
	case strings.Contains(joined, "SIM PUK"):
		return Outcome{AbortInit: true, Fatal: corerr.New(corerr.KindDeviceDisabled, "SIM requires PUK")}
	case strings.Contains(joined, "SIM PIN"):
		return Outcome{AbortInit: true, Fatal: corerr.New(corerr.KindDeviceDisabled, "SIM requires PIN")}
	default:
		return Outcome{Fatal: corerr.New(corerr.KindDeviceDisconnected, "unexpected AT+CPIN? response: "+joined)}
	}
}

func dispatchSMSCapability(ctx *Context, ok bool) Outcome {
	if !ok {
		ctx.HasSMS = false
		ctx.Initialized = true
		return Outcome{}
	}
	ctx.HasSMS = true
	wasInitialized := ctx.Initialized
	ctx.Initialized = true
	if !wasInitialized {
		ctx.Sink.Emit(events.DeviceStateChanged{Device: ctx.DeviceID, From: "connecting", To: "ready"})
	}
	return Outcome{}
}

func dispatchVoiceFamily(ctx *Context, dataLines []string) Outcome {
	for _, l := range dataLines {
		if strings.HasPrefix(l, "+CPCMREG:") {
			ctx.IsSimcom, ctx.IsSimcomKnown = true, true
			return Outcome{}
		}
		if strings.HasPrefix(l, "+QPCMV:") {
			ctx.IsSimcom, ctx.IsSimcomKnown = false, true
			return Outcome{}
		}
	}
	return Outcome{}
}

// clccLine is one parsed +CLCC line: "+CLCC: <idx>,<dir>,<stat>,<mode>,<mpty>[,"<number>",<type>]"
type clccLine struct {
	idx, dir, stat int
	number         string
}

func parseCLCCLine(l string) (clccLine, bool) {
	if !strings.HasPrefix(l, "+CLCC:") {
		return clccLine{}, false
	}
	fields := strings.SplitN(strings.TrimSpace(strings.TrimPrefix(l, "+CLCC:")), ",", 7)
	if len(fields) < 3 {
		return clccLine{}, false
	}
	idx, err1 := strconv.Atoi(strings.TrimSpace(fields[0]))
	dir, err2 := strconv.Atoi(strings.TrimSpace(fields[1]))
	stat, err3 := strconv.Atoi(strings.TrimSpace(fields[2]))
	if err1 != nil || err2 != nil || err3 != nil {
		return clccLine{}, false
	}
	c := clccLine{idx: idx, dir: dir, stat: stat}
	if len(fields) >= 6 {
		c.number = strings.Trim(strings.TrimSpace(fields[5]), `"`)
	}
	return c, true
}

// modemStateToCallstate maps the +CLCC "stat" numeric value (27.007
// §7.18) to our callstate.State.
func modemStateToCallstate(stat int) (callstate.State, bool) {
	switch stat {
	case 0:
		return callstate.Active, true
	case 1:
		return callstate.OnHold, true
	case 2:
		return callstate.Dialing, true
	case 3:
		return callstate.Alerting, true
	case 4:
		return callstate.Incoming, true
	case 5:
		return callstate.Waiting, true
	default:
		return callstate.Released, false
	}
}

func dispatchCLCCRefresh(ctx *Context, dataLines []string) Outcome {
	for _, l := range dataLines {
		c, ok := parseCLCCLine(l)
		if !ok {
			continue
		}
		state, known := modemStateToCallstate(c.stat)
		if !known {
			continue
		}
		call, tracked := ctx.Calls.ByIndex(c.idx)
		if !tracked {
			if state == callstate.Dialing || state == callstate.Alerting {
				if adopted, ok := ctx.Calls.ByUID(ctx.dialingUID); ok {
					ctx.Calls.Track(adopted, c.idx)
					call, tracked = adopted, true
				}
			}
			if !tracked {
				continue
			}
		}
		call.Number = c.number
		from := call.State
		if from == state {
			continue
		}
		ctx.Calls.Transition(call, state)
		ctx.Sink.Emit(events.CallStateChanged{Device: ctx.DeviceID, CallIdx: c.idx, From: from.String(), To: state.String()})
	}
	return Outcome{}
}

func dispatchCMGR(ctx *Context, dataLines []string) Outcome {
	if len(dataLines) < 2 {
		return Outcome{}
	}
	hexPDU := strings.TrimSpace(dataLines[1])
	incoming, err := pdu.ParseIncoming(hexPDU)
	if err != nil {
		return Outcome{}
	}
	out := handleIncoming(ctx, incoming, ctx.FetchingSMS)
	out = advanceFetchQueue(ctx, out)
	return out
}

// dispatchCMGL handles a AT+CMGL=<stat> listing: zero or more
// "+CMGL: <index>,<stat>,[address],<length>" header lines each followed by
// one hex-PDU body line, collected as dataLines while the queue waited for
// the list's terminal OK. Unlike AT+CMGR it is not part of the
// FetchingSMS/PendingSMS reactive fetch chain (it is an operator-triggered
// bulk read, not a response to a +CMTI/+CDSI notification), so each entry
// is deleted by its own listed index rather than ctx.FetchingSMS.
func dispatchCMGL(ctx *Context, dataLines []string) Outcome {
	var out Outcome
	for i := 0; i < len(dataLines); i++ {
		header := dataLines[i]
		if !strings.HasPrefix(header, "+CMGL:") {
			continue
		}
		if i+1 >= len(dataLines) {
			break
		}
		index, ok := parseCMGLIndex(header)
		i++
		if !ok {
			continue
		}
		incoming, err := pdu.ParseIncoming(strings.TrimSpace(dataLines[i]))
		if err != nil {
			continue
		}
		out = out.merge(handleIncoming(ctx, incoming, index))
	}
	return out
}

func parseCMGLIndex(header string) (int, bool) {
	body := strings.TrimPrefix(header, "+CMGL:")
	fields := strings.SplitN(body, ",", 2)
	if len(fields) == 0 {
		return 0, false
	}
	idx, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return 0, false
	}
	return idx, true
}

func handleIncoming(ctx *Context, incoming pdu.Incoming, index int) Outcome {
	if incoming.Deliver != nil {
		return handleDeliver(ctx, incoming.Deliver, index)
	}
	if incoming.StatusReport != nil {
		return handleStatusReport(ctx, incoming.StatusReport, index)
	}
	return Outcome{}
}

func handleDeliver(ctx *Context, d *pdu.Deliver, index int) Outcome {
	var out Outcome
	body := d.Text
	complete := true
	if d.Concat != nil {
		assembled, done, err := ctx.SMSDB.PutIncomingPart(context.Background(), smsdb.IncomingKey{
			IMSI:       ctx.DeviceID,
			SenderAddr: d.Originator.String(),
			CSMSRef:    int(d.Concat.Ref),
		}, int(d.Concat.Part), int(d.Concat.Total), []byte(d.Text), ctx.CSMSTTL)
		if err != nil {
			return out
		}
		complete = done
		if done {
			body = string(assembled)
		}
	}
	if complete {
		ctx.Sink.Emit(events.SmsReceived{
			Device:    ctx.DeviceID,
			Sender:    d.Originator.String(),
			Timestamp: d.Timestamp,
			BodyUTF8:  body,
		})
	}
	if ctx.AutoDeleteSMS {
		out.Enqueue = append(out.Enqueue, atcmd.DeleteSMS(index, 0)...)
	}
	return out
}

func handleStatusReport(ctx *Context, sr *pdu.StatusReport, index int) Outcome {
	var out Outcome
	uid, ok, err := ctx.SMSDB.FindUIDByRef(context.Background(), sr.MsgRef)
	if err == nil && ok {
		_ = ctx.SMSDB.UpdatePartStatus(context.Background(), uid, sr.MsgRef, sr.Status)
		statuses, err := ctx.SMSDB.PartStatuses(context.Background(), uid)
		if err == nil {
			allFinal := true
			allOK := true
			bytesOut := make([]byte, 0, len(statuses))
			for _, s := range statuses {
				bytesOut = append(bytesOut, s.Status)
				if !pdu.StatusIsFinal(s.Status) {
					allFinal = false
				}
				if !pdu.StatusDelivered(s.Status) {
					allOK = false
				}
			}
			if allFinal {
				ctx.Sink.Emit(events.SmsReport{Device: ctx.DeviceID, UID: uid, Success: allOK, Statuses: bytesOut})
				_ = ctx.SMSDB.DeleteOutgoing(context.Background(), uid)
			}
		}
	}
	if ctx.AutoDeleteSMS {
		out.Enqueue = append(out.Enqueue, atcmd.DeleteSMS(index, 0)...)
	}
	return out
}

func advanceFetchQueue(ctx *Context, out Outcome) Outcome {
	ctx.FetchingSMS = 0
	if len(ctx.PendingSMS) > 0 {
		next := ctx.PendingSMS[0]
		ctx.PendingSMS = ctx.PendingSMS[1:]
		ctx.FetchingSMS = next
		out.Enqueue = append(out.Enqueue, atcmd.ReadSMS(next)...)
	}
	return out
}

// DispatchURC handles one classified URC line, independent of the AT
// queue's head command.
func DispatchURC(ctx *Context, line string) Outcome {
	switch {
	case strings.HasPrefix(line, at.UrcCall):
		return Outcome{Enqueue: atcmd.PollCLCC()}

	case strings.HasPrefix(line, at.UrcCallWaiting):
		return Outcome{Enqueue: atcmd.PollCLCC()}

	case strings.HasPrefix(line, at.UrcCallStateChange):
		return dispatchDSCI(ctx, line)

	case strings.HasPrefix(line, at.UrcIndication) && strings.Contains(line, `"ccinfo"`):
		return dispatchDSCI(ctx, line)

	case strings.HasPrefix(line, at.UrcIndication) && strings.Contains(line, `"csq"`):
		return dispatchCSQLine(ctx, line)

	case strings.HasPrefix(line, at.UrcSignalStrength):
		return dispatchCSQLine(ctx, line)

	case strings.HasPrefix(line, at.UrcNewMsg) || strings.HasPrefix(line, at.UrcMessageReport):
		return dispatchIncomingSMSNotification(ctx, line)

	case strings.HasPrefix(line, at.UrcUSSD):
		return dispatchUSSD(ctx, line)

	case strings.HasPrefix(line, at.UrcRegistration) || strings.HasPrefix(line, at.UrcEPSRegistration):
		return dispatchRegistration(ctx, line)

	case strings.HasPrefix(line, at.UrcBoot):
		return Outcome{ReinitBurst: true}

	case strings.HasPrefix(line, at.UrcStorageFull):
		if ctx.AutoDeleteSMS {
			return Outcome{Enqueue: atcmd.DeleteSMS(1, 4)}
		}
		return Outcome{}

	default:
		return Outcome{}
	}
}

func dispatchDSCI(ctx *Context, line string) Outcome {
	body := strings.TrimSpace(strings.SplitN(line, ":", 2)[1])
	body = strings.TrimPrefix(body, `"ccinfo",`) // +QIND: "ccinfo",<idx>,<dir>,<stat>,...
	fields := strings.SplitN(body, ",", 5)
	if len(fields) < 3 {
		return Outcome{}
	}
	idx, err1 := strconv.Atoi(strings.TrimSpace(fields[0]))
	_, err2 := strconv.Atoi(strings.TrimSpace(fields[1])) // direction, unused beyond parse validation
	statRaw, err3 := strconv.Atoi(strings.TrimSpace(fields[2]))
	if err1 != nil || err2 != nil || err3 != nil {
		return Outcome{}
	}
	if len(fields) >= 4 {
		callType, err := strconv.Atoi(strings.TrimSpace(fields[3]))
		if err == nil && callType != 0 {
			return Outcome{} // non-voice call type: data/fax, ignored
		}
	}
	if statRaw < 0 {
		call, ok := ctx.Calls.ByIndex(idx)
		if !ok {
			return Outcome{}
		}
		from := call.State
		ctx.Calls.Transition(call, callstate.Released)
		ctx.Sink.Emit(events.CallStateChanged{Device: ctx.DeviceID, CallIdx: idx, From: from.String(), To: callstate.Released.String()})
		ctx.Sink.Emit(events.CallEnded{Device: ctx.DeviceID, CallIdx: idx, Cause: "NORMAL_UNSPECIFIED"})
		ctx.Calls.Free(call)
		return Outcome{}
	}
	return Outcome{Enqueue: atcmd.PollCLCC()}
}

func dispatchCSQLine(ctx *Context, line string) Outcome {
	body := line
	if i := strings.Index(body, ":"); i >= 0 {
		body = body[i+1:]
	}
	fields := strings.Split(body, ",")
	if len(fields) == 0 {
		return Outcome{}
	}
	rssi, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return Outcome{}
	}
	ctx.RSSI = rssi
	return Outcome{}
}

// RSSIToDBm converts a +CSQ raw value to an approximate dBm figure, or
// false if the value is the "unknown" sentinel / out of range.
func RSSIToDBm(rssi int) (int, bool) {
	switch {
	case rssi == 0:
		return -113, true
	case rssi >= 1 && rssi <= 30:
		return 2*rssi - 113, true
	case rssi == 31:
		return -51, true
	default:
		return 0, false
	}
}

func dispatchIncomingSMSNotification(ctx *Context, line string) Outcome {
	body := line
	if i := strings.Index(body, ":"); i >= 0 {
		body = body[i+1:]
	}
	parts := strings.Split(body, ",")
	if len(parts) < 2 {
		return Outcome{}
	}
	index, err := strconv.Atoi(strings.TrimSpace(parts[len(parts)-1]))
	if err != nil {
		return Outcome{}
	}
	if ctx.FetchingSMS != 0 {
		ctx.PendingSMS = append(ctx.PendingSMS, index)
		return Outcome{}
	}
	ctx.FetchingSMS = index
	return Outcome{Enqueue: atcmd.ReadSMS(index)}
}

func dispatchUSSD(ctx *Context, line string) Outcome {
	body := strings.TrimSpace(strings.TrimPrefix(line, at.UrcUSSD))
	fields := strings.SplitN(body, ",", 3)
	if len(fields) == 0 {
		return Outcome{}
	}
	typ, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return Outcome{}
	}
	if len(fields) < 2 {
		ctx.Sink.Emit(events.UssdReceived{Device: ctx.DeviceID, Type: typ})
		return Outcome{}
	}
	hexBody := strings.Trim(strings.TrimSpace(fields[1]), `"`)
	dcs := 0
	if len(fields) >= 3 {
		dcs, _ = strconv.Atoi(strings.TrimSpace(fields[2]))
	}
	sanitized := 0
	if dcs&0x40 != 0 {
		sanitized = (dcs >> 2) & 0x3
	}
	decoded, err := decodeUSSDBody(hexBody, sanitized)
	if err != nil {
		return Outcome{}
	}
	ctx.Sink.Emit(events.UssdReceived{Device: ctx.DeviceID, Type: typ, BodyUTF8: decoded, DCS: dcs})
	return Outcome{}
}

func decodeUSSDBody(hexBody string, sanitizedDCS int) (string, error) {
	switch sanitizedDCS {
	case 0:
		return pdu.DecodeGSM7Hex(hexBody)
	case 1:
		raw, err := pdu.HexDecode(hexBody)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	case 2:
		return pdu.DecodeUCS2Hex(hexBody)
	default:
		return "", corerr.New(corerr.KindInvalidCharset, fmt.Sprintf("unsupported USSD DCS %d", sanitizedDCS))
	}
}

func dispatchRegistration(ctx *Context, line string) Outcome {
	body := line
	if i := strings.Index(body, ":"); i >= 0 {
		body = body[i+1:]
	}
	fields := strings.Split(body, ",")
	if len(fields) == 0 {
		return Outcome{}
	}
	stat, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return Outcome{}
	}
	registered := stat == 1 || stat == 5
	wasRegistered := ctx.LastRegistered
	ctx.LastRegistered = registered
	ctx.Registered = registered
	if registered && !wasRegistered {
		var out Outcome
		if ctx.IsSimcomKnown && ctx.IsSimcom {
			out.Enqueue = append(out.Enqueue, atqueue.Cmd{Name: "AT+COPS?", Expect: "OK", Timeout: atqueue.TimeoutMedium})
		} else {
			out.Enqueue = append(out.Enqueue,
				atqueue.Cmd{Name: "AT+QSPN", Expect: "OK", Timeout: atqueue.TimeoutMedium},
				atqueue.Cmd{Name: "AT+QNWINFO", Expect: "OK", Timeout: atqueue.TimeoutMedium})
		}
		out.Enqueue = append(out.Enqueue, atcmd.CallWaiting(2, 1)...)
		return out
	}
	return Outcome{}
}
