package main

import (
	"fmt"
	"log/slog"

	"github.com/nexmodem/qcore/events"
)

// stdoutSink prints every event to stdout and logs it, the minimal
// events.Sink a host framework would implement. Events are handed
// off to a buffered channel drained by its own goroutine so Emit never
// blocks the Device's supervisor loop, the shape events.Sink's doc
// comment recommends.
type stdoutSink struct {
	logger *slog.Logger
	ch     chan events.Event
}

func newStdoutSink(logger *slog.Logger) *stdoutSink {
	s := &stdoutSink{logger: logger, ch: make(chan events.Event, 64)}
	go s.drain()
	return s
}

func (s *stdoutSink) Emit(e events.Event) {
	select {
	case s.ch <- e:
	default:
		s.logger.Warn("event dropped, sink channel full")
	}
}

func (s *stdoutSink) drain() {
	for e := range s.ch {
		switch ev := e.(type) {
		case events.CallStateChanged:
			fmt.Printf("[call] idx=%d %s -> %s cause=%q\n", ev.CallIdx, ev.From, ev.To, ev.Cause)
		case events.IncomingCall:
			fmt.Printf("[call] incoming idx=%d number=%s waiting=%v\n", ev.CallIdx, ev.Number, ev.Waiting)
		case events.CallEnded:
			fmt.Printf("[call] ended idx=%d duration=%.1fs cause=%q\n", ev.CallIdx, ev.DurationS, ev.Cause)
		case events.SmsReceived:
			fmt.Printf("[sms] from=%s at=%s: %s\n", ev.Sender, ev.Timestamp.Format("2006-01-02T15:04:05"), ev.BodyUTF8)
		case events.SmsReport:
			if ev.Expired {
				fmt.Printf("[sms] report uid=%s expired\n", ev.UID)
			} else {
				fmt.Printf("[sms] report uid=%s success=%v\n", ev.UID, ev.Success)
			}
		case events.UssdReceived:
			fmt.Printf("[ussd] type=%d dcs=%d: %s\n", ev.Type, ev.DCS, ev.BodyUTF8)
		case events.DeviceStateChanged:
			fmt.Printf("[device] %s -> %s\n", ev.From, ev.To)
		default:
			s.logger.Warn("unknown event type", "event", e)
		}
		s.logger.Debug("event", "event", fmt.Sprintf("%+v", e))
	}
}

func (s *stdoutSink) close() {
	close(s.ch)
}
