package modem

import "github.com/nexmodem/qcore/events"

// noopSink discards every event; it backs a Modem built without an
// explicit Config.Sink so device.New always has a non-nil events.Sink to
// call into.
type noopSink struct{}

func (noopSink) Emit(events.Event) {}
