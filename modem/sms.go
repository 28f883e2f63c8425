package modem

import "context"

// SendSMS enqueues an outbound text message and returns the uid smsdb
// registered it under. Submission is fire-and-forget, matching
// device.Device.SendSMS: the call returns as soon as the PDU has been
// built and queued, not once the network has accepted or delivered it.
// The eventual delivery outcome (or TTL expiry) arrives later as an
// events.SmsReport on the Sink supplied to New.
func (m *Modem) SendSMS(ctx context.Context, recipient, message string) (uid string, err error) {
	if m.isClosed() {
		return "", ErrClosed
	}
	return m.dev.SendSMS(ctx, recipient, message, false)
}

// ListSMS enqueues an AT+CMGL listing of messages in storage status stat
// (0=unread, 1=read, 2=unsent, 3=sent, 4=all), for catching up on messages
// that arrived while the link was down rather than waiting on a +CMTI.
func (m *Modem) ListSMS(stat int) {
	if m.isClosed() {
		return
	}
	m.dev.ListSMS(stat)
}
