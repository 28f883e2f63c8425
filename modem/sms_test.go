package modem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendSMSEnqueuesAndReturnsUID(t *testing.T) {
	ft := newFakeTransport()
	m, err := New(context.Background(), Config{Dialer: fakeDialer{transport: ft}})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- m.Loop(context.Background()) }()
	defer func() { m.Close(); <-done }()

	driveInitBurst(t, ft)

	uid, err := m.SendSMS(context.Background(), "+15551234567", "hello world")
	require.NoError(t, err)
	assert.NotEmpty(t, uid)

	waitForWrites(t, ft, 16) // 15 init burst writes + AT+CMGS=
	ft.mu.Lock()
	last := string(ft.written[len(ft.written)-1])
	ft.mu.Unlock()
	assert.Contains(t, last, "AT+CMGS=")
}

func TestSendSMSFailsAfterClose(t *testing.T) {
	ft := newFakeTransport()
	m, err := New(context.Background(), Config{Dialer: fakeDialer{transport: ft}})
	require.NoError(t, err)
	require.NoError(t, m.Close())

	_, err = m.SendSMS(context.Background(), "+15551234567", "hello world")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSendSMSRejectsMalformedRecipient(t *testing.T) {
	ft := newFakeTransport()
	m, err := New(context.Background(), Config{Dialer: fakeDialer{transport: ft}})
	require.NoError(t, err)
	defer m.Close()

	_, err = m.SendSMS(context.Background(), "not-a-number", "hello")
	assert.Error(t, err)
}
