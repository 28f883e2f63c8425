package modem

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport is an io.Pipe-backed Transport: writes are captured for
// assertion, reads are fed by the test driver, so the device's reader
// goroutine behaves like it would against a real blocking serial port.
type fakeTransport struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu      sync.Mutex
	written [][]byte
}

func newFakeTransport() *fakeTransport {
	r, w := io.Pipe()
	return &fakeTransport{r: r, w: w}
}

func (t *fakeTransport) Read(p []byte) (int, error)  { return t.r.Read(p) }
func (t *fakeTransport) Close() error                { return t.r.Close() }
func (t *fakeTransport) feed(s string)               { t.w.Write([]byte(s)) }

func (t *fakeTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.written = append(t.written, append([]byte(nil), p...))
	return len(p), nil
}

func (t *fakeTransport) writeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.written)
}

type fakeDialer struct {
	transport Transport
	err       error
}

func (d fakeDialer) Dial(ctx context.Context) (Transport, error) { return d.transport, d.err }

func waitForWrites(t *testing.T, ft *fakeTransport, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return ft.writeCount() >= n }, time.Second, 2*time.Millisecond)
}

// driveInitBurst feeds the fifteen replies atcmd.InitBurst expects, in the
// order New/Loop writes them: ATE0, AT+CMEE=1, AT+CPIN?, AT+CSCS=,
// AT+CMGF=0, AT+CNMI, AT+CPMS, AT+CSMS=1, AT+CSCA?, AT+CNUM, AT+CVOICE?,
// AT+CLIP=1, AT+CREG=2, AT+CEREG=2, AT+CSQ.
func driveInitBurst(t *testing.T, ft *fakeTransport) {
	t.Helper()
	replies := []string{
		"OK\r\n",
		"OK\r\n",
		"+CPIN: READY\r\nOK\r\n",
		"OK\r\n",
		"OK\r\n",
		"OK\r\n",
		"OK\r\n",
		"OK\r\n",
		"OK\r\n",
		"OK\r\n",
		"OK\r\n",
		"OK\r\n",
		"OK\r\n",
		"OK\r\n",
		"OK\r\n",
	}
	for i, reply := range replies {
		waitForWrites(t, ft, i+1)
		ft.feed(reply)
	}
}

func TestNewRequiresDialer(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.ErrorIs(t, err, ErrNoDialer)
}

func TestNewRequiresContext(t *testing.T) {
	var ctx context.Context
	_, err := New(ctx, Config{Dialer: fakeDialer{}})
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestNewDialsAndConstructsDevice(t *testing.T) {
	ft := newFakeTransport()
	m, err := New(context.Background(), Config{Dialer: fakeDialer{transport: ft}})
	require.NoError(t, err)
	require.NotNil(t, m.dev)
	assert.Equal(t, ft, m.transport)
}

func TestLoopRunsInitBurstAndStopsOnClose(t *testing.T) {
	ft := newFakeTransport()
	m, err := New(context.Background(), Config{Dialer: fakeDialer{transport: ft}})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- m.Loop(context.Background()) }()

	driveInitBurst(t, ft)

	require.NoError(t, m.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Loop did not stop after Close")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	ft := newFakeTransport()
	m, err := New(context.Background(), Config{Dialer: fakeDialer{transport: ft}})
	require.NoError(t, err)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}

func TestOperationsFailAfterClose(t *testing.T) {
	ft := newFakeTransport()
	m, err := New(context.Background(), Config{Dialer: fakeDialer{transport: ft}})
	require.NoError(t, err)
	require.NoError(t, m.Close())

	assert.ErrorIs(t, m.Dial("+15551234567", "", false), ErrClosed)
	assert.ErrorIs(t, m.SendUSSD("*100#"), ErrClosed)
	_, err = m.SendSMS(context.Background(), "+15551234567", "hi")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDialDelegatesToDevice(t *testing.T) {
	ft := newFakeTransport()
	m, err := New(context.Background(), Config{Dialer: fakeDialer{transport: ft}})
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Dial("+15551234567", "", false))
	assert.EqualValues(t, 1, m.dev.Stats().ATTasks)
	assert.EqualValues(t, 1, m.Stats().CallsInitiated)
}
