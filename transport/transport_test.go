package transport

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"code.hybscloud.com/juliadist/cancel"
	"code.hybscloud.com/juliadist/wire"
)

func mkfifo(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, unix.Mkfifo(path, 0o600))
}

// newTransportPair wires up two Transports sharing a pair of FIFOs the way
// the Controller and Module do: a's write-FIFO is b's read-FIFO and vice
// versa.
func newTransportPair(t *testing.T) (a, b *Transport) {
	t.Helper()
	dir := t.TempDir()
	c2m := filepath.Join(dir, "c2m")
	m2c := filepath.Join(dir, "m2c")
	mkfifo(t, c2m)
	mkfifo(t, m2c)

	type result struct {
		tr  *Transport
		err error
	}
	aCh := make(chan result, 1)
	bCh := make(chan result, 1)

	go func() {
		tr, err := Open(m2c, c2m, nil)
		aCh <- result{tr, err}
	}()
	go func() {
		tr, err := Open(c2m, m2c, nil)
		bCh <- result{tr, err}
	}()

	ra := <-aCh
	rb := <-bCh
	require.NoError(t, ra.err)
	require.NoError(t, rb.err)
	return ra.tr, rb.tr
}

func TestSendReceiveRoundTrip(t *testing.T) {
	a, b := newTransportPair(t)
	defer a.Close()
	defer b.Close()

	msg := wire.Message{Type: wire.Version, Version: wire.VersionPayload{Major: 1, Minor: 2, Patch: 3}}
	require.NoError(t, a.Send(msg))

	got, ok, err := b.Receive(200 * time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, msg, got)
}

func TestReceiveNoMessageIsNotAnError(t *testing.T) {
	_, b := newTransportPair(t)
	defer b.Close()

	start := time.Now()
	_, ok, err := b.Receive(30 * time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
	require.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestBurstRoundTrip(t *testing.T) {
	a, b := newTransportPair(t)
	defer a.Close()
	defer b.Close()

	iters := make([]uint8, 300)
	for i := range iters {
		iters[i] = uint8(i % 11)
	}
	msg := wire.Message{Type: wire.ComputeDataBurst, ComputeDataBurst: wire.ComputeDataBurstPayload{
		ChunkID: 5, Iters: iters,
	}}
	require.NoError(t, a.Send(msg))

	got, ok, err := b.Receive(500 * time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, msg.ComputeDataBurst.ChunkID, got.ComputeDataBurst.ChunkID)
	require.Equal(t, iters, got.ComputeDataBurst.Iters)
}

func TestSendOnDisconnectedFDFailsFast(t *testing.T) {
	a, b := newTransportPair(t)
	defer a.Close()

	// Close the reader; the next write should observe a broken pipe and
	// invalidate the write fd. Give the peer time to finish tearing down.
	require.NoError(t, b.Close())

	var lastErr error
	for i := 0; i < 100; i++ {
		lastErr = a.Send(wire.Message{Type: wire.GetVersion})
		if lastErr != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Error(t, lastErr)
	require.False(t, a.Connected())

	// Further sends no-op (fail fast) without retrying the dead fd.
	require.ErrorIs(t, a.Send(wire.Message{Type: wire.GetVersion}), ErrDisconnected)
}

func TestOpenWriteRespectsQuit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lonely")
	mkfifo(t, path)

	var quit cancel.Flag
	go func() {
		time.Sleep(20 * time.Millisecond)
		quit.Set()
	}()

	_, err := openWrite(path, &quit)
	require.Error(t, err)
}
