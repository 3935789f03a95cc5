package module

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"code.hybscloud.com/juliadist/cancel"
	"code.hybscloud.com/juliadist/wire"
)

// recordingSender is an in-memory Sender for exercising the Scheduler
// without a real FIFO pair.
type recordingSender struct {
	mu     sync.Mutex
	bursts []wire.Message
	dones  []wire.Message
}

func (r *recordingSender) SendBurstThenDone(burst, done wire.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bursts = append(r.bursts, burst)
	r.dones = append(r.dones, done)
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bursts)
}

func newTestScheduler(t *testing.T, workers int) (*Scheduler, *recordingSender, *cancel.Flag) {
	t.Helper()
	sender := &recordingSender{}
	var quit cancel.Flag
	s := NewScheduler(sender, workers, &quit, zerolog.Nop())
	return s, sender, &quit
}

func TestSubmitRejectsBeforeSetParams(t *testing.T) {
	s, _, _ := newTestScheduler(t, 1)
	ok := s.Submit(wire.ComputePayload{ChunkID: 1, NRe: 2, NIm: 2})
	assert.False(t, ok)
}

func TestSubmitAcceptsAfterSetParams(t *testing.T) {
	s, _, _ := newTestScheduler(t, 1)
	s.SetParams(-0.4+0.6i, 0.1+0.1i, 10)
	ok := s.Submit(wire.ComputePayload{ChunkID: 1, NRe: 2, NIm: 2})
	assert.True(t, ok)
}

func TestRunComputesAndStreamsBurstThenDone(t *testing.T) {
	s, sender, quit := newTestScheduler(t, 2)
	s.SetParams(-0.4+0.6i, 0.1+0.1i, 10)

	go s.Run()
	defer func() {
		quit.Set()
		time.Sleep(30 * time.Millisecond)
	}()

	require.True(t, s.Submit(wire.ComputePayload{ChunkID: 7, Re: -1.6, Im: -1.1, NRe: 2, NIm: 2}))

	deadline := time.Now().Add(time.Second)
	for sender.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 1, sender.count())

	sender.mu.Lock()
	burst := sender.bursts[0]
	done := sender.dones[0]
	sender.mu.Unlock()

	assert.Equal(t, wire.ComputeDataBurst, burst.Type)
	assert.Equal(t, uint8(7), burst.ComputeDataBurst.ChunkID)
	assert.Len(t, burst.ComputeDataBurst.Iters, 4)
	assert.Equal(t, wire.Done, done.Type)
}

func TestRunEmitsZeroLengthBurstForEmptyChunk(t *testing.T) {
	s, sender, quit := newTestScheduler(t, 1)
	s.SetParams(-0.4+0.6i, 0.1+0.1i, 10)

	go s.Run()
	defer func() {
		quit.Set()
		time.Sleep(30 * time.Millisecond)
	}()

	require.True(t, s.Submit(wire.ComputePayload{ChunkID: 3, NRe: 0, NIm: 5}))

	deadline := time.Now().Add(time.Second)
	for sender.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 1, sender.count())
	assert.Empty(t, sender.bursts[0].ComputeDataBurst.Iters)
}

func TestSetParamsBumpsGeneration(t *testing.T) {
	s, _, _ := newTestScheduler(t, 1)
	s.SetParams(1, 1, 5)
	g1 := s.CurrentParams().Generation
	s.SetParams(1, 1, 5)
	g2 := s.CurrentParams().Generation
	assert.Greater(t, g2, g1)
}

func TestAbortRaisesGlobalFlagAndIsClearedByBoss(t *testing.T) {
	s, _, quit := newTestScheduler(t, 1)
	s.SetParams(-0.4+0.6i, 0.1+0.1i, 10)

	go s.Run()
	defer func() {
		quit.Set()
		time.Sleep(30 * time.Millisecond)
	}()

	s.Abort()
	deadline := time.Now().Add(500 * time.Millisecond)
	for s.globalAbort.IsSet() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.False(t, s.globalAbort.IsSet())
}
