package svs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSender records frames, when each write started, and when it was
// acknowledged. delay simulates the time a confirmed write takes.
type recordingSender struct {
	delay time.Duration

	mu     sync.Mutex
	frames [][]byte
	times  []time.Time
	acks   []time.Time
	err    error
}

func (s *recordingSender) SendCommand(_ context.Context, payload []byte) error {
	start := time.Now()
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, append([]byte(nil), payload...))
	s.times = append(s.times, start)
	s.acks = append(s.acks, time.Now())
	return nil
}

func TestControllerApplySendsVolumeThenPhase(t *testing.T) {
	sender := &recordingSender{}
	c := NewController(sender, 10*time.Millisecond, nil)

	require.NoError(t, c.Apply(context.Background(), Controls{Volume: -29, Phase: 77}))

	want0, _ := VolumeFrame(-29)
	want1, _ := PhaseFrame(77)
	require.Len(t, sender.frames, 2)
	assert.Equal(t, want0, sender.frames[0])
	assert.Equal(t, want1, sender.frames[1])
}

func TestControllerSpacesFrames(t *testing.T) {
	sender := &recordingSender{}
	settle := 40 * time.Millisecond
	c := NewController(sender, settle, nil)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.SetVolume(context.Background(), -10))
		}()
	}
	wg.Wait()

	require.Len(t, sender.times, 3)
	for i := 1; i < len(sender.times); i++ {
		gap := sender.times[i].Sub(sender.times[i-1])
		// Allow a little scheduler slack below the limiter interval.
		assert.GreaterOrEqual(t, gap, settle-5*time.Millisecond, "gap %d", i)
	}
}

func TestControllerSettlesAfterAck(t *testing.T) {
	sender := &recordingSender{delay: 60 * time.Millisecond}
	settle := 50 * time.Millisecond
	c := NewController(sender, settle, nil)

	require.NoError(t, c.Apply(context.Background(), Controls{Volume: -20, Phase: 90}))

	require.Len(t, sender.times, 2)
	pause := sender.times[1].Sub(sender.acks[0])
	// A slow write must not eat into the pause that follows its ack.
	assert.GreaterOrEqual(t, pause, settle-time.Millisecond, "pause after ack = %v", pause)
}

func TestControllerFirstFrameIsImmediate(t *testing.T) {
	sender := &recordingSender{}
	c := NewController(sender, time.Hour, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.SetVolume(ctx, -20))
	assert.Len(t, sender.frames, 1)
}

func TestControllerZeroSettleDisablesPause(t *testing.T) {
	sender := &recordingSender{}
	c := NewController(sender, 0, nil)

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, c.SetVolume(context.Background(), -10))
	}
	assert.Len(t, sender.frames, 5)
	assert.Less(t, time.Since(start), DefaultSettle)
}

func TestControllerNegativeSettleUsesDefault(t *testing.T) {
	c := NewController(&recordingSender{}, -time.Second, nil)
	assert.Equal(t, DefaultSettle, c.settle)
}

func TestControllerFailedWriteDoesNotSettle(t *testing.T) {
	sender := &recordingSender{err: errors.New("write failed")}
	c := NewController(sender, time.Hour, nil)

	assert.Error(t, c.SetVolume(context.Background(), -20))

	sender.mu.Lock()
	sender.err = nil
	sender.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, c.SetVolume(ctx, -20))
}

func TestControllerRejectsOutOfRange(t *testing.T) {
	sender := &recordingSender{}
	c := NewController(sender, time.Millisecond, nil)

	assert.Error(t, c.SetVolume(context.Background(), 5))
	assert.Error(t, c.SetPhase(context.Background(), 200))
	assert.Empty(t, sender.frames)
}

func TestControllerPropagatesSendError(t *testing.T) {
	boom := errors.New("not connected")
	c := NewController(&recordingSender{err: boom}, time.Millisecond, nil)

	err := c.Apply(context.Background(), Controls{Volume: -20, Phase: 0})
	assert.ErrorIs(t, err, boom)
}

func TestControllerContextCancelled(t *testing.T) {
	sender := &recordingSender{}
	c := NewController(sender, time.Hour, nil)
	require.NoError(t, c.SetVolume(context.Background(), -20))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, c.SetVolume(ctx, -21))
	assert.Len(t, sender.frames, 1)
}
