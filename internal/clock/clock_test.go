package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVirtualAdvanceFiresDueTimers(t *testing.T) {
	v := NewVirtual(time.Unix(0, 0))

	var fired []string
	v.AfterFunc(10*time.Millisecond, func() { fired = append(fired, "a") })
	v.AfterFunc(20*time.Millisecond, func() { fired = append(fired, "b") })

	v.Advance(15 * time.Millisecond)
	require.Equal(t, []string{"a"}, fired)

	v.Advance(10 * time.Millisecond)
	require.Equal(t, []string{"a", "b"}, fired)
}

func TestVirtualTimerStopIsIdempotent(t *testing.T) {
	v := NewVirtual(time.Unix(0, 0))

	fired := false
	timer := v.AfterFunc(10*time.Millisecond, func() { fired = true })
	timer.Stop()
	timer.Stop()

	v.Advance(20 * time.Millisecond)
	require.False(t, fired)
}

func TestVirtualRemainingCountsDownAsClockAdvances(t *testing.T) {
	v := NewVirtual(time.Unix(0, 0))
	timer := v.AfterFunc(100*time.Millisecond, func() {})

	require.Equal(t, 100*time.Millisecond, timer.Remaining())
	v.Advance(40 * time.Millisecond)
	require.Equal(t, 60*time.Millisecond, timer.Remaining())
}

func TestVirtualSleepBlocksUntilAdvanced(t *testing.T) {
	v := NewVirtual(time.Unix(0, 0))

	done := make(chan struct{})
	go func() {
		v.Sleep(5 * time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("sleep returned before the clock advanced")
	case <-time.After(10 * time.Millisecond):
	}

	v.Advance(5 * time.Millisecond)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sleep did not return after the clock advanced")
	}
}
