package helper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerTicker(t *testing.T) {
	ticker := NewTimerTicker(time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
		t.Fatal("ticker ticked before it was reset")
	case <-time.After(10 * time.Millisecond):
	}

	ticker.Reset()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Fatal("ticker did not tick after reset")
	}
}

func TestCountTicker(t *testing.T) {
	var exhausted int
	ticker := NewCountTicker(2, func() { exhausted++ })

	for i := 0; i < 2; i++ {
		ticker.Reset()
		<-ticker.C()
	}
	require.Zero(t, exhausted)

	ticker.Reset()
	require.Equal(t, 1, exhausted)
}

func TestManualClock(t *testing.T) {
	start := time.Unix(1000, 0)
	clock := NewManualClock(start)
	require.Equal(t, start, clock.Now())

	clock.Advance(50 * time.Millisecond)
	require.Equal(t, 50*time.Millisecond, clock.Now().Sub(start))
}
