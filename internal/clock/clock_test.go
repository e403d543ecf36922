package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFakeAdvanceFiresDueTickers(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewFake(start)
	ticker := c.NewTicker(time.Second)

	c.Advance(500 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired early")
	default:
	}

	c.Advance(500 * time.Millisecond)
	select {
	case tick := <-ticker.C():
		require.Equal(t, start.Add(time.Second), tick)
	default:
		t.Fatal("expected tick after one interval")
	}
	require.Equal(t, start.Add(time.Second), c.Now())
}

func TestFakeStoppedTickerIsSilent(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	ticker := c.NewTicker(time.Second)
	require.Equal(t, 1, c.ActiveTickers())

	ticker.Stop()
	require.Equal(t, 0, c.ActiveTickers())

	c.Advance(5 * time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestSystemClockTicker(t *testing.T) {
	ticker := System{}.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(2 * time.Second):
		t.Fatal("system ticker did not fire")
	}
}
