package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewTimer(t *testing.T) {
	var got time.Duration
	tm := NewTimer(func(d time.Duration) { got = d })
	time.Sleep(5 * time.Millisecond)
	tm.ObserveDuration()
	require.GreaterOrEqual(t, got, 5*time.Millisecond)
}

func TestNewTimer_NilObserver(t *testing.T) {
	require.NotPanics(t, func() { NewTimer(nil).ObserveDuration() })
	require.NotPanics(t, func() { NopTimerFunc()().ObserveDuration() })
}
