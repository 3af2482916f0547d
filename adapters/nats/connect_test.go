package nats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNats_Connect(t *testing.T) {
	connect := NewTestContainer(t)
	nc1, disconnect1, err := connect()
	require.NoError(t, err)
	require.Equal(t, "CONNECTED", nc1.Status().String())

	nc2, disconnect2, err := connect()
	require.NoError(t, err)
	require.NotSame(t, nc1, nc2)

	disconnect1()
	disconnect2()
	require.Equal(t, "CLOSED", nc1.Status().String())

	t.Run("reuse", func(t *testing.T) {
		shared := ReuseConnection(connect)
		a, releaseA, err := shared()
		require.NoError(t, err)
		b, releaseB, err := shared()
		require.NoError(t, err)
		require.Same(t, a, b)

		releaseA()
		releaseA()
		require.Equal(t, "CONNECTED", b.Status().String(), "double release must not close a leased connection")

		releaseB()
		require.Equal(t, "CLOSED", a.Status().String())

		c, releaseC, err := shared()
		require.NoError(t, err)
		require.NotSame(t, a, c)
		releaseC()
	})
}
