package sf

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGroup_DedupesConcurrentCalls(t *testing.T) {
	g := New[int]()
	var (
		calls   atomic.Int32
		release = make(chan struct{})
		wg      sync.WaitGroup
		results = make([]int, 10)
	)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, err := g.Do("addr", func() (int, error) {
				calls.Add(1)
				<-release
				return 7, nil
			})
			require.NoError(t, err)
			results[i] = v
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		require.Equal(t, 7, v)
	}
}

func TestGroup_Error(t *testing.T) {
	var g Group[string]
	v, shared, err := g.Do("k", func() (string, error) { return "", errors.New("down") })
	require.EqualError(t, err, "down")
	require.False(t, shared)
	require.Empty(t, v)

	// errors are not cached
	v, _, err = g.Do("k", func() (string, error) { return "up", nil })
	require.NoError(t, err)
	require.Equal(t, "up", v)
}

func TestGroup_Forget(t *testing.T) {
	var g Group[int]
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _, _ = g.Do("k", func() (int, error) {
			close(started)
			<-release
			return 1, nil
		})
	}()
	<-started
	g.Forget("k")

	v, _, err := g.Do("k", func() (int, error) { return 2, nil })
	require.NoError(t, err)
	require.Equal(t, 2, v)
	close(release)
}
