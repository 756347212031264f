package hasher

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnceCache_ConcurrentCallersShareOneComputation(t *testing.T) {
	c := newOnceCache("fileset", nil)
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]HashResult, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := c.Get("k", func() (HashResult, error) {
				calls.Add(1)
				<-release
				return HashResult{Value: "v"}, nil
			})
			assert.NoError(t, err)
			results[i] = r
		}()
	}
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, "v", r.Value)
	}

	// Resolved keys never recompute.
	r, err := c.Get("k", func() (HashResult, error) {
		t.Fatal("recomputed a resolved key")
		return HashResult{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "v", r.Value)
	assert.Equal(t, 1, c.Len())
}

func TestOnceCache_StoresErrors(t *testing.T) {
	c := newOnceCache("runtime", nil)
	boom := errors.New("boom")
	var calls int
	for range 3 {
		_, err := c.Get("cmd", func() (HashResult, error) {
			calls++
			return HashResult{}, boom
		})
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, 1, calls)
}

func TestVisitedSet(t *testing.T) {
	v := NewVisitedSet("app")
	assert.False(t, v.Visit("app", "default"))
	assert.True(t, v.Visit("lib", "default"))
	assert.False(t, v.Visit("lib", "default"))
	assert.True(t, v.Visit("lib", "production"))
	assert.Equal(t, []string{"lib:default", "lib:production"}, v.Visits())
}
