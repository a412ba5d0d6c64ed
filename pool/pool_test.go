package pool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolRunsTasks(t *testing.T) {
	p := NewWorkerPool(4)
	defer p.Close()

	const n = 32
	var wg sync.WaitGroup
	var sum int64
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		_, err := p.Submit(func() (interface{}, error) {
			return i, nil
		}, func(v interface{}, err error) {
			require.NoError(t, err)
			atomic.AddInt64(&sum, int64(v.(int)))
			wg.Done()
		})
		require.NoError(t, err)
	}
	wg.Wait()
	assert.Equal(t, int64(n*(n-1)/2), sum)
}

func TestWorkerPoolCancelBeforeStart(t *testing.T) {
	p := NewWorkerPool(1)
	defer p.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	_, err := p.Submit(func() (interface{}, error) {
		close(started)
		<-block
		return nil, nil
	}, func(interface{}, error) {})
	require.NoError(t, err)
	<-started

	results := make(chan error, 1)
	fut, err := p.Submit(func() (interface{}, error) {
		return nil, nil
	}, func(_ interface{}, err error) {
		results <- err
	})
	require.NoError(t, err)

	assert.True(t, fut.Cancel())
	close(block)

	select {
	case err := <-results:
		assert.Equal(t, ErrCanceled, err)
	case <-time.After(5 * time.Second):
		t.Fatal("canceled task never completed")
	}
}

func TestWorkerPoolCancelAfterStartFails(t *testing.T) {
	p := NewWorkerPool(1)
	defer p.Close()

	started := make(chan struct{})
	block := make(chan struct{})
	done := make(chan struct{})
	fut, err := p.Submit(func() (interface{}, error) {
		close(started)
		<-block
		return nil, nil
	}, func(interface{}, error) { close(done) })
	require.NoError(t, err)

	<-started
	assert.False(t, fut.Cancel())
	close(block)
	<-done
}

func TestWorkerPoolSubmitAfterClose(t *testing.T) {
	p := NewWorkerPool(1)
	p.Close()
	_, err := p.Submit(func() (interface{}, error) { return nil, nil }, func(interface{}, error) {})
	assert.Equal(t, ErrClosed, err)
}

func TestInlinePoolIsSynchronous(t *testing.T) {
	p := NewInlinePool()
	ran := false
	_, err := p.Submit(func() (interface{}, error) {
		return "v", nil
	}, func(v interface{}, err error) {
		require.NoError(t, err)
		assert.Equal(t, "v", v)
		ran = true
	})
	require.NoError(t, err)
	assert.True(t, ran, "inline pool must complete during Submit")
}
