package browser

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewPoolRejectsZeroSize(t *testing.T) {
	t.Parallel()

	_, err := NewPool(Options{Size: 0}, zap.NewNop())
	require.Error(t, err)
}

func newTestPool(t *testing.T, size int) *Pool {
	t.Helper()
	p, err := NewPool(Options{
		Size:           size,
		AcquireTimeout: 2 * time.Second,
		Headless:       true,
	}, zap.NewNop())
	if err != nil {
		t.Skipf("chromedp unavailable: %v", err)
	}
	t.Cleanup(p.Close)
	return p
}

func TestPoolAcquireRelease(t *testing.T) {
	p := newTestPool(t, 2)

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, p.InUse())

	h.Release()
	require.Equal(t, 0, p.InUse())
}

func TestPoolAcquireTimesOutWhenExhausted(t *testing.T) {
	p := newTestPool(t, 1)

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer h.Release()

	start := time.Now()
	_, err = p.Acquire(context.Background())
	require.ErrorIs(t, err, ErrAcquireTimeout)
	require.GreaterOrEqual(t, time.Since(start), 2*time.Second)
}

func TestPoolAcquireAfterClose(t *testing.T) {
	p := newTestPool(t, 1)
	p.Close()

	_, err := p.Acquire(context.Background())
	require.ErrorIs(t, err, ErrPoolClosed)
}

// newStubPool builds a pool around stub handles so the slot bookkeeping can
// be exercised without a Chrome process.
func newStubPool(size int) (*Pool, []*PageHandle) {
	p := &Pool{
		allocatorCancel: func() {},
		browserCancel:   func() {},
		logger:          zap.NewNop(),
		opts:            Options{Size: size, AcquireTimeout: time.Second},
		free:            make(chan *PageHandle, size),
		handles:         make(map[int]*PageHandle, size),
	}
	handles := make([]*PageHandle, size)
	for i := 0; i < size; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		h := &PageHandle{id: i, ctx: ctx, cancel: cancel, pool: p}
		p.handles[i] = h
		handles[i] = h
	}
	return p, handles
}

func TestSlotReturnAfterCloseIsDropped(t *testing.T) {
	t.Parallel()

	p, handles := newStubPool(2)
	require.True(t, p.putFree(handles[0]))

	p.Close()

	require.NotPanics(t, func() {
		require.False(t, p.putFree(handles[1]))
	})
}

func TestSlotReturnRacingCloseDoesNotPanic(t *testing.T) {
	t.Parallel()

	const size = 64
	p, handles := newStubPool(size)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for _, h := range handles {
		wg.Add(1)
		go func(h *PageHandle) {
			defer wg.Done()
			<-start
			p.putFree(h)
		}(h)
	}

	close(start)
	p.Close()
	wg.Wait()

	require.False(t, p.putFree(handles[0]))
	for _, h := range handles {
		require.Error(t, h.ctx.Err(), "close must cancel every tab context")
	}
}
