package proctor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu sync.Mutex
	vs []model.Violation
}

func (c *collector) emit(v model.Violation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vs = append(c.vs, v)
}

func (c *collector) types() []model.ViolationType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types(c.vs)
}

func runObserver(t *testing.T, o *EnvironmentObserver, c *collector) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = o.Run(ctx, c.emit)
		close(done)
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestObserverBlur(t *testing.T) {
	o := NewEnvironmentObserver(nil)
	c := &collector{}
	stop := runObserver(t, o, c)
	defer stop()

	require.True(t, o.Notify(EnvEvent{Kind: EnvWindowBlur}))
	require.Eventually(t, func() bool { return len(c.types()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []model.ViolationType{model.ViolationWindowFocusLost}, c.types())
}

func TestObserverFullscreenExitOnlyWhenExpected(t *testing.T) {
	o := NewEnvironmentObserver(nil)
	c := &collector{}
	stop := runObserver(t, o, c)
	defer stop()

	o.Notify(EnvEvent{Kind: EnvFullscreenChange, Fullscreen: false})
	o.Notify(EnvEvent{Kind: EnvFullscreenChange, Fullscreen: true})
	o.Notify(EnvEvent{Kind: EnvFullscreenChange, Fullscreen: false})

	require.Eventually(t, func() bool { return len(c.types()) == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, []model.ViolationType{model.ViolationFullscreenExit}, c.types())
}

func TestObserverPollsVisibility(t *testing.T) {
	var hidden atomic.Bool
	o := NewEnvironmentObserver(hidden.Load).WithInterval(5 * time.Millisecond)
	c := &collector{}
	stop := runObserver(t, o, c)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, c.types())

	hidden.Store(true)
	require.Eventually(t, func() bool { return len(c.types()) >= 2 }, time.Second, time.Millisecond)
	stop()

	for _, vt := range c.types() {
		assert.Equal(t, model.ViolationTabSwitch, vt)
	}
}

func TestObserverNotifyNeverBlocks(t *testing.T) {
	o := NewEnvironmentObserver(nil)
	for i := 0; i < cap(o.events); i++ {
		require.True(t, o.Notify(EnvEvent{Kind: EnvWindowBlur}))
	}
	assert.False(t, o.Notify(EnvEvent{Kind: EnvWindowBlur}))
}
