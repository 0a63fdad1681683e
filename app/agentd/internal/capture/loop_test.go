package capture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soportek/remotectl/app/agentd/internal/native"
	"github.com/soportek/remotectl/pkg/logger"
	"github.com/soportek/remotectl/pkg/wire"
)

// flakyAgent 按计划失败的采集代理
type flakyAgent struct {
	mu       sync.Mutex
	calls    int
	failFrom int // 从第几次调用开始失败，0 表示从不失败
}

func (a *flakyAgent) CaptureScreen(_ context.Context) (*wire.Frame, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.failFrom > 0 && a.calls >= a.failFrom {
		return nil, errors.New("capture device busy")
	}
	return &wire.Frame{ImageData: "x", Width: 64, Height: 48, CapturedAt: time.Now().UTC()}, nil
}

func (a *flakyAgent) DispatchPointer(wire.PointerEvent) error { return nil }
func (a *flakyAgent) DispatchKey(wire.KeyEvent) error         { return nil }
func (a *flakyAgent) Displays() ([]wire.DisplayInfo, error)   { return nil, nil }
func (a *flakyAgent) Release() error                          { return nil }

func collectSink(ch chan<- *wire.Frame) Sink {
	return func(f *wire.Frame) error {
		select {
		case ch <- f:
		default:
		}
		return nil
	}
}

func TestLoop_ProducesFrames(t *testing.T) {
	loop := NewLoop(&Config{Interval: 20 * time.Millisecond, PoolSize: 2}, &flakyAgent{}, logger.Nop())
	frames := make(chan *wire.Frame, 16)

	require.NoError(t, loop.Start(context.Background(), collectSink(frames)))
	defer loop.Stop()

	// 首帧立即采集，不等第一个周期
	select {
	case <-frames:
	case <-time.After(time.Second):
		t.Fatal("no frame within deadline")
	}
	select {
	case <-frames:
	case <-time.After(time.Second):
		t.Fatal("no second frame within deadline")
	}
}

func TestLoop_DoubleStartRejected(t *testing.T) {
	loop := NewLoop(&Config{Interval: 20 * time.Millisecond, PoolSize: 2}, &flakyAgent{}, logger.Nop())
	sink := func(*wire.Frame) error { return nil }

	require.NoError(t, loop.Start(context.Background(), sink))

	// 单实例单环路，重复启动是调用方错误
	err := loop.Start(context.Background(), sink)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	require.NoError(t, loop.Stop())

	// 停止后可以重新启动
	require.NoError(t, loop.Start(context.Background(), sink))
	require.NoError(t, loop.Stop())
}

func TestLoop_StopHaltsCapture(t *testing.T) {
	loop := NewLoop(&Config{Interval: 10 * time.Millisecond, PoolSize: 2}, &flakyAgent{}, logger.Nop())
	frames := make(chan *wire.Frame, 64)

	require.NoError(t, loop.Start(context.Background(), collectSink(frames)))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, loop.Stop())
	assert.False(t, loop.Running())

	// 停止后不再有新帧
	count := loop.Frames()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, count, loop.Frames())

	// 重复停止返回 ErrNotRunning
	assert.ErrorIs(t, loop.Stop(), ErrNotRunning)
}

func TestLoop_SkipsFailedCapture(t *testing.T) {
	// 第二次起采集全部失败，环路继续运转不退出
	agent := &flakyAgent{failFrom: 2}
	loop := NewLoop(&Config{Interval: 10 * time.Millisecond, PoolSize: 2}, agent, logger.Nop())
	frames := make(chan *wire.Frame, 16)

	require.NoError(t, loop.Start(context.Background(), collectSink(frames)))
	defer loop.Stop()

	select {
	case <-frames:
	case <-time.After(time.Second):
		t.Fatal("first frame should succeed")
	}

	// 失败期间环路保持运行并持续尝试
	require.Eventually(t, func() bool {
		agent.mu.Lock()
		defer agent.mu.Unlock()
		return agent.calls >= 4
	}, time.Second, 10*time.Millisecond)
	assert.True(t, loop.Running())
	assert.Equal(t, int64(1), loop.Frames())
}

func TestLoop_PatternAgentFrame(t *testing.T) {
	// 合成代理产出的帧必须带尺寸与 base64 数据
	agent := native.NewPatternAgent(64, 48)
	loop := NewLoop(&Config{Interval: 50 * time.Millisecond, PoolSize: 1}, agent, logger.Nop())
	frames := make(chan *wire.Frame, 4)

	require.NoError(t, loop.Start(context.Background(), collectSink(frames)))
	defer loop.Stop()

	select {
	case f := <-frames:
		assert.Equal(t, 64, f.Width)
		assert.Equal(t, 48, f.Height)
		assert.NotEmpty(t, f.ImageData)
		assert.False(t, f.CapturedAt.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no frame within deadline")
	}
}
