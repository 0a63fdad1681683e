package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/panjf2000/ants/v2"

	"github.com/soportek/remotectl/app/agentd/internal/native"
	"github.com/soportek/remotectl/pkg/logger"
	"github.com/soportek/remotectl/pkg/wire"
)

// ErrAlreadyRunning 环路已在运行时再次 Start
var ErrAlreadyRunning = errors.New("capture loop already running")

// ErrNotRunning 环路未运行时 Stop
var ErrNotRunning = errors.New("capture loop not running")

// Sink 帧的去向，由控制端实现（写入信令通道）
type Sink func(frame *wire.Frame) error

// Config 采集环路配置
type Config struct {
	// Interval 采集周期
	Interval time.Duration `mapstructure:"interval" json:"interval"`
	// PoolSize 编码/发送任务池大小
	PoolSize int `mapstructure:"pool_size" json:"pool_size"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Interval: 2 * time.Second,
		PoolSize: 2,
	}
}

// Loop 周期采集环路
// 单实例单环路：重复 Start 视为调用方错误而非静默忽略
type Loop struct {
	cfg    *Config
	agent  native.Agent
	logger logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	pool   *ants.Pool

	// 上一次采集仍在途时跳过本周期，不排队
	inflight atomic.Bool

	frames   atomic.Int64
	failures atomic.Int64
}

// NewLoop 创建采集环路
func NewLoop(cfg *Config, agent native.Agent, l logger.Logger) *Loop {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 2
	}
	return &Loop{
		cfg:    cfg,
		agent:  agent,
		logger: l.Named("capture.loop"),
	}
}

// Start 启动环路，首帧立即采集，之后按周期推进
// 已在运行时返回 ErrAlreadyRunning
func (l *Loop) Start(ctx context.Context, sink Sink) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		return ErrAlreadyRunning
	}

	pool, err := ants.NewPool(l.cfg.PoolSize, ants.WithNonblocking(true))
	if err != nil {
		return errors.Wrap(err, "create capture pool")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.pool = pool

	go l.run(loopCtx, sink)

	l.logger.Info("capture loop started", "interval", l.cfg.Interval.String())
	return nil
}

// Stop 停止环路并等待在途采集退出
// 未运行时返回 ErrNotRunning，可安全重复调用
func (l *Loop) Stop() error {
	l.mu.Lock()
	if l.cancel == nil {
		l.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done, pool := l.cancel, l.done, l.pool
	l.cancel = nil
	l.done = nil
	l.pool = nil
	l.mu.Unlock()

	cancel()
	<-done
	pool.Release()

	l.logger.Info("capture loop stopped",
		"frames", l.frames.Load(),
		"failures", l.failures.Load(),
	)
	return nil
}

// Running 环路是否在运行
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

// Frames 已推送的帧数
func (l *Loop) Frames() int64 {
	return l.frames.Load()
}

// run 环路主体
func (l *Loop) run(ctx context.Context, sink Sink) {
	defer close(l.done)

	l.tick(ctx, sink)

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx, sink)
		}
	}
}

// tick 提交一次采集任务；上一次仍在途或池满则跳过本周期
func (l *Loop) tick(ctx context.Context, sink Sink) {
	if !l.inflight.CompareAndSwap(false, true) {
		return
	}

	err := l.pool.Submit(func() {
		defer l.inflight.Store(false)

		frame, err := l.agent.CaptureScreen(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, native.ErrAgentReleased) {
				l.failures.Add(1)
				l.logger.Warn("frame capture failed, skipping", "error", err)
			}
			return
		}

		if err := sink(frame); err != nil {
			l.failures.Add(1)
			l.logger.Warn("frame push failed", "error", err)
			return
		}
		l.frames.Add(1)
	})
	if err != nil {
		l.inflight.Store(false)
	}
}
