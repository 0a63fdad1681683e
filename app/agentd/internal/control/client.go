package control

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"

	"github.com/soportek/remotectl/app/agentd/internal/capture"
	"github.com/soportek/remotectl/app/agentd/internal/native"
	"github.com/soportek/remotectl/pkg/logger"
	"github.com/soportek/remotectl/pkg/wire"
)

// Config 控制端连接配置
type Config struct {
	// ServerURL 信令通道地址，如 ws://relay.example.com/api/remote/ws
	ServerURL string `mapstructure:"server_url" json:"server_url"`
	// Token 接入令牌
	Token string `mapstructure:"token" json:"token"`
	// SessionID 要绑定的会话
	SessionID string `mapstructure:"session_id" json:"session_id"`
	// Heartbeat 保活周期
	Heartbeat time.Duration `mapstructure:"heartbeat" json:"heartbeat"`
	// WriteTimeout 单次写超时
	WriteTimeout time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Heartbeat:    15 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Client 受控端控制客户端
// 持有信令连接、采集环路与输入执行器；会话结束时负责整组拆除：
// 停环路、释放代理、断开连接，顺序固定
type Client struct {
	cfg      *Config
	agent    native.Agent
	loop     *capture.Loop
	executor *Executor
	logger   logger.Logger

	conn   *websocket.Conn
	sendCh chan *wire.Envelope

	frameMu    sync.Mutex
	frame      *wire.Envelope
	frameReady chan struct{}

	closeOnce  sync.Once
	closed     chan struct{}
	writerDone chan struct{}
}

// NewClient 创建控制客户端
func NewClient(cfg *Config, agent native.Agent, loop *capture.Loop, l logger.Logger) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	c := &Client{
		cfg:        cfg,
		agent:      agent,
		loop:       loop,
		logger:     l.Named("control.client"),
		sendCh:     make(chan *wire.Envelope, 64),
		frameReady: make(chan struct{}, 1),
		closed:     make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	c.executor = NewExecutor(agent, c.probe, l)
	return c
}

// Run 连接信令通道并阻塞处理到会话结束
// 正常结束返回 nil，通道故障返回原因；返回前已完成拆除
func (c *Client) Run(ctx context.Context) error {
	if c.cfg.ServerURL == "" || c.cfg.SessionID == "" {
		return errors.New("server_url and session_id are required")
	}

	u, err := url.Parse(c.cfg.ServerURL)
	if err != nil {
		return errors.Wrap(err, "parse server url")
	}
	q := u.Query()
	q.Set("session_id", c.cfg.SessionID)
	q.Set("token", c.cfg.Token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return errors.Wrap(err, "dial signaling channel")
	}
	c.conn = conn
	c.logger.Info("signaling channel connected", "session_id", c.cfg.SessionID)

	go c.writeLoop()

	// 通道就绪即开始采集，对端未绑定时中继丢帧
	if err := c.loop.Start(ctx, c.pushFrame); err != nil {
		c.teardown()
		return errors.Wrap(err, "start capture loop")
	}

	readErr := c.readLoop(ctx)
	c.teardown()
	return readErr
}

// Stop 主动结束：通知对端后拆除
func (c *Client) Stop() {
	end, _ := wire.NewEnvelope(wire.TypeEndSession, c.cfg.SessionID, nil)
	c.send(end)
	c.teardown()
}

// readLoop 处理入站命令
func (c *Client) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.closed:
			return nil
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				return nil
			default:
			}
			return errors.Wrap(err, "signaling channel read")
		}

		env, err := wire.ParseEnvelope(data)
		if err != nil {
			c.logger.Warn("malformed envelope discarded", "error", err)
			continue
		}
		if env.SessionID != c.cfg.SessionID {
			continue
		}

		switch env.Type {
		case wire.TypeInput:
			var cmd wire.InputCommand
			if err := env.Decode(&cmd); err != nil {
				c.logger.Warn("malformed input command discarded", "error", err)
				continue
			}
			if err := c.executor.Apply(&cmd); err != nil {
				return errors.Wrap(err, "input channel failure")
			}

		case wire.TypePing:
			pong, _ := wire.NewEnvelope(wire.TypePong, c.cfg.SessionID, nil)
			c.send(pong)

		case wire.TypePong:
			// 对 probe 的应答，读到即说明链路活着

		case wire.TypeEndSession:
			c.logger.Info("session ended by remote")
			return nil

		default:
			// 协商类消息走媒体栈，这个回退通道不处理
		}
	}
}

// writeLoop 单写者：有序消息、最新帧与保活都从这里出站
func (c *Client) writeLoop() {
	defer close(c.writerDone)

	ticker := time.NewTicker(c.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case env := <-c.sendCh:
			if err := c.writeEnvelope(env); err != nil {
				c.logger.Warn("envelope write failed", "error", err)
				return
			}
		case <-c.frameReady:
			if env := c.takeFrame(); env != nil {
				if err := c.writeEnvelope(env); err != nil {
					c.logger.Warn("frame write failed", "error", err)
					return
				}
			}
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-c.closed:
			// 先冲刷队列里剩余的信令（如主动结束的 end-session），再关闭
			c.drain()
			deadline := time.Now().Add(time.Second)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		}
	}
}

// drain 非阻塞写出队列中剩余的信令
func (c *Client) drain() {
	for {
		select {
		case env := <-c.sendCh:
			if err := c.writeEnvelope(env); err != nil {
				return
			}
		default:
			return
		}
	}
}

// pushFrame 采集环路的帧出口，只保最新帧
func (c *Client) pushFrame(frame *wire.Frame) error {
	select {
	case <-c.closed:
		return errors.New("channel closed")
	default:
	}

	env, err := wire.NewEnvelope(wire.TypeFrame, c.cfg.SessionID, frame)
	if err != nil {
		return err
	}

	c.frameMu.Lock()
	c.frame = env
	c.frameMu.Unlock()

	select {
	case c.frameReady <- struct{}{}:
	default:
	}
	return nil
}

// takeFrame 取走当前帧
func (c *Client) takeFrame() *wire.Envelope {
	c.frameMu.Lock()
	defer c.frameMu.Unlock()
	f := c.frame
	c.frame = nil
	return f
}

// send 有序出站，队满丢弃并记录
func (c *Client) send(env *wire.Envelope) {
	select {
	case c.sendCh <- env:
	case <-c.closed:
	default:
		c.logger.Warn("send queue full, envelope dropped", "type", string(env.Type))
	}
}

// probe 链路探活，执行器在连续注入失败后调用
func (c *Client) probe() error {
	select {
	case <-c.closed:
		return errors.New("channel closed")
	default:
	}
	ping, err := wire.NewEnvelope(wire.TypePing, c.cfg.SessionID, nil)
	if err != nil {
		return err
	}
	select {
	case c.sendCh <- ping:
		return nil
	default:
		return errors.New("send queue full")
	}
}

// writeEnvelope 带超时写出一条信封
func (c *Client) writeEnvelope(env *wire.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// teardown 整组拆除：停环路、释放代理、断开连接
// 幂等，任何退出路径都经过这里
func (c *Client) teardown() {
	c.closeOnce.Do(func() {
		close(c.closed)

		if err := c.loop.Stop(); err != nil && !errors.Is(err, capture.ErrNotRunning) {
			c.logger.Warn("capture loop stop failed", "error", err)
		}
		if err := c.agent.Release(); err != nil {
			c.logger.Warn("agent release failed", "error", err)
		}
		if c.conn != nil {
			// 等写循环冲刷完再断开
			select {
			case <-c.writerDone:
			case <-time.After(time.Second):
			}
			_ = c.conn.Close()
		}
		c.logger.Info("session teardown complete", "session_id", c.cfg.SessionID)
	})
}
