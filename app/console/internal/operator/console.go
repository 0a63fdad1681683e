package operator

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"

	"github.com/soportek/remotectl/pkg/logger"
	"github.com/soportek/remotectl/pkg/viewport"
	"github.com/soportek/remotectl/pkg/wire"
)

var (
	// ErrViewOnly 观察模式下发送输入
	ErrViewOnly = errors.New("console is in view-only mode")

	// ErrOutsideFrame 坐标落在信箱边距上，不对应源屏幕像素
	ErrOutsideFrame = errors.New("coordinate outside remote frame")

	// ErrNoFrame 尚未收到任何帧，无法换算坐标
	ErrNoFrame = errors.New("no frame received yet")
)

// Config 操作台配置
type Config struct {
	// ServerURL 信令通道地址
	ServerURL string `mapstructure:"server_url" json:"server_url"`
	// Token 接入令牌
	Token string `mapstructure:"token" json:"token"`
	// SessionID 要绑定的会话
	SessionID string `mapstructure:"session_id" json:"session_id"`
	// ViewerWidth/ViewerHeight 观察画布尺寸
	ViewerWidth  int `mapstructure:"viewer_width" json:"viewer_width"`
	ViewerHeight int `mapstructure:"viewer_height" json:"viewer_height"`
	// Heartbeat 保活周期
	Heartbeat time.Duration `mapstructure:"heartbeat" json:"heartbeat"`
	// WriteTimeout 单次写超时
	WriteTimeout time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		ViewerWidth:  1024,
		ViewerHeight: 576,
		Heartbeat:    15 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Console 操作员观察与控制端
// 收帧只保最新；画布坐标经信箱映射换算为源屏幕像素后下发；
// 默认观察模式，控制模式需显式开启
type Console struct {
	cfg    *Config
	logger logger.Logger

	conn   *websocket.Conn
	sendCh chan *wire.Envelope

	mu      sync.RWMutex
	latest  *wire.Frame
	mapping viewport.Mapping
	control bool
	frames  int64

	closeOnce  sync.Once
	closed     chan struct{}
	writerDone chan struct{}
}

// New 创建操作台
func New(cfg *Config, l logger.Logger) *Console {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Console{
		cfg:    cfg,
		logger: l.Named("operator.console"),
		sendCh: make(chan *wire.Envelope, 64),
		mapping: viewport.Mapping{
			ViewerW: cfg.ViewerWidth,
			ViewerH: cfg.ViewerHeight,
		},
		closed:     make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

// Run 连接信令通道并阻塞处理到会话结束
func (c *Console) Run(ctx context.Context) error {
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

	readErr := c.readLoop(ctx)
	c.close()
	return readErr
}

// End 主动结束会话
func (c *Console) End() {
	end, _ := wire.NewEnvelope(wire.TypeEndSession, c.cfg.SessionID, nil)
	c.send(end)
	c.close()
}

// SetControl 切换控制/观察模式
func (c *Console) SetControl(enabled bool) {
	c.mu.Lock()
	c.control = enabled
	c.mu.Unlock()
	c.logger.Info("control mode changed", "enabled", enabled)
}

// ControlEnabled 当前是否为控制模式
func (c *Console) ControlEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.control
}

// Resize 观察画布尺寸变化
func (c *Console) Resize(width, height int) {
	c.mu.Lock()
	c.mapping.ViewerW = width
	c.mapping.ViewerH = height
	c.mu.Unlock()
}

// LatestFrame 当前帧与累计帧数
func (c *Console) LatestFrame() (*wire.Frame, int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest, c.frames
}

// SendPointer 画布坐标下发指针动作
// 坐标换算到源屏幕像素；落在信箱边距上时拒绝
func (c *Console) SendPointer(viewerX, viewerY int, button wire.MouseButton, action wire.PointerAction) error {
	c.mu.RLock()
	control := c.control
	mapping := c.mapping
	hasFrame := c.latest != nil
	c.mu.RUnlock()

	if !control {
		return ErrViewOnly
	}
	if !hasFrame {
		return ErrNoFrame
	}

	x, y, ok := mapping.ToSource(viewerX, viewerY)
	if !ok {
		return ErrOutsideFrame
	}

	cmd := wire.InputCommand{
		Pointer: &wire.PointerEvent{X: x, Y: y, Button: button, Action: action},
	}
	env, err := wire.NewEnvelope(wire.TypeInput, c.cfg.SessionID, cmd)
	if err != nil {
		return err
	}
	c.send(env)
	return nil
}

// SendKey 下发键盘动作
func (c *Console) SendKey(key string, modifiers []string, action wire.KeyAction) error {
	if !c.ControlEnabled() {
		return ErrViewOnly
	}

	cmd := wire.InputCommand{
		Key: &wire.KeyEvent{Key: key, Modifiers: modifiers, Action: action},
	}
	env, err := wire.NewEnvelope(wire.TypeInput, c.cfg.SessionID, cmd)
	if err != nil {
		return err
	}
	c.send(env)
	return nil
}

// readLoop 处理入站消息
func (c *Console) readLoop(ctx context.Context) error {
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
		case wire.TypeFrame:
			var frame wire.Frame
			if err := env.Decode(&frame); err != nil {
				c.logger.Warn("malformed frame discarded", "error", err)
				continue
			}
			c.onFrame(&frame)

		case wire.TypePing:
			pong, _ := wire.NewEnvelope(wire.TypePong, c.cfg.SessionID, nil)
			c.send(pong)

		case wire.TypeEndSession:
			c.logger.Info("session ended by remote")
			return nil

		default:
			// 协商类消息走媒体栈
		}
	}
}

// onFrame 只保最新帧，并跟随源分辨率更新坐标映射
func (c *Console) onFrame(frame *wire.Frame) {
	c.mu.Lock()
	c.latest = frame
	c.frames++
	c.mapping.SourceW = frame.Width
	c.mapping.SourceH = frame.Height
	c.mu.Unlock()
}

// writeLoop 单写者
func (c *Console) writeLoop() {
	defer close(c.writerDone)

	ticker := time.NewTicker(c.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case env := <-c.sendCh:
			data, err := env.Marshal()
			if err != nil {
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("envelope write failed", "error", err)
				return
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
func (c *Console) drain() {
	for {
		select {
		case env := <-c.sendCh:
			data, err := env.Marshal()
			if err != nil {
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

// send 有序出站
func (c *Console) send(env *wire.Envelope) {
	select {
	case c.sendCh <- env:
	case <-c.closed:
	default:
		c.logger.Warn("send queue full, envelope dropped", "type", string(env.Type))
	}
}

// close 幂等关闭
func (c *Console) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.conn != nil {
			// 等写循环冲刷完再断开
			select {
			case <-c.writerDone:
			case <-time.After(time.Second):
			}
			_ = c.conn.Close()
		}
	})
}
