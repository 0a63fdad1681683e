package relay

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/soportek/remotectl/pkg/logger"
	"github.com/soportek/remotectl/pkg/wire"
)

// WSPeer 基于 gorilla/websocket 的 Peer 实现
// 单写者循环保证投递顺序；帧走覆盖槽位
type WSPeer struct {
	*queuePeer

	conn         *websocket.Conn
	writeTimeout time.Duration
	pingInterval time.Duration
	logger       logger.Logger
}

var _ Peer = (*WSPeer)(nil)

// NewWSPeer 包装一条已升级的 websocket 连接并启动写循环
func NewWSPeer(conn *websocket.Conn, userID string, queueSize int, l logger.Logger) *WSPeer {
	p := &WSPeer{
		queuePeer:    newQueuePeer(userID, queueSize),
		conn:         conn,
		writeTimeout: 10 * time.Second,
		pingInterval: 20 * time.Second,
		logger:       l.Named("wspeer").WithFields("user_id", userID),
	}

	// 协议层保活：读端在 pong 时顺延超时
	readTimeout := 3 * p.pingInterval
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go p.writeLoop()
	return p
}

// CloseWithError 关闭连接，幂等
func (p *WSPeer) CloseWithError(err error) {
	p.close(err)
}

// ReadLoop 读取并解析信封，逐条交给 handler
// 返回时连接已不可用，调用方负责触发 PeerGone
func (p *WSPeer) ReadLoop(handler func(env *wire.Envelope) error) error {
	for {
		select {
		case <-p.closed:
			return ErrPeerClosed
		default:
		}

		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return err
		}

		env, err := wire.ParseEnvelope(data)
		if err != nil {
			p.logger.Warn("discarding malformed envelope", "error", err)
			continue
		}

		if err := handler(env); err != nil {
			return err
		}
	}
}

// writeLoop 单写者：信令队列优先，帧槽位次之，定期发 ping
func (p *WSPeer) writeLoop() {
	ticker := time.NewTicker(p.pingInterval)
	defer ticker.Stop()
	defer p.conn.Close()

	for {
		select {
		case env := <-p.sendCh:
			if err := p.writeEnvelope(env); err != nil {
				p.close(err)
				return
			}

		case <-p.frameReady:
			if f := p.takeFrame(); f != nil {
				if err := p.writeEnvelope(f); err != nil {
					p.close(err)
					return
				}
			}

		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				p.close(err)
				return
			}

		case <-p.closed:
			// 先冲刷队列里剩余的信令（如合成的 end-session），再关闭
			p.drain()
			_ = p.conn.SetWriteDeadline(time.Now().Add(time.Second))
			_ = p.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// drain 非阻塞写出队列中剩余的信令
func (p *WSPeer) drain() {
	for {
		select {
		case env := <-p.sendCh:
			if err := p.writeEnvelope(env); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (p *WSPeer) writeEnvelope(env *wire.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}
	_ = p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}
