package relay

import (
	"errors"
	"sync"

	"github.com/soportek/remotectl/pkg/wire"
)

// Side 会话中的一侧
type Side string

const (
	// SideOperator 操作员侧
	SideOperator Side = "operator"
	// SideClient 客户侧
	SideClient Side = "client"
)

// Counterpart 对端
func (s Side) Counterpart() Side {
	if s == SideOperator {
		return SideClient
	}
	return SideOperator
}

var (
	// ErrPeerClosed 连接已关闭
	ErrPeerClosed = errors.New("peer closed")

	// ErrSendQueueFull 有序发送队列已满
	ErrSendQueueFull = errors.New("peer send queue full")
)

// Peer 绑定到房间的一条连接
// 实现必须保证 Deliver 的投递顺序与调用顺序一致（单写者）
type Peer interface {
	// UserID 连接对应的用户
	UserID() string

	// Deliver 有序投递信令/控制消息
	Deliver(env *wire.Envelope) error

	// DeliverFrame 投递帧，允许丢弃旧帧，只保最新
	DeliverFrame(env *wire.Envelope)

	// CloseWithError 关闭连接
	CloseWithError(err error)
}

// queuePeer 基于 channel 的 Peer 骨架
// 信令走 FIFO 队列；帧走单槽位，新帧覆盖旧帧（背压下永不排队旧帧）
type queuePeer struct {
	userID string

	sendCh chan *wire.Envelope

	frameMu    sync.Mutex
	frame      *wire.Envelope
	frameReady chan struct{} // 容量 1 的信号

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

func newQueuePeer(userID string, queueSize int) *queuePeer {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &queuePeer{
		userID:     userID,
		sendCh:     make(chan *wire.Envelope, queueSize),
		frameReady: make(chan struct{}, 1),
		closed:     make(chan struct{}),
	}
}

func (p *queuePeer) UserID() string { return p.userID }

// Deliver 有序投递，队满视为通道故障交由上层处理
func (p *queuePeer) Deliver(env *wire.Envelope) error {
	select {
	case <-p.closed:
		return ErrPeerClosed
	default:
	}

	select {
	case p.sendCh <- env:
		return nil
	case <-p.closed:
		return ErrPeerClosed
	default:
		return ErrSendQueueFull
	}
}

// DeliverFrame 覆盖式投递最新帧
func (p *queuePeer) DeliverFrame(env *wire.Envelope) {
	p.frameMu.Lock()
	p.frame = env
	p.frameMu.Unlock()

	select {
	case p.frameReady <- struct{}{}:
	default:
	}
}

// takeFrame 取走当前帧
func (p *queuePeer) takeFrame() *wire.Envelope {
	p.frameMu.Lock()
	defer p.frameMu.Unlock()
	f := p.frame
	p.frame = nil
	return f
}

// close 标记关闭，幂等
func (p *queuePeer) close(err error) {
	p.closeOnce.Do(func() {
		p.closeErr = err
		close(p.closed)
	})
}
