package relay

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/soportek/remotectl/app/relayd/internal/model"
	"github.com/soportek/remotectl/pkg/logger"
	"github.com/soportek/remotectl/pkg/wire"
)

var (
	// ErrRoomClosed 房间已拆除
	ErrRoomClosed = errors.New("room closed")

	// ErrNotBound 发送方未绑定到该房间
	ErrNotBound = errors.New("peer not bound to room")

	// ErrSessionFinished 会话已结束，拒绝为其建房
	ErrSessionFinished = errors.New("session already finished")
)

// 对端未绑定时暂存的有序消息上限
const pendingLimit = 256

// Room 单个会话的路由状态
// 恰好两个对端；锁仅覆盖本房间，跨会话互不阻塞
type Room struct {
	id       string
	operator string // 授权的操作员用户 ID
	client   string // 授权的客户用户 ID

	mu    sync.Mutex
	peers map[Side]Peer

	// 对端尚未绑定时的有序暂存（不含帧）
	pending map[Side][]*wire.Envelope

	// trickle-ICE 竞态处理：目标侧尚未收到 offer/answer 前，
	// 到达的 ice-candidate 先缓存，描述送达后按序冲刷。
	// 提前丢弃 candidate 是正确性缺陷，不是可接受的简化
	hasDesc map[Side]bool
	iceBuf  map[Side][]*wire.Envelope

	closed    bool
	bothBound bool

	idleTimer *time.Timer
	lastTouch time.Time // 上次把活动回写到存储的时间

	relay  *Relay
	logger logger.Logger
}

func newRoom(sess *model.Session, r *Relay) *Room {
	room := &Room{
		id:       sess.ID,
		operator: sess.OperatorID,
		client:   sess.ClientID,
		peers:    make(map[Side]Peer, 2),
		pending:  make(map[Side][]*wire.Envelope),
		hasDesc:  make(map[Side]bool, 2),
		iceBuf:   make(map[Side][]*wire.Envelope),
		relay:    r,
		logger:   r.logger.Named("room").WithFields("session_id", sess.ID),
	}
	room.idleTimer = time.AfterFunc(r.idleWindow, room.onIdle)
	return room
}

// ID 会话 ID
func (r *Room) ID() string { return r.id }

// bind 绑定一侧连接；同侧重复绑定时替换旧连接（断线重连）
func (r *Room) bind(side Side, peer Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRoomClosed
	}

	if old, ok := r.peers[side]; ok {
		r.logger.Warn("replacing bound peer", "side", string(side))
		old.CloseWithError(ErrRoomClosed)
	}
	r.peers[side] = peer
	r.touchLocked()

	// 冲刷对端掉线/晚到期间积压的有序消息
	backlog := r.pending[side]
	r.pending[side] = nil
	for _, env := range backlog {
		if err := peer.Deliver(env); err != nil {
			break
		}
	}

	if !r.bothBound && len(r.peers) == 2 {
		r.bothBound = true
		r.relay.onBothBound(r.id)
	}
	return nil
}

// forward 由 from 侧转发一条消息到对端
// 中继不解析 payload，只按类型做缓存/背压处理
func (r *Room) forward(from Side, env *wire.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRoomClosed
	}
	if _, ok := r.peers[from]; !ok {
		return ErrNotBound
	}
	if env.SessionID != r.id {
		return errors.Wrapf(ErrNotBound, "envelope for session %s", env.SessionID)
	}

	r.touchLocked()
	dest := from.Counterpart()
	r.relay.metrics.MessagesForwarded.WithLabelValues(string(env.Type)).Inc()

	switch env.Type {
	case wire.TypeFrame:
		// 尽力而为，永远只保最新帧
		if peer, ok := r.peers[dest]; ok {
			r.relay.metrics.FrameBytes.Observe(float64(len(env.Payload)))
			peer.DeliverFrame(env)
		} else {
			r.relay.metrics.MessagesDropped.WithLabelValues("unbound").Inc()
		}
		return nil

	case wire.TypeOffer, wire.TypeAnswer:
		if err := r.deliverLocked(dest, env); err != nil {
			return err
		}
		// 目标侧现在有了远端描述，按序冲刷缓存的 candidate
		r.hasDesc[dest] = true
		buf := r.iceBuf[dest]
		r.iceBuf[dest] = nil
		for _, c := range buf {
			if err := r.deliverLocked(dest, c); err != nil {
				return err
			}
		}
		return nil

	case wire.TypeICECandidate:
		if !r.hasDesc[dest] {
			r.iceBuf[dest] = append(r.iceBuf[dest], env)
			return nil
		}
		return r.deliverLocked(dest, env)

	case wire.TypeEndSession:
		// 转发后走完整拆除路径
		_ = r.deliverLocked(dest, env)
		go r.relay.teardown(r.id, model.EndReasonCompleted, from)
		return nil

	default:
		return r.deliverLocked(dest, env)
	}
}

// deliverLocked 投递或暂存一条有序消息，调用方持有锁
func (r *Room) deliverLocked(dest Side, env *wire.Envelope) error {
	peer, ok := r.peers[dest]
	if !ok {
		if len(r.pending[dest]) >= pendingLimit {
			r.relay.metrics.MessagesDropped.WithLabelValues("pending_overflow").Inc()
			return errors.Wrap(ErrSendQueueFull, "pending buffer overflow")
		}
		r.pending[dest] = append(r.pending[dest], env)
		return nil
	}

	if err := peer.Deliver(env); err != nil {
		r.relay.metrics.MessagesDropped.WithLabelValues("send_failed").Inc()
		return errors.Wrap(err, "deliver to peer")
	}
	return nil
}

// peerGone 一侧连接断开
// 不留半绑定会话：向幸存侧合成 end-session 并通知编排器结束
// 同侧重连后旧连接的读循环退出时也会走到这里，此时该侧
// 已被新连接接管，上报者与在绑连接不符，直接忽略
func (r *Room) peerGone(side Side, reporter Peer, cause error) {
	r.mu.Lock()
	peer, ok := r.peers[side]
	if !ok || r.closed {
		r.mu.Unlock()
		return
	}
	if peer != reporter {
		r.mu.Unlock()
		r.logger.Info("stale connection exit ignored, side already rebound",
			"side", string(side),
		)
		return
	}
	delete(r.peers, side)
	r.mu.Unlock()

	peer.CloseWithError(cause)
	r.logger.Info("peer disconnected",
		"side", string(side),
		"cause", errString(cause),
	)
	r.relay.teardown(r.id, model.EndReasonDisconnected, side)
}

// close 拆除房间：停计时器、合成 end-session、关闭两端
func (r *Room) close(reason model.EndReason, initiator Side) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.idleTimer.Stop()

	peers := make(map[Side]Peer, len(r.peers))
	for side, p := range r.peers {
		peers[side] = p
	}
	r.peers = make(map[Side]Peer)
	r.pending = make(map[Side][]*wire.Envelope)
	r.iceBuf = make(map[Side][]*wire.Envelope)
	r.mu.Unlock()

	end, _ := wire.NewEnvelope(wire.TypeEndSession, r.id, map[string]string{"reason": string(reason)})
	for side, p := range peers {
		if side != initiator {
			_ = p.Deliver(end)
		}
		p.CloseWithError(ErrRoomClosed)
	}

	r.logger.Info("room closed", "reason", string(reason))
}

// onIdle 空闲窗口内无任何消息，触发完整拆除
func (r *Room) onIdle() {
	r.logger.Warn("room idle timeout")
	r.relay.teardown(r.id, model.EndReasonTimeout, "")
}

// touchLocked 刷新活动时间，重置空闲计时器，调用方持有锁
// 存储侧的 updated_at 按最小间隔异步回写，空闲回收据此放过有流量的会话
func (r *Room) touchLocked() {
	r.idleTimer.Reset(r.relay.idleWindow)

	now := time.Now()
	if now.Sub(r.lastTouch) >= r.relay.touchInterval {
		r.lastTouch = now
		go r.relay.touch(r.id)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
