package relay

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/soportek/remotectl/app/relayd/internal/metrics"
	"github.com/soportek/remotectl/app/relayd/internal/model"
	"github.com/soportek/remotectl/pkg/logger"
	"github.com/soportek/remotectl/pkg/wire"
)

// Orchestrator 中继对编排器的依赖
// 中继永不直接写存储，只通过编排器触发状态变更
type Orchestrator interface {
	Get(ctx context.Context, sessionID string) (*model.Session, error)
	Activate(ctx context.Context, sessionID string) (*model.Session, error)
	End(ctx context.Context, sessionID, callerID string, reason model.EndReason) (*model.Session, error)
	Touch(ctx context.Context, sessionID string) error
}

// Config 中继配置
type Config struct {
	// IdleWindow 房间空闲多久后强制拆除
	IdleWindow time.Duration `mapstructure:"idle_window" json:"idle_window"`
	// SendQueueSize 每连接有序发送队列长度
	SendQueueSize int `mapstructure:"send_queue_size" json:"send_queue_size"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		IdleWindow:    60 * time.Second,
		SendQueueSize: 64,
	}
}

// Relay 信令中继
// 按会话 ID 组织的房间注册表，房间之间无共享锁
type Relay struct {
	cfg        *Config
	idleWindow time.Duration

	// touchInterval 房间活动回写存储 updated_at 的最小间隔，
	// 取空闲窗口的三分之一，保证有流量的会话在回收器眼里始终新鲜
	touchInterval time.Duration

	mu    sync.RWMutex
	rooms map[string]*Room

	orch    Orchestrator
	logger  logger.Logger
	metrics *metrics.RelaydMetrics
}

// New 创建中继
func New(cfg *Config, orch Orchestrator, l logger.Logger, m *metrics.RelaydMetrics) *Relay {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.IdleWindow <= 0 {
		cfg.IdleWindow = 60 * time.Second
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Relay{
		cfg:           cfg,
		idleWindow:    cfg.IdleWindow,
		touchInterval: cfg.IdleWindow / 3,
		rooms:         make(map[string]*Room),
		orch:          orch,
		logger:        l.Named("relay"),
		metrics:       m,
	}
}

// Bind 将一条已鉴权的连接绑定到会话房间
// sess 必须已通过编排器的参与方校验；side 由 userID 与会话记录比对得出
func (r *Relay) Bind(ctx context.Context, sess *model.Session, userID string, peer Peer) (*Room, Side, error) {
	var side Side
	switch userID {
	case sess.OperatorID:
		side = SideOperator
	case sess.ClientID:
		side = SideClient
	default:
		return nil, "", errors.Wrapf(ErrNotBound, "user %s", userID)
	}

	r.mu.Lock()
	room, ok := r.rooms[sess.ID]
	r.mu.Unlock()

	if !ok {
		// 鉴权快照可能已过期：建房前向编排器复核会话仍然存活，
		// 避免为已被对端结束的会话建出一间悬空房
		cur, err := r.orch.Get(ctx, sess.ID)
		if err != nil {
			return nil, "", errors.Wrap(err, "recheck session before bind")
		}
		if !cur.Live() {
			return nil, "", errors.Wrapf(ErrSessionFinished, "session %s", sess.ID)
		}

		r.mu.Lock()
		room, ok = r.rooms[sess.ID]
		if !ok {
			room = newRoom(sess, r)
			r.rooms[sess.ID] = room
			r.metrics.LiveRooms.Inc()
		}
		r.mu.Unlock()
	}

	if err := room.bind(side, peer); err != nil {
		return nil, "", err
	}

	r.logger.Info("peer bound",
		"session_id", sess.ID,
		"side", string(side),
		"user_id", userID,
	)
	return room, side, nil
}

// Forward 转发一条消息
func (r *Relay) Forward(sessionID string, from Side, env *wire.Envelope) error {
	room, ok := r.room(sessionID)
	if !ok {
		return errors.Wrapf(ErrRoomClosed, "session %s", sessionID)
	}
	return room.forward(from, env)
}

// PeerGone 连接断开回调
// reporter 标识上报断开的那条连接：同侧重连后旧连接的读循环
// 仍会退出并上报，此时不得拆除已被新连接接管的会话
func (r *Relay) PeerGone(sessionID string, side Side, reporter Peer, cause error) {
	if room, ok := r.room(sessionID); ok {
		room.peerGone(side, reporter, cause)
	}
}

// CloseRoom 外部触发的房间拆除（回收器、编排器 End）
// 实现 service.RoomCloser
func (r *Relay) CloseRoom(sessionID string, reason model.EndReason) {
	r.mu.Lock()
	room, ok := r.rooms[sessionID]
	if ok {
		delete(r.rooms, sessionID)
		r.metrics.LiveRooms.Dec()
	}
	r.mu.Unlock()

	if ok {
		room.close(reason, "")
	}
}

// RoomCount 当前房间数
func (r *Relay) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Shutdown 拆除全部房间
func (r *Relay) Shutdown() {
	r.mu.Lock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.rooms = make(map[string]*Room)
	r.mu.Unlock()

	for _, room := range rooms {
		r.metrics.LiveRooms.Dec()
		room.close(model.EndReasonChannelFailure, "")
	}
}

// room 查找房间
func (r *Relay) room(sessionID string) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[sessionID]
	return room, ok
}

// touch 把房间活动回写到存储的 updated_at
// 空闲回收依据 updated_at 判定活性，没有这条回写，
// 任何存活超过空闲窗口的会话都会在流量不断的情况下被误回收
func (r *Relay) touch(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.orch.Touch(ctx, sessionID); err != nil {
		r.logger.Warn("session activity refresh failed",
			"session_id", sessionID,
			"error", err,
		)
	}
}

// onBothBound 两侧均已绑定，数据通道可用，通知编排器激活
func (r *Relay) onBothBound(sessionID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := r.orch.Activate(ctx, sessionID); err != nil {
			r.logger.Warn("session activation failed",
				"session_id", sessionID,
				"error", err,
			)
		}
	}()
}

// teardown 完整拆除：标记终态、拆路由、通知幸存侧
// 任何通道故障都走这条路径，不做重试
func (r *Relay) teardown(sessionID string, reason model.EndReason, initiator Side) {
	r.mu.Lock()
	room, ok := r.rooms[sessionID]
	if ok {
		delete(r.rooms, sessionID)
		r.metrics.LiveRooms.Dec()
	}
	r.mu.Unlock()

	if ok {
		room.close(reason, initiator)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := r.orch.End(ctx, sessionID, "", reason); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Error("failed to mark session finished",
			"session_id", sessionID,
			"reason", string(reason),
			"error", err,
		)
	}
}
