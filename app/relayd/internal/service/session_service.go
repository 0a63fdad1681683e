package service

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/soportek/remotectl/app/relayd/internal/dao"
	"github.com/soportek/remotectl/app/relayd/internal/metrics"
	"github.com/soportek/remotectl/app/relayd/internal/model"
	"github.com/soportek/remotectl/pkg/logger"
	"github.com/soportek/remotectl/pkg/pairing"
)

// Caller 已认证的调用方身份
type Caller struct {
	UserID string
	Role   string
}

// CodeIssuer 配对码签发契约，pairing.Codes 实现
type CodeIssuer interface {
	Issue(ctx context.Context, sessionID string) (string, error)
	Revoke(ctx context.Context, code string) error
}

// SessionService 会话编排器
// 会话记录只经由这里变更；中继与采集环路不直接写存储
type SessionService struct {
	store   dao.SessionStore
	dir     Directory
	codes   CodeIssuer // 可为 nil，退化为派生码
	rooms   RoomCloser // 构造后注入，中继与编排器互相依赖
	logger  logger.Logger
	metrics *metrics.RelaydMetrics
}

// NewSessionService 创建会话编排器
func NewSessionService(store dao.SessionStore, dir Directory, codes CodeIssuer, l logger.Logger, m *metrics.RelaydMetrics) *SessionService {
	if m == nil {
		m = metrics.New(nil)
	}
	return &SessionService{
		store:   store,
		dir:     dir,
		codes:   codes,
		logger:  l.Named("service.session"),
		metrics: m,
	}
}

// SetRoomCloser 注入中继，结束会话时同步拆除路由
func (s *SessionService) SetRoomCloser(rooms RoomCloser) {
	s.rooms = rooms
}

// Request 操作员发起远程会话
// 同一工单存在活跃会话时返回 ErrConflict，裁决交给存储层的唯一约束
func (s *SessionService) Request(ctx context.Context, ticketID string, caller Caller) (*model.Session, error) {
	if !model.CanOperate(caller.Role) {
		return nil, errors.Wrapf(ErrForbidden, "role %s cannot request remote access", caller.Role)
	}

	clientID, err := s.dir.TicketClient(ctx, ticketID)
	if err != nil {
		return nil, errors.Wrapf(ErrNotFound, "ticket %s", ticketID)
	}

	// 角色仅在创建时校验，后续消息不再查目录
	clientRole, err := s.dir.UserRole(ctx, clientID)
	if err != nil || clientRole != model.RoleCliente {
		return nil, errors.Wrapf(ErrForbidden, "user %s is not a client", clientID)
	}

	now := time.Now().UTC()
	sess := &model.Session{
		ID:         uuid.NewString(),
		TicketID:   ticketID,
		OperatorID: caller.UserID,
		ClientID:   clientID,
		State:      model.StateRequested,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	sess.PairingCode = s.issueCode(ctx, sess.ID)

	if err := s.store.Create(ctx, sess); err != nil {
		if errors.Is(err, dao.ErrTicketBusy) {
			s.metrics.SessionsCreated.WithLabelValues("conflict").Inc()
			return nil, errors.Wrapf(ErrConflict, "ticket %s", ticketID)
		}
		return nil, err
	}

	s.metrics.SessionsCreated.WithLabelValues("ok").Inc()
	s.metrics.LiveSessions.Inc()
	s.logger.Info("session requested",
		"session_id", sess.ID,
		"ticket_id", ticketID,
		"operator_id", caller.UserID,
		"client_id", clientID,
		"pairing_code", sess.PairingCode,
	)
	return sess, nil
}

// Accept 客户接受请求，Requested -> Accepted
func (s *SessionService) Accept(ctx context.Context, sessionID string, caller Caller) (*model.Session, error) {
	sess, err := s.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if caller.UserID != sess.ClientID {
		return nil, errors.Wrapf(ErrForbidden, "user %s is not the session client", caller.UserID)
	}

	return s.transition(ctx, sessionID, model.StateRequested, model.StateAccepted, "")
}

// Reject 客户拒绝请求，Requested -> Finished(rejected)
// 与正常结束区分记录，供审计
func (s *SessionService) Reject(ctx context.Context, sessionID string, caller Caller) (*model.Session, error) {
	sess, err := s.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if caller.UserID != sess.ClientID {
		return nil, errors.Wrapf(ErrForbidden, "user %s is not the session client", caller.UserID)
	}

	out, err := s.transition(ctx, sessionID, model.StateRequested, model.StateFinished, model.EndReasonRejected)
	if err != nil {
		return nil, err
	}

	s.afterFinish(ctx, out)
	return out, nil
}

// Activate 数据通道确认可用后调用，Accepted -> Active
// 已处于 Active 时幂等返回
func (s *SessionService) Activate(ctx context.Context, sessionID string) (*model.Session, error) {
	out, err := s.transition(ctx, sessionID, model.StateAccepted, model.StateActive, "")
	if errors.Is(err, ErrInvalidTransition) {
		cur, getErr := s.get(ctx, sessionID)
		if getErr == nil && cur.State == model.StateActive {
			return cur, nil
		}
	}
	return out, err
}

// End 结束会话，终态吸收：已结束时为幂等 no-op
// callerID 为空表示系统触发（超时、断连、路由故障）
func (s *SessionService) End(ctx context.Context, sessionID, callerID string, reason model.EndReason) (*model.Session, error) {
	sess, err := s.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if callerID != "" && !sess.Participant(callerID) {
		return nil, errors.Wrapf(ErrForbidden, "user %s is not a session participant", callerID)
	}
	if sess.State == model.StateFinished {
		return sess, nil
	}
	if reason == "" {
		reason = model.EndReasonCompleted
	}

	out, first, err := s.store.Finish(ctx, sessionID, reason)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			return nil, errors.Wrapf(ErrNotFound, "session %s", sessionID)
		}
		return nil, err
	}
	if !first {
		// 并发结束：终态写入由先到者完成，清理与计量也只归先到者
		return out, nil
	}

	s.afterFinish(ctx, out)
	s.logger.Info("session ended",
		"session_id", sessionID,
		"caller_id", callerID,
		"reason", reason,
	)
	return out, nil
}

// Get 查询会话
func (s *SessionService) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	return s.get(ctx, sessionID)
}

// Touch 记录会话通道活动，刷新 updated_at
// 空闲回收以 updated_at 判定活性；中继在消息转发期间周期性调用，
// 保证有流量的会话不会被当作空闲回收。已结束的会话为 no-op
func (s *SessionService) Touch(ctx context.Context, sessionID string) error {
	if err := s.store.Touch(ctx, sessionID); err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			return errors.Wrapf(ErrNotFound, "session %s", sessionID)
		}
		return err
	}
	return nil
}

// ListByTicket 工单下全部会话
func (s *SessionService) ListByTicket(ctx context.Context, ticketID string) ([]*model.Session, error) {
	return s.store.ListByTicket(ctx, ticketID)
}

// AuthorizePeer 中继绑定前校验：用户必须是该会话参与方且会话未结束
// 返回该用户在会话中的身份（操作员/客户）
func (s *SessionService) AuthorizePeer(ctx context.Context, sessionID, userID string) (*model.Session, error) {
	sess, err := s.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Participant(userID) {
		return nil, errors.Wrapf(ErrForbidden, "user %s is not bound to session %s", userID, sessionID)
	}
	if !sess.Live() {
		return nil, errors.Wrapf(ErrInvalidTransition, "session %s already finished", sessionID)
	}
	return sess, nil
}

// get 包装存储错误为服务错误
func (s *SessionService) get(ctx context.Context, sessionID string) (*model.Session, error) {
	sess, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			return nil, errors.Wrapf(ErrNotFound, "session %s", sessionID)
		}
		return nil, err
	}
	return sess, nil
}

// transition 单次 CAS 迁移，失败归一化为服务错误
func (s *SessionService) transition(ctx context.Context, sessionID string, from, to model.State, reason model.EndReason) (*model.Session, error) {
	out, err := s.store.Transition(ctx, sessionID, from, to, reason)
	if err != nil {
		switch {
		case errors.Is(err, dao.ErrNotFound):
			return nil, errors.Wrapf(ErrNotFound, "session %s", sessionID)
		case errors.Is(err, dao.ErrStaleState):
			s.metrics.TransitionConflicts.Inc()
			return nil, errors.Wrapf(ErrInvalidTransition, "session %s is not %s", sessionID, from)
		default:
			return nil, err
		}
	}
	return out, nil
}

// issueCode 签发配对码，redis 不可用时退化为派生码
func (s *SessionService) issueCode(ctx context.Context, sessionID string) string {
	if s.codes != nil {
		code, err := s.codes.Issue(ctx, sessionID)
		if err == nil {
			return code
		}
		s.logger.Warn("pairing code issue failed, falling back to derived code",
			"session_id", sessionID,
			"error", err,
		)
	}
	return pairing.DeriveCode(sessionID)
}

// afterFinish 终态后的清理与计量
// CloseRoom 幂等，中继发起的结束再次回调这里不会重复拆除
func (s *SessionService) afterFinish(ctx context.Context, sess *model.Session) {
	s.metrics.LiveSessions.Dec()
	s.metrics.SessionsEnded.WithLabelValues(string(sess.EndReason)).Inc()
	if s.rooms != nil {
		s.rooms.CloseRoom(sess.ID, sess.EndReason)
	}
	if s.codes != nil && sess.PairingCode != "" {
		if err := s.codes.Revoke(ctx, sess.PairingCode); err != nil {
			s.logger.Warn("pairing code revoke failed",
				"session_id", sess.ID,
				"error", err,
			)
		}
	}
}
