package dao

import (
	"context"
	"errors"
	"time"

	"github.com/soportek/remotectl/app/relayd/internal/model"
)

var (
	// ErrNotFound 会话不存在
	ErrNotFound = errors.New("session not found")

	// ErrTicketBusy 该工单已存在未结束的会话
	ErrTicketBusy = errors.New("ticket already has a live session")

	// ErrStaleState 条件更新失败，当前状态与期望不符
	ErrStaleState = errors.New("session state changed concurrently")
)

// SessionStore 会话存储契约
// 所有写操作必须对"单工单单活跃会话"不变量原子生效
type SessionStore interface {
	// Create 创建会话，工单上已有未结束会话时返回 ErrTicketBusy
	Create(ctx context.Context, s *model.Session) error

	// GetByID 按 ID 查询
	GetByID(ctx context.Context, id string) (*model.Session, error)

	// FindActiveByTicket 查询工单当前未结束的会话，不存在时返回 ErrNotFound
	FindActiveByTicket(ctx context.Context, ticketID string) (*model.Session, error)

	// Transition 单条原子 CAS 迁移，当前状态不等于 from 时返回 ErrStaleState
	Transition(ctx context.Context, id string, from, to model.State, reason model.EndReason) (*model.Session, error)

	// Finish 无条件落入终态；已结束的会话保持原记录不变（幂等）
	// 返回值标记本次调用是否真正完成了终态写入，并发结束时只有一个调用方得到 true
	Finish(ctx context.Context, id string, reason model.EndReason) (*model.Session, bool, error)

	// Touch 刷新 updated_at，空闲回收以此判定会话活性
	// 已结束的会话为 no-op，不存在时返回 ErrNotFound
	Touch(ctx context.Context, id string) error

	// ListByTicket 工单下全部会话，按创建时间倒序
	ListByTicket(ctx context.Context, ticketID string) ([]*model.Session, error)

	// ListStaleLive 非终态且 updated_at 早于 olderThan 的会话，空闲回收用
	ListStaleLive(ctx context.Context, olderThan time.Time) ([]*model.Session, error)
}
