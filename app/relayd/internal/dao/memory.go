package dao

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/soportek/remotectl/app/relayd/internal/model"
)

// MemoryStore 内存会话存储
// 用于单元测试与无数据库的独立运行，语义与 SessionDAO 一致
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
}

var _ SessionStore = (*MemoryStore)(nil)

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*model.Session),
	}
}

// Create 创建会话，锁内检查活跃会话保证原子性
func (m *MemoryStore) Create(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.sessions {
		if existing.TicketID == s.TicketID && existing.Live() {
			return ErrTicketBusy
		}
	}

	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

// GetByID 按 ID 查询
func (m *MemoryStore) GetByID(_ context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clone(id)
}

// FindActiveByTicket 查询工单当前未结束的会话
func (m *MemoryStore) FindActiveByTicket(_ context.Context, ticketID string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, s := range m.sessions {
		if s.TicketID == ticketID && s.Live() {
			return m.clone(id)
		}
	}
	return nil, ErrNotFound
}

// Transition 原子 CAS 状态迁移
func (m *MemoryStore) Transition(_ context.Context, id string, from, to model.State, reason model.EndReason) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.State != from {
		return nil, ErrStaleState
	}

	s.State = to
	s.EndReason = reason
	s.UpdatedAt = time.Now().UTC()
	return m.clone(id)
}

// Finish 无条件终态写入，幂等；仅首次写入返回 true
func (m *MemoryStore) Finish(_ context.Context, id string, reason model.EndReason) (*model.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if s.State == model.StateFinished {
		out, err := m.clone(id)
		return out, false, err
	}

	s.State = model.StateFinished
	s.EndReason = reason
	s.UpdatedAt = time.Now().UTC()
	out, err := m.clone(id)
	return out, true, err
}

// Touch 刷新活动时间，已结束的会话不动
func (m *MemoryStore) Touch(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.State == model.StateFinished {
		return nil
	}
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// ListByTicket 工单下全部会话，按创建时间倒序
func (m *MemoryStore) ListByTicket(_ context.Context, ticketID string) ([]*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*model.Session, 0)
	for id, s := range m.sessions {
		if s.TicketID == ticketID {
			cp, _ := m.clone(id)
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ListStaleLive 非终态且更新时间早于 olderThan 的会话
func (m *MemoryStore) ListStaleLive(_ context.Context, olderThan time.Time) ([]*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*model.Session, 0)
	for id, s := range m.sessions {
		if s.Live() && s.UpdatedAt.Before(olderThan) {
			cp, _ := m.clone(id)
			out = append(out, cp)
		}
	}
	return out, nil
}

// clone 返回记录副本，调用方持有锁
func (m *MemoryStore) clone(id string) (*model.Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}
