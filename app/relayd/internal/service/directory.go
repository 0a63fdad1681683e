package service

import (
	"context"
	"sync"
)

// Directory 票务系统协作方
// 调用方已完成认证，这里只提供角色与工单归属查询
type Directory interface {
	// UserRole 查询用户角色，用户不存在时返回错误
	UserRole(ctx context.Context, userID string) (string, error)

	// TicketClient 查询工单所属客户的用户 ID
	TicketClient(ctx context.Context, ticketID string) (string, error)
}

// StaticDirectory 静态目录，测试与独立运行用
type StaticDirectory struct {
	mu      sync.RWMutex
	roles   map[string]string
	tickets map[string]string
}

var _ Directory = (*StaticDirectory)(nil)

// NewStaticDirectory 创建静态目录
func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{
		roles:   make(map[string]string),
		tickets: make(map[string]string),
	}
}

// AddUser 登记用户角色
func (d *StaticDirectory) AddUser(userID, role string) *StaticDirectory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roles[userID] = role
	return d
}

// AddTicket 登记工单与其客户
func (d *StaticDirectory) AddTicket(ticketID, clientID string) *StaticDirectory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tickets[ticketID] = clientID
	return d
}

// UserRole 查询用户角色
func (d *StaticDirectory) UserRole(_ context.Context, userID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	role, ok := d.roles[userID]
	if !ok {
		return "", ErrNotFound
	}
	return role, nil
}

// TicketClient 查询工单客户
func (d *StaticDirectory) TicketClient(_ context.Context, ticketID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	clientID, ok := d.tickets[ticketID]
	if !ok {
		return "", ErrNotFound
	}
	return clientID, nil
}
