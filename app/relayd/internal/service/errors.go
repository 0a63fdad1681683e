package service

import "errors"

var (
	// ErrForbidden 角色或身份与会话不匹配
	ErrForbidden = errors.New("forbidden")

	// ErrConflict 工单上已存在活跃会话
	ErrConflict = errors.New("ticket already has a live session")

	// ErrNotFound 会话或工单不存在
	ErrNotFound = errors.New("session not found")

	// ErrInvalidTransition 违反状态机的迁移请求
	ErrInvalidTransition = errors.New("invalid session state transition")
)
