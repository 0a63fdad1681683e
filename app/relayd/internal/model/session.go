package model

import "time"

// State 远程会话状态
// 取值沿用线上系统的西语命名，代码内通过常量引用
type State string

const (
	// StateRequested 操作员已发起请求，等待客户确认
	StateRequested State = "solicitada"
	// StateAccepted 客户已确认，数据通道协商中
	StateAccepted State = "aceptada"
	// StateActive 数据通道就绪，会话进行中
	StateActive State = "activa"
	// StateFinished 终态，不可再迁出
	StateFinished State = "finalizada"
)

// Valid 检查状态取值是否合法
func (s State) Valid() bool {
	switch s {
	case StateRequested, StateAccepted, StateActive, StateFinished:
		return true
	}
	return false
}

// Terminal 是否为终态
func (s State) Terminal() bool {
	return s == StateFinished
}

// CanTransition 状态机迁移检查
// Requested -> {Accepted, Finished}; Accepted -> {Active, Finished}; Active -> Finished
// 状态单调，任何状态不可重入
func CanTransition(from, to State) bool {
	switch from {
	case StateRequested:
		return to == StateAccepted || to == StateFinished
	case StateAccepted:
		return to == StateActive || to == StateFinished
	case StateActive:
		return to == StateFinished
	}
	return false
}

// EndReason 会话结束原因，审计用
type EndReason string

const (
	// EndReasonCompleted 任一参与方正常结束
	EndReasonCompleted EndReason = "completed"
	// EndReasonRejected 客户拒绝请求
	EndReasonRejected EndReason = "rejected"
	// EndReasonAborted 协商阶段中止
	EndReasonAborted EndReason = "aborted"
	// EndReasonTimeout 空闲超时强制回收
	EndReasonTimeout EndReason = "timeout"
	// EndReasonDisconnected 对端连接异常断开
	EndReasonDisconnected EndReason = "disconnected"
	// EndReasonChannelFailure 中继路由故障
	EndReasonChannelFailure EndReason = "channel_failure"
)

// 用户角色，与票务系统的用户表一致
const (
	RoleCliente  = "cliente"
	RoleOperador = "operador"
	RoleAdmin    = "admin"
)

// CanOperate 角色是否允许发起远程会话
func CanOperate(role string) bool {
	return role == RoleOperador || role == RoleAdmin
}

// Session 远程控制会话
// 由编排器创建和变更；中继与采集环路只读 ID/参与方/状态做路由鉴权
type Session struct {
	ID          string    `json:"id" db:"id"`
	TicketID    string    `json:"ticket_id" db:"ticket_id"`
	OperatorID  string    `json:"operator_id" db:"operator_id"`
	ClientID    string    `json:"client_id" db:"client_id"`
	State       State     `json:"state" db:"state"`
	PairingCode string    `json:"pairing_code" db:"pairing_code"`
	EndReason   EndReason `json:"end_reason,omitempty" db:"end_reason"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Participant 检查用户是否为会话参与方
func (s *Session) Participant(userID string) bool {
	return userID == s.OperatorID || userID == s.ClientID
}

// Live 会话是否处于非终态
func (s *Session) Live() bool {
	return !s.State.Terminal()
}
