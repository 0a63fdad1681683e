// pkg/wire/envelope.go
package wire

import (
	"encoding/json"
	"fmt"
)

// MessageType 信令/数据消息类型
type MessageType string

const (
	// 媒体协商消息，中继不解析 payload
	TypeOffer        MessageType = "offer"
	TypeAnswer       MessageType = "answer"
	TypeICECandidate MessageType = "ice-candidate"

	// 会话控制消息
	TypeRequestAccess MessageType = "request-access"
	TypeAcceptAccess  MessageType = "accept-access"
	TypeRejectAccess  MessageType = "reject-access"
	TypeEndSession    MessageType = "end-session"

	// 数据面消息（轮询回退通道）
	TypeFrame MessageType = "frame"
	TypeInput MessageType = "input"

	// 链路保活
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// IsSignaling 是否为协商/控制类消息
func (t MessageType) IsSignaling() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeICECandidate,
		TypeRequestAccess, TypeAcceptAccess, TypeRejectAccess, TypeEndSession:
		return true
	}
	return false
}

// Envelope 中继转发的消息信封
// Payload 对中继完全不透明，按 session_id 路由后原样转发
type Envelope struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"session_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope 创建信封并序列化 payload
func NewEnvelope(t MessageType, sessionID string, payload interface{}) (*Envelope, error) {
	env := &Envelope{
		Type:      t,
		SessionID: sessionID,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload failed: %w", err)
		}
		env.Payload = data
	}
	return env, nil
}

// Decode 反序列化 payload 到目标结构体
func (e *Envelope) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("empty payload for %s", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload failed: %w", e.Type, err)
	}
	return nil
}

// Marshal 序列化整个信封
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// ParseEnvelope 从字节流解析信封
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse envelope failed: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("envelope missing type")
	}
	return &env, nil
}
