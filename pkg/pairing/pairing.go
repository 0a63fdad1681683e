// pkg/pairing/pairing.go
package pairing

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// 配对码字符集，去掉易混淆的 0/O/1/I
const codeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// CodeLength 配对码长度
const CodeLength = 8

var (
	// ErrCodeNotFound 配对码不存在或已过期
	ErrCodeNotFound = errors.New("pairing code not found")
	// ErrCodeExhausted 生成配对码重试次数用尽
	ErrCodeExhausted = errors.New("pairing code generation exhausted")
)

// DeriveCode 从会话 ID 派生配对码（取前 8 位转大写）
// 仅用于无 redis 的独立运行模式，可枚举，不作为授权凭据
func DeriveCode(sessionID string) string {
	cleaned := strings.ReplaceAll(sessionID, "-", "")
	if len(cleaned) > CodeLength {
		cleaned = cleaned[:CodeLength]
	}
	return strings.ToUpper(cleaned)
}

// Codes 配对码签发器
// 随机短时效 token 存入 redis，与会话 ID 解耦
type Codes struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewCodes 创建配对码签发器
func NewCodes(rdb redis.UniversalClient, ttl time.Duration) *Codes {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Codes{rdb: rdb, ttl: ttl}
}

// Issue 为会话签发随机配对码
func (c *Codes) Issue(ctx context.Context, sessionID string) (string, error) {
	// 冲突时换码重试，空间 32^8 足够大，3 次基本必中
	for i := 0; i < 3; i++ {
		code, err := randomCode()
		if err != nil {
			return "", err
		}

		ok, err := c.rdb.SetNX(ctx, key(code), sessionID, c.ttl).Result()
		if err != nil {
			return "", fmt.Errorf("store pairing code failed: %w", err)
		}
		if ok {
			return code, nil
		}
	}
	return "", ErrCodeExhausted
}

// Resolve 将配对码解析为会话 ID
func (c *Codes) Resolve(ctx context.Context, code string) (string, error) {
	sessionID, err := c.rdb.Get(ctx, key(strings.ToUpper(code))).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCodeNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve pairing code failed: %w", err)
	}
	return sessionID, nil
}

// Revoke 撤销配对码（会话结束时调用）
func (c *Codes) Revoke(ctx context.Context, code string) error {
	if code == "" {
		return nil
	}
	return c.rdb.Del(ctx, key(strings.ToUpper(code))).Err()
}

func key(code string) string {
	return "remotectl:pairing:" + code
}

// randomCode 生成随机配对码
func randomCode() (string, error) {
	buf := make([]byte, CodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random failed: %w", err)
	}
	var sb strings.Builder
	for _, b := range buf {
		sb.WriteByte(codeAlphabet[int(b)%len(codeAlphabet)])
	}
	return sb.String(), nil
}
