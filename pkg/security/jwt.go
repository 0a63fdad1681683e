// pkg/security/jwt.go
package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken token 非法或签名不匹配
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired token 已过期
	ErrTokenExpired = errors.New("token expired")
)

// JWTConfig JWT 配置
type JWTConfig struct {
	// SecretKey HS256 签名密钥
	SecretKey string `mapstructure:"secret_key" json:"secret_key"`
	// Issuer 签发者
	Issuer string `mapstructure:"issuer" json:"issuer"`
	// ExpireDuration 有效期
	ExpireDuration time.Duration `mapstructure:"expire_duration" json:"expire_duration"`
}

// DefaultJWTConfig 返回默认配置
func DefaultJWTConfig() *JWTConfig {
	return &JWTConfig{
		Issuer:         "remotectl",
		ExpireDuration: 24 * time.Hour,
	}
}

// Claims 身份声明
// 认证由票务系统完成，本子系统只消费 {userID, role}
type Claims struct {
	UserID string `json:"uid"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// JWTManager JWT 管理器
type JWTManager struct {
	cfg *JWTConfig
}

// NewJWTManager 创建 JWT 管理器
func NewJWTManager(cfg *JWTConfig) (*JWTManager, error) {
	if cfg == nil {
		cfg = DefaultJWTConfig()
	}
	if cfg.SecretKey == "" {
		return nil, errors.New("jwt secret key is required")
	}
	if cfg.ExpireDuration <= 0 {
		cfg.ExpireDuration = 24 * time.Hour
	}
	return &JWTManager{cfg: cfg}, nil
}

// GenerateToken 签发 token
func (m *JWTManager) GenerateToken(userID, role string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.cfg.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.cfg.ExpireDuration)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.cfg.SecretKey))
	if err != nil {
		return "", fmt.Errorf("sign token failed: %w", err)
	}
	return signed, nil
}

// ValidateToken 验证 token 并返回声明
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	tokenString = stripBearer(tokenString)

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(m.cfg.SecretKey), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// stripBearer 去掉 "Bearer " 前缀
func stripBearer(tokenString string) string {
	if len(tokenString) > 7 && strings.EqualFold(tokenString[:7], "bearer ") {
		return tokenString[7:]
	}
	return tokenString
}
