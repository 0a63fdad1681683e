package native

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/soportek/remotectl/pkg/wire"
)

// ErrAgentReleased 代理释放后任何调用都返回该错误
var ErrAgentReleased = errors.New("native agent released")

// Agent 本机采集与输入注入的契约
// 平台实现（X11、Windows、macOS）各自提供，采集环路与控制端只依赖这里
type Agent interface {
	// CaptureScreen 截取主屏一帧，PNG 编码
	CaptureScreen(ctx context.Context) (*wire.Frame, error)

	// DispatchPointer 注入一次指针动作，坐标为源屏幕像素
	DispatchPointer(ev wire.PointerEvent) error

	// DispatchKey 注入一次键盘动作
	DispatchKey(ev wire.KeyEvent) error

	// Displays 枚举显示器
	Displays() ([]wire.DisplayInfo, error)

	// Release 释放底层资源，之后所有调用返回 ErrAgentReleased
	Release() error
}
