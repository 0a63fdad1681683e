package native

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/soportek/remotectl/pkg/wire"
)

// PatternAgent 合成画面代理
// 无头环境与测试用：生成带滚动条纹的渐变图样，输入注入只记录不执行
type PatternAgent struct {
	mu       sync.Mutex
	width    int
	height   int
	frameSeq int
	released bool

	// 最近注入的输入，供测试断言
	pointers []wire.PointerEvent
	keys     []wire.KeyEvent
}

// NewPatternAgent 创建合成画面代理
func NewPatternAgent(width, height int) *PatternAgent {
	if width <= 0 {
		width = 1280
	}
	if height <= 0 {
		height = 720
	}
	return &PatternAgent{width: width, height: height}
}

// CaptureScreen 生成一帧渐变图样
func (a *PatternAgent) CaptureScreen(ctx context.Context) (*wire.Frame, error) {
	a.mu.Lock()
	if a.released {
		a.mu.Unlock()
		return nil, ErrAgentReleased
	}
	seq := a.frameSeq
	a.frameSeq++
	w, h := a.width, a.height
	a.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	band := (seq * 8) % h
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{
				R: uint8(x * 255 / w),
				G: uint8(y * 255 / h),
				B: 64,
				A: 255,
			}
			if y >= band && y < band+12 {
				c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.Wrap(err, "encode frame")
	}

	return &wire.Frame{
		ImageData:  base64.StdEncoding.EncodeToString(buf.Bytes()),
		Width:      w,
		Height:     h,
		CapturedAt: time.Now().UTC(),
	}, nil
}

// DispatchPointer 记录指针动作
func (a *PatternAgent) DispatchPointer(ev wire.PointerEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return ErrAgentReleased
	}
	if ev.X < 0 || ev.Y < 0 || ev.X >= a.width || ev.Y >= a.height {
		return errors.Newf("pointer out of bounds: (%d, %d)", ev.X, ev.Y)
	}
	a.pointers = append(a.pointers, ev)
	return nil
}

// DispatchKey 记录键盘动作
func (a *PatternAgent) DispatchKey(ev wire.KeyEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return ErrAgentReleased
	}
	a.keys = append(a.keys, ev)
	return nil
}

// Displays 单显示器
func (a *PatternAgent) Displays() ([]wire.DisplayInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return nil, ErrAgentReleased
	}
	return []wire.DisplayInfo{
		{ID: 0, Width: a.width, Height: a.height, IsPrimary: true},
	}, nil
}

// Release 标记释放
func (a *PatternAgent) Release() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.released = true
	return nil
}

// Pointers 已注入的指针动作快照
func (a *PatternAgent) Pointers() []wire.PointerEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]wire.PointerEvent, len(a.pointers))
	copy(out, a.pointers)
	return out
}

// Keys 已注入的键盘动作快照
func (a *PatternAgent) Keys() []wire.KeyEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]wire.KeyEvent, len(a.keys))
	copy(out, a.keys)
	return out
}
