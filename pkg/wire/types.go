// pkg/wire/types.go
package wire

import "time"

// MouseButton 鼠标按键
type MouseButton string

const (
	ButtonLeft   MouseButton = "left"
	ButtonRight  MouseButton = "right"
	ButtonMiddle MouseButton = "middle"
)

// PointerAction 指针动作
type PointerAction string

const (
	PointerClick       PointerAction = "click"
	PointerDoubleClick PointerAction = "double_click"
	PointerPress       PointerAction = "press"
	PointerRelease     PointerAction = "release"
)

// KeyAction 键盘动作
type KeyAction string

const (
	KeyPress   KeyAction = "press"
	KeyRelease KeyAction = "release"
	KeyType    KeyAction = "type"
)

// PointerEvent 指针输入命令
// 坐标为源屏幕像素空间，不是观察端画布空间
type PointerEvent struct {
	X      int           `json:"x"`
	Y      int           `json:"y"`
	Button MouseButton   `json:"button"`
	Action PointerAction `json:"action"`
}

// KeyEvent 键盘输入命令
type KeyEvent struct {
	Key       string    `json:"key"`
	Modifiers []string  `json:"modifiers"`
	Action    KeyAction `json:"action"`
}

// InputCommand 输入命令的带标签变体
// Pointer 与 Key 互斥，恰好一个非空
type InputCommand struct {
	Pointer *PointerEvent `json:"pointer,omitempty"`
	Key     *KeyEvent     `json:"key,omitempty"`
}

// Frame 一帧截图，瞬态数据，不落库
type Frame struct {
	// ImageData base64 编码的 PNG
	ImageData  string    `json:"image_data"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	CapturedAt time.Time `json:"captured_at"`
}

// DisplayInfo 显示器信息
type DisplayInfo struct {
	ID        int  `json:"id"`
	Width     int  `json:"width"`
	Height    int  `json:"height"`
	X         int  `json:"x"`
	Y         int  `json:"y"`
	IsPrimary bool `json:"is_primary"`
}
