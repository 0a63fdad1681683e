package operator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soportek/remotectl/pkg/logger"
	"github.com/soportek/remotectl/pkg/wire"
)

func newTestConsole() *Console {
	cfg := DefaultConfig()
	cfg.SessionID = "s1"
	cfg.ViewerWidth = 800
	cfg.ViewerHeight = 600
	return New(cfg, logger.Nop())
}

func frame(w, h int) *wire.Frame {
	return &wire.Frame{ImageData: "x", Width: w, Height: h}
}

// nextInput 从出站队列取一条输入命令
func nextInput(t *testing.T, c *Console) *wire.InputCommand {
	t.Helper()
	select {
	case env := <-c.sendCh:
		require.Equal(t, wire.TypeInput, env.Type)
		require.Equal(t, "s1", env.SessionID)
		var cmd wire.InputCommand
		require.NoError(t, env.Decode(&cmd))
		return &cmd
	default:
		t.Fatal("no outbound envelope")
		return nil
	}
}

func TestConsole_ViewOnlyByDefault(t *testing.T) {
	c := newTestConsole()
	c.onFrame(frame(1920, 1080))

	// 默认观察模式，任何输入都拒绝
	err := c.SendPointer(400, 300, wire.ButtonLeft, wire.PointerClick)
	assert.ErrorIs(t, err, ErrViewOnly)
	err = c.SendKey("a", nil, wire.KeyPress)
	assert.ErrorIs(t, err, ErrViewOnly)

	c.SetControl(true)
	assert.NoError(t, c.SendPointer(400, 300, wire.ButtonLeft, wire.PointerClick))
}

func TestConsole_PointerRequiresFrame(t *testing.T) {
	c := newTestConsole()
	c.SetControl(true)

	// 无帧即无源尺寸，坐标不可换算
	err := c.SendPointer(400, 300, wire.ButtonLeft, wire.PointerClick)
	assert.ErrorIs(t, err, ErrNoFrame)
}

func TestConsole_PointerCoordinateConversion(t *testing.T) {
	c := newTestConsole()
	c.SetControl(true)
	// 1920x1080 进 800x600：缩放 0.41667，上下各 75 像素黑边
	c.onFrame(frame(1920, 1080))

	require.NoError(t, c.SendPointer(400, 300, wire.ButtonLeft, wire.PointerClick))
	cmd := nextInput(t, c)
	require.NotNil(t, cmd.Pointer)
	assert.Equal(t, 960, cmd.Pointer.X)
	assert.Equal(t, 540, cmd.Pointer.Y)
	assert.Equal(t, wire.PointerClick, cmd.Pointer.Action)
}

func TestConsole_PointerRejectsLetterbox(t *testing.T) {
	c := newTestConsole()
	c.SetControl(true)
	c.onFrame(frame(1920, 1080))

	// 黑边上的点击不产生命令
	err := c.SendPointer(400, 10, wire.ButtonLeft, wire.PointerClick)
	assert.ErrorIs(t, err, ErrOutsideFrame)
	select {
	case <-c.sendCh:
		t.Fatal("rejected click must not emit a command")
	default:
	}
}

func TestConsole_MappingFollowsFrameSize(t *testing.T) {
	c := newTestConsole()
	c.SetControl(true)

	// 源分辨率变化后映射跟随最新帧
	c.onFrame(frame(1920, 1080))
	c.onFrame(frame(800, 600))

	require.NoError(t, c.SendPointer(400, 300, wire.ButtonLeft, wire.PointerClick))
	cmd := nextInput(t, c)
	assert.Equal(t, 400, cmd.Pointer.X)
	assert.Equal(t, 300, cmd.Pointer.Y)

	latest, count := c.LatestFrame()
	assert.Equal(t, int64(2), count)
	assert.Equal(t, 800, latest.Width)
}

func TestConsole_SendKey(t *testing.T) {
	c := newTestConsole()
	c.SetControl(true)

	require.NoError(t, c.SendKey("c", []string{"ctrl"}, wire.KeyPress))
	cmd := nextInput(t, c)
	require.NotNil(t, cmd.Key)
	assert.Equal(t, "c", cmd.Key.Key)
	assert.Equal(t, []string{"ctrl"}, cmd.Key.Modifiers)
}
