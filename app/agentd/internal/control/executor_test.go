package control

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soportek/remotectl/app/agentd/internal/native"
	"github.com/soportek/remotectl/pkg/logger"
	"github.com/soportek/remotectl/pkg/wire"
)

// failingAgent 注入永远失败的代理
type failingAgent struct {
	native.Agent
	failures int
}

func (a *failingAgent) DispatchPointer(wire.PointerEvent) error {
	a.failures++
	return errors.New("injection denied")
}

func (a *failingAgent) DispatchKey(wire.KeyEvent) error {
	a.failures++
	return errors.New("injection denied")
}

func pointerCmd(x, y int) *wire.InputCommand {
	return &wire.InputCommand{
		Pointer: &wire.PointerEvent{X: x, Y: y, Button: wire.ButtonLeft, Action: wire.PointerClick},
	}
}

func TestExecutor_Apply(t *testing.T) {
	agent := native.NewPatternAgent(100, 100)
	ex := NewExecutor(agent, nil, logger.Nop())

	require.NoError(t, ex.Apply(pointerCmd(10, 20)))
	require.NoError(t, ex.Apply(&wire.InputCommand{
		Key: &wire.KeyEvent{Key: "a", Action: wire.KeyPress},
	}))

	pointers := agent.Pointers()
	require.Len(t, pointers, 1)
	assert.Equal(t, 10, pointers[0].X)
	require.Len(t, agent.Keys(), 1)
}

func TestExecutor_MalformedCommandAbsorbed(t *testing.T) {
	agent := native.NewPatternAgent(100, 100)
	ex := NewExecutor(agent, nil, logger.Nop())

	// 空命令与双变体命令丢弃，不计入失败
	assert.NoError(t, ex.Apply(nil))
	assert.NoError(t, ex.Apply(&wire.InputCommand{}))
	assert.NoError(t, ex.Apply(&wire.InputCommand{
		Pointer: &wire.PointerEvent{X: 1, Y: 1},
		Key:     &wire.KeyEvent{Key: "a"},
	}))
	assert.Empty(t, agent.Pointers())
}

func TestExecutor_ProbeAfterConsecutiveFailures(t *testing.T) {
	probes := 0
	probe := func() error {
		probes++
		return nil
	}
	ex := NewExecutor(&failingAgent{}, probe, logger.Nop())

	// 前两次失败被吸收，第三次触发探活
	require.NoError(t, ex.Apply(pointerCmd(1, 1)))
	require.NoError(t, ex.Apply(pointerCmd(1, 1)))
	assert.Equal(t, 0, probes)
	require.NoError(t, ex.Apply(pointerCmd(1, 1)))
	assert.Equal(t, 1, probes)

	// 计数已重置，再满三次才会再探
	require.NoError(t, ex.Apply(pointerCmd(1, 1)))
	require.NoError(t, ex.Apply(pointerCmd(1, 1)))
	assert.Equal(t, 1, probes)
	require.NoError(t, ex.Apply(pointerCmd(1, 1)))
	assert.Equal(t, 2, probes)
}

func TestExecutor_SuccessResetsCounter(t *testing.T) {
	agent := native.NewPatternAgent(100, 100)
	probes := 0
	ex := NewExecutor(agent, func() error { probes++; return nil }, logger.Nop())

	// 两次越界失败后一次成功，计数归零
	require.NoError(t, ex.Apply(pointerCmd(-1, -1)))
	require.NoError(t, ex.Apply(pointerCmd(-1, -1)))
	require.NoError(t, ex.Apply(pointerCmd(10, 10)))
	require.NoError(t, ex.Apply(pointerCmd(-1, -1)))
	require.NoError(t, ex.Apply(pointerCmd(-1, -1)))
	assert.Equal(t, 0, probes)
}

func TestExecutor_ProbeFailureSurfaces(t *testing.T) {
	probeErr := errors.New("channel dead")
	ex := NewExecutor(&failingAgent{}, func() error { return probeErr }, logger.Nop())

	require.NoError(t, ex.Apply(pointerCmd(1, 1)))
	require.NoError(t, ex.Apply(pointerCmd(1, 1)))

	// 探活失败要向上抛，由控制端拆除会话
	err := ex.Apply(pointerCmd(1, 1))
	assert.ErrorIs(t, err, probeErr)
}

func TestExecutor_ReleasedAgent(t *testing.T) {
	agent := native.NewPatternAgent(100, 100)
	require.NoError(t, agent.Release())
	ex := NewExecutor(agent, nil, logger.Nop())

	// 代理已释放时直接上抛，不进失败计数
	err := ex.Apply(pointerCmd(10, 10))
	assert.ErrorIs(t, err, native.ErrAgentReleased)
}
