package control

import (
	"github.com/cockroachdb/errors"

	"github.com/soportek/remotectl/app/agentd/internal/native"
	"github.com/soportek/remotectl/pkg/logger"
	"github.com/soportek/remotectl/pkg/wire"
)

// 连续注入失败达到阈值后触发一次链路探活
const failureThreshold = 3

// HealthProbe 链路探活，由控制端提供（信令通道 ping）
type HealthProbe func() error

// Executor 输入命令执行器
// 注入失败不中断会话：记录并继续，连续失败时确认链路还活着
type Executor struct {
	agent  native.Agent
	probe  HealthProbe
	logger logger.Logger

	consecutive int
}

// NewExecutor 创建执行器，probe 可为 nil
func NewExecutor(agent native.Agent, probe HealthProbe, l logger.Logger) *Executor {
	return &Executor{
		agent:  agent,
		probe:  probe,
		logger: l.Named("control.executor"),
	}
}

// Apply 执行一条输入命令
// 返回 error 仅在链路探活失败时，注入本身的失败被吸收
func (e *Executor) Apply(cmd *wire.InputCommand) error {
	if cmd == nil || (cmd.Pointer == nil) == (cmd.Key == nil) {
		e.logger.Warn("malformed input command discarded")
		return nil
	}

	var err error
	switch {
	case cmd.Pointer != nil:
		err = e.agent.DispatchPointer(*cmd.Pointer)
	case cmd.Key != nil:
		err = e.agent.DispatchKey(*cmd.Key)
	}

	if errors.Is(err, native.ErrAgentReleased) {
		return err
	}
	if err == nil {
		e.consecutive = 0
		return nil
	}

	e.consecutive++
	e.logger.Warn("input dispatch failed",
		"consecutive", e.consecutive,
		"error", err,
	)

	if e.consecutive < failureThreshold {
		return nil
	}
	e.consecutive = 0

	if e.probe == nil {
		return nil
	}
	if probeErr := e.probe(); probeErr != nil {
		return errors.Wrap(probeErr, "channel probe after repeated dispatch failures")
	}
	e.logger.Info("channel probe ok, dispatch failures are local")
	return nil
}
