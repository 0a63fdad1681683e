package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/soportek/remotectl/app/console/internal/operator"
	"github.com/soportek/remotectl/pkg/config"
	"github.com/soportek/remotectl/pkg/logger"
)

// Config console 操作台配置
type Config struct {
	Log logger.Config `mapstructure:"log"`

	// Operator 观察与控制配置
	Operator operator.Config `mapstructure:"operator"`
}

func main() {
	configPath := pflag.StringP("config", "c", "configs/console.yaml", "config file path")
	sessionID := pflag.String("session", "", "session id to bind (overrides config)")
	token := pflag.String("token", "", "access token (overrides config)")
	controlMode := pflag.Bool("control", false, "start in control mode instead of view-only")
	pflag.Parse()

	var cfg Config

	// 1. 加载配置
	if err := config.Load(*configPath, &cfg); err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		return
	}
	if *sessionID != "" {
		cfg.Operator.SessionID = *sessionID
	}
	if *token != "" {
		cfg.Operator.Token = *token
	}

	// 2. 初始化日志
	l, err := logger.New(&cfg.Log)
	if err != nil {
		panic(err)
	}
	defer l.Sync()

	// 3. 初始化操作台
	console := operator.New(&cfg.Operator, l)
	console.SetControl(*controlMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. 信号触发主动结束
	go func() {
		<-ctx.Done()
		console.End()
	}()

	// 5. 运行到会话结束
	if err := console.Run(ctx); err != nil {
		l.Error("console session failed", "error", err)
	}
}
