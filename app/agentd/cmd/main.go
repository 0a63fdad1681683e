package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/soportek/remotectl/app/agentd/internal/capture"
	"github.com/soportek/remotectl/app/agentd/internal/control"
	"github.com/soportek/remotectl/app/agentd/internal/native"
	"github.com/soportek/remotectl/pkg/config"
	"github.com/soportek/remotectl/pkg/logger"
)

// Config agentd 受控端配置
type Config struct {
	Log logger.Config `mapstructure:"log"`

	// Capture 采集环路配置
	Capture capture.Config `mapstructure:"capture"`

	// Control 信令通道配置
	Control control.Config `mapstructure:"control"`

	// Screen 合成画面尺寸，无头环境使用
	Screen ScreenConfig `mapstructure:"screen"`
}

// ScreenConfig 画面尺寸
type ScreenConfig struct {
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
}

func main() {
	configPath := pflag.StringP("config", "c", "configs/agentd.yaml", "config file path")
	sessionID := pflag.String("session", "", "session id to bind (overrides config)")
	token := pflag.String("token", "", "access token (overrides config)")
	pflag.Parse()

	var cfg Config

	// 1. 加载配置
	if err := config.Load(*configPath, &cfg); err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		return
	}
	if *sessionID != "" {
		cfg.Control.SessionID = *sessionID
	}
	if *token != "" {
		cfg.Control.Token = *token
	}

	// 2. 初始化日志
	l, err := logger.New(&cfg.Log)
	if err != nil {
		panic(err)
	}
	defer l.Sync()

	// 3. 初始化本机代理
	agent := native.NewPatternAgent(cfg.Screen.Width, cfg.Screen.Height)

	// 4. 初始化采集环路与控制客户端
	loop := capture.NewLoop(&cfg.Capture, agent, l)
	client := control.NewClient(&cfg.Control, agent, loop, l)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 5. 信号触发主动结束
	go func() {
		<-ctx.Done()
		client.Stop()
	}()

	// 6. 运行到会话结束
	if err := client.Run(ctx); err != nil {
		l.Error("agent session failed", "error", err)
	}
}
