package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/soportek/remotectl/app/relayd/internal/dao"
	"github.com/soportek/remotectl/app/relayd/internal/handler"
	"github.com/soportek/remotectl/app/relayd/internal/metrics"
	"github.com/soportek/remotectl/app/relayd/internal/relay"
	"github.com/soportek/remotectl/app/relayd/internal/service"
	"github.com/soportek/remotectl/pkg/config"
	"github.com/soportek/remotectl/pkg/logger"
	"github.com/soportek/remotectl/pkg/pairing"
	"github.com/soportek/remotectl/pkg/security"
	"github.com/soportek/remotectl/pkg/web"
	"github.com/soportek/remotectl/pkg/web/middleware"
)

// Config relayd 服务配置
type Config struct {
	Log logger.Config `mapstructure:"log"`

	// Web 配置
	Web web.Config `mapstructure:"web"`

	// 会话库配置，DSN 为空时退化为内存存储
	Database DatabaseConfig `mapstructure:"database"`

	// Redis 配置，Addr 为空时配对码退化为派生码
	Redis RedisConfig `mapstructure:"redis"`

	// JWT 配置
	JWT security.JWTConfig `mapstructure:"jwt"`

	// 中继配置
	Relay relay.Config `mapstructure:"relay"`

	// 回收器配置
	Reaper service.ReaperConfig `mapstructure:"reaper"`

	// 配对码有效期
	PairingTTL time.Duration `mapstructure:"pairing_ttl"`
}

// DatabaseConfig 会话库连接配置
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 配对码存储配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func main() {
	configPath := pflag.StringP("config", "c", "configs/relayd.yaml", "config file path")
	pflag.Parse()

	var cfg Config

	// 1. 加载配置
	if err := config.Load(*configPath, &cfg); err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		return
	}

	// 2. 初始化日志
	l, err := logger.New(&cfg.Log)
	if err != nil {
		panic(err)
	}
	defer l.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. 初始化会话存储
	var store dao.SessionStore
	var pool *pgxpool.Pool
	if cfg.Database.DSN != "" {
		pool, err = pgxpool.New(ctx, cfg.Database.DSN)
		if err != nil {
			l.Error("failed to create pgx pool", "error", err)
			return
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			l.Error("failed to ping database", "error", err)
			return
		}
		store = dao.NewSessionDAO(pool, l)
	} else {
		l.Warn("no database dsn configured, using in-memory session store")
		store = dao.NewMemoryStore()
	}

	// 4. 初始化工单目录
	var dir service.Directory
	if pool != nil {
		dir = dao.NewDirectoryDAO(pool, l)
	} else {
		dir = service.NewStaticDirectory()
	}

	// 5. 初始化配对码签发器
	var codes service.CodeIssuer
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			l.Error("failed to ping redis", "error", err)
			return
		}
		codes = pairing.NewCodes(rdb, cfg.PairingTTL)
	} else {
		l.Warn("no redis configured, pairing codes derived from session id")
	}

	// 6. 初始化 JWT 管理器
	jwtMgr, err := security.NewJWTManager(&cfg.JWT)
	if err != nil {
		l.Error("failed to create jwt manager", "error", err)
		return
	}

	// 7. 初始化指标
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// 8. 初始化编排器与中继
	svc := service.NewSessionService(store, dir, codes, l, m)
	rl := relay.New(&cfg.Relay, svc, l, m)
	svc.SetRoomCloser(rl)

	// 9. 初始化回收器
	reaper := service.NewReaper(&cfg.Reaper, store, svc, rl, l)
	if err := reaper.Start(); err != nil {
		l.Error("failed to start reaper", "error", err)
		return
	}
	defer reaper.Stop()

	// 10. 初始化 Web 服务与路由
	server := web.NewServer(&cfg.Web, l)
	server.Router().GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	api := server.Router().Group("/api/remote", middleware.Auth(jwtMgr))
	handler.NewSessionHandler(svc, l).Register(api)
	handler.NewWSHandler(svc, rl, cfg.Relay.SendQueueSize, l).Register(api)

	// 11. 启动
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		l.Error("relayd exited with error", "error", err)
	}
	rl.Shutdown()
}
