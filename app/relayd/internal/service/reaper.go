package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/soportek/remotectl/app/relayd/internal/dao"
	"github.com/soportek/remotectl/app/relayd/internal/model"
	"github.com/soportek/remotectl/pkg/logger"
)

// RoomCloser 回收会话时通知中继拆除路由
type RoomCloser interface {
	CloseRoom(sessionID string, reason model.EndReason)
}

// ReaperConfig 空闲会话回收配置
type ReaperConfig struct {
	// IdleWindow 无任何活动多久后强制结束
	IdleWindow time.Duration `mapstructure:"idle_window" json:"idle_window"`
	// SweepInterval 扫描周期
	SweepInterval time.Duration `mapstructure:"sweep_interval" json:"sweep_interval"`
}

// DefaultReaperConfig 返回默认配置
func DefaultReaperConfig() *ReaperConfig {
	return &ReaperConfig{
		IdleWindow:    60 * time.Second,
		SweepInterval: 30 * time.Second,
	}
}

// Reaper 空闲会话回收器
// 兜底路径：中继自身的空闲计时失效（进程重启、半绑定会话）时，
// 依据存储里的 updated_at 强制回收，保证没有会话卡在非终态
type Reaper struct {
	cfg    *ReaperConfig
	store  dao.SessionStore
	svc    *SessionService
	rooms  RoomCloser
	logger logger.Logger
	cron   *cron.Cron
}

// NewReaper 创建回收器
func NewReaper(cfg *ReaperConfig, store dao.SessionStore, svc *SessionService, rooms RoomCloser, l logger.Logger) *Reaper {
	if cfg == nil {
		cfg = DefaultReaperConfig()
	}
	return &Reaper{
		cfg:    cfg,
		store:  store,
		svc:    svc,
		rooms:  rooms,
		logger: l.Named("service.reaper"),
	}
}

// Start 启动周期扫描
func (r *Reaper) Start() error {
	if r.cron != nil {
		return nil
	}
	r.cron = cron.New()

	schedule := fmt.Sprintf("@every %s", r.cfg.SweepInterval)
	if _, err := r.cron.AddFunc(schedule, r.Sweep); err != nil {
		return fmt.Errorf("schedule reaper failed: %w", err)
	}

	r.cron.Start()
	r.logger.Info("reaper started",
		"idle_window", r.cfg.IdleWindow.String(),
		"sweep_interval", r.cfg.SweepInterval.String(),
	)
	return nil
}

// Stop 停止扫描，等待在途任务完成
func (r *Reaper) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
	r.cron = nil
}

// Sweep 单次扫描，超时会话强制走完整拆除路径
func (r *Reaper) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cutoff := time.Now().UTC().Add(-r.cfg.IdleWindow)
	stale, err := r.store.ListStaleLive(ctx, cutoff)
	if err != nil {
		r.logger.Error("stale session scan failed", "error", err)
		return
	}

	for _, sess := range stale {
		if _, err := r.svc.End(ctx, sess.ID, "", model.EndReasonTimeout); err != nil {
			r.logger.Error("failed to reap session",
				"session_id", sess.ID,
				"error", err,
			)
			continue
		}
		if r.rooms != nil {
			r.rooms.CloseRoom(sess.ID, model.EndReasonTimeout)
		}
		r.logger.Warn("session reaped after idle window",
			"session_id", sess.ID,
			"ticket_id", sess.TicketID,
			"state", string(sess.State),
		)
	}
}
