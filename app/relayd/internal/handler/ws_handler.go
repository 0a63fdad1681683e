package handler

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/soportek/remotectl/app/relayd/internal/relay"
	"github.com/soportek/remotectl/app/relayd/internal/service"
	"github.com/soportek/remotectl/pkg/logger"
	"github.com/soportek/remotectl/pkg/web"
	"github.com/soportek/remotectl/pkg/wire"
)

// WSHandler 信令通道接入
// 升级 websocket、比对会话参与方身份，然后把连接交给中继
type WSHandler struct {
	svc       *service.SessionService
	relay     *relay.Relay
	upgrader  websocket.Upgrader
	queueSize int
	logger    logger.Logger
}

// NewWSHandler 创建信令接入
func NewWSHandler(svc *service.SessionService, r *relay.Relay, queueSize int, l logger.Logger) *WSHandler {
	return &WSHandler{
		svc:   svc,
		relay: r,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			// 认证靠 token，跨源由反向代理处置
			CheckOrigin: func(*http.Request) bool { return true },
		},
		queueSize: queueSize,
		logger:    l.Named("handler.ws"),
	}
}

// Register 挂载路由
func (h *WSHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/ws", h.serve)
}

// serve 处理一条信令连接的完整生命周期
func (h *WSHandler) serve(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	sessionID := c.Query("session_id")
	if sessionID == "" {
		web.Error(c, http.StatusBadRequest, codeBadRequest, "session_id is required")
		return
	}

	// 绑定前校验：必须是会话参与方且会话未结束
	sess, err := h.svc.AuthorizePeer(c.Request.Context(), sessionID, caller.UserID)
	if err != nil {
		h.writeAuthError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	peer := relay.NewWSPeer(conn, caller.UserID, h.queueSize, h.logger)
	_, side, err := h.relay.Bind(c.Request.Context(), sess, caller.UserID, peer)
	if err != nil {
		h.logger.Warn("peer bind failed",
			"session_id", sessionID,
			"user_id", caller.UserID,
			"error", err,
		)
		peer.CloseWithError(err)
		return
	}

	// 读循环阻塞到连接断开；任何路由失败都视为通道故障
	readErr := peer.ReadLoop(func(env *wire.Envelope) error {
		if env.SessionID != sessionID {
			h.logger.Warn("envelope for foreign session discarded",
				"bound", sessionID,
				"got", env.SessionID,
			)
			return nil
		}
		if err := h.relay.Forward(sessionID, side, env); err != nil {
			if errors.Is(err, relay.ErrRoomClosed) {
				return err
			}
			h.logger.Warn("forward failed",
				"session_id", sessionID,
				"type", string(env.Type),
				"error", err,
			)
		}
		return nil
	})

	h.relay.PeerGone(sessionID, side, peer, readErr)
}

// writeAuthError 绑定鉴权错误
func (h *WSHandler) writeAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		web.Error(c, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, service.ErrForbidden):
		web.Error(c, http.StatusForbidden, codeForbidden, err.Error())
	default:
		web.Error(c, http.StatusConflict, codeInvalidTransition, err.Error())
	}
}
