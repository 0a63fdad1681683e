package handler

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"github.com/soportek/remotectl/app/relayd/internal/model"
	"github.com/soportek/remotectl/app/relayd/internal/service"
	"github.com/soportek/remotectl/pkg/logger"
	"github.com/soportek/remotectl/pkg/web"
	"github.com/soportek/remotectl/pkg/web/middleware"
)

// 业务错误码
const (
	codeForbidden         = 1001
	codeConflict          = 1002
	codeNotFound          = 1003
	codeInvalidTransition = 1004
	codeBadRequest        = 1005
	codeInternal          = 1999
)

// SessionHandler 会话 REST 接口
type SessionHandler struct {
	svc    *service.SessionService
	logger logger.Logger
}

// NewSessionHandler 创建会话接口
func NewSessionHandler(svc *service.SessionService, l logger.Logger) *SessionHandler {
	return &SessionHandler{
		svc:    svc,
		logger: l.Named("handler.session"),
	}
}

// Register 挂载路由
func (h *SessionHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/sessions", h.request)
	rg.GET("/sessions", h.list)
	rg.GET("/sessions/:id", h.get)
	rg.POST("/sessions/:id/accept", h.accept)
	rg.POST("/sessions/:id/reject", h.reject)
	rg.POST("/sessions/:id/end", h.end)
}

// requestBody 发起会话请求体
type requestBody struct {
	TicketID string `json:"ticket_id" binding:"required"`
}

// request 操作员发起远程会话
func (h *SessionHandler) request(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	var body requestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		web.Error(c, http.StatusBadRequest, codeBadRequest, "ticket_id is required")
		return
	}

	sess, err := h.svc.Request(c.Request.Context(), body.TicketID, caller)
	if err != nil {
		h.writeError(c, err)
		return
	}
	web.Success(c, sess)
}

// list 工单下的会话列表
func (h *SessionHandler) list(c *gin.Context) {
	ticketID := c.Query("ticket_id")
	if ticketID == "" {
		web.Error(c, http.StatusBadRequest, codeBadRequest, "ticket_id is required")
		return
	}

	sessions, err := h.svc.ListByTicket(c.Request.Context(), ticketID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	web.Success(c, sessions)
}

// get 查询单个会话
func (h *SessionHandler) get(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	sess, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	// 参与方或管理员可见
	if !sess.Participant(caller.UserID) && caller.Role != model.RoleAdmin {
		web.Error(c, http.StatusForbidden, codeForbidden, "not a session participant")
		return
	}
	web.Success(c, sess)
}

// accept 客户接受
func (h *SessionHandler) accept(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	sess, err := h.svc.Accept(c.Request.Context(), c.Param("id"), caller)
	if err != nil {
		h.writeError(c, err)
		return
	}
	web.Success(c, sess)
}

// reject 客户拒绝
func (h *SessionHandler) reject(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	sess, err := h.svc.Reject(c.Request.Context(), c.Param("id"), caller)
	if err != nil {
		h.writeError(c, err)
		return
	}
	web.Success(c, sess)
}

// end 任一参与方结束
func (h *SessionHandler) end(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	sess, err := h.svc.End(c.Request.Context(), c.Param("id"), caller.UserID, "")
	if err != nil {
		h.writeError(c, err)
		return
	}
	web.Success(c, sess)
}

// writeError 服务错误到 HTTP 状态的映射
func (h *SessionHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrForbidden):
		web.Error(c, http.StatusForbidden, codeForbidden, err.Error())
	case errors.Is(err, service.ErrConflict):
		web.Error(c, http.StatusConflict, codeConflict, err.Error())
	case errors.Is(err, service.ErrNotFound):
		web.Error(c, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidTransition):
		web.Error(c, http.StatusConflict, codeInvalidTransition, err.Error())
	default:
		h.logger.Error("unexpected service error", "error", err)
		web.Error(c, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

// callerFrom 从 JWT Claims 组装调用方身份
func callerFrom(c *gin.Context) (service.Caller, bool) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		web.AbortWithError(c, http.StatusUnauthorized, codeForbidden, "missing identity")
		return service.Caller{}, false
	}
	return service.Caller{UserID: claims.UserID, Role: claims.Role}, true
}
