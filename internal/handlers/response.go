package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/ChatEngine/internal/errs"
	"github.com/Gopher0727/ChatEngine/internal/middlewares"
	logger "github.com/Gopher0727/ChatEngine/middleware/log"
)

// base 各处理器共享的响应与参数解析
type base struct {
	logger *logger.Logger
}

func newBase(l *logger.Logger) base {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return base{logger: l}
}

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "success",
		"data":    data,
	})
}

func created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, gin.H{
		"code":    0,
		"message": "success",
		"data":    data,
	})
}

// StatusOf 领域错误到 HTTP 状态码的映射
func StatusOf(err error) int {
	switch errs.KindOf(err) {
	case errs.NotFound:
		return http.StatusNotFound
	case errs.Forbidden:
		return http.StatusForbidden
	case errs.Conflict:
		return http.StatusConflict
	case errs.InvalidArgument:
		return http.StatusBadRequest
	case errs.Unauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// fail 写出错误响应，未分类的错误记录日志且不向客户端暴露细节
func (b base) fail(c *gin.Context, op string, err error) {
	code := StatusOf(err)
	ctx := c.Request.Context()
	if code == http.StatusInternalServerError {
		if errors.Is(err, context.Canceled) {
			b.logger.DebugContext(ctx, op+": client went away", zap.Error(err))
		} else {
			b.logger.ErrorContext(ctx, op+": service error",
				zap.Uint("user_id", currentUser(c)),
				zap.Error(err),
			)
		}
	}
	c.AbortWithStatusJSON(code, gin.H{
		"error":  errs.MessageOf(err),
		"reason": errs.ReasonOf(err),
	})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error":  msg,
		"reason": "invalid_request",
	})
}

// bind 解析 JSON 请求体，失败时已写出 400
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		badRequest(c, err.Error())
		return false
	}
	return true
}

func currentUser(c *gin.Context) uint {
	return c.GetUint(middlewares.ContextUserID)
}

func uintParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(v), true
}

func int64Param(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}
