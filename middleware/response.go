package middleware

import (
	"net/http"

	"consultchat/logger"
	"consultchat/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorBody REST 错误体
type ErrorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func OK(c *gin.Context, data any) { c.JSON(http.StatusOK, data) }

// Fail 把 CodeError 映射为 HTTP 状态码；未分类的错误按 503 处理
func Fail(c *gin.Context, err error) {
	ce := errs.From(err)
	status := ce.Code
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}
	if status >= 500 {
		logger.Error("request failed",
			zap.String("method", c.Request.Method), zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, ErrorBody{Code: ce.Reason, Error: ce.Msg})
}
