// Package handler 提供 HTTP 请求处理器
package handler

import (
	"github.com/gin-gonic/gin"

	"omnigen-api/internal/interfaces/http/dto"
	"omnigen-api/pkg/errors"
	"omnigen-api/pkg/logger"
)

// handleError 统一错误响应
func handleError(c *gin.Context, err error) {
	appErr := errors.AsAppError(err)

	if appErr.HTTPStatus >= 500 {
		logger.Error(c.Request.Context(), "request failed", err,
			"path", c.Request.URL.Path,
			"code", string(appErr.Code),
		)
	}

	var detail *dto.ErrorDetail
	if appErr.Detail != "" {
		detail = &dto.ErrorDetail{
			ErrorCode: string(appErr.Code),
			Details:   appErr.Detail,
		}
	}
	dto.ErrorWithDetail(c, appErr.HTTPStatus, appErr.Message, detail)
}
