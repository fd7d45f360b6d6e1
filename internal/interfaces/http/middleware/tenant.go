// Package middleware 提供 HTTP 中间件
package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"omnigen-api/internal/application/tenantctx"
	"omnigen-api/internal/domain/entity"
	"omnigen-api/pkg/errors"
	"omnigen-api/pkg/logger"
)

// Gin Context 中的租户相关键
const (
	tenantKey     = "tenant"
	tenantViewKey = "tenant_view"
)

// Tenant 租户解析中间件
// 解析入站请求所属租户，装载配置视图并注入上下文
// 解析失败的请求不会到达任何业务 Handler
func Tenant(resolver *tenantctx.Resolver, queryParam, headerName string) gin.HandlerFunc {
	if headerName == "" {
		headerName = "X-Tenant-ID"
	}
	if queryParam == "" {
		queryParam = "tenant"
	}

	return func(c *gin.Context) {
		meta := tenantctx.RequestMeta{
			Host:         c.Request.Host,
			Path:         c.Request.URL.Path,
			TenantHeader: c.GetHeader(headerName),
			BearerToken:  bearerToken(c),
			QueryTenant:  c.Query(queryParam),
		}

		tenant, view, err := resolver.Resolve(c.Request.Context(), meta)
		if err != nil {
			appErr := errors.AsAppError(err)
			c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
				"code":     appErr.Code,
				"message":  appErr.Message,
				"trace_id": c.GetString("trace_id"),
			})
			return
		}

		c.Set(tenantKey, tenant)
		c.Set(tenantViewKey, view)
		c.Set("tenant_id", tenant.ID)

		ctx := logger.WithContext(c.Request.Context(), logger.TenantIDKey, tenant.ID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// bearerToken 提取 Authorization 头中的 Bearer Token，不做校验
func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

// GetTenant 从 Gin Context 获取已解析的租户
func GetTenant(c *gin.Context) *entity.Tenant {
	if v, ok := c.Get(tenantKey); ok {
		if tenant, ok := v.(*entity.Tenant); ok {
			return tenant
		}
	}
	return nil
}

// GetTenantView 从 Gin Context 获取租户配置视图
func GetTenantView(c *gin.Context) *entity.ConfigView {
	if v, ok := c.Get(tenantViewKey); ok {
		if view, ok := v.(*entity.ConfigView); ok {
			return view
		}
	}
	return nil
}

// GetTenantIDFromGin 从 Gin Context 获取租户 ID
func GetTenantIDFromGin(c *gin.Context) string {
	return c.GetString("tenant_id")
}

// GetUserIDFromGin 从 Gin Context 获取用户 ID
func GetUserIDFromGin(c *gin.Context) string {
	return c.GetString("user_id")
}

// GetUserID 从 context 获取用户 ID
func GetUserID(ctx context.Context) string {
	if v := ctx.Value(logger.UserIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
