package middleware

import (
	midsec "consultchat/middleware/security"

	"github.com/gin-gonic/gin"
)

// 配置选项
type RouteOpt struct {
	IsAuth bool
	Roles  []string // 非空时要求其一
}

// Routes 绑定了鉴权中间件的路由组
type Routes struct {
	R    gin.IRoutes
	Auth gin.HandlerFunc
}

func (rs Routes) chain(handler gin.HandlerFunc, opt RouteOpt) []gin.HandlerFunc {
	if !opt.IsAuth {
		return []gin.HandlerFunc{handler}
	}
	hs := []gin.HandlerFunc{rs.Auth}
	if len(opt.Roles) > 0 {
		hs = append(hs, midsec.RequireRole(opt.Roles...))
	}
	return append(hs, handler)
}

// 封装 POST
func (rs Routes) POST(path string, handler gin.HandlerFunc, opt RouteOpt) {
	rs.R.POST(path, rs.chain(handler, opt)...)
}

// 封装 GET
func (rs Routes) GET(path string, handler gin.HandlerFunc, opt RouteOpt) {
	rs.R.GET(path, rs.chain(handler, opt)...)
}
