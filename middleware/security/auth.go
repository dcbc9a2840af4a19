package security

import (
	"net/http"
	"strings"

	"consultchat/module/consult/model"
	"consultchat/module/consult/service"
	"consultchat/tools/errs"
	"consultchat/tools/security"

	"github.com/gin-gonic/gin"
)

// ===== context key =====
const PPCtxIdentityKey = "identity" // model.Identity

type Verifier interface {
	Verify(token string) (*security.Claims, error)
}

type Options struct {
	Verifier Verifier
	Doctors  service.DoctorLookup
	// 读取哪个请求头
	HeaderToken string // 默认 "Authorization"，兼容 Bearer 前缀
}

// Middleware rejects requests without a valid token and stores the resolved
// identity in the gin context.
func Middleware(opts Options) gin.HandlerFunc {
	if opts.HeaderToken == "" {
		opts.HeaderToken = "Authorization"
	}
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader(opts.HeaderToken))
		if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
			token = strings.TrimSpace(token[7:])
		}
		if token == "" {
			abort(c, errs.ErrUnauthorized)
			return
		}
		claims, err := opts.Verifier.Verify(token)
		if err != nil {
			abort(c, errs.ErrUnauthorized)
			return
		}
		c.Set(PPCtxIdentityKey, service.ResolveIdentity(c.Request.Context(), claims, opts.Doctors))
		c.Next()
	}
}

// RequireRole 必须在 Middleware 之后
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := IdentityFrom(c)
		if !ok {
			abort(c, errs.ErrUnauthorized)
			return
		}
		for _, r := range roles {
			if id.Role == r {
				c.Next()
				return
			}
		}
		abort(c, errs.ErrForbidden)
	}
}

func IdentityFrom(c *gin.Context) (model.Identity, bool) {
	v, ok := c.Get(PPCtxIdentityKey)
	if !ok {
		return model.Identity{}, false
	}
	id, ok := v.(model.Identity)
	return id, ok
}

func abort(c *gin.Context, ce *errs.CodeError) {
	status := ce.Code
	if status == 0 {
		status = http.StatusUnauthorized
	}
	c.AbortWithStatusJSON(status, gin.H{"code": ce.Reason, "error": ce.Msg})
}
