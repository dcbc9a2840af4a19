package errs

import "fmt"

// ===== 错误分类 =====
// ErrForbidden 的文案沿用客户端已有的 "Unauthorized"，靠 Reason 区分。

var (
	ErrBadRequest       = NewCodeError(400, "BAD_REQUEST", "Bad request")
	ErrUnauthorized     = NewCodeError(401, "UNAUTHORIZED", "Unauthorized")
	ErrForbidden        = NewCodeError(403, "FORBIDDEN", "Unauthorized")
	ErrNotFound         = NewCodeError(404, "NOT_FOUND", "Not found")
	ErrInvalidState     = NewCodeError(409, "INVALID_STATE", "Invalid state")
	ErrInvalidOperation = NewCodeError(422, "INVALID_OPERATION", "Invalid operation")
	ErrRateLimited      = NewCodeError(429, "RATE_LIMITED", "Too many requests")
	ErrInternal         = NewCodeError(500, "INTERNAL", "Internal error")
	ErrTransientIO      = NewCodeError(503, "TRANSIENT_IO", "Temporary failure")
)

func fmtAny(v any) string { return fmt.Sprintf("%v", v) }
