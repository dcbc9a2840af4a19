package errs

import (
	"errors"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// CodeError is the error type every layer hands to the wire. Code doubles as
// the HTTP status for REST responses; Reason is the stable machine string
// sent in acks.
type CodeError struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, reason, msg string) *CodeError {
	return &CodeError{Code: code, Reason: reason, Msg: msg}
}

func (e *CodeError) WithDetail(detail string) *CodeError {
	d := detail
	if e.Detail != "" {
		d = e.Detail + ", " + detail
	}
	return &CodeError{Code: e.Code, Reason: e.Reason, Msg: e.Msg, Detail: d}
}

// WrapMsg 返回带调用栈的副本，detail 由 msg + kv 拼出
func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	if msg == "" && len(kv) == 0 {
		return pkgerrors.WithStack(e.WithDetail(""))
	}
	return pkgerrors.WithStack(e.WithDetail(toString(msg, kv)))
}

// Is matches on Code so wrapped copies with different details still satisfy
// errors.Is(err, errs.ErrNotFound).
func (e *CodeError) Is(target error) bool {
	var t *CodeError
	if !errors.As(target, &t) || t == nil || e == nil {
		return false
	}
	return e.Code == t.Code && e.Reason == t.Reason
}

func (e *CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

// Wrap attaches a stack and message, leaving nil untouched.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(err, msg)
}

// Wrapf is Wrap with formatting.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrapf(err, format, args...)
}

// From extracts the CodeError in err's chain. Anything uncoded is reported as
// TransientIO since it came from a collaborator we could not classify.
func From(err error) *CodeError {
	if err == nil {
		return nil
	}
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce
	}
	return ErrTransientIO.WithDetail(err.Error())
}

// IO classifies a collaborator failure as TransientIO unless it already
// carries a code.
func IO(err error, msg string) error {
	if err == nil {
		return nil
	}
	var ce *CodeError
	if errors.As(err, &ce) {
		return pkgerrors.Wrap(err, msg)
	}
	return pkgerrors.Wrap(ErrTransientIO.WithDetail(err.Error()), msg)
}

func toString(msg string, kv []any) string {
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i+1 < len(kv); i += 2 {
		if sb.Len() > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(anyString(kv[i]))
		sb.WriteString("=")
		sb.WriteString(anyString(kv[i+1]))
	}
	return sb.String()
}

func anyString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case error:
		return t.Error()
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmtAny(t)
	}
}
