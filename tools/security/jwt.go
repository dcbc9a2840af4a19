package security

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Options 控制签名与TTL等参数。
type Options struct {
	Secret []byte        // HMAC 密钥（生产用ENV/KMS）
	Alg    string        // HS256/HS384/HS512（默认 HS256）
	TTL    time.Duration // 令牌有效期（默认 12h）
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: 12 * time.Hour}
}

// Roles carried in the "role" claim.
const (
	RoleDoctor = "doctor"
	RoleAdmin  = "admin"
)

// Claims is what the chat core consumes from a verified token.
type Claims struct {
	Subject  string
	Role     string
	DoctorID *int64
	Expires  time.Time
}

// JWT issues and verifies HMAC tokens.
type JWT struct {
	opts   Options
	method jwtlib.SigningMethod
}

func NewJWT(opts Options) (*JWT, error) {
	if len(opts.Secret) == 0 {
		return nil, errors.New("jwt: empty secret")
	}
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return nil, err
	}
	if opts.TTL <= 0 {
		opts.TTL = 12 * time.Hour
	}
	return &JWT{opts: opts, method: method}, nil
}

// Generate signs a token for subject. doctorID < 0 omits the claim.
func (j *JWT) Generate(subject, role string, doctorID int64) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(j.opts.TTL)
	claims := jwtlib.MapClaims{
		"sub":  subject,
		"role": role,
		"iat":  now.Unix(),
		"nbf":  now.Unix(),
		"exp":  exp.Unix(),
	}
	if doctorID >= 0 {
		claims["doctor_id"] = doctorID
	}
	signed, err := jwtlib.NewWithClaims(j.method, claims).SignedString(j.opts.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (j *JWT) Verify(token string) (*Claims, error) {
	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (interface{}, error) {
		// 仅允许 HMAC 家族
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return j.opts.Secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	mc, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, errors.New("claims type mismatch")
	}
	return claimsFromMap(mc)
}

func claimsFromMap(mc jwtlib.MapClaims) (*Claims, error) {
	sub, err := mc.GetSubject()
	if err != nil || sub == "" {
		// 兼容 sub 为数字的旧令牌
		if f, ok := mc["sub"].(float64); ok {
			sub = strconv.FormatInt(int64(f), 10)
		} else {
			return nil, errors.New("missing sub")
		}
	}
	out := &Claims{Subject: sub}
	if role, ok := mc["role"].(string); ok {
		out.Role = strings.ToLower(role)
	}
	switch v := mc["doctor_id"].(type) {
	case float64:
		id := int64(v)
		out.DoctorID = &id
	case string:
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			out.DoctorID = &id
		}
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		out.Expires = exp.Time
	}
	return out, nil
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}
