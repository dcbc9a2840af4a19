package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	midsec "consultchat/middleware/security"
	"consultchat/module/consult/model"
	"consultchat/tools/errs"
	"consultchat/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

type tokens map[string]*security.Claims

func (v tokens) Verify(token string) (*security.Claims, error) {
	if c, ok := v[token]; ok {
		return c, nil
	}
	return nil, errors.New("invalid")
}

func newEngine() *gin.Engine {
	r := gin.New()
	rs := Routes{R: r, Auth: midsec.Middleware(midsec.Options{Verifier: tokens{
		"admin": {Subject: "root", Role: security.RoleAdmin},
		"doc":   {Subject: "u7", Role: security.RoleDoctor},
	}})}
	rs.GET("/public", func(c *gin.Context) { OK(c, gin.H{"ok": true}) }, RouteOpt{})
	rs.GET("/me", func(c *gin.Context) {
		id, _ := midsec.IdentityFrom(c)
		OK(c, gin.H{"sub": id.SubjectID})
	}, RouteOpt{IsAuth: true})
	rs.POST("/admin", func(c *gin.Context) { OK(c, gin.H{"ok": true}) }, RouteOpt{IsAuth: true, Roles: []string{model.RoleAdmin}})
	rs.GET("/boom", func(c *gin.Context) { Fail(c, errs.ErrNotFound.WrapMsg("room not found")) }, RouteOpt{})
	return r
}

func do(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRoutesAuth(t *testing.T) {
	r := newEngine()

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/public", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/me", "forged").Code)

	rec := do(r, http.MethodGet, "/me", "doc")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sub":"u7"}`, rec.Body.String())

	assert.Equal(t, http.StatusForbidden, do(r, http.MethodPost, "/admin", "doc").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/admin", "admin").Code)
}

func TestFailMapsCodeError(t *testing.T) {
	rec := do(newEngine(), http.MethodGet, "/boom", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, errs.ErrNotFound.Reason, body.Code)
}

func TestOrigin(t *testing.T) {
	r := gin.New()
	r.Use(Origin([]string{"https://clinic.example"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://clinic.example")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://clinic.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestManagerStopsOnAbort(t *testing.T) {
	m := NewManager()
	var ran []string
	m.Add(func(c *gin.Context) { ran = append(ran, "a") })
	m.Add(func(c *gin.Context) { ran = append(ran, "b"); c.AbortWithStatus(http.StatusTeapot) })
	m.Add(func(c *gin.Context) { ran = append(ran, "c") })

	r := gin.New()
	r.Use(m.Use())
	r.GET("/", func(c *gin.Context) { ran = append(ran, "handler") })
	rec := do(r, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, []string{"a", "b"}, ran)
}
