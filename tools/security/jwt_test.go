package security

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateVerify(t *testing.T) {
	j, err := NewJWT(DefaultOptions([]byte("secret")))
	require.NoError(t, err)

	tok, exp, err := j.Generate("12", RoleDoctor, 7)
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	c, err := j.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "12", c.Subject)
	assert.Equal(t, RoleDoctor, c.Role)
	require.NotNil(t, c.DoctorID)
	assert.EqualValues(t, 7, *c.DoctorID)
}

func TestVerifyAdminWithoutDoctorID(t *testing.T) {
	j, _ := NewJWT(DefaultOptions([]byte("secret")))
	tok, _, err := j.Generate("1", RoleAdmin, -1)
	require.NoError(t, err)

	c, err := j.Verify(tok)
	require.NoError(t, err)
	assert.Nil(t, c.DoctorID)
	assert.Equal(t, RoleAdmin, c.Role)
}

func TestVerifyRejects(t *testing.T) {
	j, _ := NewJWT(DefaultOptions([]byte("secret")))
	other, _ := NewJWT(DefaultOptions([]byte("other")))
	tok, _, _ := other.Generate("1", RoleDoctor, 1)

	_, err := j.Verify(tok)
	assert.Error(t, err, "wrong secret")

	_, err = j.Verify("not-a-token")
	assert.Error(t, err)

	expired := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub": "1", "exp": time.Now().Add(-time.Minute).Unix(),
	})
	s, _ := expired.SignedString([]byte("secret"))
	_, err = j.Verify(s)
	assert.Error(t, err)
}

func TestNumericSubject(t *testing.T) {
	c, err := claimsFromMap(jwtlib.MapClaims{"sub": float64(42), "role": "DOCTOR"})
	require.NoError(t, err)
	assert.Equal(t, "42", c.Subject)
	assert.Equal(t, RoleDoctor, c.Role)
}

func TestNewJWTValidation(t *testing.T) {
	_, err := NewJWT(Options{})
	assert.Error(t, err)
	_, err = NewJWT(Options{Secret: []byte("x"), Alg: "RS256"})
	assert.Error(t, err)
}
