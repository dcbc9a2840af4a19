package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMatchesByCode(t *testing.T) {
	wrapped := Wrap(ErrNotFound.WithDetail("message m1"), "edit")
	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.False(t, errors.Is(wrapped, ErrForbidden))
	assert.False(t, errors.Is(fmt.Errorf("plain"), ErrNotFound))
}

func TestForbiddenAndUnauthorizedShareTextNotReason(t *testing.T) {
	assert.Equal(t, ErrUnauthorized.Msg, ErrForbidden.Msg)
	assert.False(t, errors.Is(ErrForbidden, ErrUnauthorized))
}

func TestFrom(t *testing.T) {
	assert.Nil(t, From(nil))

	ce := From(Wrap(ErrInvalidState, "create"))
	require.NotNil(t, ce)
	assert.Equal(t, "INVALID_STATE", ce.Reason)

	ce = From(errors.New("connection reset"))
	assert.Equal(t, ErrTransientIO.Code, ce.Code)
	assert.Equal(t, "connection reset", ce.Detail)
}

func TestIOKeepsExistingCode(t *testing.T) {
	err := IO(ErrNotFound.WithDetail("room"), "get room")
	assert.True(t, errors.Is(err, ErrNotFound))

	err = IO(errors.New("timeout"), "get room")
	assert.True(t, errors.Is(err, ErrTransientIO))
	assert.Nil(t, IO(nil, "noop"))
}

func TestWrapMsgDetail(t *testing.T) {
	err := ErrBadRequest.WrapMsg("invalid content", "len", 0)
	ce := From(err)
	assert.Equal(t, "invalid content, len=0", ce.Detail)
	assert.Equal(t, "400 Bad request invalid content, len=0", ce.Error())
}
