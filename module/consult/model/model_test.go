package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"consultchat/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessageType(t *testing.T) {
	for in, want := range map[string]MessageType{
		"TEXT": MessageText, "image": MessageImage, " File ": MessageFile, "AUDIO": MessageAudio, "": MessageText,
	} {
		got, err := ParseMessageType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseMessageType("VIDEO")
	assert.True(t, errors.Is(err, errs.ErrBadRequest))
}

func TestIdentityKeysDoNotCollide(t *testing.T) {
	d := Identity{Kind: KindDoctor, SubjectID: "42"}
	g := GuestIdentity("42")
	assert.NotEqual(t, d.Key(), g.Key())

	b, err := json.Marshal([]Identity{d, g})
	require.NoError(t, err)
	assert.JSONEq(t, `["42","42"]`, string(b))
	assert.Nil(t, g.UserID())
	assert.Equal(t, "42", *d.UserID())
}

func TestHasDoctor(t *testing.T) {
	seven := int64(7)
	d := Identity{Kind: KindDoctor, SubjectID: "u1", DoctorID: &seven}
	assert.True(t, d.HasDoctor(7))
	assert.False(t, d.HasDoctor(8))
	assert.False(t, Identity{Kind: KindDoctor, Role: RoleAdmin}.HasDoctor(7))
	assert.False(t, GuestIdentity("c").HasDoctor(7))
}

func TestRequesterIsRoomGuest(t *testing.T) {
	r := Requester{Identity: GuestIdentity("c1"), ConnID: "c1", RoomID: "r1"}
	assert.True(t, r.IsRoomGuest("r1"))
	assert.False(t, r.IsRoomGuest("r2"))
	assert.False(t, Requester{Identity: GuestIdentity("c1")}.IsRoomGuest(""))
}

func TestMessageOrderingAndClone(t *testing.T) {
	at := time.Unix(100, 0)
	a := &Message{CreatedAt: at, Seq: 1}
	b := &Message{CreatedAt: at, Seq: 2}
	c := &Message{CreatedAt: at.Add(time.Millisecond), Seq: 0}
	assert.True(t, a.Before(b))
	assert.True(t, b.Before(c))
	assert.False(t, c.Before(a))

	seven := int64(7)
	m := &Message{ID: "m", AuthorDoctorID: &seven}
	cp := m.Clone()
	*cp.AuthorDoctorID = 8
	assert.EqualValues(t, 7, *m.AuthorDoctorID)
	assert.False(t, m.IsGuestAuthored())
}
