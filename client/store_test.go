package client

import (
	"testing"
	"time"

	"consultchat/module/consult/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serverMsg(id, content, clientMsgID string) *model.Message {
	now := time.Now()
	return &model.Message{
		ID: id, RoomID: "R", Type: model.MessageText, Content: content, ClientMsgID: clientMsgID,
		Status: model.MessageActive, CreatedAt: now, UpdatedAt: now,
	}
}

func TestDeleteUnsentDraftDropsIt(t *testing.T) {
	s := NewStore("R", false)
	id := s.addCreate(Draft{Content: "oops"})
	opID, err := s.addDelete(id)
	require.NoError(t, err)
	assert.Empty(t, opID)
	assert.Empty(t, s.Messages())
	assert.Empty(t, s.Pending())
}

func TestEditUnsentDraftRewritesIt(t *testing.T) {
	s := NewStore("R", false)
	id := s.addCreate(Draft{Content: "v1"})
	opID, err := s.addEdit(id, "v2")
	require.NoError(t, err)
	assert.Empty(t, opID)
	ops := s.Pending()
	require.Len(t, ops, 1)
	assert.Equal(t, "v2", ops[0].Draft.Content)
}

func TestEditOfInFlightCreateWaitsForServerID(t *testing.T) {
	s := NewStore("R", false)
	id := s.addCreate(Draft{Content: "v1"})
	op, ok := s.claim(1)
	require.True(t, ok)
	assert.Equal(t, id, op.LocalID)

	_, err := s.addEdit(id, "v2")
	require.NoError(t, err)
	_, ok = s.claim(1)
	assert.False(t, ok, "edit must wait until the create is confirmed")

	s.ackCreate(id, serverMsg("m1", "v1", id))
	edit, ok := s.claim(1)
	require.True(t, ok)
	assert.Equal(t, OpEdit, edit.Kind)
	assert.Equal(t, "m1", edit.MessageID)

	e, ok := s.Entry(id)
	require.True(t, ok)
	assert.Equal(t, "m1", e.ID)
	assert.Equal(t, "v2", e.Content)
	assert.True(t, e.Pending)
}

func TestDeleteOfInFlightCreateQueuesDelete(t *testing.T) {
	s := NewStore("R", false)
	id := s.addCreate(Draft{Content: "x"})
	_, ok := s.claim(1)
	require.True(t, ok)

	_, err := s.addDelete(id)
	require.NoError(t, err)
	assert.Empty(t, s.Messages())

	s.onNew(serverMsg("m1", "x", id), id)
	assert.Empty(t, s.Messages(), "broadcast must not resurrect a locally deleted message")
	op, ok := s.claim(1)
	require.True(t, ok)
	assert.Equal(t, OpDelete, op.Kind)
	assert.Equal(t, "m1", op.MessageID)

	s.ackCreate(id, serverMsg("m1", "x", id))
	assert.Empty(t, s.Messages())
}

func TestBroadcastBeforeAck(t *testing.T) {
	s := NewStore("R", false)
	id := s.addCreate(Draft{Content: "hi"})
	_, _ = s.claim(1)

	s.onNew(serverMsg("m1", "hi", id), id)
	s.ackCreate(id, serverMsg("m1", "hi", id))
	s.onNew(serverMsg("m1", "hi", id), id)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.False(t, msgs[0].Pending)
	assert.Empty(t, s.Pending())
}

func TestIdenticalDraftsStayDistinct(t *testing.T) {
	s := NewStore("R", false)
	a := s.addCreate(Draft{Content: "same"})
	b := s.addCreate(Draft{Content: "same"})

	s.onNew(serverMsg("m2", "same", b), b)
	ea, _ := s.Entry(a)
	eb, _ := s.Entry(b)
	assert.Equal(t, a, ea.ID, "first draft must stay unconfirmed")
	assert.Equal(t, "m2", eb.ID)
}

func TestContentMatchFallback(t *testing.T) {
	off := NewStore("R", false)
	off.addCreate(Draft{Content: "same"})
	off.onNew(serverMsg("m1", "same", ""), "")
	assert.Len(t, off.Messages(), 2)

	on := NewStore("R", true)
	id := on.addCreate(Draft{Content: "same"})
	on.onNew(serverMsg("m1", "same", ""), "")
	msgs := on.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, id, msgs[0].LocalID)
}

func TestRemoteEditSkippedWhileLocalEditPending(t *testing.T) {
	s := NewStore("R", false)
	s.onInitial([]*model.Message{serverMsg("m1", "v1", "")})
	opID, err := s.addEdit("m1", "mine")
	require.NoError(t, err)

	s.onEdited(serverMsg("m1", "theirs", ""))
	e, _ := s.Entry("m1")
	assert.Equal(t, "mine", e.Content)

	s.ackEdit(opID, serverMsg("m1", "mine", ""))
	s.onEdited(serverMsg("m1", "theirs", ""))
	e, _ = s.Entry("m1")
	assert.Equal(t, "theirs", e.Content)
	assert.False(t, e.Pending)
}

func TestRemoteDeleteDropsEntryAndOps(t *testing.T) {
	s := NewStore("R", false)
	s.onInitial([]*model.Message{serverMsg("m1", "v1", ""), serverMsg("m2", "v2", "")})
	_, err := s.addEdit("m1", "x")
	require.NoError(t, err)

	s.onDeleted("m1")
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "m2", msgs[0].ID)
	assert.Empty(t, s.Pending())
	_, err = s.addEdit("m1", "y")
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestInitialKeepsLocalState(t *testing.T) {
	s := NewStore("R", false)
	s.onInitial([]*model.Message{serverMsg("m1", "v1", ""), serverMsg("m2", "v2", "")})
	_, err := s.addEdit("m1", "edited")
	require.NoError(t, err)
	_, err = s.addDelete("m2")
	require.NoError(t, err)
	draft := s.addCreate(Draft{Content: "draft"})
	sent := s.addCreate(Draft{Content: "sent"})

	// 重连后的历史：m2 仍在（删除未确认），sent 已落库
	s.onInitial([]*model.Message{
		serverMsg("m1", "v1", ""), serverMsg("m2", "v2", ""), serverMsg("m3", "sent", sent),
	})
	msgs := s.Messages()
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"m1", "m3", draft}, ids)
	assert.Equal(t, "edited", msgs[0].Content)
	assert.True(t, msgs[0].Pending)
	assert.Equal(t, sent, msgs[1].LocalID)

	kinds := map[OpKind]int{}
	for _, op := range s.Pending() {
		kinds[op.Kind]++
	}
	assert.Equal(t, map[OpKind]int{OpEdit: 1, OpDelete: 1, OpCreate: 1}, kinds)
}

func TestClaimOncePerConnection(t *testing.T) {
	s := NewStore("R", false)
	s.addCreate(Draft{Content: "a"})
	_, ok := s.claim(1)
	require.True(t, ok)
	_, ok = s.claim(1)
	assert.False(t, ok)
	_, ok = s.claim(2)
	assert.True(t, ok, "replayed on the next connection")
}

func TestRejectedOpSkippedUntilRetry(t *testing.T) {
	s := NewStore("R", false)
	id := s.addCreate(Draft{Content: "a"})
	op, ok := s.claim(1)
	require.True(t, ok)
	s.reject(op.LocalID, &RejectedError{Code: "FORBIDDEN"})

	_, ok = s.claim(2)
	assert.False(t, ok)
	e, _ := s.Entry(id)
	assert.True(t, e.Pending)

	entryID, err := s.retry(id)
	require.NoError(t, err)
	assert.Equal(t, id, entryID)
	op, ok = s.claim(2)
	require.True(t, ok)
	assert.False(t, op.Rejected)
	assert.NoError(t, op.LastErr)
}

func TestDiscardEditRestoresContent(t *testing.T) {
	s := NewStore("R", false)
	s.onInitial([]*model.Message{serverMsg("m1", "v1", "")})
	opID, err := s.addEdit("m1", "v2")
	require.NoError(t, err)
	s.reject(opID, &RejectedError{Code: "INVALID_STATE"})

	require.NoError(t, s.discard(opID))
	e, _ := s.Entry("m1")
	assert.Equal(t, "v1", e.Content)
	assert.False(t, e.Pending)
	assert.Empty(t, s.Pending())
}

func TestDiscardDeleteRestoresEntry(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m1, m2 := serverMsg("m1", "v1", ""), serverMsg("m2", "v2", "")
	m1.CreatedAt, m2.CreatedAt = t0, t0.Add(time.Second)
	s := NewStore("R", false)
	s.onInitial([]*model.Message{m1, m2})
	opID, err := s.addDelete("m1")
	require.NoError(t, err)
	require.Len(t, s.Messages(), 1)

	require.NoError(t, s.discard(opID))
	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Empty(t, s.Pending())

	// 不再隐藏，服务端推送照常生效
	s.onEdited(serverMsg("m1", "v9", ""))
	e, _ := s.Entry("m1")
	assert.Equal(t, "v9", e.Content)
}
