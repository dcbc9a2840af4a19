package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"consultchat/module/consult/model"
	"consultchat/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(id, room string, at time.Time, seq int64) *model.Message {
	return &model.Message{
		ID: id, RoomID: room, Type: model.MessageText, Content: id,
		Status: model.MessageActive, CreatedAt: at, UpdatedAt: at, Seq: seq,
	}
}

func TestListActiveOrderAndSoftDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Unix(1000, 0)

	// 插入顺序故意打乱
	require.NoError(t, s.CreateMessage(ctx, msg("c", "r1", base.Add(2*time.Second), 3)))
	require.NoError(t, s.CreateMessage(ctx, msg("b", "r1", base, 2)))
	require.NoError(t, s.CreateMessage(ctx, msg("a", "r1", base, 1)))
	require.NoError(t, s.CreateMessage(ctx, msg("x", "r2", base, 4)))

	_, err := s.SoftDelete(ctx, "b")
	require.NoError(t, err)

	list, err := s.ListActive(ctx, "r1")
	require.NoError(t, err)
	ids := make([]string, 0, len(list))
	for _, m := range list {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"a", "c"}, ids)

	// 行仍保留
	got, err := s.GetMessage(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, model.MessageDeleted, got.Status)
	assert.NotNil(t, got.DeletedAt)
}

func TestConditionalUpdatesOnDeleted(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateMessage(ctx, msg("m", "r", time.Now(), 1)))
	_, err := s.SoftDelete(ctx, "m")
	require.NoError(t, err)

	_, err = s.SoftDelete(ctx, "m")
	assert.True(t, errors.Is(err, errs.ErrNotFound))
	_, err = s.UpdateContent(ctx, "m", "new")
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	got, _ := s.GetMessage(ctx, "m")
	assert.Equal(t, "m", got.Content)
}

func TestReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	in := msg("m", "r", time.Now(), 1)
	require.NoError(t, s.CreateMessage(ctx, in))
	in.Content = "mutated by caller"

	got, _ := s.GetMessage(ctx, "m")
	assert.Equal(t, "m", got.Content)
	got.Content = "mutated again"
	again, _ := s.GetMessage(ctx, "m")
	assert.Equal(t, "m", again.Content)
}

func TestFindByClientMsgID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	m := msg("m", "r", time.Now(), 1)
	m.ClientMsgID = "local-1"
	require.NoError(t, s.CreateMessage(ctx, m))

	got, err := s.FindByClientMsgID(ctx, "r", "local-1")
	require.NoError(t, err)
	assert.Equal(t, "m", got.ID)

	_, err = s.FindByClientMsgID(ctx, "other", "local-1")
	assert.True(t, errors.Is(err, errs.ErrNotFound))
	_, err = s.FindByClientMsgID(ctx, "r", "")
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestRoomsLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Unix(5000, 0)
	require.NoError(t, s.CreateRoom(ctx, &model.Room{ID: "r1", DoctorID: 7, Status: model.RoomActive, CreatedAt: base}))
	require.NoError(t, s.CreateRoom(ctx, &model.Room{ID: "r2", DoctorID: 8, Status: model.RoomActive, CreatedAt: base.Add(time.Minute)}))
	assert.Error(t, s.CreateRoom(ctx, &model.Room{ID: "r1"}))

	all, _ := s.ListRooms(ctx, RoomFilter{})
	require.Len(t, all, 2)
	assert.Equal(t, "r2", all[0].ID, "newest first")

	seven := int64(7)
	mine, _ := s.ListRooms(ctx, RoomFilter{DoctorID: &seven})
	require.Len(t, mine, 1)
	assert.Equal(t, "r1", mine[0].ID)

	r, err := s.CompleteRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.RoomCompleted, r.Status)
	first := *r.CompletedAt

	r, err = s.CompleteRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.RoomCompleted, r.Status)
	assert.Equal(t, first, *r.CompletedAt)

	_, err = s.CompleteRoom(ctx, "missing")
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestDoctors(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.PutDoctor(ctx, &model.Doctor{ID: 7, UserID: "u7", Name: "Dr. Seven"}))

	d, err := s.DoctorByUserID(ctx, "u7")
	require.NoError(t, err)
	assert.EqualValues(t, 7, d.ID)

	_, err = s.GetDoctor(ctx, 8)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}
