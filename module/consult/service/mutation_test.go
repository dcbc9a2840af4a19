package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"consultchat/module/consult/model"
	"consultchat/module/consult/store"
	"consultchat/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	err  error
	sent chan PushNotice
}

func (f *fakeNotifier) Notify(_ context.Context, n PushNotice) error {
	f.sent <- n
	return f.err
}

type fixture struct {
	st      *store.MemoryStore
	svc     *MutationService
	rooms   *RoomService
	notify  *fakeNotifier
	commits []Mutation
	mu      sync.Mutex
}

func int64p(v int64) *int64 { return &v }

func doctorReq(subject string, doctorID int64) model.Requester {
	return model.Requester{
		Identity: model.Identity{Kind: model.KindDoctor, SubjectID: subject, Role: model.RoleDoctor, DoctorID: int64p(doctorID)},
		ConnID:   "conn-" + subject,
	}
}

func guestReq(conn, room string) model.Requester {
	return model.Requester{Identity: model.GuestIdentity(conn), ConnID: conn, RoomID: room}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.PutDoctor(ctx, &model.Doctor{ID: 7, UserID: "u7", Name: "Dr. Seven", PushAddress: "push-7"}))
	require.NoError(t, st.PutDoctor(ctx, &model.Doctor{ID: 8, UserID: "u8", Name: "Dr. Eight"}))
	require.NoError(t, st.CreateRoom(ctx, &model.Room{ID: "R", DoctorID: 7, PatientName: "Ann", Status: model.RoomActive, CreatedAt: time.Now()}))
	require.NoError(t, st.CreateRoom(ctx, &model.Room{ID: "R8", DoctorID: 8, PatientName: "Bob", Status: model.RoomActive, CreatedAt: time.Now()}))

	f := &fixture{st: st, notify: &fakeNotifier{sent: make(chan PushNotice, 8)}}
	f.svc = NewMutationService(st, WithNotifier(f.notify))
	f.svc.OnCommit(func(_ context.Context, m Mutation) {
		f.mu.Lock()
		f.commits = append(f.commits, m)
		f.mu.Unlock()
	})
	f.rooms = NewRoomService(st, f.svc.Sequencer())
	return f
}

func (f *fixture) send(t *testing.T, req model.Requester, room, content string) *model.Message {
	t.Helper()
	m, err := f.svc.Create(context.Background(), CreateRequest{Requester: req, RoomID: room, Type: model.MessageText, Content: content})
	require.NoError(t, err)
	return m
}

func TestGuestCreate(t *testing.T) {
	f := newFixture(t)
	m := f.send(t, guestReq("g1", "R"), "R", "hello")

	assert.Equal(t, "hello", m.Content)
	assert.Nil(t, m.AuthorDoctorID)
	assert.Nil(t, m.Doctor)
	assert.Equal(t, model.MessageActive, m.Status)
	require.Len(t, f.commits, 1)
	assert.Equal(t, MutationCreated, f.commits[0].Kind)
	assert.Equal(t, "g1", f.commits[0].Origin)

	select {
	case n := <-f.notify.sent:
		assert.EqualValues(t, 7, n.DoctorID)
		assert.Equal(t, "push-7", n.Address)
		assert.Equal(t, "hello", n.Preview)
	case <-time.After(time.Second):
		t.Fatal("expected push notification")
	}
}

func TestCreateTimestampMatchesHistory(t *testing.T) {
	f := newFixture(t)
	at := time.Date(2024, 3, 1, 9, 30, 0, 123456789, time.UTC)
	svc := NewMutationService(f.st, WithClock(func() time.Time { return at }))

	m, err := svc.Create(context.Background(), CreateRequest{Requester: guestReq("g1", "R"), RoomID: "R", Type: model.MessageText, Content: "hi"})
	require.NoError(t, err)
	want := at.Truncate(time.Millisecond)
	assert.Equal(t, want, m.CreatedAt)
	assert.Equal(t, want, m.UpdatedAt)

	hist, err := f.st.ListActive(context.Background(), "R")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.True(t, hist[0].CreatedAt.Equal(m.CreatedAt))
}

func TestNotificationFailureDoesNotFailCreate(t *testing.T) {
	f := newFixture(t)
	f.notify.err = errors.New("push gateway down")

	m, err := f.svc.Create(context.Background(), CreateRequest{Requester: guestReq("g1", "R"), RoomID: "R", Type: model.MessageText, Content: "hi"})
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)
	<-f.notify.sent
}

func TestDoctorCreateHasNoPushAndCarriesCard(t *testing.T) {
	f := newFixture(t)
	m := f.send(t, doctorReq("u7", 7), "R", "take two")
	require.NotNil(t, m.AuthorDoctorID)
	assert.EqualValues(t, 7, *m.AuthorDoctorID)
	require.NotNil(t, m.Doctor)
	assert.Equal(t, "Dr. Seven", m.Doctor.Name)

	select {
	case <-f.notify.sent:
		t.Fatal("doctor-authored message must not push")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCreateAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := model.Requester{Identity: model.Identity{Kind: model.KindDoctor, SubjectID: "root", Role: model.RoleAdmin}}

	cases := []struct {
		name string
		req  CreateRequest
	}{
		{"guest not joined", CreateRequest{Requester: guestReq("g1", ""), RoomID: "R"}},
		{"guest joined elsewhere", CreateRequest{Requester: guestReq("g1", "R8"), RoomID: "R"}},
		{"guest posing as doctor", CreateRequest{Requester: guestReq("g1", "R"), RoomID: "R", DoctorID: int64p(7)}},
		{"other doctor", CreateRequest{Requester: doctorReq("u8", 8), RoomID: "R"}},
		{"draft doctorId mismatch", CreateRequest{Requester: doctorReq("u7", 7), RoomID: "R", DoctorID: int64p(8)}},
		{"admin without profile", CreateRequest{Requester: admin, RoomID: "R"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.req.Type, tc.req.Content = model.MessageText, "x"
			_, err := f.svc.Create(ctx, tc.req)
			assert.True(t, errors.Is(err, errs.ErrForbidden), "got %v", err)
		})
	}
	list, _ := f.st.ListActive(ctx, "R")
	assert.Empty(t, list)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := guestReq("g1", "R")

	for _, req := range []CreateRequest{
		{Requester: g, RoomID: "R", Type: model.MessageText, Content: "   "},
		{Requester: g, RoomID: "", Type: model.MessageText, Content: "x"},
		{Requester: g, RoomID: "R", Type: model.MessageImage, Content: "not a url"},
		{Requester: g, RoomID: "R", Type: "VIDEO", Content: "https://cdn/x.mp4"},
	} {
		_, err := f.svc.Create(ctx, req)
		assert.True(t, errors.Is(err, errs.ErrBadRequest), "got %v", err)
	}

	_, err := f.svc.Create(ctx, CreateRequest{Requester: g, RoomID: "R", Type: model.MessageImage, Content: "https://cdn.example.com/a.jpg"})
	assert.NoError(t, err)

	_, err = f.svc.Create(ctx, CreateRequest{Requester: guestReq("g1", "missing"), RoomID: "missing", Type: model.MessageText, Content: "x"})
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestCompletedRoomRejectsCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.send(t, guestReq("g1", "R"), "R", "before")

	_, err := f.rooms.End(ctx, "R", doctorReq("u7", 7).Identity)
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, CreateRequest{Requester: guestReq("g1", "R"), RoomID: "R", Type: model.MessageText, Content: "after"})
	assert.True(t, errors.Is(err, errs.ErrInvalidState))

	list, _ := f.st.ListActive(ctx, "R")
	require.Len(t, list, 1)
	assert.Equal(t, "before", list[0].Content)
}

func TestEditAuthorizationSymmetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	guestMsg := f.send(t, guestReq("g1", "R"), "R", "guest says")
	docMsg := f.send(t, doctorReq("u7", 7), "R", "doctor says")
	admin := model.Requester{Identity: model.Identity{Kind: model.KindDoctor, SubjectID: "root", Role: model.RoleAdmin}}

	cases := []struct {
		name string
		req  model.Requester
		msg  *model.Message
		ok   bool
	}{
		{"guest edits guest message", guestReq("g2", "R"), guestMsg, true},
		{"guest of other room", guestReq("g3", "R8"), guestMsg, false},
		{"doctor edits guest message", doctorReq("u7", 7), guestMsg, false},
		{"guest edits doctor message", guestReq("g1", "R"), docMsg, false},
		{"author doctor", doctorReq("u7", 7), docMsg, true},
		{"other doctor", doctorReq("u8", 8), docMsg, false},
		{"admin", admin, docMsg, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before, _ := f.st.GetMessage(ctx, tc.msg.ID)
			content := "edited by " + tc.name
			got, err := f.svc.Edit(ctx, EditRequest{Requester: tc.req, MessageID: tc.msg.ID, Content: content})
			after, _ := f.st.GetMessage(ctx, tc.msg.ID)
			if tc.ok {
				require.NoError(t, err)
				assert.Equal(t, content, got.Content)
				assert.Equal(t, before.CreatedAt, got.CreatedAt)
				assert.Equal(t, before.Type, got.Type)
				return
			}
			assert.True(t, errors.Is(err, errs.ErrForbidden), "got %v", err)
			assert.Equal(t, before.Content, after.Content)
		})
	}
}

func TestDeleteAuthorizationAndTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.send(t, doctorReq("u7", 7), "R", "to delete")

	_, err := f.svc.Delete(ctx, DeleteRequest{Requester: doctorReq("u8", 8), MessageID: m.ID})
	assert.True(t, errors.Is(err, errs.ErrForbidden))

	_, err = f.svc.Delete(ctx, DeleteRequest{Requester: doctorReq("u7", 7), MessageID: m.ID, RoomID: "R8"})
	assert.True(t, errors.Is(err, errs.ErrNotFound), "room mismatch")

	id, err := f.svc.Delete(ctx, DeleteRequest{Requester: doctorReq("u7", 7), MessageID: m.ID, RoomID: "R"})
	require.NoError(t, err)
	assert.Equal(t, m.ID, id)

	_, err = f.svc.Delete(ctx, DeleteRequest{Requester: doctorReq("u7", 7), MessageID: m.ID})
	assert.True(t, errors.Is(err, errs.ErrNotFound))
	_, err = f.svc.Edit(ctx, EditRequest{Requester: doctorReq("u7", 7), MessageID: m.ID, Content: "zombie"})
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	stored, _ := f.st.GetMessage(ctx, m.ID)
	assert.Equal(t, "to delete", stored.Content)
	assert.Equal(t, model.MessageDeleted, stored.Status)

	hist, err := f.svc.History(ctx, "R")
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestEditNonTextIsInvalidOperation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, err := f.svc.Create(ctx, CreateRequest{Requester: guestReq("g1", "R"), RoomID: "R", Type: model.MessageAudio, Content: "https://cdn.example.com/a.ogg"})
	require.NoError(t, err)

	_, err = f.svc.Edit(ctx, EditRequest{Requester: guestReq("g1", "R"), MessageID: m.ID, Content: "text now"})
	assert.True(t, errors.Is(err, errs.ErrInvalidOperation))
}

func TestEditInCompletedRoomAllowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.send(t, doctorReq("u7", 7), "R", "typo")
	_, err := f.rooms.End(ctx, "R", doctorReq("u7", 7).Identity)
	require.NoError(t, err)

	got, err := f.svc.Edit(ctx, EditRequest{Requester: doctorReq("u7", 7), MessageID: m.ID, Content: "fixed"})
	require.NoError(t, err)
	assert.Equal(t, "fixed", got.Content)
}

func TestReplayedCreateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := CreateRequest{Requester: guestReq("g1", "R"), RoomID: "R", Type: model.MessageText, Content: "once", ClientMsgID: "local-1"}

	first, err := f.svc.Create(ctx, req)
	require.NoError(t, err)

	// 新连接重放
	req.Requester = guestReq("g1-reconnected", "R")
	again, err := f.svc.Create(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	list, _ := f.st.ListActive(ctx, "R")
	assert.Len(t, list, 1)
	assert.Len(t, f.commits, 1, "replay is not re-broadcast")
}

func TestHistoryOrderAndCards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := time.Unix(1700000000, 0)
	f.svc.now = func() time.Time { return at } // 相同时间戳，靠 seq 排序

	var want []string
	for i := 0; i < 5; i++ {
		req := guestReq("g1", "R")
		if i%2 == 1 {
			req = doctorReq("u7", 7)
		}
		want = append(want, f.send(t, req, "R", fmt.Sprintf("m%d", i)).ID)
	}
	hist, err := f.svc.History(ctx, "R")
	require.NoError(t, err)
	got := make([]string, 0, len(hist))
	for _, m := range hist {
		got = append(got, m.ID)
		if m.AuthorDoctorID != nil {
			require.NotNil(t, m.Doctor)
			assert.Equal(t, "Dr. Seven", m.Doctor.Name)
		}
	}
	assert.Equal(t, want, got)

	_, err = f.svc.History(ctx, "nope")
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestConcurrentEditDeleteSameMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.send(t, doctorReq("u7", 7), "R", "v0")

	var wg sync.WaitGroup
	var deletes, deleteNotFound int
	var mu sync.Mutex
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, _ = f.svc.Edit(ctx, EditRequest{Requester: doctorReq("u7", 7), MessageID: m.ID, Content: fmt.Sprintf("v%d", i+1)})
		}(i)
		go func() {
			defer wg.Done()
			_, err := f.svc.Delete(ctx, DeleteRequest{Requester: doctorReq("u7", 7), MessageID: m.ID})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				deletes++
			} else if errors.Is(err, errs.ErrNotFound) {
				deleteNotFound++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, deletes, "exactly one delete wins")
	assert.Equal(t, 19, deleteNotFound)

	// 删除之后不应再有编辑提交
	f.mu.Lock()
	defer f.mu.Unlock()
	seenDelete := false
	for _, c := range f.commits {
		if c.Kind == MutationDeleted {
			seenDelete = true
			continue
		}
		assert.False(t, seenDelete && c.Kind == MutationEdited, "edit committed after delete")
	}
	assert.Equal(t, 0, f.svc.Sequencer().Len())
}
