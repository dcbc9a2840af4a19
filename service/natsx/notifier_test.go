package natsx

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"consultchat/module/consult/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	subject string
	data    []byte
	hdr     map[string]string
}

type fakePublisher struct {
	fails int
	calls []sent
}

func (f *fakePublisher) Publish(_ context.Context, subject string, data []byte, hdr map[string]string) error {
	f.calls = append(f.calls, sent{subject, data, hdr})
	if f.fails > 0 {
		f.fails--
		return errors.New("nats down")
	}
	return nil
}

func TestPushNotifierSubjectAndBody(t *testing.T) {
	pub := &fakePublisher{}
	n := NewPushNotifier(NewNatsxProducer(pub), "")

	err := n.Notify(context.Background(), service.PushNotice{
		DoctorID: 7, Address: "push-7", RoomID: "R", MessageID: "m1", Preview: "hello",
	})
	require.NoError(t, err)
	require.Len(t, pub.calls, 1)
	assert.Equal(t, "consult.push.7", pub.calls[0].subject)
	assert.Equal(t, "m1", pub.calls[0].hdr["Nats-Msg-Id"])

	var got service.PushNotice
	require.NoError(t, json.Unmarshal(pub.calls[0].data, &got))
	assert.Equal(t, "push-7", got.Address)
	assert.Equal(t, "hello", got.Preview)
}

func TestProducerRetries(t *testing.T) {
	pub := &fakePublisher{fails: 2}
	p := &NatsxProducer{P: pub, Retries: 2, Backoff: time.Millisecond}
	require.NoError(t, p.Publish(context.Background(), "s", nil, nil))
	assert.Len(t, pub.calls, 3)

	pub = &fakePublisher{fails: 5}
	p = &NatsxProducer{P: pub, Retries: 1, Backoff: time.Millisecond}
	assert.Error(t, p.Publish(context.Background(), "s", nil, nil))
	assert.Len(t, pub.calls, 2)
}

func TestPublishOnceKeepsCallerHeader(t *testing.T) {
	pub := &fakePublisher{}
	p := NewNatsxProducer(pub)
	hdr := map[string]string{"a": "b"}
	require.NoError(t, p.PublishOnce(context.Background(), "s", nil, hdr, ""))
	assert.NotEmpty(t, pub.calls[0].hdr["Nats-Msg-Id"])
	assert.Len(t, hdr, 1, "caller map untouched")
}

func TestLogNotifierNeverFails(t *testing.T) {
	assert.NoError(t, LogNotifier{}.Notify(context.Background(), service.PushNotice{DoctorID: 1}))
}
