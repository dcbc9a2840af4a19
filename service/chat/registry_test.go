package chat

import (
	"testing"

	"consultchat/module/consult/model"

	"github.com/stretchr/testify/assert"
)

func TestRegistryTransitions(t *testing.T) {
	r := NewRegistry()
	d := doctorIdentity("u7", 7)

	assert.True(t, r.Register("c1", d))
	assert.False(t, r.Register("c2", d))
	assert.False(t, r.Register("c2", d), "same pair again is a no-op")
	assert.Equal(t, []string{"c1", "c2"}, r.Conns(d))
	assert.Equal(t, 1, r.Len())

	id, last, ok := r.Unregister("c1")
	assert.True(t, ok)
	assert.False(t, last)
	assert.Equal(t, "u7", id.SubjectID)
	assert.True(t, r.IsOnline(d))

	_, last, ok = r.Unregister("c2")
	assert.True(t, ok)
	assert.True(t, last)
	assert.False(t, r.IsOnline(d))

	_, _, ok = r.Unregister("c2")
	assert.False(t, ok)
}

func TestRegistryGuestsAreDistinct(t *testing.T) {
	r := NewRegistry()
	assert.True(t, r.Register("g1", model.GuestIdentity("g1")))
	assert.True(t, r.Register("g2", model.GuestIdentity("g2")))
	assert.True(t, r.Register("d1", doctorIdentity("u7", 7)))

	ids := r.OnlineIdentities()
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, id.Key().String())
	}
	assert.Equal(t, []string{"doctor:u7", "guest:g1", "guest:g2"}, keys)
}
