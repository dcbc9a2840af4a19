package chat

import (
	"encoding/json"
	"net/http"
	"testing"

	"consultchat/module/consult/model"

	"github.com/stretchr/testify/require"
)

type rawFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	AckID *int64          `json:"ackId"`
}

// drain 取出连接队列里已有的全部帧
func drain(t *testing.T, c *WsConn) []rawFrame {
	t.Helper()
	var out []rawFrame
	for {
		select {
		case b := <-c.Outbound():
			var f rawFrame
			require.NoError(t, json.Unmarshal(b, &f))
			out = append(out, f)
		default:
			return out
		}
	}
}

func events(fs []rawFrame) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.Event)
	}
	return out
}

func testConn(id string, ident model.Identity) *WsConn {
	conf := ConnConf{}
	conf.norm()
	return newWsConn(id, ident, "test", conf)
}

func doctorIdentity(subject string, doctorID int64) model.Identity {
	return model.Identity{Kind: model.KindDoctor, SubjectID: subject, Role: model.RoleDoctor, DoctorID: &doctorID}
}

func mustRequest(t *testing.T, target, auth string) *http.Request {
	t.Helper()
	r, err := http.NewRequest(http.MethodGet, target, nil)
	require.NoError(t, err)
	if auth != "" {
		r.Header.Set("Authorization", auth)
	}
	return r
}
