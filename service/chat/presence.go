package chat

import (
	"sync"

	"consultchat/module/consult/model"
)

// Emitter 全局广播（所有连接）
type Emitter interface {
	EmitAll(event string, payload any)
}

// Presence derives identity-level online state from the Registry and emits
// transitions exactly once per identity. Every change is followed by the
// full roster.
type Presence struct {
	mu      sync.Mutex // 串行化 注册+发事件，保证花名册按变更顺序发出
	reg     *Registry
	emit    Emitter
	mirror  PresenceMirror
	metrics Metrics
}

func NewPresence(reg *Registry, emit Emitter, mirror PresenceMirror, m Metrics) *Presence {
	if m == nil {
		m = nopMetrics{}
	}
	return &Presence{reg: reg, emit: emit, mirror: mirror, metrics: m}
}

// Connect returns true when this connection brought the identity online.
func (p *Presence) Connect(connID string, id model.Identity) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	first := p.reg.Register(connID, id)
	if first {
		p.emit.EmitAll(EventUserOnline, PresenceEvent{ClientID: connID, UserID: id.UserID()})
		if p.mirror != nil {
			p.mirror.Online(id.Key())
		}
	}
	p.emitRosterLocked()
	return first
}

// Disconnect returns the freed identity and whether it went offline.
func (p *Presence) Disconnect(connID string) (model.Identity, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, last, ok := p.reg.Unregister(connID)
	if !ok {
		return model.Identity{}, false
	}
	if last {
		p.emit.EmitAll(EventUserOffline, PresenceEvent{ClientID: connID, UserID: id.UserID()})
		if p.mirror != nil {
			p.mirror.Offline(id.Key())
		}
	}
	p.emitRosterLocked()
	return id, last
}

func (p *Presence) Roster() []model.Identity { return p.reg.OnlineIdentities() }

func (p *Presence) IsOnline(id model.Identity) bool { return p.reg.IsOnline(id) }

func (p *Presence) emitRosterLocked() {
	roster := p.reg.OnlineIdentities()
	p.metrics.OnlineIdentities(len(roster))
	p.emit.EmitAll(EventOnlineUsers, roster)
}
