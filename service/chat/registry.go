package chat

import (
	"sort"
	"sync"

	"consultchat/module/consult/model"
)

type identityEntry struct {
	identity model.Identity
	conns    map[string]struct{}
}

// Registry 身份 -> 连接集合。身份在线当且仅当集合非空。
type Registry struct {
	mu         sync.RWMutex
	byIdentity map[model.IdentityKey]*identityEntry
	byConn     map[string]model.IdentityKey
}

func NewRegistry() *Registry {
	return &Registry{
		byIdentity: make(map[model.IdentityKey]*identityEntry),
		byConn:     make(map[string]model.IdentityKey),
	}
}

// Register adds connID to the identity's set. first is true only when the
// set went from empty to non-empty. Registering the same pair again is a
// no-op.
func (r *Registry) Register(connID string, id model.Identity) (first bool) {
	key := id.Key()
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byConn[connID]; ok {
		if old == key {
			return false
		}
		// 同一连接换身份：先从旧集合摘掉
		r.removeLocked(connID, old)
	}
	e, ok := r.byIdentity[key]
	if !ok {
		e = &identityEntry{identity: id, conns: make(map[string]struct{})}
		r.byIdentity[key] = e
	}
	first = len(e.conns) == 0
	e.conns[connID] = struct{}{}
	r.byConn[connID] = key
	return first
}

// Unregister removes connID from whichever identity owns it. last is true
// when that identity has no connections left.
func (r *Registry) Unregister(connID string) (id model.Identity, last bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.byConn[connID]
	if !ok {
		return model.Identity{}, false, false
	}
	e := r.byIdentity[key]
	id = e.identity
	last = r.removeLocked(connID, key)
	return id, last, true
}

func (r *Registry) removeLocked(connID string, key model.IdentityKey) (last bool) {
	delete(r.byConn, connID)
	e, ok := r.byIdentity[key]
	if !ok {
		return false
	}
	delete(e.conns, connID)
	if len(e.conns) == 0 {
		delete(r.byIdentity, key)
		return true
	}
	return false
}

func (r *Registry) IsOnline(id model.Identity) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byIdentity[id.Key()]
	return ok
}

// OnlineIdentities 快照，按 key 排序保证稳定输出
func (r *Registry) OnlineIdentities() []model.Identity {
	r.mu.RLock()
	out := make([]model.Identity, 0, len(r.byIdentity))
	for _, e := range r.byIdentity {
		out = append(out, e.identity)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	return out
}

// Conns lists the connection ids of an identity.
func (r *Registry) Conns(id model.Identity) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byIdentity[id.Key()]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(e.conns))
	for c := range e.conns {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity)
}
