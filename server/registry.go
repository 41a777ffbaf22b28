package server

import (
	"errors"
	"fmt"
	"sort"

	"cycles/protocol"
)

var ErrDuplicatePlayer = errors.New("server: player already registered")

// Registry 玩家 ID -> 连接句柄。本身不加锁，由 Server.mu 保护
type Registry struct {
	conns map[protocol.PlayerID]Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[protocol.PlayerID]Conn)}
}

// Add 注册连接；ID 已存在时返回 ErrDuplicatePlayer
func (r *Registry) Add(id protocol.PlayerID, c Conn) error {
	if _, ok := r.conns[id]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicatePlayer, id)
	}
	r.conns[id] = c
	return nil
}

// Remove 移除并返回连接；ID 不存在时为空操作
func (r *Registry) Remove(id protocol.PlayerID) (Conn, bool) {
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	return c, ok
}

func (r *Registry) Get(id protocol.PlayerID) (Conn, bool) {
	c, ok := r.conns[id]
	return c, ok
}

// Snapshot 返回当前映射的独立副本
func (r *Registry) Snapshot() map[protocol.PlayerID]Conn {
	out := make(map[protocol.PlayerID]Conn, len(r.conns))
	for id, c := range r.conns {
		out[id] = c
	}
	return out
}

func (r *Registry) Len() int { return len(r.conns) }

// IDs 已注册 ID，升序
func (r *Registry) IDs() []protocol.PlayerID {
	return sortedIDs(r.conns)
}

func sortedIDs[V any](m map[protocol.PlayerID]V) []protocol.PlayerID {
	ids := make([]protocol.PlayerID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
