package server

import "cycles/protocol"

// Game 模拟层能力（权威规则由 game 包实现）。
// 所有方法都在 Server.mu 下调用，实现无需自行加锁。
type Game interface {
	// AddPlayer 分配玩家 ID 与颜色
	AddPlayer(name string) (protocol.PlayerID, protocol.Color, error)
	// RemovePlayer 移除玩家；不存在时为空操作
	RemovePlayer(id protocol.PlayerID)
	// HasPlayer 玩家是否仍在模拟中存活
	HasPlayer(id protocol.PlayerID) bool
	// MovePlayers 应用本帧收集到的方向
	MovePlayers(moves map[protocol.PlayerID]protocol.Direction)
	IsGameOver() bool
	SetFrame(frame int32)
	// Snapshot 当前帧的只读快照
	Snapshot() *protocol.GameState
}
