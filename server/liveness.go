package server

import "cycles/protocol"

// checkPlayers 驱逐已在模拟中阵亡或对端不可达的玩家；调用方必须持有 mu
func (s *Server) checkPlayers() []protocol.PlayerID {
	var removed []protocol.PlayerID
	for _, id := range s.registry.IDs() {
		c, _ := s.registry.Get(id)
		reason := ""
		switch {
		case !s.game.HasPlayer(id):
			reason = "died"
		case !c.Alive():
			reason = "disconnected"
		default:
			continue
		}
		if s.evict(id, reason) {
			s.metrics.IncLivenessEvicted()
			removed = append(removed, id)
		}
	}
	return removed
}
