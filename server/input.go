package server

import (
	"cycles/protocol"
)

// parseInput 解析一个输入包。格式错误的包被丢弃，玩家留在 awaiting 等待下一个包；
// 持续发送错误包最终表现为超时驱逐。
func (s *Synchronizer) parseInput(frame int32, id protocol.PlayerID, pkt []byte) (protocol.Direction, bool) {
	dir, err := protocol.DecodeInput(pkt)
	if err != nil {
		s.metrics.IncMalformed()
		Log.Debugw("malformed input", "frame", frame, "player", id, "err", err)
		return 0, false
	}
	s.metrics.IncInputs()
	return dir, true
}
