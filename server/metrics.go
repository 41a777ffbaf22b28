package server

import (
	"sync/atomic"
)

// Metrics 记录服务端运行期的关键指标（用于监控与调试）
type Metrics struct {
	TickCount          int64 // 统计的 Tick 次数
	TotalTickNs        int64 // Tick 累计耗时（纳秒）
	TickFaults         int64 // Tick 内捕获的异常
	Rounds             int64 // 执行过的同步轮次
	TimedOut           int64 // 因超时被驱逐的玩家数
	LivenessEvicted    int64 // 因阵亡或断线被驱逐的玩家数
	InputsCollected    int64 // 成功解析的输入数
	MalformedInputs    int64 // 格式错误被丢弃的输入数
	HandshakesOK       int64 // 完成的握手
	HandshakesFailed   int64 // 握手 I/O 或解析失败
	HandshakesRejected int64 // 因满员或停止接入被拒绝
}

func (m *Metrics) IncTickFault() { atomic.AddInt64(&m.TickFaults, 1) }
func (m *Metrics) IncRounds() { atomic.AddInt64(&m.Rounds, 1) }
func (m *Metrics) AddTimedOut(n int64) { atomic.AddInt64(&m.TimedOut, n) }
func (m *Metrics) IncLivenessEvicted() { atomic.AddInt64(&m.LivenessEvicted, 1) }
func (m *Metrics) IncInputs() { atomic.AddInt64(&m.InputsCollected, 1) }
func (m *Metrics) IncMalformed() { atomic.AddInt64(&m.MalformedInputs, 1) }
func (m *Metrics) IncHandshakeOK() { atomic.AddInt64(&m.HandshakesOK, 1) }
func (m *Metrics) IncHandshakeFailed() { atomic.AddInt64(&m.HandshakesFailed, 1) }
func (m *Metrics) IncHandshakeRejected() { atomic.AddInt64(&m.HandshakesRejected, 1) }
func (m *Metrics) AddTick(ns int64) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Metrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":          tick,
		"avg_tick_ms":         avgMs,
		"tick_faults":         atomic.LoadInt64(&m.TickFaults),
		"rounds":              atomic.LoadInt64(&m.Rounds),
		"timed_out":           atomic.LoadInt64(&m.TimedOut),
		"liveness_evicted":    atomic.LoadInt64(&m.LivenessEvicted),
		"inputs_collected":    atomic.LoadInt64(&m.InputsCollected),
		"malformed_inputs":    atomic.LoadInt64(&m.MalformedInputs),
		"handshakes_ok":       atomic.LoadInt64(&m.HandshakesOK),
		"handshakes_failed":   atomic.LoadInt64(&m.HandshakesFailed),
		"handshakes_rejected": atomic.LoadInt64(&m.HandshakesRejected),
	}
}
