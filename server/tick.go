package server

import (
	"context"
	"runtime/debug"
	"time"

	"cycles/protocol"
)

const (
	// TicksPerSecond 世界推进频率（约 30 TPS）
	TicksPerSecond = 30
	// DefaultTickPeriod 约 33ms
	DefaultTickPeriod = time.Second / TicksPerSecond
)

// Run 启动 Tick 循环（单线程推进世界），直到游戏结束、ctx 取消或 Stop
func (s *Server) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}
	defer s.running.Store(false)

	ticker := s.clock.NewTicker(s.opts.TickPeriod)
	defer ticker.Stop()
	Log.Infof("game loop started: tick=%s deadline=%s", s.opts.TickPeriod, s.sync.Deadline())
	for s.running.Load() {
		if s.gameOver() {
			Log.Infof("game over at frame %d", s.frame.Load())
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
		}
		if !s.running.Load() {
			break
		}
		s.Tick()
	}
	return nil
}

// Stop 请求 Tick 循环在下一次检查时退出
func (s *Server) Stop() {
	s.running.Store(false)
}

func (s *Server) gameOver() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.game.IsGameOver()
}

// Tick 执行一帧：标记帧号 → 存活检查 → 同步轮次 → 驱逐超时者 → 应用移动。
// 帧内的 panic 被捕获并记录，帧号无论如何只递增一次。
func (s *Server) Tick() (round *Round) {
	frame := s.frame.Load()
	start := s.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			s.metrics.IncTickFault()
			Log.Errorw("error during game loop execution", "frame", frame, "panic", r, "stack", string(debug.Stack()))
		}
		s.frame.Add(1)
		s.metrics.AddTick(s.clock.Since(start).Nanoseconds())
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.game.SetFrame(frame)
	s.checkPlayers()

	payload := protocol.EncodeGameState(s.game.Snapshot())
	round = s.sync.Run(frame, s.registry.Snapshot(), payload)

	for _, id := range round.TimedOut() {
		Log.Infow("client did not complete the round in time", "frame", frame, "player", id)
		s.evict(id, "round timeout")
	}
	s.game.MovePlayers(round.Collected())
	return round
}
