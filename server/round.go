package server

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"cycles/protocol"
)

// DefaultRoundDeadline 单轮广播+收集的总时长上限
const DefaultRoundDeadline = 50 * time.Millisecond

type idSet map[protocol.PlayerID]struct{}

// Round 一个 Tick 内的同步状态。
//
// 开始时 unsent 为全部已注册 ID，其余为空；结束时 collected 与 timedOut
// 恰好划分开始时的 ID 集合，unsent 与 awaiting 为空。
type Round struct {
	Frame   int32
	Started time.Time
	Elapsed time.Duration

	unsent    idSet
	awaiting  idSet
	collected map[protocol.PlayerID]protocol.Direction
	timedOut  idSet
}

func newRound(frame int32, ids []protocol.PlayerID, start time.Time) *Round {
	r := &Round{
		Frame:     frame,
		Started:   start,
		unsent:    make(idSet, len(ids)),
		awaiting:  make(idSet, len(ids)),
		collected: make(map[protocol.PlayerID]protocol.Direction, len(ids)),
		timedOut:  make(idSet),
	}
	for _, id := range ids {
		r.unsent[id] = struct{}{}
	}
	return r
}

func (r *Round) Unsent() []protocol.PlayerID { return sortedIDs(r.unsent) }
func (r *Round) Awaiting() []protocol.PlayerID { return sortedIDs(r.awaiting) }
func (r *Round) TimedOut() []protocol.PlayerID { return sortedIDs(r.timedOut) }

// Collected 已收到输入的玩家及其方向（副本）
func (r *Round) Collected() map[protocol.PlayerID]protocol.Direction {
	out := make(map[protocol.PlayerID]protocol.Direction, len(r.collected))
	for id, d := range r.collected {
		out[id] = d
	}
	return out
}

// Pending 尚未完成（未发送或未收到输入）的数量
func (r *Round) Pending() int { return len(r.unsent) + len(r.awaiting) }

// CheckPartition 校验四个集合两两不相交，且并集等于 ids
func (r *Round) CheckPartition(ids []protocol.PlayerID) error {
	seen := make(map[protocol.PlayerID]string, len(ids))
	mark := func(name string, id protocol.PlayerID) error {
		if prev, ok := seen[id]; ok {
			return fmt.Errorf("player %d in both %s and %s", id, prev, name)
		}
		seen[id] = name
		return nil
	}
	for id := range r.unsent {
		if err := mark("unsent", id); err != nil {
			return err
		}
	}
	for id := range r.awaiting {
		if err := mark("awaiting", id); err != nil {
			return err
		}
	}
	for id := range r.collected {
		if err := mark("collected", id); err != nil {
			return err
		}
	}
	for id := range r.timedOut {
		if err := mark("timedOut", id); err != nil {
			return err
		}
	}
	if len(seen) != len(ids) {
		return fmt.Errorf("round covers %d players, want %d", len(seen), len(ids))
	}
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			return fmt.Errorf("player %d missing from round", id)
		}
	}
	return nil
}

// expire 截止时仍未完成的 ID 全部转入 timedOut
func (r *Round) expire() {
	for id := range r.unsent {
		r.timedOut[id] = struct{}{}
	}
	for id := range r.awaiting {
		r.timedOut[id] = struct{}{}
	}
	r.unsent = make(idSet)
	r.awaiting = make(idSet)
}

// Synchronizer 帧同步：每个 Tick 广播快照并在截止时间内收集输入。
//
// 连接在有数据到达、发送槽空出或断开时调用 Wake，同步循环据此重新扫描，
// 不做忙等。截止判定为 elapsed >= deadline。
type Synchronizer struct {
	clock    clockwork.Clock
	deadline atomic.Int64
	wake     chan struct{}
	metrics  *Metrics
}

func NewSynchronizer(clock clockwork.Clock, deadline time.Duration, metrics *Metrics) *Synchronizer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if deadline <= 0 {
		deadline = DefaultRoundDeadline
	}
	if metrics == nil {
		metrics = &Metrics{}
	}
	s := &Synchronizer{
		clock:   clock,
		wake:    make(chan struct{}, 1),
		metrics: metrics,
	}
	s.deadline.Store(int64(deadline))
	return s
}

// Wake 通知同步循环有连接状态变化；可在任意协程调用，不阻塞
func (s *Synchronizer) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Synchronizer) Deadline() time.Duration { return time.Duration(s.deadline.Load()) }

// SetDeadline 修改单轮截止时长，从下一轮生效
func (s *Synchronizer) SetDeadline(d time.Duration) {
	if d > 0 {
		s.deadline.Store(int64(d))
	}
}

// Run 执行一轮同步：向 conns 中每个连接发送 snapshot 并各收一个输入。
// 返回时 unsent/awaiting 为空，未完成者在 TimedOut 中，由调用方负责驱逐。
func (s *Synchronizer) Run(frame int32, conns map[protocol.PlayerID]Conn, snapshot []byte) *Round {
	deadline := s.Deadline()
	start := s.clock.Now()
	r := newRound(frame, sortedIDs(conns), start)
	if len(conns) == 0 {
		return r
	}

	// 丢弃上一轮残留的唤醒信号
	select {
	case <-s.wake:
	default:
	}

	timer := s.clock.NewTimer(deadline)
	defer timer.Stop()

loop:
	for {
		s.attempt(r, conns, snapshot)
		if r.Pending() == 0 {
			break
		}
		if s.clock.Since(start) >= deadline {
			break
		}
		select {
		case <-timer.Chan():
			break loop
		case <-s.wake:
		}
	}

	r.expire()
	r.Elapsed = s.clock.Since(start)
	s.metrics.IncRounds()
	s.metrics.AddTimedOut(int64(len(r.timedOut)))
	Log.Debugw("round finished", "frame", frame, "collected", len(r.collected),
		"timed_out", len(r.timedOut), "elapsed", r.Elapsed)
	return r
}

// attempt 对 unsent 逐个尝试发送，对 awaiting 逐个尝试接收
func (s *Synchronizer) attempt(r *Round, conns map[protocol.PlayerID]Conn, snapshot []byte) {
	for id := range r.unsent {
		if st := conns[id].TrySend(snapshot); st == StatusDone {
			delete(r.unsent, id)
			r.awaiting[id] = struct{}{}
		}
	}
	for id := range r.awaiting {
		pkt, st := conns[id].TryReceive()
		if st != StatusDone {
			continue
		}
		dir, ok := s.parseInput(r.Frame, id, pkt)
		if !ok {
			continue
		}
		delete(r.awaiting, id)
		r.collected[id] = dir
	}
}
