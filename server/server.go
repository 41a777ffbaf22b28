package server

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"

	"cycles/protocol"
)

// Options 服务端运行参数
type Options struct {
	MaxClients       int
	TickPeriod       time.Duration
	RoundDeadline    time.Duration
	HandshakeTimeout time.Duration
	Clock            clockwork.Clock // 为空时使用真实时钟
}

func (o *Options) setDefaults() {
	if o.MaxClients <= 0 {
		o.MaxClients = 8
	}
	if o.TickPeriod <= 0 {
		o.TickPeriod = DefaultTickPeriod
	}
	if o.RoundDeadline <= 0 {
		o.RoundDeadline = DefaultRoundDeadline
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
}

// Server 权威服务端：连接注册表与模拟状态共用一把锁。
//
// Tick 在整个临界区（存活检查 + 完整同步轮次，包括所有 I/O 重试）内持有 mu；
// 接入协程只在登记玩家的瞬间持有 mu，阻塞在 accept 或握手 I/O 时不持锁。
type Server struct {
	mu       sync.Mutex
	registry *Registry
	game     Game

	sync    *Synchronizer
	clock   clockwork.Clock
	opts    Options
	metrics *Metrics

	frame     atomic.Int32
	accepting atomic.Bool
	running   atomic.Bool

	listenersMu sync.Mutex
	listeners   []Listener
	stopAccept  chan struct{}
	stopOnce    sync.Once
}

// New 创建服务端；game 的生命周期归调用方
func New(game Game, opts Options) *Server {
	opts.setDefaults()
	metrics := &Metrics{}
	s := &Server{
		registry: NewRegistry(),
		game:     game,
		sync:     NewSynchronizer(opts.Clock, opts.RoundDeadline, metrics),
		clock:    opts.Clock,
		opts:     opts,
		metrics:  metrics,

		stopAccept: make(chan struct{}),
	}
	s.accepting.Store(true)
	return s
}

// Frame 下一个要执行的帧号
func (s *Server) Frame() int32 { return s.frame.Load() }

func (s *Server) Metrics() *Metrics { return s.metrics }

func (s *Server) Synchronizer() *Synchronizer { return s.sync }

// Accepting 是否仍在接入新客户端
func (s *Server) Accepting() bool { return s.accepting.Load() }

// SetAccepting 开关接入；关闭后新到达的握手被拒绝
func (s *Server) SetAccepting(v bool) {
	if s.accepting.Swap(v) != v {
		Log.Infof("accepting clients: %v", v)
	}
}

// PlayerCount 已注册连接数
func (s *Server) PlayerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Len()
}

// Registered 报告 id 是否仍在注册表中
func (s *Server) Registered(id protocol.PlayerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.registry.Get(id)
	return ok
}

// evict 从模拟与注册表中同时移除玩家并关闭连接；调用方必须持有 mu。
// 重复驱逐是空操作。
func (s *Server) evict(id protocol.PlayerID, reason string) bool {
	s.game.RemovePlayer(id)
	c, ok := s.registry.Remove(id)
	if !ok {
		return false
	}
	if err := c.Close(); err != nil {
		Log.Debugw("close after eviction", "player", id, "err", err)
	}
	Log.Infow("player evicted", "frame", s.frame.Load(), "player", id, "reason", reason)
	return true
}

// addListener 登记接入端；已调用 StopAccepting 时返回 false
func (s *Server) addListener(l Listener) bool {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	select {
	case <-s.stopAccept:
		return false
	default:
	}
	s.listeners = append(s.listeners, l)
	return true
}

// StopAccepting 永久停止接入：清除接入标志并关闭所有接入端，Serve 随之返回。
// 与 SetAccepting(false) 的暂停不同，之后无法重新开启。
func (s *Server) StopAccepting() error {
	s.SetAccepting(false)
	s.stopOnce.Do(func() { close(s.stopAccept) })

	var err error
	s.listenersMu.Lock()
	for _, l := range s.listeners {
		err = multierr.Append(err, l.Close())
	}
	s.listeners = nil
	s.listenersMu.Unlock()
	return err
}

// Close 停止接入，关闭所有接入端与已注册连接
func (s *Server) Close() error {
	err := s.StopAccepting()
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.registry.IDs() {
		c, _ := s.registry.Remove(id)
		err = multierr.Append(err, c.Close())
	}
	return err
}
