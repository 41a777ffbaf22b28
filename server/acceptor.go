package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"cycles/protocol"
)

// DefaultHandshakeTimeout 握手（收名字、发颜色）的总时长上限
const DefaultHandshakeTimeout = 5 * time.Second

var (
	ErrServerFull   = errors.New("server: max clients reached")
	ErrNotAccepting = errors.New("server: not accepting clients")
	// ErrEvictedDuringHandshake 回发颜色期间该玩家已被 Tick 驱逐
	ErrEvictedDuringHandshake = errors.New("server: evicted during handshake")
)

// HandshakeError 单个待接入客户端的握手失败，不影响接入循环
type HandshakeError struct {
	Stage  string
	Remote string
	Err    error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake %s with %s: %v", e.Stage, e.Remote, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// Serve 接入循环：满员或暂停接入时等待一个 Tick 再检查；
// 单个握手失败只丢弃该连接。l 关闭、StopAccepting 或 ctx 取消后返回。
func (s *Server) Serve(ctx context.Context, l Listener) error {
	if !s.addListener(l) {
		_ = l.Close()
		return nil
	}
	Log.Infof("accepting clients on %s", l.Addr())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopAccept:
			return nil
		default:
		}
		if !s.Accepting() || s.PlayerCount() >= s.opts.MaxClients {
			s.pause(ctx)
			continue
		}
		t, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			Log.Warnf("accept error: %v", err)
			s.pause(ctx)
			continue
		}
		if _, err := s.Handshake(t); err != nil {
			Log.Warnw("client rejected", "err", err)
		}
	}
}

// pause 等待一个 Tick 周期，ctx 取消或服务关闭时提前返回
func (s *Server) pause(ctx context.Context) {
	select {
	case <-s.clock.After(s.opts.TickPeriod):
	case <-ctx.Done():
	case <-s.stopAccept:
	}
}

// Handshake 完成握手并注册连接：收名字 → 分配 ID 与颜色并登记 → 回发颜色 → 切换为非阻塞。
// 失败时关闭 t 并返回 *HandshakeError。
func (s *Server) Handshake(t Transport) (id protocol.PlayerID, err error) {
	session := uuid.New()
	remote := "unknown"
	if addr := t.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	fail := func(stage string, err error) (protocol.PlayerID, error) {
		_ = t.Close()
		if errors.Is(err, ErrServerFull) || errors.Is(err, ErrNotAccepting) {
			s.metrics.IncHandshakeRejected()
		} else {
			s.metrics.IncHandshakeFailed()
		}
		return 0, &HandshakeError{Stage: stage, Remote: remote, Err: err}
	}

	_ = t.SetReadDeadline(time.Now().Add(s.opts.HandshakeTimeout))
	payload, err := t.ReadPacket()
	if err != nil {
		return fail("receive name", err)
	}
	name, err := protocol.DecodeName(payload)
	if err != nil {
		return fail("parse name", err)
	}

	peer := NewPeer(t, session, name)
	id, color, err := s.admit(peer)
	if err != nil {
		return fail("admit", err)
	}

	_ = t.SetWriteDeadline(time.Now().Add(s.opts.HandshakeTimeout))
	writeErr := t.WritePacket(protocol.EncodeColor(color))

	// 写颜色期间 Tick 可能已驱逐该玩家，ID 也可能已分给别的连接
	s.mu.Lock()
	cur, ok := s.registry.Get(id)
	current := ok && cur == Conn(peer)
	if writeErr != nil {
		if current {
			s.evict(id, "handshake failed")
		}
		s.mu.Unlock()
		return fail("send color", writeErr)
	}
	if !current {
		s.mu.Unlock()
		return fail("send color", ErrEvictedDuringHandshake)
	}
	peer.Start(s.sync.Wake)
	s.mu.Unlock()

	s.metrics.IncHandshakeOK()
	Log.Infow("new client connected", "name", name, "player", id, "color", color.String(),
		"session", session.String(), "remote", remote)
	return id, nil
}

// admit 在共享锁下检查容量、向模拟添加玩家并登记连接，保证两边同时存在
func (s *Server) admit(peer *Peer) (protocol.PlayerID, protocol.Color, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Accepting() {
		return 0, protocol.Color{}, ErrNotAccepting
	}
	if s.registry.Len() >= s.opts.MaxClients {
		return 0, protocol.Color{}, ErrServerFull
	}
	id, color, err := s.game.AddPlayer(peer.Name)
	if err != nil {
		return 0, protocol.Color{}, err
	}
	// 模拟层可能复用刚阵亡玩家的 ID，旧连接尚未被存活检查清理
	if old, ok := s.registry.Remove(id); ok {
		_ = old.Close()
		s.metrics.IncLivenessEvicted()
		Log.Infow("player evicted", "player", id, "reason", "id reused")
	}
	if err := s.registry.Add(id, peer); err != nil {
		s.game.RemovePlayer(id)
		return 0, protocol.Color{}, err
	}
	return id, color, nil
}
