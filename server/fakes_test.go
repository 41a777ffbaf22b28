package server

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"cycles/protocol"
)

// fakeConn 可编排的连接句柄：sendable 控制 TrySend 是否成功，
// reply 非空时每次发送成功后排入一个待接收的输入包。
type fakeConn struct {
	mu       sync.Mutex
	sendable bool
	reply    []byte
	pending  [][]byte
	sent     int
	dead     bool
	closed   bool
	recvErr  bool // TryReceive 始终返回 StatusError
}

func responsive(dir protocol.Direction) *fakeConn {
	return &fakeConn{sendable: true, reply: protocol.EncodeInput(dir)}
}

// silent 发送永远失败
func silent() *fakeConn { return &fakeConn{} }

// mute 能收到快照但从不回复
func mute() *fakeConn { return &fakeConn{sendable: true} }

// brokenReader 发送成功但接收总是出错
func brokenReader() *fakeConn { return &fakeConn{sendable: true, recvErr: true} }

func (c *fakeConn) TrySend(packet []byte) IOStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dead || c.closed {
		return StatusDisconnected
	}
	if !c.sendable {
		return StatusNotReady
	}
	c.sent++
	if c.reply != nil {
		c.pending = append(c.pending, c.reply)
	}
	return StatusDone
}

func (c *fakeConn) TryReceive() ([]byte, IOStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recvErr {
		return nil, StatusError
	}
	if len(c.pending) > 0 {
		pkt := c.pending[0]
		c.pending = c.pending[1:]
		return pkt, StatusDone
	}
	if c.dead || c.closed {
		return nil, StatusDisconnected
	}
	return nil, StatusNotReady
}

func (c *fakeConn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.dead && !c.closed
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) push(pkt []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, pkt)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

// fakeGame 记录服务端对模拟层的调用
type fakeGame struct {
	players     map[protocol.PlayerID]protocol.Player
	next        protocol.PlayerID
	moves       []map[protocol.PlayerID]protocol.Direction
	frames      []int32
	over        atomic.Bool
	panicOnTick bool
}

func newFakeGame() *fakeGame {
	return &fakeGame{players: make(map[protocol.PlayerID]protocol.Player)}
}

func (g *fakeGame) AddPlayer(name string) (protocol.PlayerID, protocol.Color, error) {
	g.next++
	color := protocol.Color{R: byte(g.next), G: 0x80, B: 0xff}
	g.players[g.next] = protocol.Player{ID: g.next, Name: name, Color: color}
	return g.next, color, nil
}

func (g *fakeGame) RemovePlayer(id protocol.PlayerID) { delete(g.players, id) }

func (g *fakeGame) HasPlayer(id protocol.PlayerID) bool {
	_, ok := g.players[id]
	return ok
}

func (g *fakeGame) MovePlayers(moves map[protocol.PlayerID]protocol.Direction) {
	g.moves = append(g.moves, moves)
}

func (g *fakeGame) IsGameOver() bool { return g.over.Load() }

func (g *fakeGame) SetFrame(frame int32) {
	if g.panicOnTick {
		panic("simulation exploded")
	}
	g.frames = append(g.frames, frame)
}

func (g *fakeGame) Snapshot() *protocol.GameState {
	s := &protocol.GameState{Width: 2, Height: 2, Grid: make([]protocol.PlayerID, 4)}
	for _, p := range g.players {
		s.Players = append(s.Players, p)
	}
	sort.Slice(s.Players, func(i, j int) bool { return s.Players[i].ID < s.Players[j].ID })
	return s
}

// register 直接登记一个玩家与连接，绕过握手
func register(t *testing.T, s *Server, name string, c Conn) protocol.PlayerID {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	id, _, err := s.game.AddPlayer(name)
	if err != nil {
		t.Fatalf("add player %s: %v", name, err)
	}
	if err := s.registry.Add(id, c); err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return id
}

// advanceUntil 等待 n 个计时器就绪后推进假时钟
func advanceUntil(t *testing.T, clock *clockwork.FakeClock, n int, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, n); err != nil {
		t.Fatalf("waiting for %d timers: %v", n, err)
	}
	clock.Advance(d)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
