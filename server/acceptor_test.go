package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"cycles/game"
	"cycles/protocol"
)

// pipeClient 测试用客户端：在 net.Pipe 的另一端按协议收发
type pipeClient struct {
	t    *testing.T
	conn net.Conn
	tr   Transport
}

func newPipe(t *testing.T) (*pipeClient, Transport) {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	t.Cleanup(func() { _ = clientSide.Close() })
	return &pipeClient{t: t, conn: clientSide, tr: NewStreamTransport(clientSide)}, NewStreamTransport(serverSide)
}

func (c *pipeClient) send(payload []byte) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := c.tr.WritePacket(payload); err != nil {
		c.t.Errorf("client write: %v", err)
	}
}

func (c *pipeClient) recv() ([]byte, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return c.tr.ReadPacket()
}

func newRealServer(t *testing.T, opts Options) *Server {
	t.Helper()
	g, err := game.New(game.Config{Width: 20, Height: 20, Seed: 42})
	if err != nil {
		t.Fatalf("new game: %v", err)
	}
	s := New(g, opts)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestHandshakeThenBroadcastCarriesAssignedColor(t *testing.T) {
	s := newRealServer(t, Options{MaxClients: 2, RoundDeadline: time.Second})
	client, serverSide := newPipe(t)

	colorCh := make(chan protocol.Color, 1)
	go func() {
		client.send(protocol.EncodeName("alice"))
		pkt, err := client.recv()
		if err != nil {
			t.Errorf("receive color: %v", err)
			return
		}
		c, err := protocol.DecodeColor(pkt)
		if err != nil {
			t.Errorf("decode color: %v", err)
		}
		colorCh <- c
	}()

	id, err := s.Handshake(serverSide)
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	color := <-colorCh
	if !s.Registered(id) {
		t.Fatalf("expected player %d registered", id)
	}

	stateCh := make(chan *protocol.GameState, 1)
	go func() {
		pkt, err := client.recv()
		if err != nil {
			t.Errorf("receive state: %v", err)
			return
		}
		st, err := protocol.DecodeGameState(pkt)
		if err != nil {
			t.Errorf("decode state: %v", err)
			return
		}
		stateCh <- st
		client.send(protocol.EncodeInput(protocol.North))
	}()

	r := s.Tick()
	st := <-stateCh

	p, ok := st.PlayerByName("alice")
	if !ok {
		t.Fatalf("expected alice in broadcast, got %+v", st.Players)
	}
	if p.ID != id || p.Color != color {
		t.Fatalf("expected alice id=%d color=%v, got id=%d color=%v", id, color, p.ID, p.Color)
	}
	if st.Width != 20 || st.Height != 20 || st.Frame != 0 {
		t.Fatalf("unexpected state header: %dx%d frame %d", st.Width, st.Height, st.Frame)
	}
	if _, ok := r.Collected()[id]; !ok {
		t.Fatalf("expected alice's input collected, timed out: %v", r.TimedOut())
	}
}

func TestHandshakeRejectsWhenFull(t *testing.T) {
	s, _, _ := newTestServer(1)
	register(t, s, "first", mute())

	client, serverSide := newPipe(t)
	go client.send(protocol.EncodeName("second"))

	_, err := s.Handshake(serverSide)
	var hsErr *HandshakeError
	if !errors.As(err, &hsErr) || !errors.Is(err, ErrServerFull) {
		t.Fatalf("expected HandshakeError wrapping ErrServerFull, got %v", err)
	}
	if s.PlayerCount() != 1 {
		t.Fatalf("expected acceptor to keep 1 client, got %d", s.PlayerCount())
	}
	if _, err := client.recv(); err == nil {
		t.Fatalf("expected rejected transport to be closed")
	}
	if s.Metrics().HandshakesRejected != 1 {
		t.Fatalf("expected 1 rejected handshake, got %d", s.Metrics().HandshakesRejected)
	}
}

func TestHandshakeRejectsWhenNotAccepting(t *testing.T) {
	s, g, _ := newTestServer(2)
	s.SetAccepting(false)
	client, serverSide := newPipe(t)
	go client.send(protocol.EncodeName("late"))

	if _, err := s.Handshake(serverSide); !errors.Is(err, ErrNotAccepting) {
		t.Fatalf("expected ErrNotAccepting, got %v", err)
	}
	if len(g.players) != 0 {
		t.Fatalf("expected no player added to the simulation")
	}
}

func TestHandshakeTimesOutOnSilentClient(t *testing.T) {
	s := New(newFakeGame(), Options{MaxClients: 2, HandshakeTimeout: 30 * time.Millisecond})
	_, serverSide := newPipe(t)

	start := time.Now()
	_, err := s.Handshake(serverSide)
	var hsErr *HandshakeError
	if !errors.As(err, &hsErr) || hsErr.Stage != "receive name" {
		t.Fatalf("expected receive name HandshakeError, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("handshake was not bounded by its timeout")
	}
	if s.Metrics().HandshakesFailed != 1 {
		t.Fatalf("expected 1 failed handshake, got %d", s.Metrics().HandshakesFailed)
	}
}

func TestHandshakeRejectsInvalidName(t *testing.T) {
	s, _, _ := newTestServer(2)
	client, serverSide := newPipe(t)
	go client.send(protocol.EncodeName(strings.Repeat("x", protocol.MaxNameLength+1)))

	if _, err := s.Handshake(serverSide); !errors.Is(err, protocol.ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestHandshakeColorSendFailureEvicts(t *testing.T) {
	s, g, _ := newTestServer(2)
	client, serverSide := newPipe(t)
	go func() {
		client.send(protocol.EncodeName("flaky"))
		_ = client.conn.Close()
	}()

	if _, err := s.Handshake(serverSide); err == nil {
		t.Fatalf("expected color send to fail")
	}
	if s.PlayerCount() != 0 || len(g.players) != 0 {
		t.Fatalf("expected the half-registered player to be evicted from registry and simulation")
	}
}

func dialTCP(t *testing.T, addr, name string) (*pipeClient, error) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	c := &pipeClient{t: t, conn: conn, tr: NewStreamTransport(conn)}
	c.send(protocol.EncodeName(name))
	_ = conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, err = c.tr.ReadPacket()
	return c, err
}

func TestServeNeverExceedsMaxClients(t *testing.T) {
	s := newRealServer(t, Options{MaxClients: 2, TickPeriod: 10 * time.Millisecond})
	ln, err := ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	served := make(chan error, 1)
	go func() { served <- s.Serve(context.Background(), ln) }()

	for _, name := range []string{"a", "b"} {
		if _, err := dialTCP(t, ln.Addr().String(), name); err != nil {
			t.Fatalf("client %s handshake: %v", name, err)
		}
	}
	if _, err := dialTCP(t, ln.Addr().String(), "c"); err == nil {
		t.Fatalf("expected third client to get no color while server is full")
	}
	if n := s.PlayerCount(); n != 2 {
		t.Fatalf("expected 2 registered clients, got %d", n)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("expected Serve to return nil after close, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return after close")
	}
}

func TestServeWebSocket(t *testing.T) {
	s := newRealServer(t, Options{MaxClients: 2})
	wsl := NewWSListener("127.0.0.1:0")
	srv := httptest.NewServer(s.Handler(wsl))
	defer srv.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Serve(ctx, wsl) }()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteMessage(websocket.BinaryMessage, protocol.EncodeName("wsbot")); err != nil {
		t.Fatalf("write name: %v", err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, payload, err := ws.ReadMessage()
	if err != nil || mt != websocket.BinaryMessage {
		t.Fatalf("read color: type=%d err=%v", mt, err)
	}
	if _, err := protocol.DecodeColor(payload); err != nil {
		t.Fatalf("decode color: %v", err)
	}
	waitFor(t, "ws client registration", func() bool { return s.PlayerCount() == 1 })
}

// gatedTransport 握手用的假传输：名字立即可读，回发颜色阻塞到 gate 放行
type gatedTransport struct {
	name   []byte
	gate   chan error
	closed atomic.Bool
}

func newGatedTransport(name string) *gatedTransport {
	return &gatedTransport{name: protocol.EncodeName(name), gate: make(chan error, 1)}
}

func (g *gatedTransport) ReadPacket() ([]byte, error) { return g.name, nil }

func (g *gatedTransport) WritePacket([]byte) error { return <-g.gate }

func (g *gatedTransport) SetReadDeadline(time.Time) error { return nil }

func (g *gatedTransport) SetWriteDeadline(time.Time) error { return nil }

func (g *gatedTransport) RemoteAddr() net.Addr { return nil }

func (g *gatedTransport) Close() error {
	g.closed.Store(true)
	return nil
}

// startSlowHandshake 让 slow 完成登记后卡在回发颜色，再由一次 Tick 超时驱逐
func startSlowHandshake(t *testing.T, s *Server) (*gatedTransport, protocol.PlayerID, <-chan error) {
	t.Helper()
	slow := newGatedTransport("slow")
	done := make(chan error, 1)
	go func() {
		_, err := s.Handshake(slow)
		done <- err
	}()
	waitFor(t, "slow player registration", func() bool { return s.PlayerCount() == 1 })

	r := s.Tick()
	timedOut := r.TimedOut()
	if len(timedOut) != 1 {
		t.Fatalf("expected slow player to time out, got %v", timedOut)
	}
	if s.PlayerCount() != 0 {
		t.Fatalf("expected slow player evicted by the tick")
	}
	return slow, timedOut[0], done
}

func TestHandshakeFailureKeepsReusedID(t *testing.T) {
	s := newRealServer(t, Options{MaxClients: 2, RoundDeadline: 20 * time.Millisecond})
	slow, slowID, done := startSlowHandshake(t, s)

	fast := NewPeer(newGatedTransport("fast"), uuid.New(), "fast")
	fastID, _, err := s.admit(fast)
	if err != nil {
		t.Fatalf("admit fast: %v", err)
	}
	if fastID != slowID {
		t.Fatalf("expected the game to reuse id %d, got %d", slowID, fastID)
	}

	slow.gate <- errors.New("broken pipe")
	if err := <-done; err == nil {
		t.Fatalf("expected slow handshake to fail")
	}

	if !s.Registered(fastID) {
		t.Fatalf("expected fast player %d to stay registered", fastID)
	}
	s.mu.Lock()
	cur, _ := s.registry.Get(fastID)
	inGame := s.game.HasPlayer(fastID)
	s.mu.Unlock()
	if cur != Conn(fast) || !inGame {
		t.Fatalf("expected fast player to keep its registry entry and simulation slot")
	}
}

func TestHandshakeEvictedBeforeColorSent(t *testing.T) {
	s := newRealServer(t, Options{MaxClients: 2, RoundDeadline: 20 * time.Millisecond})
	slow, _, done := startSlowHandshake(t, s)

	slow.gate <- nil
	err := <-done
	if !errors.Is(err, ErrEvictedDuringHandshake) {
		t.Fatalf("expected ErrEvictedDuringHandshake, got %v", err)
	}
	if s.Metrics().HandshakesOK != 0 || s.Metrics().HandshakesFailed != 1 {
		t.Fatalf("expected no successful handshake, got ok=%d failed=%d",
			s.Metrics().HandshakesOK, s.Metrics().HandshakesFailed)
	}
	if !slow.closed.Load() {
		t.Fatalf("expected evicted transport to be closed")
	}
}

func TestStopAcceptingClosesListeners(t *testing.T) {
	s := newRealServer(t, Options{MaxClients: 2, TickPeriod: 10 * time.Millisecond})
	ln, err := ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	served := make(chan error, 1)
	go func() { served <- s.Serve(context.Background(), ln) }()
	if _, err := dialTCP(t, ln.Addr().String(), "a"); err != nil {
		t.Fatalf("handshake before stop: %v", err)
	}

	if err := s.StopAccepting(); err != nil {
		t.Fatalf("stop accepting: %v", err)
	}
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("expected Serve to return nil, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return after StopAccepting")
	}
	if s.Accepting() {
		t.Fatalf("expected accepting flag cleared")
	}
	if conn, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second); err == nil {
		_ = conn.Close()
		t.Fatalf("expected the listener to be closed")
	}
	if s.PlayerCount() != 1 {
		t.Fatalf("expected the registered player to stay, got %d", s.PlayerCount())
	}

	// 停止后新的 Serve 立即返回并关闭其接入端
	ln2, err := ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if err := s.Serve(context.Background(), ln2); err != nil {
		t.Fatalf("expected nil from Serve after stop, got %v", err)
	}
	if _, err := ln2.Accept(); err == nil {
		t.Fatalf("expected late listener to be closed")
	}
}

func TestWebSocketRejectedWhilePaused(t *testing.T) {
	s := newRealServer(t, Options{MaxClients: 2})
	wsl := NewWSListener("127.0.0.1:0")
	srv := httptest.NewServer(s.Handler(wsl))
	defer srv.Close()
	s.SetAccepting(false)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		_ = ws.Close()
		t.Fatalf("expected upgrade to be refused while paused")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %v (%v)", resp, err)
	}
}
