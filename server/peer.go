package server

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	// writeWait 单个数据包写出的最长等待
	writeWait = 5 * time.Second
	// inboxSize 已到达但尚未被帧同步取走的输入包上限
	inboxSize = 8
)

// Peer 将阻塞式 Transport 包装成非阻塞的 Conn：
// 读写各由一个独立协程完成，帧同步线程只与两个通道交互。
type Peer struct {
	Session uuid.UUID
	Name    string

	t     Transport
	send  chan []byte // 容量 1：上一包未写出时 TrySend 返回 StatusNotReady
	inbox chan []byte
	done  chan struct{}

	notify    func()
	dead      atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func NewPeer(t Transport, session uuid.UUID, name string) *Peer {
	return &Peer{
		Session: session,
		Name:    name,
		t:       t,
		send:    make(chan []byte, 1),
		inbox:   make(chan []byte, inboxSize),
		done:    make(chan struct{}),
		notify:  func() {},
	}
}

// Start 切换到非阻塞模式：清除握手期的截止时间并启动读写协程。
// notify 在有数据到达、发送槽空出或连接断开时被调用。
func (p *Peer) Start(notify func()) {
	if notify != nil {
		p.notify = notify
	}
	_ = p.t.SetReadDeadline(time.Time{})
	_ = p.t.SetWriteDeadline(time.Time{})
	go p.writePump()
	go p.readPump()
}

func (p *Peer) TrySend(packet []byte) IOStatus {
	if p.dead.Load() {
		return StatusDisconnected
	}
	select {
	case p.send <- packet:
		return StatusDone
	default:
		return StatusNotReady
	}
}

func (p *Peer) TryReceive() ([]byte, IOStatus) {
	select {
	case pkt := <-p.inbox:
		return pkt, StatusDone
	default:
	}
	if p.dead.Load() {
		return nil, StatusDisconnected
	}
	return nil, StatusNotReady
}

func (p *Peer) Alive() bool { return !p.dead.Load() }

// Close 关闭底层连接并结束读写协程；可重复调用
func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		p.dead.Store(true)
		close(p.done)
		p.closeErr = p.t.Close()
	})
	return p.closeErr
}

func (p *Peer) markDead() {
	if !p.dead.Swap(true) {
		p.notify()
	}
}

// writePump 独立协程，负责从 send 队列写出
func (p *Peer) writePump() {
	defer p.markDead()
	for {
		select {
		case pkt := <-p.send:
			_ = p.t.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.t.WritePacket(pkt); err != nil {
				Log.Debugw("write failed", "session", p.Session, "name", p.Name, "err", err)
				return
			}
			p.notify()
		case <-p.done:
			return
		}
	}
}

// readPump 读取客户端输入包，放入 inbox 等待下一次 TryReceive
func (p *Peer) readPump() {
	defer p.markDead()
	for {
		pkt, err := p.t.ReadPacket()
		if err != nil {
			Log.Debugw("read failed", "session", p.Session, "name", p.Name, "err", err)
			return
		}
		select {
		case p.inbox <- pkt:
			p.notify()
		case <-p.done:
			return
		}
	}
}
