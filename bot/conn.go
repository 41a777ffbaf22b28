package bot

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"time"

	"cycles/protocol"
)

var ErrInactive = errors.New("bot: connection is not active")

// Conn 客户端连接：握手一次，然后每帧收一次状态、发一次移动
type Conn struct {
	conn   net.Conn
	r      *bufio.Reader
	active bool

	frame         int32
	lastFrameSent int32
	received      bool
}

// Dial 连接服务端（TCP，长度前缀分包）
func Dial(addr string, timeout time.Duration) (*Conn, error) {
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return NewConn(c), nil
}

// NewConn 包装已建立的连接
func NewConn(c net.Conn) *Conn {
	return &Conn{conn: c, r: bufio.NewReader(c), lastFrameSent: -1}
}

// Connect 发送名字并等待服务端分配的颜色
func (c *Conn) Connect(name string) (protocol.Color, error) {
	if err := protocol.WriteFrame(c.conn, protocol.EncodeName(name)); err != nil {
		return protocol.Color{}, fmt.Errorf("failed to connect as %s: %w", name, err)
	}
	payload, err := protocol.ReadFrame(c.r)
	if err != nil {
		return protocol.Color{}, fmt.Errorf("failed to receive color: %w", err)
	}
	color, err := protocol.DecodeColor(payload)
	if err != nil {
		return protocol.Color{}, err
	}
	c.active = true
	return color, nil
}

// ReceiveGameState 阻塞直到收到下一帧状态
func (c *Conn) ReceiveGameState() (*protocol.GameState, error) {
	if !c.active {
		return nil, ErrInactive
	}
	payload, err := protocol.ReadFrame(c.r)
	if err != nil {
		c.active = false
		return nil, err
	}
	state, err := protocol.DecodeGameState(payload)
	if err != nil {
		return nil, fmt.Errorf("received invalid game state: %w", err)
	}
	c.frame = state.Frame
	c.received = true
	return state, nil
}

// SendMove 发送本帧移动；同一帧重复调用为空操作
func (c *Conn) SendMove(d protocol.Direction) error {
	if !c.active {
		return ErrInactive
	}
	if !c.received || c.lastFrameSent == c.frame {
		return nil
	}
	if err := protocol.WriteFrame(c.conn, protocol.EncodeInput(d)); err != nil {
		c.active = false
		return fmt.Errorf("move sending failed: %w", err)
	}
	c.lastFrameSent = c.frame
	return nil
}

// Active 连接是否仍可用
func (c *Conn) Active() bool { return c.active }

func (c *Conn) Close() error {
	c.active = false
	return c.conn.Close()
}
