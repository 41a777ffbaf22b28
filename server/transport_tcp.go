package server

import (
	"bufio"
	"net"
	"time"

	"cycles/protocol"
)

// streamTransport 在字节流连接上使用 uint32 长度前缀分包
type streamTransport struct {
	conn net.Conn
	r    *bufio.Reader
}

// NewStreamTransport 包装任意 net.Conn（TCP 或测试用的 net.Pipe）
func NewStreamTransport(conn net.Conn) Transport {
	return &streamTransport{conn: conn, r: bufio.NewReader(conn)}
}

func (s *streamTransport) ReadPacket() ([]byte, error) { return protocol.ReadFrame(s.r) }

func (s *streamTransport) WritePacket(p []byte) error { return protocol.WriteFrame(s.conn, p) }

func (s *streamTransport) SetReadDeadline(t time.Time) error { return s.conn.SetReadDeadline(t) }
func (s *streamTransport) SetWriteDeadline(t time.Time) error { return s.conn.SetWriteDeadline(t) }
func (s *streamTransport) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }
func (s *streamTransport) Close() error { return s.conn.Close() }

// TCPListener TCP 接入端
type TCPListener struct {
	ln net.Listener
}

// ListenTCP 监听 addr（如 ":4000"）
func ListenTCP(addr string) (*TCPListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &TCPListener{ln: ln}, nil
}

func (l *TCPListener) Accept() (Transport, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return NewStreamTransport(conn), nil
}

func (l *TCPListener) Close() error { return l.ln.Close() }
func (l *TCPListener) Addr() net.Addr { return l.ln.Addr() }
