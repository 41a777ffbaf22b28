package server

import (
	"net"
	"time"
)

// IOStatus 单次非阻塞 I/O 尝试的结果。超时、暂不可写等常见情况用状态值表达，而不是 error
type IOStatus int

const (
	StatusDone         IOStatus = iota // 完成
	StatusNotReady                     // 暂不可读/写，下次重试
	StatusDisconnected                 // 对端已断开
	StatusError                        // 其它 I/O 错误
)

func (s IOStatus) String() string {
	switch s {
	case StatusDone:
		return "done"
	case StatusNotReady:
		return "not_ready"
	case StatusDisconnected:
		return "disconnected"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// Conn 注册表中的连接句柄，帧同步只通过它做非阻塞收发
type Conn interface {
	// TrySend 尝试投递一个数据包，不阻塞
	TrySend(packet []byte) IOStatus
	// TryReceive 尝试取出一个已到达的数据包，不阻塞
	TryReceive() ([]byte, IOStatus)
	// Alive 报告对端是否仍可达
	Alive() bool
	Close() error
}

// Transport 可靠、有序的分包字节流（TCP 长度前缀或 WebSocket 二进制消息）。
// 阻塞式接口，只在握手阶段和连接自己的读写协程里使用。
type Transport interface {
	ReadPacket() ([]byte, error)
	WritePacket(packet []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() net.Addr
	Close() error
}

// Listener 产生 Transport 的接入端
type Listener interface {
	Accept() (Transport, error)
	Close() error
	Addr() net.Addr
}
