package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"cycles/protocol"
)

// wsTransport 每条 WebSocket 二进制消息即一个数据包
type wsTransport struct {
	ws *websocket.Conn
}

func NewWSTransport(ws *websocket.Conn) Transport {
	ws.SetReadLimit(protocol.MaxPacketSize)
	return &wsTransport{ws: ws}
}

// ReadPacket 跳过文本消息，只接受二进制帧
func (w *wsTransport) ReadPacket() ([]byte, error) {
	for {
		mt, payload, err := w.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.BinaryMessage {
			return payload, nil
		}
	}
}

func (w *wsTransport) WritePacket(p []byte) error {
	return w.ws.WriteMessage(websocket.BinaryMessage, p)
}

func (w *wsTransport) SetReadDeadline(t time.Time) error { return w.ws.SetReadDeadline(t) }
func (w *wsTransport) SetWriteDeadline(t time.Time) error { return w.ws.SetWriteDeadline(t) }
func (w *wsTransport) RemoteAddr() net.Addr { return w.ws.RemoteAddr() }
func (w *wsTransport) Close() error { return w.ws.Close() }

// acceptWait 已升级的连接等待接入循环取走的上限
const acceptWait = DefaultHandshakeTimeout

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 演示环境：允许所有来源（生产环境需严格限制）
		return true
	},
}

// WSListener 把 HTTP 升级得到的 WebSocket 连接排队交给接入循环
type WSListener struct {
	addr  net.Addr
	conns chan Transport
	done  chan struct{}
	once  sync.Once
}

func NewWSListener(addr string) *WSListener {
	tcpAddr, _ := net.ResolveTCPAddr("tcp", addr)
	return &WSListener{
		addr:  tcpAddr,
		conns: make(chan Transport),
		done:  make(chan struct{}),
	}
}

// ServeHTTP WebSocket 接入：/ws
func (l *WSListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-l.done:
		http.Error(w, "not accepting clients", http.StatusServiceUnavailable)
		return
	default:
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		Log.Warnf("upgrade error: %v", err)
		return
	}
	t := NewWSTransport(ws)
	timer := time.NewTimer(acceptWait)
	defer timer.Stop()
	select {
	case l.conns <- t:
	case <-l.done:
		_ = t.Close()
	case <-timer.C:
		// 接入循环满员或暂停，放弃该连接
		Log.Debugw("websocket client not accepted in time", "remote", r.RemoteAddr)
		_ = t.Close()
	}
}

func (l *WSListener) Accept() (Transport, error) {
	select {
	case t := <-l.conns:
		return t, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *WSListener) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

func (l *WSListener) Addr() net.Addr { return l.addr }
