package server

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsTransport 把 WebSocket 二进制帧适配为字节流。
// gorilla 的连接在读超时后不可再用，所以由独立的 readPump 协程阻塞读取，
// 会话循环只从缓冲区取数据
type wsTransport struct {
	ws      *websocket.Conn
	timeout time.Duration

	mu     sync.Mutex
	in     bytes.Buffer
	err    error
	notify chan struct{}

	out bytes.Buffer
}

func newWSTransport(ws *websocket.Conn, timeout time.Duration) *wsTransport {
	t := &wsTransport{
		ws:      ws,
		timeout: timeout,
		notify:  make(chan struct{}, 1),
	}
	go t.readPump()
	return t
}

// readPump 独立协程，持续读取客户端帧并追加到输入缓冲
func (t *wsTransport) readPump() {
	t.ws.SetReadLimit(1 << 20) // 1MB
	for {
		mt, payload, err := t.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				err = io.EOF
			}
			t.mu.Lock()
			t.err = err
			t.mu.Unlock()
			t.wake()
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		t.mu.Lock()
		t.in.Write(payload)
		t.mu.Unlock()
		t.wake()
	}
}

func (t *wsTransport) wake() {
	select {
	case t.notify <- struct{}{}:
	default:
	}
}

// Read 缓冲为空时阻塞，直到有数据、读泵出错或超时
func (t *wsTransport) Read(p []byte) (int, error) {
	var timer <-chan time.Time
	if t.timeout > 0 {
		tm := time.NewTimer(t.timeout)
		defer tm.Stop()
		timer = tm.C
	}
	for {
		t.mu.Lock()
		if t.in.Len() > 0 {
			n, _ := t.in.Read(p)
			t.mu.Unlock()
			return n, nil
		}
		err := t.err
		t.mu.Unlock()
		if err != nil {
			return 0, err
		}
		select {
		case <-t.notify:
		case <-timer:
			return 0, &net.OpError{Op: "read", Net: "websocket", Err: errReadTimeout}
		}
	}
}

func (t *wsTransport) Available() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := t.in.Len(); n > 0 {
		return n, nil
	}
	return 0, t.err
}

// Write 先写入发送缓冲，Flush 时合并为一个二进制帧
func (t *wsTransport) Write(p []byte) (int, error) {
	return t.out.Write(p)
}

func (t *wsTransport) Flush() error {
	if t.out.Len() == 0 {
		return nil
	}
	if t.timeout > 0 {
		_ = t.ws.SetWriteDeadline(time.Now().Add(t.timeout))
	}
	err := t.ws.WriteMessage(websocket.BinaryMessage, t.out.Bytes())
	t.out.Reset()
	return err
}

func (t *wsTransport) SetNoDelay(bool) error { return nil }
func (t *wsTransport) RemoteAddr() net.Addr  { return t.ws.RemoteAddr() }

func (t *wsTransport) Close() error {
	_ = t.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return t.ws.Close()
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "read timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var errReadTimeout error = timeoutError{}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	Subprotocols:    []string{"ClassiCube"},
	CheckOrigin: func(r *http.Request) bool {
		// 浏览器客户端来自任意站点
		return true
	},
}

// HandleWS WebSocket 接入：升级后与 TCP 连接走同一条会话流程
func (srv *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	if srv.closing.Load() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	if ip := net.ParseIP(clientHost(r.RemoteAddr)); ip != nil && !srv.allowConnection(ip) {
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		Log.Warnf("websocket upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	srv.StartSession(newWSTransport(ws, srv.socketTimeout()))
}

func clientHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
