package server

import (
	"bufio"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
	"time"
)

// Transport 会话的字节流。Available 不阻塞：返回当前可读字节数，
// 对端已关闭时返回错误
type Transport interface {
	io.ReadWriter
	Available() (int, error)
	Flush() error
	SetNoDelay(on bool) error
	RemoteAddr() net.Addr
	Close() error
}

// pollWait Available 探测时的读等待
const pollWait = 100 * time.Microsecond

// connTransport 基于 net.Conn 的传输（TCP，测试中也用于 net.Pipe）
type connTransport struct {
	conn    net.Conn
	r       *bufio.Reader
	w       *bufio.Writer
	timeout time.Duration
}

// NewConnTransport 包装 net.Conn；timeout 为单个报文读写的超时，0 表示不限
func NewConnTransport(conn net.Conn, timeout time.Duration) Transport {
	return &connTransport{
		conn:    conn,
		r:       bufio.NewReaderSize(conn, 4096),
		w:       bufio.NewWriterSize(conn, 8192),
		timeout: timeout,
	}
}

func (t *connTransport) deadline() time.Time {
	if t.timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(t.timeout)
}

func (t *connTransport) Read(p []byte) (int, error) {
	if t.r.Buffered() == 0 {
		_ = t.conn.SetReadDeadline(t.deadline())
	}
	return t.r.Read(p)
}

func (t *connTransport) Write(p []byte) (int, error) {
	_ = t.conn.SetWriteDeadline(t.deadline())
	return t.w.Write(p)
}

func (t *connTransport) Flush() error {
	_ = t.conn.SetWriteDeadline(t.deadline())
	return t.w.Flush()
}

func (t *connTransport) Available() (int, error) {
	if n := t.r.Buffered(); n > 0 {
		return n, nil
	}
	_ = t.conn.SetReadDeadline(time.Now().Add(pollWait))
	_, err := t.r.Peek(1)
	_ = t.conn.SetReadDeadline(time.Time{})
	if err != nil {
		if isTimeout(err) {
			return 0, nil
		}
		return 0, err
	}
	return t.r.Buffered(), nil
}

func (t *connTransport) SetNoDelay(on bool) error {
	if tc, ok := t.conn.(*net.TCPConn); ok {
		return tc.SetNoDelay(on)
	}
	return nil
}

func (t *connTransport) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }
func (t *connTransport) Close() error          { return t.conn.Close() }

func isTimeout(err error) bool {
	var ne net.Error
	return errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout())
}

// isTransportError 对端断开、超时、连接被重置等，归类为客户端退出
func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// remoteIP 提取对端 IP，无法解析时返回 nil
func remoteIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP
	case nil:
		return nil
	default:
		host, _, err := net.SplitHostPort(a.String())
		if err != nil {
			return nil
		}
		return net.ParseIP(host)
	}
}
